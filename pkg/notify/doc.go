// Package notify owns the single user-facing notification slot.
//
// Components never render messages themselves. They emit an Event into a
// Sink; the Dispatcher is the Sink used by the CLI and keeps at most one
// notification visible, replacing the previous one together with its
// auto-hide timer. Throttle sits in front of the Dispatcher to keep a
// reconnect loop from flooding the banner.
package notify
