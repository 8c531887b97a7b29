package ratelimit

import (
	"testing"
	"time"
)

func TestLimiter(t *testing.T) {
	// One token per 100ms, burst of 2
	limiter := NewLimiter(100*time.Millisecond, 2)

	if !limiter.Allow("feed.error") {
		t.Error("First event should be allowed")
	}
	if !limiter.Allow("feed.error") {
		t.Error("Second event should be allowed")
	}
	if limiter.Allow("feed.error") {
		t.Error("Third event should be rate limited")
	}

	time.Sleep(150 * time.Millisecond)

	if !limiter.Allow("feed.error") {
		t.Error("Event after waiting should be allowed")
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	limiter := NewLimiter(time.Hour, 1)

	if !limiter.Allow("a") {
		t.Error("First event for key a should be allowed")
	}
	if limiter.Allow("a") {
		t.Error("Second event for key a should be limited")
	}
	if !limiter.Allow("b") {
		t.Error("Key b should have its own bucket")
	}
}

func TestLimiterReset(t *testing.T) {
	limiter := NewLimiter(time.Hour, 1)

	limiter.Allow("feed.connected")
	if limiter.Allow("feed.connected") {
		t.Fatal("Second event should be limited before reset")
	}

	limiter.Reset("feed.connected")
	if !limiter.Allow("feed.connected") {
		t.Error("Event after reset should be allowed")
	}
}
