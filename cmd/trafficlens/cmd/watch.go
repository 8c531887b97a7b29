package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/trafficlens/trafficlens/pkg/feed"
	"github.com/trafficlens/trafficlens/pkg/jobstore"
)

var (
	watchPlain       bool
	watchMetricsAddr string
	watchMetricsDump string
	watchFrameOut    string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the live job feed",
	Long: `Watch connects to the backend job feed and keeps a live table of every job.
The connection is re-established automatically if it drops.

In a terminal an interactive dashboard is shown:
  enter  open the live frame view of the selected job
  esc    close the frame view
  c      clear completed jobs
  x      shut the selected job down
  q      quit

With --plain (or when stdout is not a terminal) every snapshot is printed as
a table instead.

Example:
  trafficlens watch
  trafficlens watch --plain --metrics-addr :9102`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolVar(&watchPlain, "plain", false, "print snapshots as tables instead of the dashboard")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (default metrics_addr)")
	watchCmd.Flags().StringVar(&watchMetricsDump, "metrics-dump", "", "write metrics in text format to this file on exit ('-' for stderr)")
	watchCmd.Flags().StringVar(&watchFrameOut, "frame-out", "", "dashboard only: mirror the newest frame of the open stream to this file")
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp("watch")
	if err != nil {
		return err
	}
	defer a.close()

	addr := watchMetricsAddr
	if addr == "" {
		addr = a.cfg.MetricsAddr
	}
	a.startMetrics(addr)
	defer dumpMetrics(a)

	mgr := feed.New(feed.Config{
		URL:               a.cfg.JobsSocketURL(),
		ReconnectDelay:    a.cfg.ReconnectDelay,
		Dialer:            a.dialer,
		Sink:              a.dispatcher,
		Logger:            a.logger,
		Metrics:           a.metrics,
		NotifyTransitions: true,
	})

	interactive := !watchPlain && isatty.IsTerminal(os.Stdout.Fd()) && isatty.IsTerminal(os.Stdin.Fd())
	if interactive {
		return runWatchTUI(cmd.Context(), a, mgr)
	}
	return runWatchPlain(cmd.Context(), a, mgr, os.Stdout)
}

func runWatchPlain(parent context.Context, a *app, mgr *feed.Manager, w io.Writer) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var mu sync.Mutex
	unsubscribe := a.printNotifications(os.Stderr)
	defer unsubscribe()

	mgr.Store().OnChange(func(snap jobstore.Snapshot, diff jobstore.Diff) {
		mu.Lock()
		defer mu.Unlock()
		printSnapshot(w, snap)
	})
	mgr.OnStateChange(func(st feed.Status) {
		mu.Lock()
		defer mu.Unlock()
		line := fmt.Sprintf("feed: %s", st.State)
		if st.Error != "" {
			line += " (" + st.Error + ")"
		}
		fmt.Fprintln(os.Stderr, line)
	})

	mgr.Start(ctx)
	<-ctx.Done()
	mgr.Stop()
	mgr.Wait()
	return nil
}

func printSnapshot(w io.Writer, snap jobstore.Snapshot) {
	fmt.Fprintf(w, "\nJobs: %d  Queue: %d  Processor: %s\n",
		snap.Summary.TotalJobs, snap.Summary.QueueLength, processorLabel(snap.Summary.QueueProcessorRunning))
	if len(snap.Jobs) == 0 {
		fmt.Fprintln(w, "No jobs")
		return
	}
	renderJobsTable(w, snap.Jobs)
}

func processorLabel(running bool) string {
	if running {
		return "running"
	}
	return "idle"
}

func dumpMetrics(a *app) {
	if watchMetricsDump == "" {
		return
	}
	var w io.Writer = os.Stderr
	if watchMetricsDump != "-" {
		f, err := os.Create(watchMetricsDump)
		if err != nil {
			a.logger.Error("Failed to create metrics dump", map[string]interface{}{"path": watchMetricsDump, "error": err.Error()})
			return
		}
		defer f.Close()
		w = f
	}
	if err := a.metrics.WriteText(w); err != nil {
		a.logger.Error("Failed to dump metrics", map[string]interface{}{"error": err.Error()})
	}
}
