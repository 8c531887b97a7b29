package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/trafficlens/trafficlens/pkg/errclass"
	"github.com/trafficlens/trafficlens/pkg/models"
	"github.com/trafficlens/trafficlens/pkg/stream"
)

var (
	streamOut      string
	streamDuration time.Duration
)

var streamCmd = &cobra.Command{
	Use:   "stream <job-id>",
	Short: "Mirror the newest annotated frame of a job to a file",
	Long: `Open the live frame stream of a job and keep --out replaced with the newest
frame until the stream ends, --duration elapses, or Ctrl+C is pressed.

Example:
  trafficlens stream job-42 --out /tmp/live.jpg
  trafficlens stream job-42 --out live.jpg --duration 30s`,
	Args: cobra.ExactArgs(1),
	RunE: runStream,
}

func init() {
	rootCmd.AddCommand(streamCmd)

	streamCmd.Flags().StringVar(&streamOut, "out", "frame.jpg", "file the newest frame is written to")
	streamCmd.Flags().DurationVar(&streamDuration, "duration", 0, "stop after this long (0 = until the stream ends)")
}

func runStream(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	a, err := newApp("stream")
	if err != nil {
		return err
	}
	defer a.close()

	unsubscribe := a.printNotifications(os.Stderr)
	defer unsubscribe()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if streamDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, streamDuration)
		defer cancel()
	}

	session := stream.New(stream.Config{
		BaseURL: a.cfg.WebSocketURL(),
		Dialer:  a.dialer,
		Sink:    a.dispatcher,
		Logger:  a.logger,
		Metrics: a.metrics,
	})
	session.OnFrame(func(f models.Frame) {
		if err := session.WriteLatest(streamOut); err != nil {
			a.logger.Warn("Failed to write frame", map[string]interface{}{"path": streamOut, "error": err.Error()})
		}
	})

	if err := session.Open(ctx, jobID); err != nil {
		return fmt.Errorf("live stream unavailable: %s", errclass.Message(err))
	}
	fmt.Fprintf(os.Stderr, "Streaming %s to %s\n", session.URL(jobID), streamOut)

	session.Wait()
	status, stats := session.Status(), session.Stats()
	session.Close()

	fmt.Fprintf(os.Stderr, "%s: %d frames received, %d overwritten, %d dropped\n",
		status, stats.Received, stats.Overwritten, stats.Dropped)
	if status == stream.StatusError {
		return fmt.Errorf("stream ended with an error")
	}
	return nil
}
