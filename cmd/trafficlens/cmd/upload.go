package cmd

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/trafficlens/trafficlens/pkg/jobstore"
	"github.com/trafficlens/trafficlens/pkg/models"
	"github.com/trafficlens/trafficlens/pkg/upload"
)

var (
	uploadName string
	uploadNoDB bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Upload videos and start processing them",
	Long: `Upload one or more videos, one at a time, and start processing each one
as soon as it is accepted. Press Ctrl+C twice to cancel a running batch.

Example:
  trafficlens upload junction.mp4
  trafficlens upload --name "Main St, morning" main-st.mov`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)

	uploadCmd.Flags().StringVar(&uploadName, "name", "", "video name (single file only, default derived from the file name)")
	uploadCmd.Flags().BoolVar(&uploadNoDB, "no-record", false, "do not record uploads in the metadata store")
}

// barSet keeps one progress bar per file index
type barSet struct {
	mu   sync.Mutex
	bars map[int]*progressbar.ProgressBar
}

func (b *barSet) update(index int, f upload.File, sent, total int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bar, ok := b.bars[index]
	if !ok {
		bar = progressbar.NewOptions64(total,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription(jobstore.Truncate(f.Name, 28)),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
		)
		b.bars[index] = bar
	}
	bar.Set64(sent)
}

func (b *barSet) finish(index int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bar, ok := b.bars[index]; ok {
		bar.Finish()
		delete(b.bars, index)
	}
}

func runUpload(cmd *cobra.Command, args []string) error {
	if uploadName != "" && len(args) > 1 {
		return fmt.Errorf("--name can only be used with a single file")
	}

	a, err := newApp("upload")
	if err != nil {
		return err
	}
	defer a.close()

	files := make([]upload.File, 0, len(args))
	for _, path := range args {
		f, err := upload.FileFromPath(path)
		if err != nil {
			return err
		}
		if uploadName != "" {
			f.VideoName = uploadName
		}
		files = append(files, f)
	}

	var recorder upload.VideoRecorder
	if !uploadNoDB {
		s, err := a.videoStore()
		if err != nil {
			return err
		}
		recorder = s
	}

	unsubscribe := a.printNotifications(os.Stderr)
	defer unsubscribe()

	bars := &barSet{bars: make(map[int]*progressbar.ProgressBar)}
	ctrl := upload.New(upload.Config{
		Transport:   a.client,
		Videos:      recorder,
		Sink:        a.dispatcher,
		Guard:       upload.NewSignalGuard(upload.DefaultConfirmWindow, a.dispatcher),
		Logger:      a.logger,
		Metrics:     a.metrics,
		Tracer:      a.tracer,
		RecentLimit: a.cfg.RecentUploadsLimit,
		Progress:    bars.update,
		OnSession: func(index int, s upload.Session) {
			switch s.Status {
			case models.UploadStatusCompleted, models.UploadStatusFailed,
				models.UploadStatusCancelled, models.UploadStatusRejected:
				bars.finish(index)
			}
		},
	})

	sessions, err := ctrl.HandleFiles(cmd.Context(), files)
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(sessionsView(sessions))
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("File", "Video Name", "Status", "Job ID", "Message")
	failed := 0
	for _, s := range sessions {
		if s.Status != models.UploadStatusCompleted {
			failed++
		}
		table.Append(
			jobstore.Truncate(s.File.Name, 28),
			jobstore.Truncate(s.VideoName, 28),
			jobstore.StatusLabel(models.JobStatus(s.Status)),
			s.JobID,
			s.Message,
		)
	}
	table.Render()

	if failed > 0 {
		return fmt.Errorf("%d of %d uploads did not complete", failed, len(sessions))
	}
	return nil
}

type sessionView struct {
	File      string              `json:"file"`
	VideoName string              `json:"video_name"`
	Status    models.UploadStatus `json:"status"`
	JobID     string              `json:"job_id,omitempty"`
	Message   string              `json:"message,omitempty"`
	Video     *models.Video       `json:"video,omitempty"`
}

func sessionsView(sessions []upload.Session) []sessionView {
	out := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionView{
			File:      s.File.Name,
			VideoName: s.VideoName,
			Status:    s.Status,
			JobID:     s.JobID,
			Message:   s.Message,
			Video:     s.Video,
		})
	}
	return out
}
