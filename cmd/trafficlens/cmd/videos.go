package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/trafficlens/trafficlens/pkg/jobstore"
	"github.com/trafficlens/trafficlens/pkg/models"
	"github.com/trafficlens/trafficlens/pkg/store"
)

var (
	videosLimit int
	videosByJob bool
)

var videosCmd = &cobra.Command{
	Use:   "videos",
	Short: "Inspect uploaded video records",
	Long:  `Commands for the local metadata store that records every successful upload.`,
}

var videosListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent uploads",
	Args:  cobra.NoArgs,
	RunE:  runVideosList,
}

var videosShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one upload by record ID or, with --job, by job ID",
	Args:  cobra.ExactArgs(1),
	RunE:  runVideosShow,
}

var videosDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an upload record",
	Args:  cobra.ExactArgs(1),
	RunE:  runVideosDelete,
}

func init() {
	rootCmd.AddCommand(videosCmd)
	videosCmd.AddCommand(videosListCmd)
	videosCmd.AddCommand(videosShowCmd)
	videosCmd.AddCommand(videosDeleteCmd)

	videosListCmd.Flags().IntVar(&videosLimit, "limit", 0, "number of records to show (default recent_uploads_limit)")
	videosShowCmd.Flags().BoolVar(&videosByJob, "job", false, "treat the argument as a job ID")
}

func runVideosList(cmd *cobra.Command, args []string) error {
	a, err := newApp("videos")
	if err != nil {
		return err
	}
	defer a.close()

	s, err := a.videoStore()
	if err != nil {
		return err
	}
	limit := videosLimit
	if limit <= 0 {
		limit = a.cfg.RecentUploadsLimit
	}
	videos, err := s.RecentVideos(cmd.Context(), limit)
	if err != nil {
		return fmt.Errorf("failed to list videos: %w", err)
	}
	if IsJSONOutput() {
		return printJSON(videos)
	}
	if len(videos) == 0 {
		fmt.Println("No uploads recorded")
		return nil
	}
	renderVideosTable(os.Stdout, videos)
	return nil
}

func renderVideosTable(w io.Writer, videos []*models.Video) {
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Name", "File", "Size", "Job ID", "Uploaded")
	for _, v := range videos {
		table.Append(
			jobstore.Truncate(v.ID, 8),
			jobstore.Truncate(v.Name, 28),
			jobstore.Truncate(v.FileName, 28),
			jobstore.FormatBytes(v.SizeBytes),
			v.JobID,
			humanize.Time(v.CreatedAt),
		)
	}
	table.Render()
}

func runVideosShow(cmd *cobra.Command, args []string) error {
	a, err := newApp("videos")
	if err != nil {
		return err
	}
	defer a.close()

	s, err := a.videoStore()
	if err != nil {
		return err
	}
	var v *models.Video
	if videosByJob {
		v, err = s.GetVideoByJobID(cmd.Context(), args[0])
	} else {
		v, err = s.GetVideo(cmd.Context(), args[0])
	}
	if errors.Is(err, store.ErrVideoNotFound) {
		return fmt.Errorf("no upload recorded for %s", args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to load video: %w", err)
	}
	if IsJSONOutput() {
		return printJSON(v)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("ID", v.ID)
	table.Append("Name", v.Name)
	table.Append("File", v.FileName)
	table.Append("Content Type", v.ContentType)
	table.Append("Size", jobstore.FormatBytes(v.SizeBytes))
	table.Append("Job ID", v.JobID)
	if v.StreamURL != "" {
		table.Append("Stream URL", v.StreamURL)
	}
	table.Append("Uploaded At", v.CreatedAt.Format(time.RFC3339))
	table.Render()
	return nil
}

func runVideosDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp("videos")
	if err != nil {
		return err
	}
	defer a.close()

	s, err := a.videoStore()
	if err != nil {
		return err
	}
	if err := s.DeleteVideo(cmd.Context(), args[0]); err != nil {
		if errors.Is(err, store.ErrVideoNotFound) {
			return fmt.Errorf("no upload recorded for %s", args[0])
		}
		return fmt.Errorf("failed to delete video: %w", err)
	}
	fmt.Printf("Deleted %s\n", args[0])
	return nil
}
