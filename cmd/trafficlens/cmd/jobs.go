package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/trafficlens/trafficlens/pkg/api"
	"github.com/trafficlens/trafficlens/pkg/errclass"
	"github.com/trafficlens/trafficlens/pkg/jobstore"
	"github.com/trafficlens/trafficlens/pkg/models"
)

// jobsCmd represents the jobs command
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage processing jobs",
	Long:  `Commands for starting, stopping and inspecting processing jobs on the backend.`,
}

var jobsProcessCmd = &cobra.Command{
	Use:   "process <job-id>",
	Short: "Start processing an uploaded video",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobAction(cmd.Context(), func(ctx context.Context, c *api.Client) (*api.ActionResponse, error) {
			return c.StartProcessing(ctx, args[0])
		})
	},
}

var jobsShutdownCmd = &cobra.Command{
	Use:   "shutdown <job-id>",
	Short: "Stop a single job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobAction(cmd.Context(), func(ctx context.Context, c *api.Client) (*api.ActionResponse, error) {
			return c.ShutdownJob(ctx, args[0])
		})
	},
}

var jobsShutdownAllCmd = &cobra.Command{
	Use:   "shutdown-all",
	Short: "Stop every running job",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobAction(cmd.Context(), func(ctx context.Context, c *api.Client) (*api.ActionResponse, error) {
			return c.ShutdownAll(ctx)
		})
	},
}

var jobsClearCompletedCmd = &cobra.Command{
	Use:   "clear-completed",
	Short: "Remove finished jobs from the backend queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobAction(cmd.Context(), func(ctx context.Context, c *api.Client) (*api.ActionResponse, error) {
			return c.ClearCompleted(ctx)
		})
	},
}

var jobsCompletedCmd = &cobra.Command{
	Use:   "completed",
	Short: "List completed jobs",
	Args:  cobra.NoArgs,
	RunE:  runJobsCompleted,
}

var jobsStreamURLCmd = &cobra.Command{
	Use:   "stream-url <job-id>",
	Short: "Print the live stream address of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("jobs")
		if err != nil {
			return err
		}
		defer a.close()
		fmt.Println(a.client.StreamURL(args[0]))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsProcessCmd)
	jobsCmd.AddCommand(jobsShutdownCmd)
	jobsCmd.AddCommand(jobsShutdownAllCmd)
	jobsCmd.AddCommand(jobsClearCompletedCmd)
	jobsCmd.AddCommand(jobsCompletedCmd)
	jobsCmd.AddCommand(jobsStreamURLCmd)
}

func runJobAction(ctx context.Context, action func(context.Context, *api.Client) (*api.ActionResponse, error)) error {
	a, err := newApp("jobs")
	if err != nil {
		return err
	}
	defer a.close()

	resp, err := action(ctx, a.client)
	if err != nil {
		a.logger.Error("Job action failed", map[string]interface{}{"error": err.Error()})
		return fmt.Errorf("%s", errclass.Message(err))
	}
	if IsJSONOutput() {
		return printJSON(resp)
	}
	msg := resp.Message
	if msg == "" {
		msg = resp.Status
	}
	fmt.Println(msg)
	return nil
}

func runJobsCompleted(cmd *cobra.Command, args []string) error {
	a, err := newApp("jobs")
	if err != nil {
		return err
	}
	defer a.close()

	jobs, err := a.client.CompletedJobs(cmd.Context())
	if err != nil {
		a.logger.Error("Listing completed jobs failed", map[string]interface{}{"error": err.Error()})
		return fmt.Errorf("%s", errclass.Message(err))
	}
	if IsJSONOutput() {
		return printJSON(jobs)
	}
	if len(jobs) == 0 {
		fmt.Println("No completed jobs")
		return nil
	}
	renderJobsTable(os.Stdout, jobs)
	return nil
}

// renderJobsTable prints jobs in display order
func renderJobsTable(w io.Writer, jobs []models.Job) {
	table := tablewriter.NewWriter(w)
	table.Header("Job ID", "File", "Status", "Progress", "Elapsed", "Message")
	for _, j := range jobstore.Order(jobs) {
		p := jobstore.DisplayProgress(j)
		table.Append(
			jobstore.Truncate(j.JobID, 12),
			jobstore.Truncate(j.FileName, 32),
			jobstore.StatusLabel(j.Status),
			fmt.Sprintf("%s %3d%%", jobstore.ProgressBar(p, 10), p),
			jobstore.FormatElapsed(j.ElapsedTime),
			jobstore.Truncate(j.Message, 40),
		)
	}
	table.Render()
}
