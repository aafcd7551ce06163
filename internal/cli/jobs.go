package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/svgtranslate/svgbatch/internal/db"
)

// newJobsCmd creates the jobs command group
func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Start, cancel and inspect batch jobs",
	}
	cmd.AddCommand(newJobsStartCmd())
	cmd.AddCommand(newJobsCancelCmd())
	cmd.AddCommand(newJobsListCmd())
	cmd.AddCommand(newJobsShowCmd())
	return cmd
}

func newJobsStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <job-type>",
		Short: "Run a batch job to completion",
		Long: `Start a batch job and wait for it to finish.

Ctrl+C requests cancellation: the job stops before its next item and
records a cancelled status with a partial result.

Example:
  svgbatch jobs start crop_main_files
  svgbatch jobs start repair_references`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			dispatcher, err := a.dispatcher()
			if err != nil {
				return err
			}

			jobType := args[0]
			id, err := dispatcher.Start(cmd.Context(), jobType)
			if err != nil {
				return fmt.Errorf("start %s (known types: %s): %w",
					jobType, strings.Join(dispatcher.Types(), ", "), err)
			}
			fmt.Printf("Started job %d (%s)\n", id, jobType)

			// Interrupt requests cooperative cancellation instead of
			// killing the process mid-item.
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			done := make(chan struct{})
			go func() {
				select {
				case <-sigCh:
					fmt.Fprintln(os.Stderr, "Cancelling, waiting for the current item...")
					dispatcher.Cancel(id)
				case <-done:
				}
			}()

			dispatcher.Wait()
			close(done)

			job, err := a.jobs.Get(context.Background(), id)
			if err != nil {
				return err
			}
			fmt.Printf("Job %d finished: %s\n", job.ID, job.Status)
			if job.ResultFile != "" {
				fmt.Printf("Result: %s\n", job.ResultFile)
			}
			if job.Status == db.JobFailed {
				return fmt.Errorf("job %d failed", job.ID)
			}
			return nil
		},
	}
}

func newJobsCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Mark an orphaned running job as cancelled",
		Long: `Mark a job stuck in running state as cancelled.

Jobs running in a live process are cancelled with Ctrl+C. This command
is for records left in running state by a crashed process.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			job, err := a.jobs.Get(ctx, id)
			if err != nil {
				return err
			}
			if db.JobTerminal(job.Status) {
				return fmt.Errorf("job %d already finished: %s", id, job.Status)
			}

			if err := a.jobs.UpdateStatus(ctx, job.ID, job.Type, db.JobCancelled, ""); err != nil {
				return err
			}
			fmt.Printf("Job %d marked cancelled\n", id)
			return nil
		},
	}
}

func newJobsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt64("limit")
			jobType, _ := cmd.Flags().GetString("type")

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.jobs.ListByType(cmd.Context(), jobType, limit)
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(list)
			}

			if len(list) == 0 {
				fmt.Println("No jobs found. Start one with: svgbatch jobs start <job-type>")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tCREATED\tRESULT")
			for _, j := range list {
				result := j.ResultFile
				if result == "" {
					result = "-"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
					j.ID, j.Type, j.Status, j.CreatedAt.Format("2006-01-02 15:04"), result)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Int64("limit", 20, "max jobs to list")
	cmd.Flags().String("type", "", "filter by job type")
	return cmd
}

func newJobsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job and its stored result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			job, err := a.jobs.Get(cmd.Context(), id)
			if err != nil {
				return err
			}

			fmt.Printf("Job:     %d\n", job.ID)
			fmt.Printf("Type:    %s\n", job.Type)
			fmt.Printf("Status:  %s\n", job.Status)
			fmt.Printf("Created: %s\n", job.CreatedAt.Format("2006-01-02 15:04:05"))
			if job.StartedAt != nil {
				fmt.Printf("Started: %s\n", job.StartedAt.Format("2006-01-02 15:04:05"))
			}
			if job.CompletedAt != nil {
				fmt.Printf("Done:    %s\n", job.CompletedAt.Format("2006-01-02 15:04:05"))
			}

			if job.ResultFile == "" {
				return nil
			}
			result, err := a.files.Read(job.ID, job.Type)
			if err != nil {
				return fmt.Errorf("read result: %w", err)
			}
			if result == nil {
				fmt.Println("\nNo result payload recorded.")
				return nil
			}
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Printf("\n%s\n", out)
			return nil
		},
	}
}
