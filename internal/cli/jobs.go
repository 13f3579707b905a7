package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List or inspect ingestion jobs",
	Long: `List recent ingestion jobs or inspect a specific job by ID.

Examples:
  tabload jobs           # List recent jobs
  tabload jobs abc123    # Show details and logs for job abc123`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if len(args) == 1 {
		return showJob(ctx, args[0])
	}
	return listJobs(ctx)
}

func listJobs(ctx context.Context) error {
	jobs, err := apiClient.Jobs(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-38s %-22s %s\n", "ID", "STATUS", "REQUESTED")
	fmt.Println("----------------------------------------------------------------------------")
	for _, job := range jobs {
		fmt.Printf("%-38s %-22s %s\n", job.JobID, job.Status, job.Requested.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func showJob(ctx context.Context, jobID string) error {
	job, err := apiClient.Job(ctx, jobID)
	if err != nil {
		return fmt.Errorf("show job: %w", err)
	}

	fmt.Printf("Job:       %s\n", job.JobID)
	fmt.Printf("Status:    %s\n", job.Status)
	fmt.Printf("Requested: %s\n", job.Requested.Format("2006-01-02 15:04:05"))
	if job.Finished != nil {
		fmt.Printf("Finished:  %s\n", job.Finished.Format("2006-01-02 15:04:05"))
	}
	if job.Error != nil {
		fmt.Printf("Error:     %s\n", *job.Error)
	}
	if job.Data != nil {
		fmt.Printf("Result:    %s\n", *job.Data)
	}
	if len(job.Metadata) > 0 {
		fmt.Println("\nMetadata:")
		for _, m := range job.Metadata {
			fmt.Printf("  %-16s %s\n", m.Key, m.Value)
		}
	}
	if len(job.Logs) > 0 {
		fmt.Println("\nLog:")
		for _, entry := range job.Logs {
			fmt.Printf("  %s [%s] %s\n", entry.Timestamp.Format("15:04:05"), entry.Level, entry.Message)
		}
	}
	return nil
}
