package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <resource-id>",
	Short: "Show the ingestion status of a resource",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		status, err := apiClient.ResourceStatus(ctx, args[0])
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}

		fmt.Printf("Status:  %s\n", status.Status)
		fmt.Printf("Job:     %s\n", status.JobID)
		if status.LastUpdated != nil {
			fmt.Printf("Updated: %s\n", status.LastUpdated.Format("2006-01-02 15:04:05"))
		}
		if status.Error != "" {
			fmt.Printf("Error:   %s\n", status.Error)
		}
		if len(status.LogExcerpt) > 0 {
			fmt.Println("\nRecent log:")
			for _, line := range status.LogExcerpt {
				fmt.Printf("  %s\n", line)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
