package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	ignoreHash bool
	watchJob   bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <resource-id>",
	Short: "Submit a resource for ingestion",
	Long: `Submit a catalog resource for ingestion into the tabular store.

Examples:
  tabload submit 8f3e...              # ingest if content changed
  tabload submit 8f3e... --force      # reload even if unchanged
  tabload submit 8f3e... --watch      # follow progress until done`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().BoolVar(&ignoreHash, "force", false, "reload even when the content hash is unchanged")
	submitCmd.Flags().BoolVarP(&watchJob, "watch", "w", false, "follow the job until it finishes")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	res, err := apiClient.Submit(ctx, args[0], ignoreHash)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	if !res.Accepted {
		return fmt.Errorf("submission rejected: %s", res.Reason)
	}

	fmt.Printf("Job %s accepted\n", res.JobID)
	if watchJob {
		return RunJobWatch(apiClient, res.JobID)
	}
	fmt.Printf("Use 'tabload jobs %s' to check status.\n", res.JobID)
	return nil
}
