// Package cli provides the command-line interface for tabload.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/catalogd/tabload/internal/client"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	serverURL string

	// Shared API client, wired in the pre-run.
	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "tabload",
	Short: "Tabular data ingestion for the catalog",
	Long: `Tabload ingests catalog resources (CSV, TSV, XLSX) into the tabular
store: it downloads the file, infers a schema, and bulk-loads the rows.

This CLI talks to a running tabload server.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}
		apiClient = client.New(serverURL)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("TABLOAD_SERVER", "http://localhost:8800"),
		"base URL of the tabload server")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
