// Package main implements the patchd daemon and its client CLI. The
// daemon turns natural-language change requests into pull requests; the
// client subcommands talk to a running daemon over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL client subcommands talk to.
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "patchd",
	Short: "Automated code-change request daemon",
	Long: `patchd accepts natural-language code-change requests, generates the
changes with a model, and opens a pull request on the hosting provider.

Run "patchd serve" to start the daemon; the remaining subcommands are
clients for a running daemon.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8484", "patchd server URL")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(healthCmd)
}
