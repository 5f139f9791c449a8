package main

import (
	"context"

	"github.com/spf13/cobra"
)

var retryCmd = &cobra.Command{
	Use:   "retry-failed",
	Short: "Requeue bookmarks that ended in error",
	Args:  cobra.NoArgs,
	RunE:  runRetry,
}

func init() {
	rootCmd.AddCommand(retryCmd)
}

func runRetry(cmd *cobra.Command, args []string) error {
	n, err := apiClient.Bookmarks.RetryFailed(context.Background())
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"requeued": n})
		return nil
	}

	if n == 0 {
		printInfo("No failed bookmarks")
		return nil
	}
	printSuccess("Requeued %d bookmarks", n)
	return nil
}
