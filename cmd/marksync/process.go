package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run one queue pass",
	Long: `Process fetches pending pages, extracts their content and, when
the queue drains, triggers a WebDAV sync.`,
	Args: cobra.NoArgs,
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := apiClient.Process(ctx)
	if err != nil {
		if !jsonOutput {
			printError("Queue pass failed: %v", err)
		}
		return err
	}

	if jsonOutput {
		printJSON(report)
		return nil
	}

	if report.Skipped {
		printWarning("Another queue pass is running")
		return nil
	}

	printSuccess("Queue pass complete")
	fmt.Printf("   Fetched:   %d\n", report.Fetched)
	fmt.Printf("   Processed: %d\n", report.Processed)
	fmt.Printf("   Retried:   %d\n", report.Retried)
	fmt.Printf("   Failed:    %d\n", report.Failed)
	if report.Recovered > 0 {
		fmt.Printf("   Recovered: %d\n", report.Recovered)
	}
	if report.NextRetryAt != nil {
		fmt.Printf("   Next retry: %s\n", formatTime(report.NextRetryAt))
	}
	fmt.Printf("   Duration:  %s\n", report.Duration.Round(time.Millisecond))
	return nil
}
