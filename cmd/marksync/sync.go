package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize the library with the WebDAV remote",
	Long: `Sync compares the local library with the remote export. A newer
remote export is merged in; otherwise the local library is uploaded.`,
	Example: `  marksync sync
  marksync sync --force`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

var syncForce bool

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().BoolVarP(&syncForce, "force", "f", false,
		"Ignore the debounce window")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return printSyncResult(apiClient.Sync.Sync(ctx, syncForce))
}
