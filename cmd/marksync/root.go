package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/marksync/internal/client"
	"github.com/TheMichaelB/marksync/internal/config"
	"github.com/TheMichaelB/marksync/internal/events"
)

var (
	configPath string
	jsonOutput bool
	verbose    bool

	cfg       *config.Config
	logger    *events.Logger
	apiClient *client.Client
)

// skipClient marks commands that run without opening the store.
const skipClient = "skip-client"

var rootCmd = &cobra.Command{
	Use:   "marksync",
	Short: "Save web pages for offline reading and sync them over WebDAV",
	Long: `marksync keeps a local library of bookmarked pages. Pages are
fetched and reduced to readable text by a background queue, and the
library can be mirrored to any WebDAV server as a single JSON export.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if apiClient != nil {
			if err := apiClient.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close store")
			}
		}
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Config file (default: ./marksync.json or ~/.config/marksync/config.json)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output results as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")
}

func setup(cmd *cobra.Command, args []string) error {
	if cmd.Annotations[skipClient] == "true" {
		return nil
	}

	loaded, err := config.NewLoader(configPath).Load()
	if err != nil {
		return err
	}
	cfg = loaded

	if verbose {
		cfg.Log.Level = "debug"
	}

	logger, err = events.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	events.SetDefault(logger)

	apiClient, err = client.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	return nil
}
