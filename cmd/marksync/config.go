package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/marksync/internal/config"
)

var configCmd = &cobra.Command{
	Use:         "config",
	Short:       "Manage the configuration file",
	Annotations: map[string]string{skipClient: "true"},
}

var configInitCmd = &cobra.Command{
	Use:         "init [path]",
	Short:       "Write an example config file",
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{skipClient: "true"},
	RunE:        runConfigInit,
}

var configForce bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)

	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false,
		"Overwrite an existing file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := "marksync.json"
	if len(args) == 1 {
		path = args[0]
	}

	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := config.SaveExample(path); err != nil {
		return err
	}
	printSuccess("Wrote %s", path)
	return nil
}
