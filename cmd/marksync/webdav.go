package main

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/TheMichaelB/marksync/internal/webdav"
)

var webdavCmd = &cobra.Command{
	Use:   "webdav",
	Short: "Manage WebDAV sync settings",
}

var webdavConfigureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Store WebDAV credentials and enable sync",
	Example: `  marksync webdav configure --url https://cloud.example.com/remote.php/dav/files/me --user me
  marksync webdav configure --url http://localhost:8080 --user me --path /reading`,
	Args: cobra.NoArgs,
	RunE: runWebDAVConfigure,
}

var webdavShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show WebDAV settings",
	Args:  cobra.NoArgs,
	RunE:  runWebDAVShow,
}

var webdavDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Disable WebDAV sync, keeping credentials",
	Args:  cobra.NoArgs,
	RunE:  runWebDAVDisable,
}

var (
	webdavURL      string
	webdavUser     string
	webdavPassword string
	webdavPath     string
	webdavInsecure bool
	webdavNoVerify bool
)

func init() {
	rootCmd.AddCommand(webdavCmd)
	webdavCmd.AddCommand(webdavConfigureCmd, webdavShowCmd, webdavDisableCmd)

	webdavConfigureCmd.Flags().StringVar(&webdavURL, "url", "",
		"WebDAV server URL (required)")
	webdavConfigureCmd.Flags().StringVarP(&webdavUser, "user", "u", "",
		"Username (required)")
	webdavConfigureCmd.Flags().StringVarP(&webdavPassword, "password", "p", "",
		"Password (will prompt if not provided)")
	webdavConfigureCmd.Flags().StringVar(&webdavPath, "path", "",
		"Remote folder (default /bookmarks)")
	webdavConfigureCmd.Flags().BoolVar(&webdavInsecure, "allow-insecure", false,
		"Allow plain http to non-local servers")
	webdavConfigureCmd.Flags().BoolVar(&webdavNoVerify, "no-verify", false,
		"Save without testing the connection")

	_ = webdavConfigureCmd.MarkFlagRequired("url")
	_ = webdavConfigureCmd.MarkFlagRequired("user")
}

func runWebDAVConfigure(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if webdavPassword == "" {
		var err error
		webdavPassword, err = promptPassword(fmt.Sprintf("Password for %s: ", webdavUser))
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
	}

	err := apiClient.Sync.Configure(ctx, webdav.Credentials{
		URL:           webdavURL,
		Username:      webdavUser,
		Password:      webdavPassword,
		Path:          webdavPath,
		AllowInsecure: webdavInsecure,
	}, !webdavNoVerify)
	if err != nil {
		if jsonOutput {
			printJSON(map[string]interface{}{
				"success": false,
				"error":   err.Error(),
			})
		} else {
			printError("WebDAV configuration failed: %v", err)
		}
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": true,
			"url":     webdavURL,
		})
	} else {
		printSuccess("WebDAV sync enabled for %s", webdavURL)
	}
	return nil
}

func runWebDAVShow(cmd *cobra.Command, args []string) error {
	settings, err := apiClient.Sync.Settings(context.Background())
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(settings)
		return nil
	}

	enabled := errorColor.Sprint("disabled")
	if settings.WebDAVEnabled {
		enabled = successColor.Sprint("enabled")
	}
	fmt.Printf("Sync:      %s\n", enabled)
	fmt.Printf("URL:       %s\n", settings.WebDAVURL)
	fmt.Printf("User:      %s\n", settings.WebDAVUsername)
	fmt.Printf("Password:  %s\n", settings.WebDAVPassword)
	fmt.Printf("Folder:    %s\n", settings.WebDAVPath)
	fmt.Printf("Last sync: %s\n", formatTime(settings.LastSyncTime))
	if settings.LastSyncError != "" {
		fmt.Printf("Last error: %s\n", settings.LastSyncError)
	}
	return nil
}

func runWebDAVDisable(cmd *cobra.Command, args []string) error {
	if err := apiClient.Sync.Disable(context.Background()); err != nil {
		return err
	}
	if jsonOutput {
		printJSON(map[string]interface{}{"success": true})
	} else {
		printSuccess("WebDAV sync disabled")
	}
	return nil
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	// Read password without echo
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return "", err
	}

	return string(password), nil
}
