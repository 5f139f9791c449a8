package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/marksync/internal/services/bookmarks"
)

var addCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Save a page to the library",
	Long: `Add queues a page for processing. Without --html the page is
fetched by the next queue pass.`,
	Example: `  marksync add https://example.com/article
  marksync add https://example.com/article --html saved.html --title "Article"`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

var (
	addTitle    string
	addHTMLFile string
	addProcess  bool
)

func init() {
	rootCmd.AddCommand(addCmd)

	addCmd.Flags().StringVarP(&addTitle, "title", "t", "",
		"Bookmark title")
	addCmd.Flags().StringVar(&addHTMLFile, "html", "",
		"File with already captured page HTML")
	addCmd.Flags().BoolVarP(&addProcess, "process", "p", false,
		"Run a queue pass right away")
}

func runAdd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	req := bookmarks.AddRequest{URL: args[0], Title: addTitle}
	if addHTMLFile != "" {
		data, err := os.ReadFile(addHTMLFile)
		if err != nil {
			return fmt.Errorf("read html: %w", err)
		}
		req.HTML = string(data)
	}

	b, err := apiClient.Bookmarks.Add(ctx, req)
	if err != nil {
		if !jsonOutput {
			printError("Failed to add bookmark: %v", err)
		}
		return err
	}

	if addProcess {
		if _, err := apiClient.Process(ctx); err != nil {
			return fmt.Errorf("process queue: %w", err)
		}
		if b, err = apiClient.Bookmarks.Get(ctx, b.ID); err != nil {
			return err
		}
	}

	if jsonOutput {
		printJSON(b)
		return nil
	}

	printSuccess("Added %s", b.URL)
	fmt.Printf("   ID:     %s\n", b.ID)
	fmt.Printf("   Status: %s\n", statusColor(b.Status).Sprint(b.Status))
	return nil
}
