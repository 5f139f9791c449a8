package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/marksync/internal/models"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import bookmarks from an export or a URL list",
	Long: `Import reads either a marksync JSON export or a plain text file
with one URL per line. Use - to read from stdin. URLs already in the
library are skipped.`,
	Example: `  marksync import bookmarks.json
  cat urls.txt | marksync import -`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	data, err := readInput(args[0])
	if err != nil {
		return err
	}

	exp, err := parseImport(data)
	if err != nil {
		return err
	}

	result, err := apiClient.Bookmarks.ImportBookmarks(ctx, exp, "file")
	if err != nil {
		if !jsonOutput {
			printError("Import failed: %v", err)
		}
		return err
	}

	if jsonOutput {
		printJSON(result)
		return nil
	}

	printSuccess("Imported %d bookmarks, skipped %d", result.Imported, result.Skipped)
	if result.JobID != "" {
		fmt.Printf("   Job: %s\n", result.JobID)
	}
	return nil
}

func readInput(name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// parseImport accepts a JSON export or newline separated URLs.
func parseImport(data []byte) (*models.BookmarkExport, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return models.ParseBookmarkExport(trimmed)
	}

	var list []*models.Bookmark
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		list = append(list, &models.Bookmark{URL: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read url list: %w", err)
	}
	return &models.BookmarkExport{Bookmarks: list, BookmarkCount: len(list)}, nil
}
