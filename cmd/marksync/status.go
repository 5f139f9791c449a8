package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/marksync/internal/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue, job and sync status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var (
	statusJobs   int
	statusFilter string
)

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().IntVar(&statusJobs, "jobs", 5,
		"Number of recent jobs to show")
	statusCmd.Flags().StringVar(&statusFilter, "list", "",
		"Also list bookmarks with this status")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	counts, err := apiClient.Bookmarks.Counts(ctx)
	if err != nil {
		return err
	}
	jobs, err := apiClient.Bookmarks.Jobs(ctx, statusJobs)
	if err != nil {
		return err
	}
	settings, err := apiClient.Sync.Settings(ctx)
	if err != nil {
		return err
	}

	var listed []*models.Bookmark
	if statusFilter != "" {
		st, err := models.ParseBookmarkStatus(statusFilter)
		if err != nil {
			return err
		}
		if listed, err = apiClient.Bookmarks.List(ctx, st, 0); err != nil {
			return err
		}
	}

	if jsonOutput {
		out := map[string]interface{}{
			"counts":   counts,
			"total":    counts.Total(),
			"jobs":     jobs,
			"settings": settings,
		}
		if statusFilter != "" {
			out["bookmarks"] = listed
		}
		printJSON(out)
		return nil
	}

	fmt.Printf("Bookmarks: %d\n", counts.Total())
	for _, st := range models.AllStatuses {
		if n := counts[st]; n > 0 {
			fmt.Printf("   %-11s %d\n", statusColor(st).Sprint(st), n)
		}
	}

	if len(jobs) > 0 {
		fmt.Println("\nRecent jobs:")
		for _, j := range jobs {
			done, total := j.Progress()
			fmt.Printf("   %s  %-11s %-21s %d/%d\n",
				dimColor.Sprint(shortID(j.ID)), j.Type, j.Status, done, total)
		}
	}

	fmt.Println("\nWebDAV sync:")
	if !settings.Configured() {
		fmt.Println("   not configured")
	} else {
		fmt.Printf("   URL:       %s\n", settings.WebDAVURL)
		fmt.Printf("   Folder:    %s\n", settings.WebDAVPath)
		fmt.Printf("   Last sync: %s\n", formatTime(settings.LastSyncTime))
		if settings.LastSyncError != "" {
			fmt.Printf("   Last error: %s\n", errorColor.Sprint(settings.LastSyncError))
		}
	}

	if len(listed) > 0 {
		fmt.Printf("\n%s bookmarks:\n", statusFilter)
		for _, b := range listed {
			fmt.Printf("   %s  %s\n", dimColor.Sprint(shortID(b.ID)), truncate(b.URL, 70))
			if b.ErrorMessage != "" {
				fmt.Printf("      %s\n", errorColor.Sprint(b.ErrorMessage))
			}
		}
	}
	return nil
}
