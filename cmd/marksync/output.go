package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/TheMichaelB/marksync/internal/models"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	dimColor     = color.New(color.Faint)
)

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		printError("Encode output: %v", err)
	}
}

func printSuccess(format string, args ...interface{}) {
	_, _ = successColor.Fprintf(os.Stdout, format+"\n", args...)
}

func printError(format string, args ...interface{}) {
	_, _ = errorColor.Fprintf(os.Stderr, format+"\n", args...)
}

func printWarning(format string, args ...interface{}) {
	_, _ = warningColor.Fprintf(os.Stderr, format+"\n", args...)
}

func printInfo(format string, args ...interface{}) {
	_, _ = infoColor.Fprintf(os.Stdout, format+"\n", args...)
}

func statusColor(s models.BookmarkStatus) *color.Color {
	switch s {
	case models.StatusComplete:
		return successColor
	case models.StatusError:
		return errorColor
	case models.StatusProcessing, models.StatusFetching:
		return infoColor
	default:
		return warningColor
	}
}

// printSyncResult renders a sync result and returns an error for failed syncs.
func printSyncResult(result *models.SyncResult) error {
	if jsonOutput {
		printJSON(result)
	} else {
		switch result.Action {
		case models.SyncError:
			printError("Sync failed: %s", result.Message)
		case models.SyncSkipped:
			printWarning("Sync skipped: %s", result.Message)
		default:
			msg := result.Message
			if msg == "" {
				msg = fmt.Sprintf("%d bookmarks", result.BookmarkCount)
			}
			printSuccess("Sync %s: %s", result.Action, msg)
		}
	}

	if result.Action == models.SyncError {
		return fmt.Errorf("sync failed: %s", result.Message)
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
