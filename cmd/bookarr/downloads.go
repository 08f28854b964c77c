package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var downloadsCmd = &cobra.Command{
	Use:   "downloads",
	Short: "Show download history",
	Long: `Show download attempts with live client status where available.

Examples:
  bookarr downloads                 # Recent download attempts
  bookarr downloads --request 42    # Attempts for request #42`,
	RunE: runDownloadsCmd,
}

func init() {
	rootCmd.AddCommand(downloadsCmd)
	downloadsCmd.Flags().Int64P("request", "r", 0, "Filter by request ID")
}

func runDownloadsCmd(cmd *cobra.Command, args []string) error {
	var requestID *int64
	if id, _ := cmd.Flags().GetInt64("request"); id > 0 {
		requestID = &id
	}

	client := NewClient(serverURL)
	resp, err := client.Downloads(requestID)
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}

	if jsonOutput {
		printJSON(resp)
		return nil
	}

	if resp.Total == 0 {
		fmt.Println("No downloads.")
		return nil
	}

	fmt.Printf("%-5s %-7s %-40s %-12s %-12s %-10s %s\n",
		"ID", "REQ", "RELEASE", "CLIENT", "STATUS", "SIZE", "PROGRESS")
	for i := range resp.Items {
		d := &resp.Items[i]
		progress := "-"
		if d.Progress != nil {
			progress = strconv.FormatFloat(*d.Progress, 'f', 1, 64) + "%"
			if d.Speed != nil && *d.Speed > 0 {
				progress += fmt.Sprintf(" @ %s/s", formatSize(*d.Speed))
			}
		}
		fmt.Printf("%-5d %-7d %-40s %-12s %-12s %-10s %s\n",
			d.ID, d.RequestID, truncate(d.ReleaseName, 40), d.Client, d.Status,
			formatSize(d.Size), progress)
	}
	return nil
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
