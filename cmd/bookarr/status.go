package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Server status",
	Long:  "Show server version, download client health, and work in flight.",
	RunE:  runStatusCmd,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatusCmd(cmd *cobra.Command, args []string) error {
	client := NewClient(serverURL)
	resp, err := client.Status()
	if err != nil {
		return fmt.Errorf("status check failed: %w", err)
	}

	if jsonOutput {
		printJSON(resp)
		return nil
	}

	clientInfo := "none"
	if resp.DownloadClient != "" {
		clientInfo = resp.DownloadClient
		if resp.ClientReachable != nil {
			if *resp.ClientReachable {
				clientInfo += " (connected)"
			} else {
				clientInfo += " (unreachable)"
			}
		}
	}

	fmt.Printf("bookarr v%s | Server: %s\n\n", resp.Version, serverURL)
	fmt.Printf("  Download client:  %s\n", clientInfo)
	fmt.Printf("  Active requests:  %d\n", resp.ActiveRequests)
	fmt.Printf("  Queued jobs:      %d\n", resp.QueuedJobs)
	return nil
}
