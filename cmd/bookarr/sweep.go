package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Trigger a recovery sweep",
	Long: `Trigger a recovery sweep on the server.

The sweep re-derives filesystem paths for requests stuck awaiting import
and re-enqueues their organize jobs. The server also runs this on a
schedule; the command forces a pass now.`,
	RunE: runSweepCmd,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweepCmd(cmd *cobra.Command, args []string) error {
	client := NewClient(serverURL)
	resp, err := client.Sweep()
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	if jsonOutput {
		printJSON(resp)
		return nil
	}

	fmt.Printf("Sweep complete: %d organize jobs triggered, %d skipped\n",
		resp.Triggered, resp.Skipped)
	return nil
}
