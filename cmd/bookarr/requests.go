package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var requestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "Show and manage requests",
	Long: `Show and manage audiobook and e-book requests.

Examples:
  bookarr requests                      # List all requests
  bookarr requests --status failed      # Filter by status
  bookarr requests --type audiobook     # Filter by type
  bookarr requests add --type ebook --title "Dune" --source https://... --filename dune.epub
  bookarr requests remove 42            # Remove request #42`,
	RunE: runRequestsCmd,
}

var requestsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a new request",
	Long: `Add a new download request.

A direct e-book download takes one or more --source landing pages and a
--filename; a torrent or Usenet grab takes --client and --url instead.

Examples:
  bookarr requests add --type ebook --title "Dune" --author "Frank Herbert" \
      --source https://mirror-a/dune --source https://mirror-b/dune --filename dune.epub
  bookarr requests add --type audiobook --title "Dune" --client qbittorrent \
      --url "magnet:?xt=urn:btih:..." --release "Dune.Unabridged"`,
	RunE: runRequestsAdd,
}

var requestsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a request",
	Args:  cobra.ExactArgs(1),
	RunE:  runRequestsRemove,
}

func init() {
	rootCmd.AddCommand(requestsCmd)
	requestsCmd.Flags().StringP("status", "s", "", "Filter by status")
	requestsCmd.Flags().StringP("type", "t", "", "Filter by type (audiobook, ebook)")

	requestsAddCmd.Flags().String("type", "", "Request type: audiobook or ebook")
	requestsAddCmd.Flags().String("title", "", "Title")
	requestsAddCmd.Flags().String("author", "", "Author")
	requestsAddCmd.Flags().String("release", "", "Release name")
	requestsAddCmd.Flags().String("client", "direct", "Download client: qbittorrent, sabnzbd, or direct")
	requestsAddCmd.Flags().String("url", "", "Torrent/NZB download URL")
	requestsAddCmd.Flags().StringArray("source", nil, "Candidate source page URL (repeatable, ordered)")
	requestsAddCmd.Flags().String("filename", "", "Target filename for direct downloads")
	_ = requestsAddCmd.MarkFlagRequired("type")
	_ = requestsAddCmd.MarkFlagRequired("title")

	requestsCmd.AddCommand(requestsAddCmd)
	requestsCmd.AddCommand(requestsRemoveCmd)
}

func runRequestsCmd(cmd *cobra.Command, args []string) error {
	statusFilter, _ := cmd.Flags().GetString("status")
	typeFilter, _ := cmd.Flags().GetString("type")

	client := NewClient(serverURL)
	resp, err := client.Requests(typeFilter, statusFilter)
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}

	if jsonOutput {
		printJSON(resp)
		return nil
	}

	if resp.Total == 0 {
		fmt.Println("No requests.")
		return nil
	}

	fmt.Printf("%-5s %-10s %-30s %-20s %-16s %s\n", "ID", "TYPE", "TITLE", "AUTHOR", "STATUS", "PROGRESS")
	for i := range resp.Items {
		r := &resp.Items[i]
		fmt.Printf("%-5d %-10s %-30s %-20s %-16s %d%%\n",
			r.ID, r.Type, truncate(r.Title, 30), truncate(r.Author, 20), r.Status, r.Progress)
		if r.ErrorMessage != nil {
			fmt.Printf("      error: %s\n", *r.ErrorMessage)
		}
	}
	return nil
}

func runRequestsAdd(cmd *cobra.Command, args []string) error {
	body := &AddRequestBody{}
	body.Type, _ = cmd.Flags().GetString("type")
	body.Title, _ = cmd.Flags().GetString("title")
	body.Author, _ = cmd.Flags().GetString("author")
	body.ReleaseName, _ = cmd.Flags().GetString("release")
	body.Client, _ = cmd.Flags().GetString("client")
	body.DownloadURL, _ = cmd.Flags().GetString("url")
	body.SourceURLs, _ = cmd.Flags().GetStringArray("source")
	body.TargetFilename, _ = cmd.Flags().GetString("filename")

	client := NewClient(serverURL)
	resp, err := client.AddRequest(body)
	if err != nil {
		return fmt.Errorf("add failed: %w", err)
	}

	if jsonOutput {
		printJSON(resp)
		return nil
	}
	fmt.Printf("Request %d created (%s, %s)\n", resp.ID, resp.Type, resp.Status)
	return nil
}

func runRequestsRemove(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid ID: %s", args[0])
	}

	client := NewClient(serverURL)
	if err := client.DeleteRequest(id); err != nil {
		return fmt.Errorf("remove failed: %w", err)
	}
	fmt.Printf("Request %d removed\n", id)
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return strings.TrimSpace(s[:max-3]) + "..."
}
