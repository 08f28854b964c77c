package v1

import (
	"time"

	"github.com/vmunix/bookarr/internal/download"
	"github.com/vmunix/bookarr/internal/request"
)

// addRequestRequest is the POST /requests body. A torrent/Usenet grab
// carries DownloadURL; a direct e-book download carries SourceURLs and
// TargetFilename instead.
type addRequestRequest struct {
	Type            string   `json:"type"` // audiobook | ebook
	Title           string   `json:"title"`
	Author          string   `json:"author"`
	ReleaseName     string   `json:"release_name"`
	Client          string   `json:"client"` // qbittorrent | sabnzbd | direct
	DownloadURL     string   `json:"download_url,omitempty"`
	SourceURLs      []string `json:"source_urls,omitempty"`
	TargetFilename  string   `json:"target_filename,omitempty"`
	ParentRequestID *int64   `json:"parent_request_id,omitempty"`
}

type requestResponse struct {
	ID              int64      `json:"id"`
	Type            string     `json:"type"`
	Title           string     `json:"title"`
	Author          string     `json:"author"`
	Status          string     `json:"status"`
	Progress        int        `json:"progress"`
	ParentRequestID *int64     `json:"parent_request_id,omitempty"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
}

func requestToResponse(r *request.Request) requestResponse {
	return requestResponse{
		ID:              r.ID,
		Type:            string(r.Type),
		Title:           r.Title,
		Author:          r.Author,
		Status:          string(r.Status),
		Progress:        r.Progress,
		ParentRequestID: r.ParentRequestID,
		ErrorMessage:    r.ErrorMessage,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		DeletedAt:       r.DeletedAt,
	}
}

type listRequestsResponse struct {
	Items []requestResponse `json:"items"`
	Total int               `json:"total"`
}

// downloadResponse merges a history row with the client's live view.
type downloadResponse struct {
	ID          int64      `json:"id"`
	RequestID   int64      `json:"request_id"`
	ReleaseName string     `json:"release_name"`
	Client      string     `json:"client"`
	ClientID    string     `json:"client_id,omitempty"`
	Status      string     `json:"status"`
	Size        int64      `json:"size"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Live fields, present when the active client still knows the item.
	Progress *float64 `json:"progress,omitempty"`
	Speed    *int64   `json:"speed_bps,omitempty"`
	ETA      *int64   `json:"eta_seconds,omitempty"`
	Path     *string  `json:"path,omitempty"`
}

func historyToResponse(h *download.History) downloadResponse {
	return downloadResponse{
		ID:          h.ID,
		RequestID:   h.RequestID,
		ReleaseName: h.ReleaseName,
		Client:      string(h.Client),
		ClientID:    h.ClientID(),
		Status:      string(h.Status),
		Size:        h.Size,
		StartedAt:   h.StartedAt,
		CompletedAt: h.CompletedAt,
	}
}

type listDownloadsResponse struct {
	Items []downloadResponse `json:"items"`
	Total int                `json:"total"`
}

type statusResponse struct {
	Version         string `json:"version"`
	DownloadClient  string `json:"download_client"`
	ClientReachable *bool  `json:"client_reachable,omitempty"`
	ActiveRequests  int    `json:"active_requests"`
	QueuedJobs      int    `json:"queued_jobs"`
}
