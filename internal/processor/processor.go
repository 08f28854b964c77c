// Package processor hosts the background job processors: direct HTTP
// downloads, torrent/Usenet dispatch and monitoring, and the recovery
// sweep for requests stuck awaiting import.
package processor

import (
	"context"

	"github.com/vmunix/bookarr/internal/download"
	"github.com/vmunix/bookarr/internal/events"
	"github.com/vmunix/bookarr/internal/extractor"
	"github.com/vmunix/bookarr/internal/request"
)

// RequestStore is the slice of the request store the processors need.
type RequestStore interface {
	Get(id int64) (*request.Request, error)
	Transition(r *request.Request, to request.Status) error
	SetProgress(id int64, progress int) error
	Fail(id int64, message string) error
	ListStuck(status request.Status, limit int) ([]*request.Request, error)
}

// HistoryStore is the slice of the download history store the processors need.
type HistoryStore interface {
	Get(id int64) (*download.History, error)
	Selected(requestID int64) (*download.History, error)
	Sources(historyID int64) ([]string, error)
	SetClientID(historyID int64, client download.Client, clientID string) error
	Transition(h *download.History, to download.Status) error
	SetSize(historyID, size int64) error
}

// PageExtractor resolves a landing page to a direct download URL.
type PageExtractor interface {
	Extract(ctx context.Context, pageURL string) (*extractor.Result, error)
}

// publishStatusChange mirrors a validated request transition onto the bus.
func publishStatusChange(ctx context.Context, bus *events.Bus, id int64, from, to request.Status) {
	if bus != nil {
		_ = bus.Publish(ctx, events.NewRequestStatusChanged(id, string(from), string(to)))
	}
}

// Result is the structured outcome of a processor run. Expected domain
// failures (exhausted candidates, stale ids) land here rather than in an
// error: an error return means the job itself should be retried.
type Result struct {
	Success   bool
	Completed bool
	Message   string
}
