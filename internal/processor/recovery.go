package processor

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	"github.com/vmunix/bookarr/internal/download"
	"github.com/vmunix/bookarr/internal/queue"
	"github.com/vmunix/bookarr/internal/request"
	"github.com/vmunix/bookarr/pkg/match"
)

// Sweeper re-derives filesystem paths for requests stuck awaiting import
// and re-enqueues their organize jobs. Downloads finish fine and then get
// orphaned when the process dies between completion and hand-off; the
// sweep is the safety net that picks them back up.
type Sweeper struct {
	requests     RequestStore
	history      HistoryStore
	client       download.Downloader // nil when no client is configured
	queue        queue.Enqueuer
	mapping      download.PathMapping
	downloadsDir string
	batchSize    int
	log          *slog.Logger
}

// SweepResult counts what one sweep pass did.
type SweepResult struct {
	Triggered int `json:"triggered"`
	Skipped   int `json:"skipped"`
}

// NewSweeper creates the recovery sweep processor.
func NewSweeper(requests RequestStore, history HistoryStore, client download.Downloader,
	q queue.Enqueuer, mapping download.PathMapping, downloadsDir string,
	batchSize int, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Sweeper{
		requests:     requests,
		history:      history,
		client:       client,
		queue:        q,
		mapping:      mapping,
		downloadsDir: downloadsDir,
		batchSize:    batchSize,
		log:          log.With("component", "sweep"),
	}
}

// Sweep processes at most one batch of stuck requests. Failures are
// isolated per request: one bad row never blocks the rest. Requests with
// no identifying information at all are counted skipped and left in
// place for manual intervention, never deleted.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepResult, error) {
	stuck, err := s.requests.ListStuck(request.StatusAwaitingImport, s.batchSize)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{}
	for _, r := range stuck {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		h, path, ok := s.resolve(ctx, r)
		if !ok {
			result.Skipped++
			continue
		}

		s.queue.Enqueue(queue.Job{
			Type: queue.TypeOrganize,
			Payload: queue.OrganizePayload{
				RequestID: r.ID,
				HistoryID: h.ID,
				Path:      path,
			},
		})
		result.Triggered++
		s.log.Info("sweep re-triggered organize", "request_id", r.ID, "path", path)
	}

	s.log.Info("sweep complete", "examined", len(stuck),
		"triggered", result.Triggered, "skipped", result.Skipped)
	return result, nil
}

// resolve re-derives where a request's files should be on disk. Returns
// false when the request carries nothing to go on.
func (s *Sweeper) resolve(ctx context.Context, r *request.Request) (*download.History, string, bool) {
	h, err := s.history.Selected(r.ID)
	if err != nil {
		s.log.Warn("no selected download for stuck request", "request_id", r.ID, "error", err)
		return nil, "", false
	}

	switch {
	case h.TorrentHash != nil && s.client != nil:
		if path, ok := s.fromTorrent(ctx, h); ok {
			return h, path, true
		}
	case h.NzbID != nil && s.client != nil:
		if st, err := s.client.Status(ctx, *h.NzbID); err == nil && st.Path != "" {
			return h, download.MapPath(st.Path, s.mapping), true
		}
	}

	// Fall back to the downloads directory plus the stored release name.
	if h.ReleaseName == "" {
		s.log.Warn("request has no identifying information, skipping",
			"request_id", r.ID, "history_id", h.ID)
		return nil, "", false
	}
	return h, filepath.Join(s.downloadsDir, h.ReleaseName), true
}

// fromTorrent asks the client for the torrent by hash; when the hash has
// gone stale it fuzzy-matches the stored release name against the live
// listing before giving up.
func (s *Sweeper) fromTorrent(ctx context.Context, h *download.History) (string, bool) {
	st, err := s.client.Status(ctx, *h.TorrentHash)
	if err == nil {
		return s.join(st), true
	}
	if !errors.Is(err, download.ErrDownloadNotFound) {
		s.log.Warn("client lookup failed", "history_id", h.ID, "error", err)
		return "", false
	}
	if h.ReleaseName == "" {
		return "", false
	}

	live, err := s.client.List(ctx)
	if err != nil {
		s.log.Warn("client listing failed", "history_id", h.ID, "error", err)
		return "", false
	}

	names := make([]string, len(live))
	for i, item := range live {
		names[i] = item.Name
	}
	m := match.BestMatch(h.ReleaseName, names)
	if m.Confidence < match.ConfidenceMedium {
		return "", false
	}
	for _, item := range live {
		if item.Name == m.Name {
			s.log.Info("stale hash recovered by name match", "history_id", h.ID,
				"name", m.Name, "score", m.Score)
			return s.join(item), true
		}
	}
	return "", false
}

func (s *Sweeper) join(st *download.ClientStatus) string {
	path := download.MapPath(st.Path, s.mapping)
	if st.Name != "" && filepath.Base(path) != st.Name {
		return filepath.Join(path, st.Name)
	}
	return path
}
