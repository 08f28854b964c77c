package processor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/vmunix/bookarr/internal/download"
	"github.com/vmunix/bookarr/internal/events"
	"github.com/vmunix/bookarr/internal/queue"
	"github.com/vmunix/bookarr/internal/request"
)

// Direct downloads e-books straight over HTTP: each candidate landing
// page is resolved through the extractor and the first working file is
// streamed into the downloads directory.
type Direct struct {
	requests     RequestStore
	history      HistoryStore
	extractor    PageExtractor
	queue        queue.Enqueuer
	bus          *events.Bus
	downloadsDir string
	httpClient   *http.Client
	log          *slog.Logger
}

// NewDirect creates the direct-download processor.
func NewDirect(requests RequestStore, history HistoryStore, ext PageExtractor,
	q queue.Enqueuer, bus *events.Bus, downloadsDir string, log *slog.Logger) *Direct {
	if log == nil {
		log = slog.Default()
	}
	return &Direct{
		requests:     requests,
		history:      history,
		extractor:    ext,
		queue:        q,
		bus:          bus,
		downloadsDir: downloadsDir,
		log:          log.With("component", "direct"),
		httpClient: &http.Client{
			Timeout: 30 * time.Minute,
		},
	}
}

// Start walks the history row's candidate source URLs and downloads the
// first one that resolves. Exhausting every candidate is an expected
// failure: status writes happen and a structured result comes back with a
// nil error. Store failures mid-flight write a best-effort failure record
// and then propagate, so the queue's retry policy sees them.
func (d *Direct) Start(ctx context.Context, requestID, historyID int64, targetFilename string) (*Result, error) {
	r, err := d.requests.Get(requestID)
	if err != nil {
		return nil, d.failAndReturn(requestID, err)
	}

	// Status must read downloading before any network attempt.
	from := r.Status
	if err := d.requests.Transition(r, request.StatusDownloading); err != nil {
		return nil, d.failAndReturn(requestID, err)
	}
	publishStatusChange(ctx, d.bus, r.ID, from, r.Status)
	if err := d.requests.SetProgress(requestID, 0); err != nil {
		return nil, d.failAndReturn(requestID, err)
	}

	h, err := d.history.Get(historyID)
	if err != nil {
		return nil, d.failAndReturn(requestID, err)
	}
	sources, err := d.history.Sources(historyID)
	if err != nil {
		return nil, d.failAndReturn(requestID, err)
	}
	if h.Status == download.StatusQueued {
		if err := d.history.Transition(h, download.StatusDownloading); err != nil {
			return nil, d.failAndReturn(requestID, err)
		}
	}

	destPath := filepath.Join(d.downloadsDir, targetFilename)
	for i, pageURL := range sources {
		res, err := d.extractor.Extract(ctx, pageURL)
		if err != nil {
			d.log.Warn("candidate extraction failed", "request_id", requestID,
				"candidate", i, "url", pageURL, "error", err)
			continue
		}
		if res == nil {
			d.log.Debug("candidate page has no download link", "request_id", requestID,
				"candidate", i, "url", pageURL)
			continue
		}

		size, err := d.stream(ctx, res.URL, destPath, requestID)
		if err != nil {
			d.log.Warn("candidate download failed", "request_id", requestID,
				"candidate", i, "url", res.URL, "error", err)
			continue
		}
		if size == 0 {
			d.log.Warn("candidate produced empty file", "request_id", requestID, "candidate", i)
			_ = os.Remove(destPath)
			continue
		}

		return d.finish(ctx, r, h, destPath, size)
	}

	msg := fmt.Sprintf("all %d candidate sources failed", len(sources))
	if err := d.requests.Fail(requestID, msg); err != nil {
		return nil, err
	}
	if err := d.history.Transition(h, download.StatusFailed); err != nil {
		return nil, d.failAndReturn(requestID, err)
	}
	if d.bus != nil {
		_ = d.bus.Publish(ctx, events.NewDownloadFailed(historyID, requestID, msg))
	}
	return &Result{Success: false, Message: msg}, nil
}

// finish records a successful download and hands off to the organizer.
func (d *Direct) finish(ctx context.Context, r *request.Request, h *download.History, destPath string, size int64) (*Result, error) {
	if err := d.history.Transition(h, download.StatusCompleted); err != nil {
		return nil, d.failAndReturn(r.ID, err)
	}
	if err := d.history.SetSize(h.ID, size); err != nil {
		return nil, d.failAndReturn(r.ID, err)
	}
	if err := d.requests.SetProgress(r.ID, 100); err != nil {
		return nil, d.failAndReturn(r.ID, err)
	}

	// A re-run after a crash must not enqueue a second organize job: the
	// request leaving downloading marks the hand-off as already done.
	fresh, err := d.requests.Get(r.ID)
	if err != nil {
		return nil, d.failAndReturn(r.ID, err)
	}
	if fresh.Status != request.StatusDownloading {
		d.log.Info("organize already enqueued, skipping", "request_id", r.ID, "status", fresh.Status)
		return &Result{Success: true, Completed: true}, nil
	}

	if err := d.requests.Transition(fresh, request.StatusAwaitingImport); err != nil {
		return nil, d.failAndReturn(r.ID, err)
	}
	publishStatusChange(ctx, d.bus, r.ID, request.StatusDownloading, fresh.Status)
	d.queue.Enqueue(queue.Job{
		Type: queue.TypeOrganize,
		Payload: queue.OrganizePayload{
			RequestID: r.ID,
			HistoryID: h.ID,
			Path:      destPath,
		},
	})
	if d.bus != nil {
		_ = d.bus.Publish(ctx, events.NewDownloadCompleted(h.ID, r.ID, destPath))
	}

	d.log.Info("direct download complete", "request_id", r.ID, "path", destPath, "size", size)
	return &Result{Success: true, Completed: true}, nil
}

// Monitor checks whether a previously started direct download's file is
// on disk. Deliberately coarse: existence is the only signal.
func (d *Direct) Monitor(ctx context.Context, requestID, historyID int64, targetPath string) (*Result, error) {
	info, err := os.Stat(targetPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Result{
				Success: false,
				Message: fmt.Sprintf("%s not found", filepath.Base(targetPath)),
			}, nil
		}
		return nil, fmt.Errorf("stat %s: %w", targetPath, err)
	}
	if info.Size() == 0 {
		return &Result{
			Success: false,
			Message: fmt.Sprintf("%s not found", filepath.Base(targetPath)),
		}, nil
	}
	return &Result{Success: true, Completed: true}, nil
}

// stream fetches fileURL into destPath, reporting byte progress against
// the response's content length. Partial files are removed on failure.
func (d *Direct) stream(ctx context.Context, fileURL, destPath string, requestID int64) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, fmt.Errorf("create downloads dir: %w", err)
	}
	f, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}

	pw := &progressWriter{
		requests:  d.requests,
		requestID: requestID,
		total:     resp.ContentLength,
	}
	_, err = io.Copy(f, io.TeeReader(resp.Body, pw))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(destPath)
		return 0, fmt.Errorf("stream file: %w", err)
	}

	info, err := os.Stat(destPath)
	if err != nil {
		return 0, fmt.Errorf("stat downloaded file: %w", err)
	}
	return info.Size(), nil
}

// failAndReturn writes a best-effort failure record before propagating an
// unexpected error, so user-visible state survives even when the job
// ultimately errors out to the queue.
func (d *Direct) failAndReturn(requestID int64, err error) error {
	if ferr := d.requests.Fail(requestID, err.Error()); ferr != nil {
		d.log.Error("failed to record failure", "request_id", requestID, "error", ferr)
	}
	return err
}

// progressWriter maps bytes written to request progress in 5% steps.
type progressWriter struct {
	requests  RequestStore
	requestID int64
	total     int64
	written   int64
	lastStep  int
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))
	if w.total > 0 {
		step := int(w.written * 100 / w.total / 5)
		if step > w.lastStep {
			w.lastStep = step
			progress := min(step*5, 99) // 100 is set only after the final stat
			_ = w.requests.SetProgress(w.requestID, progress)
		}
	}
	return len(p), nil
}
