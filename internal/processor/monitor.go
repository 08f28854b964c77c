package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/vmunix/bookarr/internal/download"
	"github.com/vmunix/bookarr/internal/events"
	"github.com/vmunix/bookarr/internal/queue"
	"github.com/vmunix/bookarr/internal/request"
)

// Monitor dispatches downloads to the active torrent/Usenet client and
// follows them to completion via cooperative poll ticks. Each tick runs
// to completion and re-enqueues itself; there is no long-lived loop.
type Monitor struct {
	requests     RequestStore
	history      HistoryStore
	client       download.Downloader
	clientType   download.Client
	queue        queue.Enqueuer
	bus          *events.Bus
	mapping      download.PathMapping
	pollInterval time.Duration
	maxAge       time.Duration
	log          *slog.Logger
}

// NewMonitor creates the dispatch/monitor processor for the active client.
func NewMonitor(requests RequestStore, history HistoryStore, client download.Downloader,
	clientType download.Client, q queue.Enqueuer, bus *events.Bus,
	mapping download.PathMapping, pollInterval, maxAge time.Duration, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &Monitor{
		requests:     requests,
		history:      history,
		client:       client,
		clientType:   clientType,
		queue:        q,
		bus:          bus,
		mapping:      mapping,
		pollInterval: pollInterval,
		maxAge:       maxAge,
		log:          log.With("component", "monitor"),
	}
}

// Dispatch hands a download URL to the active client, persists the
// returned opaque id into the field matching the client, and schedules
// the first poll tick.
func (m *Monitor) Dispatch(ctx context.Context, requestID, historyID int64, downloadURL string) error {
	r, err := m.requests.Get(requestID)
	if err != nil {
		return m.failAndReturn(requestID, err)
	}

	clientID, err := m.client.Add(ctx, downloadURL)
	if err != nil {
		h, herr := m.history.Get(historyID)
		if herr == nil {
			_ = m.history.Transition(h, download.StatusFailed)
		}
		return m.failAndReturn(requestID, fmt.Errorf("add to %s: %w", m.clientType, err))
	}

	if err := m.history.SetClientID(historyID, m.clientType, clientID); err != nil {
		return m.failAndReturn(requestID, err)
	}
	if r.Status != request.StatusDownloading {
		from := r.Status
		if err := m.requests.Transition(r, request.StatusDownloading); err != nil {
			return m.failAndReturn(requestID, err)
		}
		publishStatusChange(ctx, m.bus, r.ID, from, r.Status)
	}
	if err := m.requests.SetProgress(requestID, 0); err != nil {
		return m.failAndReturn(requestID, err)
	}

	m.log.Info("download dispatched", "request_id", requestID, "client", m.clientType, "client_id", clientID)
	m.queue.Enqueue(queue.Job{
		Type:    queue.TypeMonitor,
		Payload: queue.MonitorPayload{RequestID: requestID, HistoryID: historyID},
	})
	return nil
}

// Tick polls the client once and decides: keep polling, finish, or fail.
func (m *Monitor) Tick(ctx context.Context, requestID, historyID int64) (*Result, error) {
	r, err := m.requests.Get(requestID)
	if err != nil {
		return nil, m.failAndReturn(requestID, err)
	}
	h, err := m.history.Get(historyID)
	if err != nil {
		return nil, m.failAndReturn(requestID, err)
	}

	clientID := h.ClientID()
	if clientID == "" {
		msg := "download has no client identifier"
		if err := m.requests.Fail(requestID, msg); err != nil {
			return nil, err
		}
		return &Result{Success: false, Message: msg}, nil
	}

	st, err := m.client.Status(ctx, clientID)
	if err != nil {
		if errors.Is(err, download.ErrDownloadNotFound) {
			return m.fail(ctx, r, h, fmt.Sprintf("download %s no longer known to %s", clientID, m.clientType))
		}
		// Client unreachable: transient, keep the poll loop alive rather
		// than burning the job's retry budget.
		m.log.Warn("client poll failed, will retry", "request_id", requestID, "error", err)
		m.reschedule(requestID, historyID)
		return &Result{Success: true}, nil
	}

	switch st.Status {
	case download.StatusFailed:
		return m.fail(ctx, r, h, fmt.Sprintf("%s reported failure for %s", m.clientType, st.Name))

	case download.StatusCompleted, download.StatusImported:
		return m.complete(ctx, r, h, st)

	default:
		return m.progress(ctx, r, h, st)
	}
}

// progress records a non-terminal poll and re-enqueues the next tick,
// unless the download has been running past the age ceiling.
func (m *Monitor) progress(ctx context.Context, r *request.Request, h *download.History, st *download.ClientStatus) (*Result, error) {
	if time.Since(h.StartedAt) > m.maxAge {
		return m.fail(ctx, r, h, fmt.Sprintf("download did not finish within %s", m.maxAge))
	}

	if err := m.requests.SetProgress(r.ID, int(st.Progress)); err != nil {
		return nil, m.failAndReturn(r.ID, err)
	}
	if st.Size > 0 && st.Size != h.Size {
		if err := m.history.SetSize(h.ID, st.Size); err != nil {
			return nil, m.failAndReturn(r.ID, err)
		}
	}
	if h.Status.CanTransitionTo(st.Status) {
		if err := m.history.Transition(h, st.Status); err != nil {
			return nil, m.failAndReturn(r.ID, err)
		}
	}
	if m.bus != nil {
		_ = m.bus.Publish(ctx, events.NewDownloadProgressed(h.ID, r.ID, st.Progress, st.Speed, st.Size))
	}

	m.reschedule(r.ID, h.ID)
	return &Result{Success: true}, nil
}

// complete finishes a download: path-map the client's directory, guard
// against double hand-off, and enqueue the organize job.
func (m *Monitor) complete(ctx context.Context, r *request.Request, h *download.History, st *download.ClientStatus) (*Result, error) {
	localPath := download.MapPath(st.Path, m.mapping)
	resolved := localPath
	if st.Name != "" && filepath.Base(localPath) != st.Name {
		resolved = filepath.Join(localPath, st.Name)
	}

	// Idempotence guard: a crash between organize-enqueue and the next
	// poll must not produce a second organize job. The request leaving
	// downloading is the marker that hand-off already happened.
	if r.Status != request.StatusDownloading {
		m.log.Info("organize already enqueued, skipping", "request_id", r.ID, "status", r.Status)
		return &Result{Success: true, Completed: true}, nil
	}

	if h.Status.CanTransitionTo(download.StatusCompleted) {
		if err := m.history.Transition(h, download.StatusCompleted); err != nil {
			return nil, m.failAndReturn(r.ID, err)
		}
	}
	if err := m.requests.SetProgress(r.ID, 100); err != nil {
		return nil, m.failAndReturn(r.ID, err)
	}
	if err := m.requests.Transition(r, request.StatusAwaitingImport); err != nil {
		return nil, m.failAndReturn(r.ID, err)
	}
	publishStatusChange(ctx, m.bus, r.ID, request.StatusDownloading, r.Status)

	m.queue.Enqueue(queue.Job{
		Type: queue.TypeOrganize,
		Payload: queue.OrganizePayload{
			RequestID: r.ID,
			HistoryID: h.ID,
			Path:      resolved,
		},
	})
	if m.bus != nil {
		_ = m.bus.Publish(ctx, events.NewDownloadCompleted(h.ID, r.ID, resolved))
	}

	m.log.Info("download complete", "request_id", r.ID, "path", resolved)
	return &Result{Success: true, Completed: true}, nil
}

// fail marks both rows failed. Terminal for this processor; the recovery
// sweep may later re-derive a path and retry the hand-off.
func (m *Monitor) fail(ctx context.Context, r *request.Request, h *download.History, msg string) (*Result, error) {
	if err := m.requests.Fail(r.ID, msg); err != nil {
		return nil, err
	}
	if h.Status.CanTransitionTo(download.StatusFailed) {
		if err := m.history.Transition(h, download.StatusFailed); err != nil {
			m.log.Error("failed to mark history failed", "history_id", h.ID, "error", err)
		}
	}
	if m.bus != nil {
		_ = m.bus.Publish(ctx, events.NewDownloadFailed(h.ID, r.ID, msg))
	}
	return &Result{Success: false, Message: msg}, nil
}

func (m *Monitor) reschedule(requestID, historyID int64) {
	m.queue.EnqueueAfter(queue.Job{
		Type:    queue.TypeMonitor,
		Payload: queue.MonitorPayload{RequestID: requestID, HistoryID: historyID},
	}, m.pollInterval)
}

func (m *Monitor) failAndReturn(requestID int64, err error) error {
	if ferr := m.requests.Fail(requestID, err.Error()); ferr != nil {
		m.log.Error("failed to record failure", "request_id", requestID, "error", ferr)
	}
	return err
}
