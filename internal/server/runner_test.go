package server

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/vmunix/bookarr/internal/download"
	"github.com/vmunix/bookarr/internal/events"
	"github.com/vmunix/bookarr/internal/migrations"
	"github.com/vmunix/bookarr/internal/organizer"
	"github.com/vmunix/bookarr/internal/processor"
	"github.com/vmunix/bookarr/internal/queue"
	"github.com/vmunix/bookarr/internal/request"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	// In-memory sqlite gives each connection its own database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(migrations.InitialSQL)
	require.NoError(t, err)
	return db
}

func newTestRunner(t *testing.T) (*Runner, *request.Store, *download.Store, *queue.Queue) {
	t.Helper()
	db := setupTestDB(t)
	requests := request.NewStore(db)
	history := download.NewStore(db)
	bus := events.NewBus(nil)
	q := queue.New(16, nil)
	downloadsDir := t.TempDir()

	direct := processor.NewDirect(requests, history, nil, q, bus, downloadsDir, nil)
	sweeper := processor.NewSweeper(requests, history, nil, q, download.PathMapping{}, downloadsDir, 50, nil)
	org := organizer.New(requests, history, bus, t.TempDir(), t.TempDir(), nil)

	runner := NewRunner(Config{Workers: 2, SweepInterval: time.Hour},
		q, direct, nil, sweeper, org, bus, nil, nil)
	return runner, requests, history, q
}

func TestRunner_StartsAndStops(t *testing.T) {
	runner, _, _, _ := newTestRunner(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runner.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for runner to stop")
	}
}

func TestRunner_ProcessesDirectDownloadJobs(t *testing.T) {
	runner, requests, history, q := newTestRunner(t)

	r := &request.Request{Type: request.TypeEbook, Title: "Dune"}
	require.NoError(t, requests.Add(r))
	h := &download.History{RequestID: r.ID, ReleaseName: "Dune", Client: download.ClientDirect, Selected: true}
	require.NoError(t, history.Add(h, nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runner.Run(ctx)
	}()

	// No candidate sources: the job should run to its expected failure
	// without burning queue retries.
	q.Enqueue(queue.Job{
		Type:    queue.TypeDirectDownload,
		Payload: queue.DirectDownloadPayload{RequestID: r.ID, HistoryID: h.ID, TargetFilename: "dune.epub"},
	})

	require.Eventually(t, func() bool {
		got, err := requests.Get(r.ID)
		return err == nil && got.Status == request.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for runner to stop")
	}
}

func TestNewRunner_Defaults(t *testing.T) {
	runner, _, _, _ := newTestRunner(t)
	require.NotNil(t, runner.logger)
	require.Equal(t, 2, runner.config.Workers)
}
