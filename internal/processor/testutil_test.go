package processor

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vmunix/bookarr/internal/download"
	"github.com/vmunix/bookarr/internal/extractor"
	"github.com/vmunix/bookarr/internal/migrations"
	"github.com/vmunix/bookarr/internal/queue"
	"github.com/vmunix/bookarr/internal/request"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?_pragma=foreign_keys(1)")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// In-memory sqlite gives each connection its own database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.Exec(migrations.InitialSQL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return db
}

// stores bundles the real stores the processors run against in tests.
type stores struct {
	db       *sql.DB
	requests *request.Store
	history  *download.Store
}

func setupStores(t *testing.T) *stores {
	t.Helper()
	db := setupTestDB(t)
	return &stores{
		db:       db,
		requests: request.NewStore(db),
		history:  download.NewStore(db),
	}
}

// addRequest inserts a request in the given status.
func (s *stores) addRequest(t *testing.T, typ request.Type, status request.Status) *request.Request {
	t.Helper()
	r := &request.Request{Type: typ, Title: "Dune", Author: "Frank Herbert"}
	if err := s.requests.Add(r); err != nil {
		t.Fatalf("add request: %v", err)
	}
	for r.Status != status {
		next := nextToward(r.Status, status)
		if err := s.requests.Transition(r, next); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}
	return r
}

// nextToward walks the status machine one step toward target.
func nextToward(from, target request.Status) request.Status {
	if from.CanTransitionTo(target) {
		return target
	}
	switch from {
	case request.StatusPending:
		return request.StatusSearching
	case request.StatusSearching:
		return request.StatusDownloading
	case request.StatusDownloading:
		return request.StatusAwaitingImport
	}
	return target
}

// addHistory inserts a selected history row for the request.
func (s *stores) addHistory(t *testing.T, requestID int64, client download.Client, sources []string) *download.History {
	t.Helper()
	h := &download.History{
		RequestID:   requestID,
		ReleaseName: "Dune Frank Herbert",
		Client:      client,
		Selected:    true,
	}
	if err := s.history.Add(h, sources); err != nil {
		t.Fatalf("add history: %v", err)
	}
	return h
}

// fakeQueue records enqueued jobs.
type fakeQueue struct {
	mu      sync.Mutex
	jobs    []queue.Job
	delayed []queue.Job
}

func (q *fakeQueue) Enqueue(job queue.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
}

func (q *fakeQueue) EnqueueAfter(job queue.Job, _ time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.delayed = append(q.delayed, job)
}

func (q *fakeQueue) organizeJobs() []queue.OrganizePayload {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []queue.OrganizePayload
	for _, j := range q.jobs {
		if j.Type == queue.TypeOrganize {
			out = append(out, j.Payload.(queue.OrganizePayload))
		}
	}
	return out
}

// fakeExtractor resolves pages via a function.
type fakeExtractor struct {
	fn func(ctx context.Context, pageURL string) (*extractor.Result, error)
}

func (f *fakeExtractor) Extract(ctx context.Context, pageURL string) (*extractor.Result, error) {
	return f.fn(ctx, pageURL)
}

// failingHistoryStore wraps a real history store, failing Sources.
type failingHistoryStore struct {
	HistoryStore
	sourcesErr error
}

func (f *failingHistoryStore) Sources(historyID int64) ([]string, error) {
	if f.sourcesErr != nil {
		return nil, f.sourcesErr
	}
	return f.HistoryStore.Sources(historyID)
}

func strPtr(s string) *string { return &s }
