package processor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vmunix/bookarr/internal/download"
	"github.com/vmunix/bookarr/internal/events"
	"github.com/vmunix/bookarr/internal/extractor"
	"github.com/vmunix/bookarr/internal/request"
)

func TestDirect_Start_AllCandidatesFail(t *testing.T) {
	s := setupStores(t)
	r := s.addRequest(t, request.TypeEbook, request.StatusPending)
	h := s.addHistory(t, r.ID, download.ClientDirect, []string{
		"https://mirror-a.example/dune",
		"https://mirror-b.example/dune",
		"https://mirror-c.example/dune",
	})

	ext := &fakeExtractor{fn: func(ctx context.Context, pageURL string) (*extractor.Result, error) {
		return nil, nil // no download link on any page
	}}
	q := &fakeQueue{}
	d := NewDirect(s.requests, s.history, ext, q, nil, t.TempDir(), nil)

	result, err := d.Start(context.Background(), r.ID, h.ID, "dune.epub")
	if err != nil {
		t.Fatalf("Start returned error for exhausted candidates: %v", err)
	}
	if result.Success {
		t.Error("result should not be success")
	}
	if !strings.Contains(result.Message, "3 candidate") {
		t.Errorf("Message = %q", result.Message)
	}

	got, _ := s.requests.Get(r.ID)
	if got.Status != request.StatusFailed {
		t.Errorf("request status = %q, want failed", got.Status)
	}
	if got.ErrorMessage == nil || !strings.Contains(*got.ErrorMessage, "failed") {
		t.Errorf("ErrorMessage = %v", got.ErrorMessage)
	}
	gotH, _ := s.history.Get(h.ID)
	if gotH.Status != download.StatusFailed {
		t.Errorf("history status = %q, want failed", gotH.Status)
	}
	if len(q.organizeJobs()) != 0 {
		t.Error("no organize job should be enqueued on failure")
	}
}

func TestDirect_Start_SecondCandidateSucceeds(t *testing.T) {
	content := "epub bytes go here"
	fileServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(content))
	}))
	defer fileServer.Close()

	s := setupStores(t)
	r := s.addRequest(t, request.TypeEbook, request.StatusPending)
	h := s.addHistory(t, r.ID, download.ClientDirect, []string{
		"https://mirror-a.example/dune",
		"https://mirror-b.example/dune",
	})

	ext := &fakeExtractor{fn: func(ctx context.Context, pageURL string) (*extractor.Result, error) {
		if strings.Contains(pageURL, "mirror-a") {
			return nil, nil // first mirror has nothing
		}
		return &extractor.Result{URL: fileServer.URL + "/dune.epub", Format: "epub"}, nil
	}}
	q := &fakeQueue{}
	dir := t.TempDir()
	d := NewDirect(s.requests, s.history, ext, q, nil, dir, nil)

	result, err := d.Start(context.Background(), r.ID, h.ID, "dune.epub")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !result.Success || !result.Completed {
		t.Errorf("result = %+v", result)
	}

	data, err := os.ReadFile(filepath.Join(dir, "dune.epub"))
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(data) != content {
		t.Errorf("file content = %q", data)
	}

	got, _ := s.requests.Get(r.ID)
	if got.Status != request.StatusAwaitingImport {
		t.Errorf("request status = %q, want awaiting_import", got.Status)
	}
	if got.Progress != 100 {
		t.Errorf("progress = %d, want 100", got.Progress)
	}
	gotH, _ := s.history.Get(h.ID)
	if gotH.Status != download.StatusCompleted {
		t.Errorf("history status = %q, want completed", gotH.Status)
	}
	if gotH.Size != int64(len(content)) {
		t.Errorf("size = %d, want %d", gotH.Size, len(content))
	}

	jobs := q.organizeJobs()
	if len(jobs) != 1 {
		t.Fatalf("organize jobs = %d, want exactly 1", len(jobs))
	}
	if jobs[0].RequestID != r.ID {
		t.Errorf("organize RequestID = %d", jobs[0].RequestID)
	}
	if !strings.Contains(jobs[0].Path, "dune.epub") {
		t.Errorf("organize Path = %q, want it to contain the target filename", jobs[0].Path)
	}
}

func TestDirect_Start_PublishesRequestTransitions(t *testing.T) {
	fileServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("epub bytes"))
	}))
	defer fileServer.Close()

	s := setupStores(t)
	r := s.addRequest(t, request.TypeEbook, request.StatusPending)
	h := s.addHistory(t, r.ID, download.ClientDirect, []string{"https://mirror.example/dune"})

	bus := events.NewBus(nil)
	defer func() { _ = bus.Close() }()
	ch := bus.Subscribe(events.EventRequestStatusChanged, 8)

	ext := &fakeExtractor{fn: func(context.Context, string) (*extractor.Result, error) {
		return &extractor.Result{URL: fileServer.URL + "/dune.epub", Format: "epub"}, nil
	}}
	d := NewDirect(s.requests, s.history, ext, &fakeQueue{}, bus, t.TempDir(), nil)

	if _, err := d.Start(context.Background(), r.ID, h.ID, "dune.epub"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var got []events.RequestStatusChanged
	for len(ch) > 0 {
		got = append(got, (<-ch).(events.RequestStatusChanged))
	}
	if len(got) != 2 {
		t.Fatalf("status events = %d, want 2", len(got))
	}
	if got[0].From != string(request.StatusPending) || got[0].To != string(request.StatusDownloading) {
		t.Errorf("first event = %s -> %s", got[0].From, got[0].To)
	}
	if got[1].From != string(request.StatusDownloading) || got[1].To != string(request.StatusAwaitingImport) {
		t.Errorf("second event = %s -> %s", got[1].From, got[1].To)
	}
}

func TestDirect_Start_DownloadingBeforeNetwork(t *testing.T) {
	s := setupStores(t)
	r := s.addRequest(t, request.TypeEbook, request.StatusPending)
	h := s.addHistory(t, r.ID, download.ClientDirect, []string{"https://mirror.example/dune"})

	ext := &fakeExtractor{fn: func(ctx context.Context, pageURL string) (*extractor.Result, error) {
		// By the time any network-facing work runs, the status write must
		// already be visible.
		got, err := s.requests.Get(r.ID)
		if err != nil {
			t.Fatalf("get request inside extractor: %v", err)
		}
		if got.Status != request.StatusDownloading {
			t.Errorf("status at first network attempt = %q, want downloading", got.Status)
		}
		if got.Progress != 0 {
			t.Errorf("progress at first network attempt = %d, want 0", got.Progress)
		}
		return nil, nil
	}}
	d := NewDirect(s.requests, s.history, ext, &fakeQueue{}, nil, t.TempDir(), nil)

	_, err := d.Start(context.Background(), r.ID, h.ID, "dune.epub")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func TestDirect_Start_InfraErrorFailsThenPropagates(t *testing.T) {
	s := setupStores(t)
	r := s.addRequest(t, request.TypeEbook, request.StatusPending)
	h := s.addHistory(t, r.ID, download.ClientDirect, []string{"https://mirror.example/dune"})

	storeErr := errors.New("database is locked")
	failing := &failingHistoryStore{HistoryStore: s.history, sourcesErr: storeErr}
	d := NewDirect(s.requests, failing, &fakeExtractor{fn: func(context.Context, string) (*extractor.Result, error) {
		t.Fatal("extractor must not run after a store failure")
		return nil, nil
	}}, &fakeQueue{}, nil, t.TempDir(), nil)

	_, err := d.Start(context.Background(), r.ID, h.ID, "dune.epub")
	if !errors.Is(err, storeErr) {
		t.Fatalf("err = %v, want the original store error", err)
	}

	// The failure record was written before the error propagated.
	got, _ := s.requests.Get(r.ID)
	if got.Status != request.StatusFailed {
		t.Errorf("request status = %q, want failed", got.Status)
	}
	if got.ErrorMessage == nil || !strings.Contains(*got.ErrorMessage, "database is locked") {
		t.Errorf("ErrorMessage = %v", got.ErrorMessage)
	}
}

func TestDirect_Monitor(t *testing.T) {
	dir := t.TempDir()
	d := NewDirect(nil, nil, nil, &fakeQueue{}, nil, dir, nil)

	path := filepath.Join(dir, "dune.epub")
	if err := os.WriteFile(path, []byte("content"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := d.Monitor(context.Background(), 1, 1, path)
	if err != nil {
		t.Fatalf("Monitor: %v", err)
	}
	if !result.Success || !result.Completed {
		t.Errorf("result = %+v, want success+completed", result)
	}

	result, err = d.Monitor(context.Background(), 1, 1, filepath.Join(dir, "missing.epub"))
	if err != nil {
		t.Fatalf("Monitor on missing file: %v", err)
	}
	if result.Success {
		t.Error("result should not be success for a missing file")
	}
	if !strings.Contains(result.Message, "not found") {
		t.Errorf("Message = %q, want it to contain 'not found'", result.Message)
	}
}

func TestDirect_Start_EmptyFileRejected(t *testing.T) {
	fileServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 200 with an empty body
	}))
	defer fileServer.Close()

	s := setupStores(t)
	r := s.addRequest(t, request.TypeEbook, request.StatusPending)
	h := s.addHistory(t, r.ID, download.ClientDirect, []string{"https://mirror.example/dune"})

	ext := &fakeExtractor{fn: func(context.Context, string) (*extractor.Result, error) {
		return &extractor.Result{URL: fileServer.URL + "/dune.epub", Format: "epub"}, nil
	}}
	dir := t.TempDir()
	d := NewDirect(s.requests, s.history, ext, &fakeQueue{}, nil, dir, nil)

	result, err := d.Start(context.Background(), r.ID, h.ID, "dune.epub")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if result.Success {
		t.Error("empty file should count as a failed candidate")
	}
	if _, err := os.Stat(filepath.Join(dir, "dune.epub")); !os.IsNotExist(err) {
		t.Error("empty file should be removed")
	}
}
