// Package download manages download clients and the per-attempt history rows.
package download

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Client identifies which backend performed a download attempt.
type Client string

const (
	ClientQBittorrent Client = "qbittorrent"
	ClientSABnzbd     Client = "sabnzbd"
	ClientDirect      Client = "direct"
)

// Status tracks download state.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusExtracting  Status = "extracting" // Usenet post-processing
	StatusCompleted   Status = "completed"
	StatusImported    Status = "imported"
	StatusFailed      Status = "failed"
)

// History is one download attempt for a request. TorrentHash and NzbID are
// mutually exclusive; direct HTTP attempts carry neither.
type History struct {
	ID          int64
	RequestID   int64
	ReleaseName string
	Client      Client
	TorrentHash *string
	NzbID       *string
	Status      Status
	Selected    bool
	Size        int64
	StartedAt   time.Time
	CompletedAt *time.Time
}

// ClientID returns the opaque identifier the active backend knows this
// attempt by, or "" for direct downloads.
func (h *History) ClientID() string {
	switch {
	case h.TorrentHash != nil:
		return *h.TorrentHash
	case h.NzbID != nil:
		return *h.NzbID
	default:
		return ""
	}
}

// ClientStatus is the live status reported by a download client.
type ClientStatus struct {
	ID       string
	Name     string
	Status   Status
	Progress float64 // 0-100
	Size     int64
	Speed    int64 // bytes/sec
	ETA      time.Duration
	Path     string // Completed download path, in the client's namespace
}

// Downloader is the capability interface over download clients
// (qBittorrent, SABnzbd). Exactly one backend is active per process.
type Downloader interface {
	// TestConnection verifies the client is reachable and credentials work.
	TestConnection(ctx context.Context) error
	// Add sends a torrent/NZB URL to the client and returns its opaque ID.
	Add(ctx context.Context, url string) (clientID string, err error)
	// Status returns the status of a download, or ErrDownloadNotFound if
	// the client no longer knows the ID.
	Status(ctx context.Context, clientID string) (*ClientStatus, error)
	// List returns all downloads the client knows about.
	List(ctx context.Context) ([]*ClientStatus, error)
	// Pause suspends a download.
	Pause(ctx context.Context, clientID string) error
	// Resume continues a paused download.
	Resume(ctx context.Context, clientID string) error
	// Remove cancels/removes a download.
	Remove(ctx context.Context, clientID string, deleteFiles bool) error
}

// Store persists download history rows and their candidate source URLs.
type Store struct {
	db *sql.DB
}

// NewStore creates a download history store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const historyColumns = "id, request_id, release_name, download_client, torrent_hash, nzb_id, download_status, selected, size, started_at, completed_at"

func scanHistory(row interface{ Scan(...any) error }) (*History, error) {
	h := &History{}
	err := row.Scan(&h.ID, &h.RequestID, &h.ReleaseName, &h.Client, &h.TorrentHash,
		&h.NzbID, &h.Status, &h.Selected, &h.Size, &h.StartedAt, &h.CompletedAt)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Add records a new download attempt with its ordered candidate source
// URLs. Marking a row selected demotes any previously selected row for the
// same request, keeping exactly one authoritative attempt.
func (s *Store) Add(h *History, sourceURLs []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if h.Selected {
		if _, err := tx.Exec(
			"UPDATE download_history SET selected = 0 WHERE request_id = ?", h.RequestID,
		); err != nil {
			return fmt.Errorf("demote selected: %w", err)
		}
	}

	if h.Status == "" {
		h.Status = StatusQueued
	}
	now := time.Now()
	result, err := tx.Exec(`
		INSERT INTO download_history (request_id, release_name, download_client, torrent_hash, nzb_id, download_status, selected, size, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.RequestID, h.ReleaseName, h.Client, h.TorrentHash, h.NzbID, h.Status, h.Selected, h.Size, now, h.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert download history: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}

	for i, u := range sourceURLs {
		if _, err := tx.Exec(
			"INSERT INTO download_sources (history_id, position, url) VALUES (?, ?, ?)",
			id, i, u,
		); err != nil {
			return fmt.Errorf("insert download source: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	h.ID = id
	h.StartedAt = now
	return nil
}

// Get retrieves a history row by ID.
// Returns ErrNotFound if the row does not exist.
func (s *Store) Get(id int64) (*History, error) {
	h, err := scanHistory(s.db.QueryRow(
		"SELECT "+historyColumns+" FROM download_history WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("get download history %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get download history %d: %w", id, err)
	}
	return h, nil
}

// Selected returns the most recent selected history row for a request.
// Returns ErrNotFound if the request has no selected attempt.
func (s *Store) Selected(requestID int64) (*History, error) {
	h, err := scanHistory(s.db.QueryRow(
		"SELECT "+historyColumns+" FROM download_history WHERE request_id = ? AND selected = 1 ORDER BY id DESC LIMIT 1",
		requestID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("selected history for request %d: %w", requestID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("selected history for request %d: %w", requestID, err)
	}
	return h, nil
}

// List returns history rows newest first, optionally filtered by request.
func (s *Store) List(requestID *int64, limit int) ([]*History, error) {
	if limit <= 0 {
		limit = 50
	}

	query := "SELECT " + historyColumns + " FROM download_history"
	var args []any
	if requestID != nil {
		query += " WHERE request_id = ?"
		args = append(args, *requestID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list download history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []*History
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan download history: %w", err)
		}
		results = append(results, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate download history: %w", err)
	}
	return results, nil
}

// Sources returns the candidate source URLs for a history row, in order.
func (s *Store) Sources(historyID int64) ([]string, error) {
	rows, err := s.db.Query(
		"SELECT url FROM download_sources WHERE history_id = ? ORDER BY position", historyID)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		urls = append(urls, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return urls, nil
}

// SetClientID persists the opaque client identifier into the field
// matching the backend. The two fields stay mutually exclusive.
func (s *Store) SetClientID(historyID int64, client Client, clientID string) error {
	var query string
	switch client {
	case ClientQBittorrent:
		query = "UPDATE download_history SET torrent_hash = ?, nzb_id = NULL WHERE id = ?"
	case ClientSABnzbd:
		query = "UPDATE download_history SET nzb_id = ?, torrent_hash = NULL WHERE id = ?"
	default:
		return fmt.Errorf("set client id: client %q has no identifier field", client)
	}

	result, err := s.db.Exec(query, clientID, historyID)
	if err != nil {
		return fmt.Errorf("set client id for history %d: %w", historyID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("set client id for history %d: %w", historyID, ErrNotFound)
	}
	return nil
}

// Transition changes a history row's status with validation. Terminal
// statuses also stamp completed_at.
func (s *Store) Transition(h *History, to Status) error {
	if !h.Status.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, h.Status, to)
	}

	var completedAt *time.Time
	if to == StatusCompleted || to == StatusFailed || to == StatusImported {
		now := time.Now()
		completedAt = &now
	} else {
		completedAt = h.CompletedAt
	}

	result, err := s.db.Exec(
		"UPDATE download_history SET download_status = ?, completed_at = ? WHERE id = ?",
		to, completedAt, h.ID,
	)
	if err != nil {
		return fmt.Errorf("update download history %d: %w", h.ID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("transition download history %d: %w", h.ID, ErrNotFound)
	}

	h.Status = to
	h.CompletedAt = completedAt
	return nil
}

// SetSize records the download size once the client reports it.
func (s *Store) SetSize(historyID, size int64) error {
	_, err := s.db.Exec("UPDATE download_history SET size = ? WHERE id = ?", size, historyID)
	if err != nil {
		return fmt.Errorf("set size for history %d: %w", historyID, err)
	}
	return nil
}
