// Package request manages user requests for audiobooks and e-books.
package request

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Type distinguishes what kind of media was asked for.
type Type string

const (
	TypeAudiobook Type = "audiobook"
	TypeEbook     Type = "ebook"
)

// Status tracks a request through its lifecycle.
type Status string

const (
	StatusPending        Status = "pending"
	StatusSearching      Status = "searching"
	StatusDownloading    Status = "downloading"
	StatusAwaitingImport Status = "awaiting_import"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
)

// Request is a user's tracked ask for an audiobook or e-book.
// An e-book request may link back to the audiobook request it was spawned
// from via ParentRequestID; the tree is at most two levels deep.
type Request struct {
	ID              int64
	Type            Type
	Title           string
	Author          string
	Status          Status
	Progress        int // 0-100
	ParentRequestID *int64
	ErrorMessage    *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time
}

// Filter specifies criteria for listing requests.
type Filter struct {
	Type   *Type
	Status *Status
	Parent *int64
}

// Store persists request records. Requests are only ever soft-deleted to
// preserve history.
type Store struct {
	db *sql.DB
}

// NewStore creates a request store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const requestColumns = "id, type, title, author, status, progress, parent_request_id, error_message, created_at, updated_at, deleted_at"

func scanRequest(row interface{ Scan(...any) error }) (*Request, error) {
	r := &Request{}
	err := row.Scan(&r.ID, &r.Type, &r.Title, &r.Author, &r.Status, &r.Progress,
		&r.ParentRequestID, &r.ErrorMessage, &r.CreatedAt, &r.UpdatedAt, &r.DeletedAt)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Add inserts a new request.
func (s *Store) Add(r *Request) error {
	if r.Status == "" {
		r.Status = StatusPending
	}
	now := time.Now()
	result, err := s.db.Exec(`
		INSERT INTO requests (type, title, author, status, progress, parent_request_id, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Type, r.Title, r.Author, r.Status, r.Progress, r.ParentRequestID, r.ErrorMessage, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}

	r.ID = id
	r.CreatedAt = now
	r.UpdatedAt = now
	return nil
}

// Get retrieves a request by ID. Soft-deleted requests are not returned.
// Returns ErrNotFound if the request does not exist.
func (s *Store) Get(id int64) (*Request, error) {
	r, err := scanRequest(s.db.QueryRow(
		"SELECT "+requestColumns+" FROM requests WHERE id = ? AND deleted_at IS NULL", id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("get request %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get request %d: %w", id, err)
	}
	return r, nil
}

// List returns non-deleted requests matching the filter, oldest first.
func (s *Store) List(f Filter) ([]*Request, error) {
	conditions := []string{"deleted_at IS NULL"}
	var args []any

	if f.Type != nil {
		conditions = append(conditions, "type = ?")
		args = append(args, *f.Type)
	}
	if f.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, *f.Status)
	}
	if f.Parent != nil {
		conditions = append(conditions, "parent_request_id = ?")
		args = append(args, *f.Parent)
	}

	query := "SELECT " + requestColumns + " FROM requests WHERE " +
		strings.Join(conditions, " AND ") + " ORDER BY id"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []*Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}

	return results, nil
}

// ListStuck returns up to limit requests sitting in the given status,
// oldest transition first. Used by the recovery sweep.
func (s *Store) ListStuck(status Status, limit int) ([]*Request, error) {
	rows, err := s.db.Query(
		"SELECT "+requestColumns+" FROM requests WHERE status = ? AND deleted_at IS NULL ORDER BY updated_at LIMIT ?",
		status, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list stuck requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []*Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}

	return results, nil
}

// Transition changes a request's status with validation.
func (s *Store) Transition(r *Request, to Status) error {
	if !r.Status.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}

	now := time.Now()
	result, err := s.db.Exec(
		"UPDATE requests SET status = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL",
		to, now, r.ID,
	)
	if err != nil {
		return fmt.Errorf("update request %d: %w", r.ID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("transition request %d: %w", r.ID, ErrNotFound)
	}

	r.Status = to
	r.UpdatedAt = now
	return nil
}

// SetProgress updates the download progress percentage.
func (s *Store) SetProgress(id int64, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	_, err := s.db.Exec(
		"UPDATE requests SET progress = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL",
		progress, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("set progress for request %d: %w", id, err)
	}
	return nil
}

// Fail marks a request failed with a user-visible error message.
// Unlike Transition it does not validate the current status: a failure
// record must be writable from anywhere as a best effort before an error
// propagates to the job queue.
func (s *Store) Fail(id int64, message string) error {
	_, err := s.db.Exec(
		"UPDATE requests SET status = ?, error_message = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL",
		StatusFailed, message, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("fail request %d: %w", id, err)
	}
	return nil
}

// SoftDelete marks a request deleted without removing the row.
func (s *Store) SoftDelete(id int64) error {
	now := time.Now()
	result, err := s.db.Exec(
		"UPDATE requests SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL",
		now, now, id,
	)
	if err != nil {
		return fmt.Errorf("delete request %d: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("delete request %d: %w", id, ErrNotFound)
	}
	return nil
}
