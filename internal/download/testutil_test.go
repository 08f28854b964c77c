package download

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/vmunix/bookarr/internal/migrations"
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

// insertTestRequest inserts a request row and returns its ID.
// History rows reference requests via foreign key.
func insertTestRequest(t *testing.T, db *sql.DB, title string) int64 {
	t.Helper()
	result, err := db.Exec(`
		INSERT INTO requests (type, title, status, created_at, updated_at)
		VALUES ('audiobook', ?, 'pending', datetime('now'), datetime('now'))`,
		title,
	)
	if err != nil {
		t.Fatalf("insert test request: %v", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		t.Fatalf("get request id: %v", err)
	}
	return id
}

func strPtr(s string) *string { return &s }
