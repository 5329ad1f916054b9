package db

import (
	"database/sql"
	"path/filepath"
	"testing"
)

// NewTestDB returns an in-memory database with the schema applied. It is
// closed when the test ends.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()
	return newTestDB(t, ":memory:")
}

// NewTestFileDB is like NewTestDB but backed by a file in a temporary
// directory, for tests that need WAL mode or several connections. It
// returns the path so the test can reopen the database.
func NewTestFileDB(t *testing.T) (*sql.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shramba.sqlite3")
	return newTestDB(t, path), path
}

func newTestDB(t *testing.T, path string) *sql.DB {
	t.Helper()

	db, err := Open(path)
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	if err := EnsureSchema(db); err != nil {
		db.Close()
		t.Fatalf("applying test database schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
