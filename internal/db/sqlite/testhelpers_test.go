package sqlite

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// testDB creates a temporary SQLite database for testing.
// Returns the database, path, and a cleanup function.
func testDB(t *testing.T) (*sql.DB, string, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "lifecycle-sqlite-test-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	db, err := sql.Open("sqlite", "file:"+dbPath)
	if err != nil {
		_ = os.RemoveAll(tmpDir)
		t.Fatalf("open database: %v", err)
	}

	cleanup := func() {
		_ = db.Close()
		_ = os.RemoveAll(tmpDir)
	}

	return db, dbPath, cleanup
}

// testStore creates a migrated Store in a temporary directory.
func testStore(t *testing.T, now func() time.Time) (*Store, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "lifecycle-sqlite-store-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}

	store, err := NewStore(StoreConfig{
		Path:     filepath.Join(tmpDir, "test.db"),
		MaxConns: 2,
		WALMode:  true,
		Now:      now,
	})
	if err != nil {
		_ = os.RemoveAll(tmpDir)
		t.Fatalf("NewStore failed: %v", err)
	}

	cleanup := func() {
		_ = store.Close()
		_ = os.RemoveAll(tmpDir)
	}
	return store, cleanup
}

// steppingClock returns a clock that advances one second per call.
func steppingClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}
