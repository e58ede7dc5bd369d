package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/hupe1980/agentcouncil/sqlite"
)

// OpenTestDB opens a migrated database in a temporary directory.
func OpenTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	db, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	return db, func() {
		_ = db.Close()
	}
}

// OpenTestStore returns a sqlite store closed at test cleanup.
func OpenTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	db, closeFn := OpenTestDB(t)
	t.Cleanup(closeFn)
	return sqlite.NewStore(db)
}
