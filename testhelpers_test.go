package caskdb

import (
	"os"
	"testing"
)

// setupTempDB opens a DB rooted at a fresh temp directory and registers
// cleanup so the directory is removed (and the DB closed) at test end.
func setupTempDB(tb testing.TB, opts ...Option) (db *DB, dir string) {
	tb.Helper()

	dir, err := os.MkdirTemp("", "caskdb_test_*")
	if err != nil {
		tb.Fatalf("MkdirTemp: %v", err)
	}

	db, err = Open(dir, opts...)
	if err != nil {
		os.RemoveAll(dir)
		tb.Fatalf("Open(%q): %v", dir, err)
	}

	tb.Cleanup(func() {
		_ = db.Close()
		os.RemoveAll(dir)
	})

	return db, dir
}
