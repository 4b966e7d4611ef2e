// Package storetest provides test helpers for code that needs a real
// metadata store. Engine tests use it to get a throwaway SQLite-backed
// store without repeating the setup boilerplate.
package storetest

import (
	"path/filepath"
	"testing"

	"github.com/logmaster/logmaster/pkg/store"
)

// NewSQLiteStore creates a SQLite metadata store under t.TempDir().
// The store is closed automatically when the test finishes.
func NewSQLiteStore(t *testing.T) *store.GORMStore {
	t.Helper()

	s, err := store.New(&store.Config{
		Type: store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{
			Path: filepath.Join(t.TempDir(), "metadata.db"),
		},
	})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}

	t.Cleanup(func() { _ = s.Close() })
	return s
}
