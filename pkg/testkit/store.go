// Package testkit provides fixtures, assertions and fake inference servers for tenantops tests.
package testkit

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"tenantops/pkg/persistence"
)

// NewStore opens a migrated SQLite store in a temp directory, closed when t ends.
func NewStore(t *testing.T) *persistence.Store {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "tenantops_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	store, err := persistence.OpenSQLite(context.Background(), filepath.Join(tempDir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
		_ = os.RemoveAll(tempDir)
	})
	return store
}
