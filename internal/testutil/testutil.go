// Package testutil provides shared test helpers for the entity resolution
// engine: a disposable store.Store per test, plus small assertion helpers
// in the teacher's style (internal/testutil in the original MycelicMemory
// tree), now backed by the real schema instead of a placeholder table.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/erlink/erlink/internal/store"
)

// NewTestStore opens a fresh, schema-initialized Store backed by a
// temporary SQLite file, closed automatically when the test completes.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	if err := s.InitSchema(); err != nil {
		s.Close()
		t.Fatalf("failed to init test store schema: %v", err)
	}

	t.Cleanup(func() { s.Close() })
	return s
}

// SeedRecord upserts a record and fails the test on error.
func SeedRecord(t *testing.T, s *store.Store, collection, id string, fields map[string]any) {
	t.Helper()
	if err := s.UpsertRecord(&store.Record{Collection: collection, ID: id, Fields: fields}); err != nil {
		t.Fatalf("failed to seed record %s/%s: %v", collection, id, err)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertEqual fails the test if got != want.
func AssertEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
