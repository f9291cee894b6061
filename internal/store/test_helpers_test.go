package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/ynab-sync/internal/testutil"
)

var testEpoch = time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)

// createTestStore opens a store in a temp dir driven by a fake clock.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, _ := createTestStoreWithClock(t)
	return s
}

func createTestStoreWithClock(t *testing.T) (*Store, *testutil.FakeClock) {
	t.Helper()
	clock := testutil.NewFakeClock(testEpoch)
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func ptr[T any](v T) *T {
	return &v
}
