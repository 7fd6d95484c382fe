package react

import (
	"testing"

	"github.com/civicmesh/chatsync/storage"
)

// newTestStore returns an in-memory store for recent-emoji tests.
func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	s := storage.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}
