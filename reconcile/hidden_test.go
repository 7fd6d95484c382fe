package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicmesh/chatsync/message"
	"github.com/civicmesh/chatsync/storage"
)

func TestHiddenSetFiltersPages(t *testing.T) {
	store := storage.NewMemoryStore()
	defer store.Close()

	h, err := LoadHiddenSet(store, "thread1")
	require.NoError(t, err)

	require.NoError(t, h.Hide("srv2"))
	assert.True(t, h.Hidden("srv2"))
	assert.False(t, h.Hidden("srv1"))

	page := []*message.Message{
		serverMessage("srv1", time.Now()),
		serverMessage("srv2", time.Now()),
		serverMessage("srv3", time.Now()),
	}
	filtered := h.Filter(page)
	require.Len(t, filtered, 2)
	assert.Equal(t, "srv1", filtered[0].ID)
	assert.Equal(t, "srv3", filtered[1].ID)
}

func TestHiddenSetSurvivesReload(t *testing.T) {
	store := storage.NewMemoryStore()
	defer store.Close()

	h, err := LoadHiddenSet(store, "thread1")
	require.NoError(t, err)
	require.NoError(t, h.Hide("srv1"))
	require.NoError(t, h.Hide("srv2"))

	reloaded, err := LoadHiddenSet(store, "thread1")
	require.NoError(t, err)
	assert.True(t, reloaded.Hidden("srv1"))
	assert.True(t, reloaded.Hidden("srv2"))
	assert.False(t, reloaded.Hidden("srv3"))
}

func TestHiddenSetPerThread(t *testing.T) {
	store := storage.NewMemoryStore()
	defer store.Close()

	h1, err := LoadHiddenSet(store, "thread1")
	require.NoError(t, err)
	require.NoError(t, h1.Hide("srv1"))

	h2, err := LoadHiddenSet(store, "thread2")
	require.NoError(t, err)
	assert.False(t, h2.Hidden("srv1"))
}

func TestHiddenSetToleratesCorruptData(t *testing.T) {
	store := storage.NewMemoryStore()
	defer store.Close()
	require.NoError(t, store.Set("hidden:thread1", []byte("{broken")))

	h, err := LoadHiddenSet(store, "thread1")
	require.NoError(t, err)
	assert.False(t, h.Hidden("srv1"))
	require.NoError(t, h.Hide("srv1"))
	assert.True(t, h.Hidden("srv1"))
}
