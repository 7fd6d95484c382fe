package storage

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// stores returns one of each Store implementation for shared contract tests.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	pebbleStore, err := OpenPebble(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { pebbleStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"pebble": pebbleStore,
	}
}

func TestStoreContract(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("get missing", func(t *testing.T) {
				_, ok, err := s.Get("absent")
				require.NoError(t, err)
				require.False(t, ok)
			})

			t.Run("set then get", func(t *testing.T) {
				require.NoError(t, s.Set("k1", []byte("v1")))
				value, ok, err := s.Get("k1")
				require.NoError(t, err)
				require.True(t, ok)
				require.Equal(t, []byte("v1"), value)
			})

			t.Run("overwrite", func(t *testing.T) {
				require.NoError(t, s.Set("k1", []byte("v2")))
				value, _, err := s.Get("k1")
				require.NoError(t, err)
				require.Equal(t, []byte("v2"), value)
			})

			t.Run("delete", func(t *testing.T) {
				require.NoError(t, s.Delete("k1"))
				_, ok, err := s.Get("k1")
				require.NoError(t, err)
				require.False(t, ok)
				// Deleting again is not an error.
				require.NoError(t, s.Delete("k1"))
			})
		})
	}
}

func TestScanOrderAndPrefix(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			// Insert out of order; scan must return key order.
			require.NoError(t, s.Set("queue:t1:0003", []byte("c")))
			require.NoError(t, s.Set("queue:t1:0001", []byte("a")))
			require.NoError(t, s.Set("queue:t1:0002", []byte("b")))
			require.NoError(t, s.Set("queue:t2:0001", []byte("other thread")))
			require.NoError(t, s.Set("draft:t1", []byte("not queue")))

			var got []string
			err := s.Scan("queue:t1:", func(key string, value []byte) error {
				got = append(got, string(value))
				return nil
			})
			require.NoError(t, err)
			require.Equal(t, []string{"a", "b", "c"}, got)
		})
	}
}

func TestScanStopsOnError(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 5; i++ {
				require.NoError(t, s.Set(fmt.Sprintf("x:%d", i), []byte{byte(i)}))
			}
			visits := 0
			err := s.Scan("x:", func(key string, value []byte) error {
				visits++
				if visits == 2 {
					return fmt.Errorf("stop here")
				}
				return nil
			})
			require.EqualError(t, err, "stop here")
			require.Equal(t, 2, visits)
		})
	}
}

func TestPebblePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := OpenPebble(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set("queue:t1:0001", []byte("survives")))
	require.NoError(t, s.Close())

	reopened, err := OpenPebble(dir)
	require.NoError(t, err)
	defer reopened.Close()

	value, ok, err := reopened.Get("queue:t1:0001")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("survives"), value)
}

func TestClosedStoreReturnsErrClosed(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())

	require.ErrorIs(t, s.Set("k", nil), ErrClosed)
	_, _, err := s.Get("k")
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, s.Delete("k"), ErrClosed)
	require.ErrorIs(t, s.Scan("", func(string, []byte) error { return nil }), ErrClosed)
}
