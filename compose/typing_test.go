package compose

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicmesh/chatsync/storage"
)

// signalRecorder collects typing signals in order.
type signalRecorder struct {
	mu      sync.Mutex
	signals []bool
}

func (r *signalRecorder) record(typing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, typing)
}

func (r *signalRecorder) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.signals...)
}

func TestTypingStartOnlyOnFirstKeystroke(t *testing.T) {
	rec := &signalRecorder{}
	n := NewTypingNotifier(rec.record)
	n.SetIdle(time.Hour)
	defer n.Stop()

	n.Keystroke()
	n.Keystroke()
	n.Keystroke()

	assert.Equal(t, []bool{true}, rec.snapshot())
	assert.True(t, n.Typing())
}

func TestTypingStopsOnIdle(t *testing.T) {
	rec := &signalRecorder{}
	n := NewTypingNotifier(rec.record)
	n.SetIdle(20 * time.Millisecond)

	n.Keystroke()
	require.Eventually(t, func() bool {
		return !n.Typing()
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []bool{true, false}, rec.snapshot())
}

func TestTypingStopOnSend(t *testing.T) {
	rec := &signalRecorder{}
	n := NewTypingNotifier(rec.record)
	n.SetIdle(time.Hour)

	n.Keystroke()
	n.Stop()
	// A second stop while already idle emits nothing.
	n.Stop()

	assert.Equal(t, []bool{true, false}, rec.snapshot())
	assert.False(t, n.Typing())
}

func TestTypingRestartsAfterIdle(t *testing.T) {
	rec := &signalRecorder{}
	n := NewTypingNotifier(rec.record)
	n.SetIdle(time.Hour)

	n.Keystroke()
	n.Stop()
	n.Keystroke()
	n.Stop()

	assert.Equal(t, []bool{true, false, true, false}, rec.snapshot())
}

func TestDraftRoundTrip(t *testing.T) {
	store := storage.NewMemoryStore()
	defer store.Close()
	d := NewDraftStore(store)

	text, err := d.Load("thread1")
	require.NoError(t, err)
	assert.Empty(t, text)

	require.NoError(t, d.Save("thread1", "half written tho"))
	text, err = d.Load("thread1")
	require.NoError(t, err)
	assert.Equal(t, "half written tho", text)

	// Saving empty clears, as does an explicit clear.
	require.NoError(t, d.Save("thread1", ""))
	text, err = d.Load("thread1")
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestDraftPerThread(t *testing.T) {
	store := storage.NewMemoryStore()
	defer store.Close()
	d := NewDraftStore(store)

	require.NoError(t, d.Save("thread1", "one"))
	require.NoError(t, d.Save("thread2", "two"))
	require.NoError(t, d.Clear("thread1"))

	text, err := d.Load("thread2")
	require.NoError(t, err)
	assert.Equal(t, "two", text)
}
