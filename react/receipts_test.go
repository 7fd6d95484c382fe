package react

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/civicmesh/chatsync/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector gathers flushed batches for assertions.
type collector struct {
	mu      sync.Mutex
	batches [][]string
}

func (c *collector) flush(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sort.Strings(ids)
	c.batches = append(c.batches, ids)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func (c *collector) batch(i int) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batches[i]
}

func TestReceiptBatcherBatchesIntoOneFlush(t *testing.T) {
	c := &collector{}
	b := NewReceiptBatcher(30*time.Millisecond, c.flush)
	defer b.Stop()

	b.MarkVisible("m1")
	b.MarkVisible("m2")
	b.MarkVisible("m3")
	b.MarkVisible("m2") // duplicate collapses

	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"m1", "m2", "m3"}, c.batch(0))
}

func TestReceiptBatcherFlushForcesImmediate(t *testing.T) {
	c := &collector{}
	b := NewReceiptBatcher(time.Hour, c.flush)
	defer b.Stop()

	b.MarkVisible("m1")
	b.Flush()

	require.Equal(t, 1, c.count())
	assert.Equal(t, []string{"m1"}, c.batch(0))

	// Nothing pending: a second flush is a no-op.
	b.Flush()
	assert.Equal(t, 1, c.count())
}

func TestReceiptBatcherStopDropsPending(t *testing.T) {
	c := &collector{}
	b := NewReceiptBatcher(20*time.Millisecond, c.flush)

	b.MarkVisible("m1")
	b.Stop()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, c.count(), "stopped batcher must not flush")

	// Marks while stopped are ignored; marks after restart flush again.
	b.MarkVisible("m2")
	b.Restart()
	b.MarkVisible("m3")
	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"m3"}, c.batch(0))
}

func TestFullySeenPrivate(t *testing.T) {
	th := &message.Thread{ID: "t1", Kind: message.KindPrivate, Members: []string{"alice", "bob"}}

	assert.False(t, FullySeen(th, "alice", nil))
	assert.False(t, FullySeen(th, "alice", []string{"alice"}), "own receipt does not count")
	assert.True(t, FullySeen(th, "alice", []string{"bob"}))
}

func TestFullySeenCommunityNeedsAllOthers(t *testing.T) {
	th := &message.Thread{
		ID:      "t2",
		Kind:    message.KindCommunity,
		Members: []string{"alice", "bob", "carol", "dave"},
	}

	assert.False(t, FullySeen(th, "alice", []string{"bob", "carol"}))
	assert.True(t, FullySeen(th, "alice", []string{"bob", "carol", "dave"}))
}

func TestFullySeenUnknownMembership(t *testing.T) {
	empty := &message.Thread{ID: "t3", Kind: message.KindCommunity}
	assert.False(t, FullySeen(empty, "alice", []string{"bob"}))

	solo := &message.Thread{ID: "t4", Kind: message.KindCommunity, Members: []string{"alice"}}
	assert.False(t, FullySeen(solo, "alice", []string{"alice"}))
}

func TestRecentEmojiRecordAndCap(t *testing.T) {
	store := newTestStore(t)
	r := NewRecentEmoji(store)

	r.Record("👍")
	r.Record("❤️")
	r.Record("👍") // moves to front, no duplicate

	assert.Equal(t, []string{"👍", "❤️"}, r.Get())

	for i := 0; i < RecentEmojiCap+4; i++ {
		r.Record(string(rune('a' + i)))
	}
	assert.Len(t, r.Get(), RecentEmojiCap)
}

func TestRecentEmojiPersists(t *testing.T) {
	store := newTestStore(t)

	r := NewRecentEmoji(store)
	r.Record("🎉")
	r.Record("👍")

	reloaded := NewRecentEmoji(store)
	assert.Equal(t, []string{"👍", "🎉"}, reloaded.Get())
}
