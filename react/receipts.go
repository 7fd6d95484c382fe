package react

import (
	"sync"
	"time"

	"github.com/civicmesh/chatsync/message"
)

// DefaultReceiptDebounce is how long the batcher accumulates visibility
// signals before flushing one bulk receipt call.
const DefaultReceiptDebounce = 300 * time.Millisecond

// FlushFunc receives the batched message ids on each flush.
type FlushFunc func(messageIDs []string)

// ReceiptBatcher accumulates "message became visible" signals and flushes
// them as one bulk call after a short debounce window, bounding request
// volume during fast scrolling.
type ReceiptBatcher struct {
	mu       sync.Mutex
	pending  map[string]struct{}
	timer    *time.Timer
	debounce time.Duration
	flush    FlushFunc
	stopped  bool
}

// NewReceiptBatcher creates a batcher. A non-positive debounce falls back
// to DefaultReceiptDebounce.
func NewReceiptBatcher(debounce time.Duration, flush FlushFunc) *ReceiptBatcher {
	if debounce <= 0 {
		debounce = DefaultReceiptDebounce
	}
	return &ReceiptBatcher{
		pending:  make(map[string]struct{}),
		debounce: debounce,
		flush:    flush,
	}
}

// MarkVisible records that a message became visible. The flush timer is
// armed on the first pending id and not re-armed by subsequent marks, so a
// steady scroll still flushes every debounce window.
func (b *ReceiptBatcher) MarkVisible(messageID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped || messageID == "" {
		return
	}
	b.pending[messageID] = struct{}{}
	if b.timer == nil {
		b.timer = time.AfterFunc(b.debounce, b.fire)
	}
}

// Flush forces an immediate flush of any pending receipts.
func (b *ReceiptBatcher) Flush() {
	b.fire()
}

// Stop drops pending receipts and disarms the timer. Receipts stop
// flushing while the thread is offline; the caller constructs a fresh
// batcher (or calls MarkVisible again after restart) on reconnect.
func (b *ReceiptBatcher) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.pending = make(map[string]struct{})
}

// Restart re-enables a stopped batcher.
func (b *ReceiptBatcher) Restart() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = false
}

func (b *ReceiptBatcher) fire() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.pending) == 0 || b.stopped {
		b.mu.Unlock()
		return
	}
	ids := make([]string, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, id)
	}
	b.pending = make(map[string]struct{})
	flush := b.flush
	b.mu.Unlock()

	if flush != nil {
		flush(ids)
	}
}

// FullySeen reports whether a message counts as seen by everyone under the
// thread's seen rule. A private thread needs at least one other
// participant's receipt; a community thread needs receipts from all other
// current members. If membership is unknown or has no other members the
// message is never fully seen.
func FullySeen(thread *message.Thread, selfID string, seenBy []string) bool {
	others := thread.Others(selfID)
	if len(others) == 0 {
		return false
	}

	seen := make(map[string]struct{}, len(seenBy))
	for _, u := range seenBy {
		seen[u] = struct{}{}
	}

	if thread.Kind == message.KindPrivate {
		for _, o := range others {
			if _, ok := seen[o]; ok {
				return true
			}
		}
		return false
	}

	for _, o := range others {
		if _, ok := seen[o]; !ok {
			return false
		}
	}
	return true
}
