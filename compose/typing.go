package compose

import (
	"sync"
	"time"
)

// DefaultTypingIdle is how long after the last keystroke the typing
// indicator is withdrawn.
const DefaultTypingIdle = 3 * time.Second

// TypingNotifier collapses a stream of keystrokes into start and stop
// signals: one start when typing begins after idle, one stop when the
// author goes idle or the message is sent. Signal delivery failures are
// ignored; typing state is cosmetic.
type TypingNotifier struct {
	mu     sync.Mutex
	idle   time.Duration
	typing bool
	timer  *time.Timer
	signal func(typing bool)
}

// NewTypingNotifier creates a notifier that reports through signal.
func NewTypingNotifier(signal func(typing bool)) *TypingNotifier {
	return &TypingNotifier{idle: DefaultTypingIdle, signal: signal}
}

// SetIdle overrides the idle window. Intended for tests.
func (n *TypingNotifier) SetIdle(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.idle = d
}

// Keystroke records input activity. The first keystroke after idle
// emits a start signal; subsequent ones only push the idle deadline.
func (n *TypingNotifier) Keystroke() {
	n.mu.Lock()
	wasTyping := n.typing
	n.typing = true
	if n.timer != nil {
		n.timer.Stop()
	}
	n.timer = time.AfterFunc(n.idle, n.goIdle)
	signal := n.signal
	n.mu.Unlock()

	if !wasTyping && signal != nil {
		signal(true)
	}
}

// Stop withdraws the indicator immediately, e.g. on send or when the
// thread closes. A stop while idle emits nothing.
func (n *TypingNotifier) Stop() {
	n.mu.Lock()
	wasTyping := n.typing
	n.typing = false
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	signal := n.signal
	n.mu.Unlock()

	if wasTyping && signal != nil {
		signal(false)
	}
}

func (n *TypingNotifier) goIdle() {
	n.mu.Lock()
	wasTyping := n.typing
	n.typing = false
	n.timer = nil
	signal := n.signal
	n.mu.Unlock()

	if wasTyping && signal != nil {
		signal(false)
	}
}

// Typing reports whether the author is currently considered typing.
func (n *TypingNotifier) Typing() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.typing
}
