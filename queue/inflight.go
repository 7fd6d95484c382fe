package queue

import "sync"

// InFlight tracks messages with a dispatch currently in progress. It
// guarantees at most one concurrent attempt per message: the manual
// retry button and the scheduled retry can race, and only one of them
// may win.
type InFlight struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewInFlight creates an empty in-flight set.
func NewInFlight() *InFlight {
	return &InFlight{active: make(map[string]struct{})}
}

// TryAcquire marks the message as in flight. It returns false if an
// attempt is already running, in which case the caller must not start
// another.
func (f *InFlight) TryAcquire(tempID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.active[tempID]; ok {
		return false
	}
	f.active[tempID] = struct{}{}
	return true
}

// Release clears the in-flight mark after the attempt resolves.
func (f *InFlight) Release(tempID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, tempID)
}

// Active reports whether the message has a dispatch in progress.
func (f *InFlight) Active(tempID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.active[tempID]
	return ok
}
