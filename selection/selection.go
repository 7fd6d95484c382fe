// Package selection tracks the multi-select working set over a thread
// and runs bulk actions against it. Selection holds message ids only;
// the messages themselves are resolved through the log at the moment an
// action runs, so edits and deletes that land while the set is open are
// always honored.
package selection

import (
	"sort"
	"sync"
)

// Coordinator is the per-thread multi-select state machine. Selecting
// the first message enters selection mode; deselecting the last one
// exits it.
type Coordinator struct {
	mu     sync.Mutex
	active bool
	ids    map[string]struct{}
}

// NewCoordinator creates an inactive coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{ids: make(map[string]struct{})}
}

// Enter starts selection mode with the given message, typically from a
// long-press. Entering while already active just adds the message.
func (c *Coordinator) Enter(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = true
	c.ids[key] = struct{}{}
}

// Toggle flips one message in or out of the set. Removing the last
// message exits selection mode.
func (c *Coordinator) Toggle(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return
	}
	if _, ok := c.ids[key]; ok {
		delete(c.ids, key)
		if len(c.ids) == 0 {
			c.active = false
		}
		return
	}
	c.ids[key] = struct{}{}
}

// SelectAll replaces the set with the given keys and activates if the
// set is non-empty.
func (c *Coordinator) SelectAll(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = make(map[string]struct{}, len(keys))
	for _, k := range keys {
		c.ids[k] = struct{}{}
	}
	c.active = len(c.ids) > 0
}

// Clear empties the set and exits selection mode.
func (c *Coordinator) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = make(map[string]struct{})
	c.active = false
}

// Active reports whether selection mode is on.
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Selected reports whether the message is in the set.
func (c *Coordinator) Selected(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.ids[key]
	return ok
}

// Count returns the set size.
func (c *Coordinator) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}

// Keys returns the selected keys in stable order.
func (c *Coordinator) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.ids))
	for k := range c.ids {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
