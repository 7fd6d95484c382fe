package reconcile

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/civicmesh/chatsync/message"
	"github.com/civicmesh/chatsync/storage"
)

const hiddenPrefix = "hidden:"

// HiddenSet is the per-thread set of message ids the user deleted for
// themselves. The server keeps sending these messages in history pages;
// the set filters them out before pages reach the log. Persisted so the
// filter survives restarts.
type HiddenSet struct {
	mu       sync.Mutex
	store    storage.Store
	threadID string
	ids      map[string]struct{}
}

// LoadHiddenSet reads the thread's hidden ids from the store.
func LoadHiddenSet(store storage.Store, threadID string) (*HiddenSet, error) {
	h := &HiddenSet{
		store:    store,
		threadID: threadID,
		ids:      make(map[string]struct{}),
	}
	value, ok, err := store.Get(h.key())
	if err != nil {
		return nil, fmt.Errorf("loading hidden set: %w", err)
	}
	if ok {
		var ids []string
		if err := json.Unmarshal(value, &ids); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "LoadHiddenSet",
				"thread_id": threadID,
				"error":     err.Error(),
			}).Warn("Discarding corrupt hidden set")
		} else {
			for _, id := range ids {
				h.ids[id] = struct{}{}
			}
		}
	}
	return h, nil
}

func (h *HiddenSet) key() string {
	return hiddenPrefix + h.threadID
}

// Hide adds a message id and persists the set.
func (h *HiddenSet) Hide(messageID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ids[messageID] = struct{}{}
	return h.persist()
}

// Hidden reports whether the id is filtered.
func (h *HiddenSet) Hidden(messageID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.ids[messageID]
	return ok
}

// Filter returns the page without hidden messages.
func (h *HiddenSet) Filter(page []*message.Message) []*message.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*message.Message, 0, len(page))
	for _, m := range page {
		if _, hidden := h.ids[m.AuthoritativeKey()]; hidden {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (h *HiddenSet) persist() error {
	ids := make([]string, 0, len(h.ids))
	for id := range h.ids {
		ids = append(ids, id)
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encoding hidden set: %w", err)
	}
	if err := h.store.Set(h.key(), data); err != nil {
		return fmt.Errorf("persisting hidden set: %w", err)
	}
	return nil
}
