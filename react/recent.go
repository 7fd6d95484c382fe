package react

import (
	"encoding/json"
	"sync"

	"github.com/civicmesh/chatsync/storage"
	"github.com/sirupsen/logrus"
)

// RecentEmojiCap is how many recently used reactions are retained.
const RecentEmojiCap = 16

const recentEmojiKey = "emoji:recent"

// RecentEmoji is the persisted list of a user's recently used reactions,
// most recent first. It replaces the ambient global the UI would otherwise
// thread through every picker.
type RecentEmoji struct {
	mu    sync.Mutex
	store storage.Store
	list  []string
}

// NewRecentEmoji loads the persisted list from the store.
func NewRecentEmoji(store storage.Store) *RecentEmoji {
	r := &RecentEmoji{store: store}
	if data, ok, err := store.Get(recentEmojiKey); err == nil && ok {
		if err := json.Unmarshal(data, &r.list); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "NewRecentEmoji",
				"error":    err.Error(),
			}).Warn("Discarding corrupt recent-emoji list")
			r.list = nil
		}
	}
	return r
}

// Get returns the list, most recent first.
func (r *RecentEmoji) Get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.list...)
}

// Record moves emoji to the front of the list, capping its length at
// RecentEmojiCap, and persists the result.
func (r *RecentEmoji) Record(emoji string) {
	if emoji == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make([]string, 0, len(r.list)+1)
	next = append(next, emoji)
	for _, e := range r.list {
		if e != emoji {
			next = append(next, e)
		}
	}
	if len(next) > RecentEmojiCap {
		next = next[:RecentEmojiCap]
	}
	r.list = next

	data, err := json.Marshal(r.list)
	if err != nil {
		return
	}
	if err := r.store.Set(recentEmojiKey, data); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Record",
			"error":    err.Error(),
		}).Warn("Failed to persist recent-emoji list")
	}
}
