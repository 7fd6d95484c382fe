package compose

import (
	"fmt"

	"github.com/civicmesh/chatsync/storage"
)

const draftPrefix = "draft:"

// DraftStore persists unsent input per thread so switching threads or
// restarting does not lose a half-written message.
type DraftStore struct {
	store storage.Store
}

// NewDraftStore creates a draft store over the given backing store.
func NewDraftStore(store storage.Store) *DraftStore {
	return &DraftStore{store: store}
}

func draftKey(threadID string) string {
	return draftPrefix + threadID
}

// Save records the thread's draft text. Empty text clears the draft.
func (d *DraftStore) Save(threadID, text string) error {
	if text == "" {
		return d.Clear(threadID)
	}
	if err := d.store.Set(draftKey(threadID), []byte(text)); err != nil {
		return fmt.Errorf("persisting draft: %w", err)
	}
	return nil
}

// Load returns the thread's draft text, empty if none.
func (d *DraftStore) Load(threadID string) (string, error) {
	value, ok, err := d.store.Get(draftKey(threadID))
	if err != nil {
		return "", fmt.Errorf("loading draft: %w", err)
	}
	if !ok {
		return "", nil
	}
	return string(value), nil
}

// Clear removes the thread's draft.
func (d *DraftStore) Clear(threadID string) error {
	if err := d.store.Delete(draftKey(threadID)); err != nil {
		return fmt.Errorf("clearing draft: %w", err)
	}
	return nil
}
