// Package reconcile owns the single source of truth for a thread's message
// log. It merges optimistic entries, server acknowledgements, and inbound
// events into one deduplicated, ordered sequence.
//
// All mutation entry points are safe to call in any interleaving order:
// user-initiated sends, inbound transport events, retry timers, and receipt
// flush timers all funnel through here. The log never returns an error for
// unknown or ignorable events; an edit targeting a message that is not yet
// loaded is a silent no-op, not a failure.
package reconcile

import (
	"sort"
	"sync"
	"time"

	"github.com/civicmesh/chatsync/message"
	"github.com/civicmesh/chatsync/react"
	"github.com/sirupsen/logrus"
)

// entry wraps a log message with bookkeeping the ordering and dedup passes
// rely on: arrival breaks CreatedAt ties, updated picks the survivor when
// duplicate server ids collapse.
type entry struct {
	msg     *message.Message
	arrival uint64
	updated uint64
}

// Log is the reconciled, ordered message log for one thread.
type Log struct {
	mu       sync.Mutex
	threadID string
	entries  []entry
	seq      uint64
	cursor   string
	typing   map[string]string // userID -> display name
}

// NewLog creates an empty log for a thread.
func NewLog(threadID string) *Log {
	return &Log{
		threadID: threadID,
		typing:   make(map[string]string),
	}
}

// ThreadID returns the owning thread's id.
func (l *Log) ThreadID() string { return l.threadID }

// Len returns the number of entries currently in the log.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Cursor returns the pagination cursor from the most recent MergeOlder.
func (l *Log) Cursor() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursor
}

// ApplyOptimistic inserts a locally composed entry at the log's tail,
// keyed by its client temp id. At most one optimistic entry exists per
// temp id; re-applying replaces the previous one in place.
func (l *Log) ApplyOptimistic(msg *message.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.entries {
		e := &l.entries[i]
		if !e.msg.Acknowledged() && e.msg.ClientTempID == msg.ClientTempID {
			e.msg = msg
			e.updated = l.nextSeq()
			return
		}
	}
	l.entries = append(l.entries, entry{msg: msg, arrival: l.nextSeq(), updated: l.seq})
}

// ApplyNew merges a message:new server event. If an entry with a matching
// client temp id exists it is replaced in place, preserving its log
// position, and its status becomes sent. Otherwise the message is inserted
// in timestamp order. A dedup pass follows either branch.
func (l *Log) ApplyNew(msg *message.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if msg.ClientTempID != "" {
		for i := range l.entries {
			e := &l.entries[i]
			if e.msg.ClientTempID == msg.ClientTempID {
				msg.Status = message.StatusSent
				e.msg = msg
				e.updated = l.nextSeq()
				l.dedup()
				return
			}
		}
	}

	msg.Status = message.StatusSent
	l.insertOrdered(msg)
	l.dedup()
}

// ApplyEdit merges a message:edit server event, matched by server id.
// Unknown targets are ignored: the message may simply not be loaded yet.
// Tombstoned targets are also ignored.
func (l *Log) ApplyEdit(edited *message.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.findByID(edited.ID)
	if e == nil || e.msg.Tombstoned() {
		return
	}
	e.msg.Text = edited.Text
	if edited.EditedAt != nil {
		t := *edited.EditedAt
		e.msg.EditedAt = &t
	} else {
		now := time.Now()
		e.msg.EditedAt = &now
	}
	e.updated = l.nextSeq()
	l.dedup()
}

// ApplyDelete merges a message:delete server event: the target is
// tombstoned in place, never physically removed. Unknown ids are ignored.
func (l *Log) ApplyDelete(messageID string, deletedAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.findByID(messageID)
	if e == nil {
		return
	}
	e.msg.Tombstone(deletedAt)
	e.updated = l.nextSeq()
	l.dedup()
}

// ApplyReaction merges a reaction:update event through the reaction
// merger. Unknown targets are ignored.
func (l *Log) ApplyReaction(messageID, emoji, userID string, action react.Action) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.findByID(messageID)
	if e == nil {
		return
	}
	react.Apply(e.msg, emoji, userID, action)
	e.updated = l.nextSeq()
}

// MarkStatus advances delivery state on the identified messages. Illegal
// transitions (a seen message cannot regress) are ignored per message.
func (l *Log) MarkStatus(messageIDs []string, status message.Status) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, id := range messageIDs {
		if e := l.findByKey(id); e != nil {
			if e.msg.SetStatus(status) {
				e.updated = l.nextSeq()
			}
		}
	}
}

// MergeOlder prepends a page of history fetched from the server, merging
// it through the same ordering and dedup passes, and records the cursor
// for the next page.
func (l *Log) MergeOlder(page []*message.Message, nextCursor string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, msg := range page {
		if msg.Status < message.StatusSent {
			msg.Status = message.StatusSent
		}
		l.insertOrdered(msg)
	}
	l.dedup()
	l.cursor = nextCursor

	logrus.WithFields(logrus.Fields{
		"function":  "MergeOlder",
		"thread_id": l.threadID,
		"page_size": len(page),
		"log_size":  len(l.entries),
	}).Debug("Merged history page")
}

// Get returns a copy of the message identified by server id or client temp
// id, and whether it was found. Callers snapshot a message through Get
// before an optimistic mutation so a server rejection can roll it back.
func (l *Log) Get(key string) (*message.Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e := l.findByKey(key); e != nil {
		return e.msg.Clone(), true
	}
	return nil, false
}

// Restore replaces the entry matching the snapshot's authoritative key
// with the snapshot, rolling back a rejected optimistic mutation.
func (l *Log) Restore(snapshot *message.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e := l.findByKey(snapshot.AuthoritativeKey()); e != nil {
		e.msg = snapshot.Clone()
		e.updated = l.nextSeq()
	}
}

// Remove physically drops an entry by key. This is reserved for pending
// messages the user deletes before acknowledgement; acknowledged deletes
// go through ApplyDelete and tombstone instead.
func (l *Log) Remove(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.entries {
		if l.entries[i].msg.AuthoritativeKey() == key {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Snapshot returns sanitized copies of the log in order. The integrity
// filter runs here: a tombstoned entry that still carries content is a
// bug upstream and is sanitized rather than crashing the reader.
func (l *Log) Snapshot() []*message.Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*message.Message, 0, len(l.entries))
	for i := range l.entries {
		msg := l.entries[i].msg.Clone()
		if msg.Tombstoned() && (msg.Text != "" || len(msg.Attachments) > 0 || len(msg.Reactions) > 0) {
			logrus.WithFields(logrus.Fields{
				"function":   "Snapshot",
				"thread_id":  l.threadID,
				"message_id": msg.AuthoritativeKey(),
			}).Warn("Sanitizing tombstoned message that still carried content")
			msg.Tombstone(*msg.DeletedAt)
		}
		out = append(out, msg)
	}
	return out
}

// SetTyping updates the typing view from a typing:update event.
func (l *Log) SetTyping(userID, name string, isTyping bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if isTyping {
		l.typing[userID] = name
	} else {
		delete(l.typing, userID)
	}
}

// TypingUsers returns the display names of users currently typing.
func (l *Log) TypingUsers() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.typing))
	for _, name := range l.typing {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ClearTyping drops all typing state, e.g. on disconnect.
func (l *Log) ClearTyping() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.typing = make(map[string]string)
}

// insertOrdered places msg at the position keeping the log monotonic by
// CreatedAt, with ties broken by arrival order. Callers hold l.mu.
func (l *Log) insertOrdered(msg *message.Message) {
	e := entry{msg: msg, arrival: l.nextSeq(), updated: l.seq}
	idx := sort.Search(len(l.entries), func(i int) bool {
		return l.entries[i].msg.CreatedAt.After(msg.CreatedAt)
	})
	l.entries = append(l.entries, entry{})
	copy(l.entries[idx+1:], l.entries[idx:])
	l.entries[idx] = e
}

// dedup collapses accidental duplicate server ids, keeping the most
// recently updated entry at the earliest position. Callers hold l.mu.
func (l *Log) dedup() {
	best := make(map[string]int, len(l.entries))
	for i := range l.entries {
		id := l.entries[i].msg.ID
		if id == "" {
			continue
		}
		if j, ok := best[id]; ok {
			if l.entries[i].updated > l.entries[j].updated {
				// Later entry wins the content, earlier keeps the slot.
				l.entries[j].msg = l.entries[i].msg
				l.entries[j].updated = l.entries[i].updated
			}
		} else {
			best[id] = i
		}
	}

	kept := l.entries[:0]
	seen := make(map[string]bool, len(best))
	for i := range l.entries {
		id := l.entries[i].msg.ID
		if id != "" {
			if seen[id] {
				continue
			}
			seen[id] = true
		}
		kept = append(kept, l.entries[i])
	}
	l.entries = kept
}

func (l *Log) findByID(id string) *entry {
	if id == "" {
		return nil
	}
	for i := range l.entries {
		if l.entries[i].msg.ID == id {
			return &l.entries[i]
		}
	}
	return nil
}

func (l *Log) findByKey(key string) *entry {
	for i := range l.entries {
		if l.entries[i].msg.AuthoritativeKey() == key || l.entries[i].msg.ClientTempID == key {
			return &l.entries[i]
		}
	}
	return nil
}

func (l *Log) nextSeq() uint64 {
	l.seq++
	return l.seq
}
