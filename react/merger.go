// Package react merges reaction and receipt events.
//
// Reaction merging is a pure reduction over a message's reaction map:
// each user holds at most one reaction per message, re-applying the same
// emoji removes it, and a different emoji atomically replaces the old one.
// The same merge is applied whether the change originated locally
// (optimistic) or arrived on the wire (authoritative).
package react

import (
	"github.com/civicmesh/chatsync/message"
)

// Action is the direction of a reaction update on the wire.
type Action string

const (
	// ActionAdded sets the user's reaction to the given emoji.
	ActionAdded Action = "added"
	// ActionRemoved clears the given emoji for the user if present.
	ActionRemoved Action = "removed"
)

// Apply merges one reaction update into the message. It is idempotent:
// applying the same (emoji, userID, action) tuple twice leaves the map in
// the same state as applying it once. Emoji keys never retain empty user
// sets.
func Apply(msg *message.Message, emoji, userID string, action Action) {
	if msg == nil || msg.Tombstoned() {
		return
	}

	switch action {
	case ActionAdded:
		// One reaction per user: drop any previous emoji first.
		removeUser(msg, userID)
		if msg.Reactions == nil {
			msg.Reactions = make(map[string][]string)
		}
		msg.Reactions[emoji] = append(msg.Reactions[emoji], userID)
	case ActionRemoved:
		removeUserFromEmoji(msg, emoji, userID)
	}
	prune(msg)
}

// Toggle applies local toggle semantics and returns the resulting action,
// which the caller transmits so remote peers converge on the same state.
// If the user's current reaction equals emoji it is removed; otherwise any
// existing reaction is replaced by emoji.
func Toggle(msg *message.Message, emoji, userID string) Action {
	if current, ok := CurrentReaction(msg, userID); ok && current == emoji {
		Apply(msg, emoji, userID, ActionRemoved)
		return ActionRemoved
	}
	Apply(msg, emoji, userID, ActionAdded)
	return ActionAdded
}

// CurrentReaction returns the user's reaction on the message, if any.
func CurrentReaction(msg *message.Message, userID string) (string, bool) {
	for emoji, users := range msg.Reactions {
		for _, u := range users {
			if u == userID {
				return emoji, true
			}
		}
	}
	return "", false
}

func removeUser(msg *message.Message, userID string) {
	for emoji := range msg.Reactions {
		removeUserFromEmoji(msg, emoji, userID)
	}
}

func removeUserFromEmoji(msg *message.Message, emoji, userID string) {
	users := msg.Reactions[emoji]
	for i, u := range users {
		if u == userID {
			msg.Reactions[emoji] = append(users[:i], users[i+1:]...)
			return
		}
	}
}

// prune removes emoji keys with empty user sets and nils out an empty map.
func prune(msg *message.Message) {
	for emoji, users := range msg.Reactions {
		if len(users) == 0 {
			delete(msg.Reactions, emoji)
		}
	}
	if len(msg.Reactions) == 0 {
		msg.Reactions = nil
	}
}
