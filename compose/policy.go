package compose

import (
	"errors"
	"time"

	"github.com/civicmesh/chatsync/message"
)

const (
	// EditWindow bounds how long after sending a text message its
	// author may edit it.
	EditWindow = 20 * time.Minute
	// DeleteForEveryoneWindow bounds how long after sending a message
	// its author may retract it for all participants.
	DeleteForEveryoneWindow = 60 * time.Minute
)

var (
	// ErrNotAuthor indicates the caller did not send the message.
	ErrNotAuthor = errors.New("not the message author")
	// ErrNotEditable indicates the message kind cannot be edited.
	ErrNotEditable = errors.New("message is not editable")
	// ErrMessageDeleted indicates the message is tombstoned.
	ErrMessageDeleted = errors.New("message is deleted")
	// ErrEditWindowClosed indicates the edit window has passed.
	ErrEditWindowClosed = errors.New("edit window closed")
	// ErrDeleteWindowClosed indicates the retract window has passed.
	ErrDeleteWindowClosed = errors.New("delete for everyone window closed")
	// ErrNotDelivered indicates the message was never acknowledged by
	// the server, so other participants have nothing to retract.
	ErrNotDelivered = errors.New("message was never delivered")
)

// CanEdit reports whether selfID may edit the message at the given
// moment. Only the author's own text messages are editable, and only
// inside the window. The server enforces the same rule; this check
// avoids a doomed round trip.
func CanEdit(msg *message.Message, selfID string, now time.Time) error {
	if msg.Sender != selfID {
		return ErrNotAuthor
	}
	if msg.Tombstoned() {
		return ErrMessageDeleted
	}
	if msg.Type != message.TypeText {
		return ErrNotEditable
	}
	if now.Sub(msg.CreatedAt) > EditWindow {
		return ErrEditWindowClosed
	}
	return nil
}

// CanDeleteForEveryone reports whether selfID may retract the message
// for all participants at the given moment.
func CanDeleteForEveryone(msg *message.Message, selfID string, now time.Time) error {
	if msg.Sender != selfID {
		return ErrNotAuthor
	}
	if !msg.Acknowledged() {
		return ErrNotDelivered
	}
	if msg.Tombstoned() {
		return ErrMessageDeleted
	}
	if now.Sub(msg.CreatedAt) > DeleteForEveryoneWindow {
		return ErrDeleteWindowClosed
	}
	return nil
}
