// Package api wraps the request/response collaborators of an open
// thread: history pages, attachment upload, reactions, edits, deletes,
// delivery detail, and forwarding. The event channel is separate; see
// the transport package.
package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/civicmesh/chatsync/message"
)

var (
	// ErrNotFound indicates the referenced message or thread is gone.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the server refused the operation.
	ErrForbidden = errors.New("forbidden")
)

// StatusError carries a non-2xx HTTP response. Is matches ErrNotFound
// and ErrForbidden for the corresponding status codes.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.Status)
	}
	return fmt.Sprintf("server returned status %d: %s", e.Status, e.Message)
}

// Is maps well-known statuses onto the package sentinels.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == 404
	case ErrForbidden:
		return e.Status == 403
	}
	return false
}

// Page is one slice of thread history, newest page first. An empty
// NextCursor means the beginning of the thread has been reached.
type Page struct {
	Messages   []*message.Message `json:"messages"`
	NextCursor string             `json:"nextCursor,omitempty"`
}

// ReceiptInfo is one participant's delivery state for a message.
type ReceiptInfo struct {
	UserID      string     `json:"userId"`
	Name        string     `json:"name,omitempty"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	SeenAt      *time.Time `json:"seenAt,omitempty"`
}

// MessageDetail is the per-message read/delivery/reaction breakdown.
type MessageDetail struct {
	MessageID string              `json:"messageId"`
	Receipts  []ReceiptInfo       `json:"receipts"`
	Reactions map[string][]string `json:"reactions,omitempty"`
}

// ForwardTarget is a thread the user may forward messages into.
type ForwardTarget struct {
	ThreadID string             `json:"threadId"`
	Name     string             `json:"name"`
	Kind     message.ThreadKind `json:"kind"`
}

// ThreadAPI is the request/response surface of one open thread. Private
// and community threads expose the same shape behind different routes.
type ThreadAPI interface {
	// ListMessages fetches the newest page of history.
	ListMessages(ctx context.Context) (Page, error)
	// ListMessagesOlder fetches the page before the given cursor.
	ListMessagesOlder(ctx context.Context, cursor string) (Page, error)
	// Upload pushes one local attachment and returns its hosted
	// descriptor.
	Upload(ctx context.Context, att message.Attachment) (message.Attachment, error)
	// React toggles the caller's reaction on the message.
	React(ctx context.Context, messageID, emoji string) error
	// Edit replaces the message text.
	Edit(ctx context.Context, messageID, text string) error
	// DeleteForMe hides the message for the caller only.
	DeleteForMe(ctx context.Context, messageID string) error
	// DeleteForEveryone tombstones the message for all participants.
	DeleteForEveryone(ctx context.Context, messageID string) error
	// MessageInfo fetches the delivery and reaction breakdown.
	MessageInfo(ctx context.Context, messageID string) (*MessageDetail, error)
	// ForwardTargets lists threads the caller may forward into.
	ForwardTargets(ctx context.Context) ([]ForwardTarget, error)
	// ForwardMessages copies the messages into the target thread.
	ForwardMessages(ctx context.Context, targetThreadID string, messageIDs []string) error
}
