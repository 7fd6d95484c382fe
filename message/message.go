// Package message defines the core data model for the chat synchronization
// core: messages, attachments, reply previews, and threads.
//
// A message carries two identities. The client-generated ClientTempID is
// assigned at composition time and is the join key until the server
// acknowledges the message; after acknowledgement the server-assigned ID
// becomes authoritative. Exactly one of the two is used for matching at any
// point in a message's lifecycle.
//
// Example:
//
//	msg := message.NewOutgoing("thread-1", "alice", "hello")
//	msg.SetStatus(message.StatusSending)
package message

import (
	"time"
)

// Status represents the delivery state of a message.
type Status uint8

const (
	// StatusPending means the message is waiting to be sent.
	StatusPending Status = iota
	// StatusSending means the message is being sent or is queued offline.
	StatusSending
	// StatusSent means the server has acknowledged the message.
	StatusSent
	// StatusDelivered means at least one recipient has received the message.
	StatusDelivered
	// StatusSeen means the message has been seen per the thread's seen rule.
	StatusSeen
	// StatusFailed means the message failed to send.
	StatusFailed
)

// String returns a human-readable name for the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSending:
		return "sending"
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusSeen:
		return "seen"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Type represents the content type of a message.
type Type uint8

const (
	// TypeText is a plain text message.
	TypeText Type = iota
	// TypeMedia is an image or video message.
	TypeMedia
	// TypeVoice is a recorded voice note.
	TypeVoice
	// TypeFile is a generic file attachment message.
	TypeFile
)

// String returns the wire name for the message type.
func (t Type) String() string {
	switch t {
	case TypeText:
		return "text"
	case TypeMedia:
		return "media"
	case TypeVoice:
		return "voice"
	case TypeFile:
		return "file"
	default:
		return "unknown"
	}
}

// ParseType maps a wire name back to a message type. Unknown names map to
// TypeText so a newer server cannot wedge an older client.
func ParseType(s string) Type {
	switch s {
	case "media":
		return TypeMedia
	case "voice":
		return TypeVoice
	case "file":
		return TypeFile
	default:
		return TypeText
	}
}

// Attachment describes one piece of media attached to a message.
//
// Before upload completes, LocalRef holds a device-local handle (file path
// or blob reference) and URL is empty. After upload, URL points at the
// server copy and LocalRef is retained only for preview rendering.
type Attachment struct {
	Type     string `json:"type"`
	URL      string `json:"url,omitempty"`
	Size     int64  `json:"size"`
	MIME     string `json:"mime"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	LocalRef string `json:"-"`
}

// Uploaded reports whether the attachment has a server-referenceable URL.
func (a Attachment) Uploaded() bool {
	return a.URL != ""
}

// ReplyPreviewExcerptLimit caps the denormalized reply excerpt length in runes.
const ReplyPreviewExcerptLimit = 80

// ReplyPreview is a small denormalized view of a replied-to message.
// Replies reference their target by id only; the preview carries just
// enough to render a quote without loading the target message.
type ReplyPreview struct {
	MessageID string `json:"messageId"`
	Sender    string `json:"sender"`
	Excerpt   string `json:"excerpt"`
}

// NewReplyPreview builds a preview for a reply to target.
func NewReplyPreview(target *Message) ReplyPreview {
	excerpt := target.Text
	if runes := []rune(excerpt); len(runes) > ReplyPreviewExcerptLimit {
		excerpt = string(runes[:ReplyPreviewExcerptLimit])
	}
	return ReplyPreview{
		MessageID: target.ID,
		Sender:    target.Sender,
		Excerpt:   excerpt,
	}
}

// Message is the central entity of the synchronization core.
type Message struct {
	// ID is the server-assigned identifier, empty until acknowledged.
	ID string `json:"id,omitempty"`
	// ClientTempID is the client-assigned identifier, always present and
	// globally unique per device session.
	ClientTempID string `json:"clientTempId"`

	ThreadID    string              `json:"threadId"`
	Sender      string              `json:"sender"`
	Type        Type                `json:"-"`
	Text        string              `json:"text,omitempty"`
	Attachments []Attachment        `json:"attachments,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
	EditedAt    *time.Time          `json:"editedAt,omitempty"`
	DeletedAt   *time.Time          `json:"deletedAt,omitempty"`
	ReplyTo     *ReplyPreview       `json:"replyTo,omitempty"`
	Reactions   map[string][]string `json:"reactions,omitempty"`
	Status      Status              `json:"-"`
}

// NewOutgoing creates a locally composed text message in pending state.
// The caller assigns ClientTempID before handing it to the log.
func NewOutgoing(threadID, sender, text string) *Message {
	return &Message{
		ThreadID:  threadID,
		Sender:    sender,
		Type:      TypeText,
		Text:      text,
		CreatedAt: time.Now(),
		Status:    StatusPending,
	}
}

// Acknowledged reports whether the server has assigned an id.
func (m *Message) Acknowledged() bool {
	return m.ID != ""
}

// AuthoritativeKey returns the identifier used for matching: the server id
// after acknowledgement, the client temp id before.
func (m *Message) AuthoritativeKey() string {
	if m.ID != "" {
		return m.ID
	}
	return m.ClientTempID
}

// Tombstoned reports whether the message has been deleted for everyone.
func (m *Message) Tombstoned() bool {
	return m.DeletedAt != nil
}

// Tombstone clears the message's content and records the deletion time.
// The entry stays in the log; a tombstoned message carries no text,
// attachments, or reactions.
func (m *Message) Tombstone(at time.Time) {
	m.Text = ""
	m.Attachments = nil
	m.Reactions = nil
	m.DeletedAt = &at
}

// HasMedia reports whether the message carries any attachments.
func (m *Message) HasMedia() bool {
	return len(m.Attachments) > 0
}

// SetStatus transitions the message to a new delivery state if the
// transition is legal. Illegal transitions (e.g. seen back to pending)
// are ignored and reported as false.
func (m *Message) SetStatus(s Status) bool {
	if !validTransition(m.Status, s) {
		return false
	}
	m.Status = s
	return true
}

// validTransition encodes the outgoing-message state machine:
// pending -> sending -> {sent | failed}, failed -> sending on retry,
// sent -> delivered -> seen on receipts.
func validTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusPending:
		return to == StatusSending || to == StatusFailed
	case StatusSending:
		return to == StatusSent || to == StatusFailed
	case StatusFailed:
		return to == StatusSending
	case StatusSent:
		return to == StatusDelivered || to == StatusSeen
	case StatusDelivered:
		return to == StatusSeen
	case StatusSeen:
		return false
	}
	return false
}

// Clone returns a deep copy of the message. Snapshots taken before an
// optimistic mutation use this for rollback on server rejection.
func (m *Message) Clone() *Message {
	c := *m
	if m.Attachments != nil {
		c.Attachments = make([]Attachment, len(m.Attachments))
		copy(c.Attachments, m.Attachments)
	}
	if m.Reactions != nil {
		c.Reactions = make(map[string][]string, len(m.Reactions))
		for emoji, users := range m.Reactions {
			c.Reactions[emoji] = append([]string(nil), users...)
		}
	}
	if m.EditedAt != nil {
		t := *m.EditedAt
		c.EditedAt = &t
	}
	if m.DeletedAt != nil {
		t := *m.DeletedAt
		c.DeletedAt = &t
	}
	if m.ReplyTo != nil {
		r := *m.ReplyTo
		c.ReplyTo = &r
	}
	return &c
}
