// Package transport provides the bidirectional event channel for one open
// thread. It delivers inbound events (new message, edit, delete, reaction
// change, typing change) and accepts outbound send, typing, and receipt
// events.
//
// The wire format is a JSON envelope tagged by type. An injectable cipher
// transforms whole frames at the boundary; the core never sees key
// material.
package transport

import (
	"encoding/json"
	"time"

	"github.com/civicmesh/chatsync/message"
)

// Inbound event types.
const (
	EventMessageNew     = "message:new"
	EventMessageEdit    = "message:edit"
	EventMessageDelete  = "message:delete"
	EventReactionUpdate = "reaction:update"
	EventReceiptUpdate  = "receipt:update"
	EventTypingUpdate   = "typing:update"
	EventError          = "ERROR"
)

// Outbound event types.
const (
	EventMessageSend  = "message:send"
	EventTypingStart  = "typing:start"
	EventTypingStop   = "typing:stop"
	EventReceiptBatch = "receipt:batch"
)

// Envelope is the wire format for all events on the channel.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WireMessage is the wire shape of a message inside message:new and
// message:edit events. The content type travels as a string.
type WireMessage struct {
	message.Message
	MessageType string `json:"messageType,omitempty"`
}

// Model converts the wire shape into the domain model.
func (w WireMessage) Model() *message.Message {
	m := w.Message
	m.Type = message.ParseType(w.MessageType)
	return &m
}

// DeletePayload is the body of a message:delete event.
type DeletePayload struct {
	MessageID string    `json:"messageId"`
	DeletedAt time.Time `json:"deletedAt"`
}

// ReactionPayload is the body of a reaction:update event.
type ReactionPayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	UserID    string `json:"userId"`
	Action    string `json:"action"` // "added" or "removed"
}

// ReceiptPayload is the body of receipt:update (inbound) and
// receipt:batch (outbound) events.
type ReceiptPayload struct {
	MessageIDs []string `json:"messageIds"`
	UserID     string   `json:"userId,omitempty"`
	Status     string   `json:"status"` // "delivered" or "seen"
}

// TypingPayload is the body of a typing:update event.
type TypingPayload struct {
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	IsTyping bool   `json:"isTyping"`
}

// ErrorPayload is the body of a server ERROR event.
type ErrorPayload struct {
	Message string `json:"message"`
}

// SendPayload is the outbound body of a message:send event.
type SendPayload struct {
	ClientTempID string               `json:"clientTempId"`
	Text         *string              `json:"text,omitempty"`
	MessageType  string               `json:"messageType"`
	ReplyToID    string               `json:"replyToId,omitempty"`
	Attachments  []message.Attachment `json:"attachments,omitempty"`
}

// NewSendPayload builds the send payload for an outgoing message.
func NewSendPayload(m *message.Message) SendPayload {
	p := SendPayload{
		ClientTempID: m.ClientTempID,
		MessageType:  m.Type.String(),
		Attachments:  m.Attachments,
	}
	if m.Text != "" {
		text := m.Text
		p.Text = &text
	}
	if m.ReplyTo != nil {
		p.ReplyToID = m.ReplyTo.MessageID
	}
	return p
}

// IsMedia reports whether the payload carries attachments. Media payloads
// are excluded from the automatic retry path.
func (p SendPayload) IsMedia() bool {
	return len(p.Attachments) > 0
}

func marshalEnvelope(eventType string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: eventType, Payload: body})
}
