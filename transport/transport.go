package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/civicmesh/chatsync/limits"
	"github.com/civicmesh/chatsync/message"
	"github.com/civicmesh/chatsync/react"
	"github.com/sirupsen/logrus"
)

// Transport is the bidirectional event channel for one open thread.
// Implementations must be safe for concurrent use.
type Transport interface {
	// Connect establishes the channel.
	Connect(ctx context.Context) error

	// Close tears the channel down. Further sends fail.
	Close() error

	// Connected reports whether the channel is currently up.
	Connected() bool

	// SendMessage transmits an outgoing message payload.
	SendMessage(ctx context.Context, payload SendPayload) error

	// SendTyping transmits a typing start or stop signal.
	SendTyping(ctx context.Context, typing bool) error

	// SendReceipts transmits one bulk receipt call.
	SendReceipts(ctx context.Context, messageIDs []string, status string) error

	// Events returns the dispatcher inbound events are delivered through.
	Events() *Dispatcher
}

// Dispatcher routes decoded inbound events to registered handlers. All
// handlers for an event run synchronously in registration order on the
// transport's read goroutine, preserving per-connection FIFO ordering.
type Dispatcher struct {
	mu             sync.RWMutex
	onMessageNew   []func(*message.Message)
	onMessageEdit  []func(*message.Message)
	onMessageDel   []func(messageID string, deletedAt time.Time)
	onReaction     []func(messageID, emoji, userID string, action react.Action)
	onReceipt      []func(messageIDs []string, userID string, status string)
	onTyping       []func(userID, name string, isTyping bool)
	onError        []func(msg string)
	onConnected    []func()
	onDisconnected []func(reason string)
	onReconnecting []func(attempt int, delay time.Duration)
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// OnMessageNew registers a handler for message:new events.
func (d *Dispatcher) OnMessageNew(h func(*message.Message)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onMessageNew = append(d.onMessageNew, h)
}

// OnMessageEdit registers a handler for message:edit events.
func (d *Dispatcher) OnMessageEdit(h func(*message.Message)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onMessageEdit = append(d.onMessageEdit, h)
}

// OnMessageDelete registers a handler for message:delete events.
func (d *Dispatcher) OnMessageDelete(h func(messageID string, deletedAt time.Time)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onMessageDel = append(d.onMessageDel, h)
}

// OnReaction registers a handler for reaction:update events.
func (d *Dispatcher) OnReaction(h func(messageID, emoji, userID string, action react.Action)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onReaction = append(d.onReaction, h)
}

// OnReceipt registers a handler for receipt:update events.
func (d *Dispatcher) OnReceipt(h func(messageIDs []string, userID string, status string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onReceipt = append(d.onReceipt, h)
}

// OnTyping registers a handler for typing:update events.
func (d *Dispatcher) OnTyping(h func(userID, name string, isTyping bool)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onTyping = append(d.onTyping, h)
}

// OnError registers a handler for server ERROR events.
func (d *Dispatcher) OnError(h func(msg string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onError = append(d.onError, h)
}

// OnConnected registers a handler for the connected meta-event.
func (d *Dispatcher) OnConnected(h func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onConnected = append(d.onConnected, h)
}

// OnDisconnected registers a handler for the disconnected meta-event.
func (d *Dispatcher) OnDisconnected(h func(reason string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onDisconnected = append(d.onDisconnected, h)
}

// OnReconnecting registers a handler for the reconnecting meta-event.
func (d *Dispatcher) OnReconnecting(h func(attempt int, delay time.Duration)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onReconnecting = append(d.onReconnecting, h)
}

// Dispatch decodes and routes one inbound frame. Malformed frames and
// unknown event types are dropped; an event channel peer cannot crash
// the client by sending garbage.
func (d *Dispatcher) Dispatch(frame []byte) {
	if err := limits.ValidatePayloadBuffer(frame); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Dispatch",
			"error":    err.Error(),
		}).Warn("Dropping oversized inbound frame")
		return
	}

	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Dispatch",
			"error":    err.Error(),
		}).Warn("Dropping malformed inbound frame")
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	switch env.Type {
	case EventMessageNew:
		var w WireMessage
		if json.Unmarshal(env.Payload, &w) == nil {
			for _, h := range d.onMessageNew {
				h(w.Model())
			}
		}
	case EventMessageEdit:
		var w WireMessage
		if json.Unmarshal(env.Payload, &w) == nil {
			for _, h := range d.onMessageEdit {
				h(w.Model())
			}
		}
	case EventMessageDelete:
		var p DeletePayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onMessageDel {
				h(p.MessageID, p.DeletedAt)
			}
		}
	case EventReactionUpdate:
		var p ReactionPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onReaction {
				h(p.MessageID, p.Emoji, p.UserID, react.Action(p.Action))
			}
		}
	case EventReceiptUpdate:
		var p ReceiptPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onReceipt {
				h(p.MessageIDs, p.UserID, p.Status)
			}
		}
	case EventTypingUpdate:
		var p TypingPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onTyping {
				h(p.UserID, p.Name, p.IsTyping)
			}
		}
	case EventError:
		var p ErrorPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onError {
				h(p.Message)
			}
		}
	}
}

// EmitConnected notifies connected handlers.
func (d *Dispatcher) EmitConnected() {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, h := range d.onConnected {
		h()
	}
}

// EmitDisconnected notifies disconnected handlers.
func (d *Dispatcher) EmitDisconnected(reason string) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, h := range d.onDisconnected {
		h(reason)
	}
}

// EmitReconnecting notifies reconnecting handlers.
func (d *Dispatcher) EmitReconnecting(attempt int, delay time.Duration) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, h := range d.onReconnecting {
		h(attempt, delay)
	}
}
