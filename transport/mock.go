package transport

import (
	"context"
	"sync"
	"time"

	"github.com/civicmesh/chatsync/message"
)

// MockTransport implements Transport for testing. It records outbound
// traffic, lets tests inject inbound events, and can simulate connection
// drops and recoveries.
type MockTransport struct {
	mu         sync.Mutex
	connected  bool
	sent       []SendPayload
	typing     []bool
	receipts   []ReceiptPayload
	sendFunc   func(payload SendPayload) error
	dispatcher *Dispatcher
}

// NewMockTransport creates a disconnected mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		dispatcher: NewDispatcher(),
		sendFunc:   func(SendPayload) error { return nil },
	}
}

// Events implements Transport.Events.
func (m *MockTransport) Events() *Dispatcher { return m.dispatcher }

// Connect implements Transport.Connect.
func (m *MockTransport) Connect(ctx context.Context) error {
	m.mu.Lock()
	already := m.connected
	m.connected = true
	m.mu.Unlock()
	if !already {
		m.dispatcher.EmitConnected()
	}
	return nil
}

// Close implements Transport.Close.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	was := m.connected
	m.connected = false
	m.mu.Unlock()
	if was {
		m.dispatcher.EmitDisconnected("client close")
	}
	return nil
}

// Connected implements Transport.Connected.
func (m *MockTransport) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// SendMessage implements Transport.SendMessage.
func (m *MockTransport) SendMessage(ctx context.Context, payload SendPayload) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	sendFunc := m.sendFunc
	m.mu.Unlock()

	if err := sendFunc(payload); err != nil {
		return err
	}
	m.mu.Lock()
	m.sent = append(m.sent, payload)
	m.mu.Unlock()
	return nil
}

// SendTyping implements Transport.SendTyping.
func (m *MockTransport) SendTyping(ctx context.Context, typing bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.typing = append(m.typing, typing)
	return nil
}

// SendReceipts implements Transport.SendReceipts.
func (m *MockTransport) SendReceipts(ctx context.Context, messageIDs []string, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.receipts = append(m.receipts, ReceiptPayload{MessageIDs: messageIDs, Status: status})
	return nil
}

// SetSendFunc customizes send behavior, e.g. to simulate failures.
func (m *MockTransport) SetSendFunc(f func(payload SendPayload) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendFunc = f
}

// SentPayloads returns all recorded message sends.
func (m *MockTransport) SentPayloads() []SendPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SendPayload(nil), m.sent...)
}

// TypingSignals returns all recorded typing signals in order.
func (m *MockTransport) TypingSignals() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.typing...)
}

// ReceiptBatches returns all recorded receipt batches.
func (m *MockTransport) ReceiptBatches() []ReceiptPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ReceiptPayload(nil), m.receipts...)
}

// Drop simulates a connection failure.
func (m *MockTransport) Drop(reason string) {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	m.dispatcher.EmitDisconnected(reason)
}

// InjectNew delivers a message:new event as if received from the server.
func (m *MockTransport) InjectNew(msg *message.Message) {
	m.dispatch(EventMessageNew, WireMessage{Message: *msg, MessageType: msg.Type.String()})
}

// InjectEdit delivers a message:edit event.
func (m *MockTransport) InjectEdit(msg *message.Message) {
	m.dispatch(EventMessageEdit, WireMessage{Message: *msg, MessageType: msg.Type.String()})
}

// InjectDelete delivers a message:delete event.
func (m *MockTransport) InjectDelete(messageID string, deletedAt time.Time) {
	m.dispatch(EventMessageDelete, DeletePayload{MessageID: messageID, DeletedAt: deletedAt})
}

// InjectReaction delivers a reaction:update event.
func (m *MockTransport) InjectReaction(messageID, emoji, userID, action string) {
	m.dispatch(EventReactionUpdate, ReactionPayload{
		MessageID: messageID, Emoji: emoji, UserID: userID, Action: action,
	})
}

// InjectReceipt delivers a receipt:update event.
func (m *MockTransport) InjectReceipt(messageIDs []string, userID, status string) {
	m.dispatch(EventReceiptUpdate, ReceiptPayload{MessageIDs: messageIDs, UserID: userID, Status: status})
}

// InjectTyping delivers a typing:update event.
func (m *MockTransport) InjectTyping(userID, name string, isTyping bool) {
	m.dispatch(EventTypingUpdate, TypingPayload{UserID: userID, Name: name, IsTyping: isTyping})
}

func (m *MockTransport) dispatch(eventType string, payload any) {
	frame, err := marshalEnvelope(eventType, payload)
	if err != nil {
		panic("mock transport: " + err.Error())
	}
	m.dispatcher.Dispatch(frame)
}
