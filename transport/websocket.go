package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"

	chatcrypto "github.com/civicmesh/chatsync/crypto"
)

// ErrNotConnected indicates a send attempted while the channel is down.
var ErrNotConnected = errors.New("transport not connected")

// Config configures a WebSocket transport.
type Config struct {
	// BaseURL is the server's http(s) base URL.
	BaseURL string
	// ThreadID selects the thread; one connection serves one open thread.
	ThreadID string
	// Token authenticates the connection.
	Token string

	// AutoReconnect re-establishes a dropped connection with backoff.
	AutoReconnect bool
	// MaxReconnectAttempts caps reconnect attempts; 0 means unlimited.
	MaxReconnectAttempts int
	// ReconnectBaseDelay is the first reconnect delay.
	ReconnectBaseDelay time.Duration
	// ReconnectMaxDelay caps the reconnect delay.
	ReconnectMaxDelay time.Duration
	// HeartbeatInterval is the ping cadence; pings detect dead peers.
	HeartbeatInterval time.Duration

	// Cipher transforms frames at the boundary. Nil means plaintext.
	Cipher chatcrypto.Cipher
}

func (c *Config) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.Cipher == nil {
		c.Cipher = chatcrypto.PlainCipher{}
	}
}

// WSTransport implements Transport over a WebSocket connection with
// auto-reconnect and heartbeat.
type WSTransport struct {
	config     Config
	dispatcher *Dispatcher
	recon      *reconnector

	mu          sync.Mutex
	conn        *websocket.Conn
	connected   bool
	intentional bool
	cancelFn    context.CancelFunc
}

// NewWSTransport creates a WebSocket transport for one thread.
func NewWSTransport(config Config) *WSTransport {
	config.defaults()
	return &WSTransport{
		config:     config,
		dispatcher: NewDispatcher(),
		recon: newReconnector(config.ReconnectBaseDelay,
			config.ReconnectMaxDelay, config.MaxReconnectAttempts),
	}
}

// Events returns the inbound event dispatcher.
func (t *WSTransport) Events() *Dispatcher {
	return t.dispatcher
}

// Connected reports whether the channel is currently up.
func (t *WSTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Connect dials the thread's event channel and starts the read and
// heartbeat loops. Connecting an already connected transport is a no-op.
func (t *WSTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	t.intentional = false
	t.mu.Unlock()

	wsURL := strings.Replace(t.config.BaseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL = fmt.Sprintf("%s/threads/%s/events?token=%s", wsURL, t.config.ThreadID, t.config.Token)

	logrus.WithFields(logrus.Fields{
		"function":  "Connect",
		"thread_id": t.config.ThreadID,
	}).Info("Dialing thread event channel")

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "Connect",
			"thread_id": t.config.ThreadID,
			"error":     err.Error(),
		}).Error("Event channel dial failed")
		return fmt.Errorf("websocket dial: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.conn = conn
	t.connected = true
	t.cancelFn = cancel
	t.mu.Unlock()
	t.recon.markConnected()

	go t.readLoop(connCtx, conn)
	go t.heartbeatLoop(connCtx, conn)

	t.dispatcher.EmitConnected()
	return nil
}

// Close tears the channel down intentionally; no reconnect follows.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	t.intentional = true
	if t.cancelFn != nil {
		t.cancelFn()
		t.cancelFn = nil
	}
	conn := t.conn
	t.conn = nil
	wasConnected := t.connected
	t.connected = false
	t.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client close")
	}
	if wasConnected {
		t.dispatcher.EmitDisconnected("client close")
	}
	return nil
}

// SendMessage transmits a message:send frame.
func (t *WSTransport) SendMessage(ctx context.Context, payload SendPayload) error {
	return t.send(ctx, EventMessageSend, payload)
}

// SendTyping transmits a typing start or stop frame.
func (t *WSTransport) SendTyping(ctx context.Context, typing bool) error {
	eventType := EventTypingStop
	if typing {
		eventType = EventTypingStart
	}
	return t.send(ctx, eventType, struct{}{})
}

// SendReceipts transmits one bulk receipt frame.
func (t *WSTransport) SendReceipts(ctx context.Context, messageIDs []string, status string) error {
	return t.send(ctx, EventReceiptBatch, ReceiptPayload{MessageIDs: messageIDs, Status: status})
}

func (t *WSTransport) send(ctx context.Context, eventType string, payload any) error {
	t.mu.Lock()
	conn := t.conn
	connected := t.connected
	t.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	frame, err := marshalEnvelope(eventType, payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}
	sealed, err := t.config.Cipher.Seal(frame)
	if err != nil {
		return fmt.Errorf("seal %s: %w", eventType, err)
	}
	return conn.Write(ctx, websocket.MessageBinary, sealed)
}

func (t *WSTransport) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, sealed, err := conn.Read(ctx)
		if err != nil {
			t.handleReadFailure(err)
			return
		}

		frame, err := t.config.Cipher.Open(sealed)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "readLoop",
				"thread_id": t.config.ThreadID,
				"error":     err.Error(),
			}).Warn("Dropping frame that failed decryption")
			continue
		}
		t.dispatcher.Dispatch(frame)
	}
}

func (t *WSTransport) handleReadFailure(err error) {
	t.mu.Lock()
	intentional := t.intentional
	t.conn = nil
	t.connected = false
	t.mu.Unlock()

	if intentional {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":  "handleReadFailure",
		"thread_id": t.config.ThreadID,
		"error":     err.Error(),
	}).Warn("Event channel dropped")
	t.dispatcher.EmitDisconnected(err.Error())

	if t.config.AutoReconnect && t.recon.shouldReconnect() {
		go t.reconnectLoop()
	}
}

func (t *WSTransport) reconnectLoop() {
	for t.recon.shouldReconnect() {
		delay := t.recon.nextDelay()
		t.dispatcher.EmitReconnecting(t.recon.attemptNumber(), delay)

		time.Sleep(delay)

		t.mu.Lock()
		if t.intentional {
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := t.Connect(ctx)
		cancel()
		if err == nil {
			return
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":  "reconnectLoop",
		"thread_id": t.config.ThreadID,
	}).Error("Reconnect attempts exhausted")
}

func (t *WSTransport) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(t.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				// Force the read loop to observe the failure.
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}
