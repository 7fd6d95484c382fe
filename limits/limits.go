// Package limits provides centralized size limits and send-rate limiting
// for the chat synchronization core. This ensures consistent validation
// across the composer, transport, and storage components.
package limits

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

const (
	// MaxTextLength is the maximum outgoing message text length in bytes.
	MaxTextLength = 4096

	// MaxAttachmentsPerMessage bounds the attachment list on one message.
	MaxAttachmentsPerMessage = 10

	// MaxAttachmentSize is the maximum single attachment size (50MB).
	MaxAttachmentSize = 50 * 1024 * 1024

	// MaxPayloadBuffer is the absolute maximum for any serialized payload.
	// This prevents memory exhaustion from a misbehaving server (1MB limit).
	MaxPayloadBuffer = 1024 * 1024
)

var (
	// ErrTextTooLong indicates message text exceeds MaxTextLength.
	ErrTextTooLong = errors.New("message text too long")

	// ErrTooManyAttachments indicates the attachment list exceeds the cap.
	ErrTooManyAttachments = errors.New("too many attachments")

	// ErrAttachmentTooLarge indicates a single attachment exceeds the cap.
	ErrAttachmentTooLarge = errors.New("attachment too large")

	// ErrPayloadTooLarge indicates a serialized payload exceeds the buffer cap.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// ValidateText validates outgoing message text against MaxTextLength.
// Empty text is legal here; media-only messages carry no text and the
// composer enforces the empty-send rule separately.
func ValidateText(text string) error {
	if len(text) > MaxTextLength {
		return fmt.Errorf("%w: %d bytes exceeds limit %d", ErrTextTooLong, len(text), MaxTextLength)
	}
	return nil
}

// ValidateAttachmentCount validates the number of attachments on a message.
func ValidateAttachmentCount(n int) error {
	if n > MaxAttachmentsPerMessage {
		return fmt.Errorf("%w: %d exceeds limit %d", ErrTooManyAttachments, n, MaxAttachmentsPerMessage)
	}
	return nil
}

// ValidateAttachmentSize validates a single attachment's byte size.
func ValidateAttachmentSize(size int64) error {
	if size > MaxAttachmentSize {
		return fmt.Errorf("%w: %d bytes exceeds limit %d", ErrAttachmentTooLarge, size, MaxAttachmentSize)
	}
	return nil
}

// ValidatePayloadBuffer validates serialized data against the absolute
// maximum. This should be applied to all untrusted inbound frames.
func ValidatePayloadBuffer(data []byte) error {
	if len(data) > MaxPayloadBuffer {
		return fmt.Errorf("%w: %d bytes exceeds limit %d", ErrPayloadTooLarge, len(data), MaxPayloadBuffer)
	}
	return nil
}

// DefaultSendRate is the default sustained sends-per-second per thread.
const DefaultSendRate = 1

// DefaultSendBurst is the default burst allowance per thread.
const DefaultSendBurst = 5

// SendLimiter bounds outgoing send attempts per thread using a token
// bucket per thread id. The zero value is not usable; use NewSendLimiter.
type SendLimiter struct {
	mu    sync.Mutex
	pool  map[string]*rate.Limiter
	rps   rate.Limit
	burst int
}

// NewSendLimiter creates a limiter pool. Non-positive rps or burst fall
// back to the package defaults.
func NewSendLimiter(rps float64, burst int) *SendLimiter {
	if rps <= 0 {
		rps = DefaultSendRate
	}
	if burst <= 0 {
		burst = DefaultSendBurst
	}
	return &SendLimiter{
		pool:  make(map[string]*rate.Limiter),
		rps:   rate.Limit(rps),
		burst: burst,
	}
}

// Allow reports whether a send on the given thread may proceed now,
// consuming one token if so.
func (l *SendLimiter) Allow(threadID string) bool {
	return l.get(threadID).Allow()
}

// CanSend reports whether a token is available without consuming it.
func (l *SendLimiter) CanSend(threadID string) bool {
	return l.get(threadID).Tokens() >= 1
}

func (l *SendLimiter) get(threadID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.pool[threadID]; ok {
		return lim
	}
	lim := rate.NewLimiter(l.rps, l.burst)
	l.pool[threadID] = lim
	return lim
}
