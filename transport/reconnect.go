package transport

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// reconnector computes exponential backoff with jitter for reconnect
// attempts. A connection that stayed up for a while resets the attempt
// counter so a flaky network does not permanently inflate delays.
type reconnector struct {
	mu          sync.Mutex
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

// stableConnection is how long a connection must live to reset backoff.
const stableConnection = 60 * time.Second

func newReconnector(base, max time.Duration, maxAttempts int) *reconnector {
	return &reconnector{
		baseDelay:   base,
		maxDelay:    max,
		maxAttempts: maxAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectedAt = time.Now()
}

func (r *reconnector) attemptNumber() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempt
}

func (r *reconnector) nextDelay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > stableConnection {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

func (r *reconnector) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempt = 0
	r.connectedAt = time.Time{}
}
