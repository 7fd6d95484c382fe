package queue

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultRetryBase is the delay before the first automatic retry.
	DefaultRetryBase = 2 * time.Second
	// DefaultMaxAttempts caps send attempts per message, counting the
	// initial send. After the cap the message is surfaced as failed
	// and waits for a manual retry.
	DefaultMaxAttempts = 3
	// retryGrowth multiplies the delay on each successive attempt.
	retryGrowth = 1.6
)

// RetryFunc re-attempts the dispatch of one message.
type RetryFunc func(tempID string, attempt int)

// ExhaustedFunc runs when a message has used up its automatic retries.
type ExhaustedFunc func(tempID string)

// RetryScheduler arms a timer per failed message and re-dispatches on a
// growing delay. An acknowledgment or a user delete cancels the pending
// timer; the attempt cap hands the message over to the exhausted hook.
type RetryScheduler struct {
	mu          sync.Mutex
	base        time.Duration
	maxAttempts int
	timers      map[string]*time.Timer
	attempts    map[string]int
	retry       RetryFunc
	exhausted   ExhaustedFunc
	stopped     bool
}

// NewRetryScheduler creates a scheduler with the default delay curve.
func NewRetryScheduler(retry RetryFunc, exhausted ExhaustedFunc) *RetryScheduler {
	return &RetryScheduler{
		base:        DefaultRetryBase,
		maxAttempts: DefaultMaxAttempts,
		timers:      make(map[string]*time.Timer),
		attempts:    make(map[string]int),
		retry:       retry,
		exhausted:   exhausted,
	}
}

// SetBase overrides the base delay. Intended for tests.
func (s *RetryScheduler) SetBase(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = d
}

// Delay returns the wait before the given attempt (1-based).
func (s *RetryScheduler) Delay(attempt int) time.Duration {
	s.mu.Lock()
	base := s.base
	s.mu.Unlock()
	return time.Duration(float64(base) * math.Pow(retryGrowth, float64(attempt-1)))
}

// NoteFailure records a failed send attempt and arms the next retry
// timer. The initial send counts as the first attempt, so a message
// whose every send fails goes over the wire maxAttempts times in total.
// It returns the failed attempt number, or 0 if the message has
// exhausted its attempts.
func (s *RetryScheduler) NoteFailure(tempID string) int {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0
	}
	if t, ok := s.timers[tempID]; ok {
		t.Stop()
		delete(s.timers, tempID)
	}

	next := s.attempts[tempID] + 1
	if next >= s.maxAttempts {
		delete(s.attempts, tempID)
		exhausted := s.exhausted
		capped := s.maxAttempts
		s.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function":       "NoteFailure",
			"client_temp_id": tempID,
			"attempts":       capped,
		}).Warn("Message exhausted automatic retries")
		if exhausted != nil {
			exhausted(tempID)
		}
		return 0
	}
	s.attempts[tempID] = next

	delay := time.Duration(float64(s.base) * math.Pow(retryGrowth, float64(next-1)))
	s.timers[tempID] = time.AfterFunc(delay, func() {
		s.fire(tempID, next)
	})
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":       "NoteFailure",
		"client_temp_id": tempID,
		"next_attempt":   next,
		"delay":          delay.String(),
	}).Debug("Scheduled automatic retry")
	return next
}

func (s *RetryScheduler) fire(tempID string, attempt int) {
	s.mu.Lock()
	delete(s.timers, tempID)
	stopped := s.stopped
	retry := s.retry
	s.mu.Unlock()

	if stopped || retry == nil {
		return
	}
	retry(tempID, attempt)
}

// Cancel drops any pending retry and forgets the attempt count. Called
// when the server acknowledges the message or the user deletes it.
func (s *RetryScheduler) Cancel(tempID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[tempID]; ok {
		t.Stop()
		delete(s.timers, tempID)
	}
	delete(s.attempts, tempID)
}

// Reset clears the attempt count so a manual retry starts a fresh
// automatic cycle if it fails again.
func (s *RetryScheduler) Reset(tempID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, tempID)
}

// Attempts returns the failed send attempts recorded for the message.
func (s *RetryScheduler) Attempts(tempID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[tempID]
}

// Seed restores a persisted attempt count, e.g. from a queue entry
// loaded after a restart. It never lowers a live count.
func (s *RetryScheduler) Seed(tempID string, attempts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if attempts > s.attempts[tempID] {
		s.attempts[tempID] = attempts
	}
}

// Pending reports whether a retry timer is armed for the message.
func (s *RetryScheduler) Pending(tempID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[tempID]
	return ok
}

// Stop cancels all timers. Further failures are ignored.
func (s *RetryScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
