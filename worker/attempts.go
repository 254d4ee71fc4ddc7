package worker

import (
	"sync"
	"time"
)

// RequestAttempts counts failed scrapes of requested ids and spaces out retries
type RequestAttempts struct {
	mu      sync.Mutex
	entries map[string]attempt
	backoff time.Duration
	now     func() time.Time
}

type attempt struct {
	failures int
	retryAt  time.Time
}

func NewRequestAttempts(backoff time.Duration) *RequestAttempts {
	return &RequestAttempts{
		entries: make(map[string]attempt),
		backoff: backoff,
		now:     time.Now,
	}
}

// Ready reports whether id may be queued again
func (ra *RequestAttempts) Ready(id string) bool {
	ra.mu.Lock()
	defer ra.mu.Unlock()

	a, ok := ra.entries[id]
	return !ok || !ra.now().Before(a.retryAt)
}

// Fail records a failed attempt and returns the failure count. The next retry
// waits backoff, doubled for every earlier failure.
func (ra *RequestAttempts) Fail(id string) int {
	ra.mu.Lock()
	defer ra.mu.Unlock()

	a := ra.entries[id]
	a.failures++
	a.retryAt = ra.now().Add(ra.backoff << min(a.failures-1, 10))
	ra.entries[id] = a
	return a.failures
}

func (ra *RequestAttempts) Clear(id string) {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	delete(ra.entries, id)
}

func (ra *RequestAttempts) Failures(id string) int {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	return ra.entries[id].failures
}
