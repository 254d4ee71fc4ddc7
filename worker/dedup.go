package worker

import (
	"sync"
	"time"
)

// TaskDeduplicator prevents the same media id from being queued twice
type TaskDeduplicator struct {
	mu      sync.Mutex
	pending map[string]time.Time // media id -> queued time
	now     func() time.Time
}

func NewTaskDeduplicator() *TaskDeduplicator {
	return &TaskDeduplicator{
		pending: make(map[string]time.Time),
		now:     time.Now,
	}
}

// ShouldQueue records id as queued unless it was queued less than maxAge ago
func (td *TaskDeduplicator) ShouldQueue(id string, maxAge time.Duration) bool {
	td.mu.Lock()
	defer td.mu.Unlock()

	now := td.now()
	if queuedAt, exists := td.pending[id]; exists && now.Sub(queuedAt) < maxAge {
		return false
	}

	td.pending[id] = now
	return true
}

func (td *TaskDeduplicator) Remove(id string) {
	td.mu.Lock()
	defer td.mu.Unlock()
	delete(td.pending, id)
}

// Cleanup forgets entries older than maxAge and returns how many were dropped
func (td *TaskDeduplicator) Cleanup(maxAge time.Duration) int {
	td.mu.Lock()
	defer td.mu.Unlock()

	now := td.now()
	dropped := 0
	for id, queuedAt := range td.pending {
		if now.Sub(queuedAt) > maxAge {
			delete(td.pending, id)
			dropped++
		}
	}
	return dropped
}

func (td *TaskDeduplicator) Len() int {
	td.mu.Lock()
	defer td.mu.Unlock()
	return len(td.pending)
}
