// Package reconciler re-registers journaled submissions that reached the
// chain but were never acknowledged by the gateway.
package reconciler

import (
	"sync"
	"time"
)

// WorkQueue is a deduplicating work queue keyed by transaction hash.
// A key added while it is being processed is queued again once Done is
// called for it.
type WorkQueue struct {
	queue      []string
	dirty      map[string]struct{}
	processing map[string]struct{}

	cond         *sync.Cond
	shuttingDown bool

	mu sync.Mutex
}

// NewWorkQueue creates an empty queue.
func NewWorkQueue() *WorkQueue {
	q := &WorkQueue{
		dirty:      make(map[string]struct{}),
		processing: make(map[string]struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Add marks key as needing processing.
func (q *WorkQueue) Add(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shuttingDown {
		return
	}
	if _, exists := q.dirty[key]; exists {
		return
	}
	q.dirty[key] = struct{}{}

	// Picked up again by Done.
	if _, exists := q.processing[key]; exists {
		return
	}

	q.queue = append(q.queue, key)
	q.cond.Signal()
}

// AddAfter adds key once delay has elapsed.
func (q *WorkQueue) AddAfter(key string, delay time.Duration) {
	if delay <= 0 {
		q.Add(key)
		return
	}
	time.AfterFunc(delay, func() { q.Add(key) })
}

// Get blocks until a key is ready. The second result is true once the
// queue is shutting down.
func (q *WorkQueue) Get() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.queue) == 0 && !q.shuttingDown {
		q.cond.Wait()
	}
	if q.shuttingDown {
		return "", true
	}

	key := q.queue[0]
	q.queue = q.queue[1:]

	delete(q.dirty, key)
	q.processing[key] = struct{}{}
	return key, false
}

// Done marks key as processed.
func (q *WorkQueue) Done(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.processing, key)
	if _, exists := q.dirty[key]; exists {
		q.queue = append(q.queue, key)
		q.cond.Signal()
	}
}

// Len returns the number of queued keys.
func (q *WorkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// ShutDown wakes all waiting workers and rejects further adds.
func (q *WorkQueue) ShutDown() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.shuttingDown = true
	q.cond.Broadcast()
}

// ShuttingDown reports whether ShutDown was called.
func (q *WorkQueue) ShuttingDown() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shuttingDown
}
