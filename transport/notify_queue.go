package transport

import (
	"sync"
	"time"
)

// notifyQueue buffers BLE notification payloads between the adapter
// callback and ReadChunk. The queue is bounded; when the consumer cannot
// keep up the oldest payload is dropped, matching the live-link policy of
// the session layer above.
type notifyQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   [][]byte
	limit   int
	dropped int
	closed  bool
}

func newNotifyQueue(limit int) *notifyQueue {
	q := &notifyQueue{limit: limit}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues a notification payload, evicting the oldest when full.
func (q *notifyQueue) push(p []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if len(q.items) >= q.limit {
		q.items = q.items[1:]
		q.dropped++
	}
	buf := append([]byte(nil), p...)
	q.items = append(q.items, buf)
	q.cond.Signal()
}

// pop dequeues the next payload, waiting up to timeout. Returns nil, false
// on timeout or close.
func (q *notifyQueue) pop(timeout time.Duration) ([]byte, bool) {
	deadline := time.Now().Add(timeout)

	// Wake the waiter at the deadline; Cond has no native timeout.
	timer := time.AfterFunc(timeout, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer timer.Stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if q.closed || !time.Now().Before(deadline) {
			return nil, false
		}
		q.cond.Wait()
	}
	p := q.items[0]
	q.items = q.items[1:]
	return p, true
}

// drops returns the number of dropped payloads and resets the counter.
func (q *notifyQueue) drops() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.dropped
	q.dropped = 0
	return n
}

// close wakes all waiters; subsequent pushes are ignored.
func (q *notifyQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
