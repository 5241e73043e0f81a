// Package queue implements the per-tenant utterance FIFO and its
// worker (C6): a bounded queue with a configurable drop policy, and a
// single playback loop per session. Grounded on
// original_source/utils/queue_utils.py's enqueue_with_drop for the
// drop-policy semantics and internal/tools/music/player.go's
// goroutine playback-loop idiom (teacher) for the worker shape.
package queue

import "sync"

// Policy selects what happens when Enqueue is called on a full queue.
type Policy string

const (
	// DropOldest removes the head item to make room for the new one.
	DropOldest Policy = "drop_oldest"
	// Reject refuses the new item, leaving the queue untouched.
	Reject Policy = "reject"
)

// Item is an immutable utterance request. The zero Item is not a
// valid payload; use Sentinel() to build the worker-termination value.
type Item struct {
	Text     string
	VoiceID  string
	Volume   float64
	sentinel bool
}

// Sentinel returns the special value that tells a worker to exit its
// drain loop.
func Sentinel() Item { return Item{sentinel: true} }

// IsSentinel reports whether item is a termination marker.
func (item Item) IsSentinel() bool { return item.sentinel }

// Queue is a bounded, thread-safe FIFO of utterance items.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []Item
	maxSize int
	policy  Policy
}

// New builds a Queue with the given capacity and overflow policy.
func New(maxSize int, policy Policy) *Queue {
	q := &Queue{maxSize: maxSize, policy: policy}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds item to the tail of the queue. When full under
// DropOldest, the head is evicted and dropped==1; under Reject, the
// new item is refused and accepted==false.
func (q *Queue) Enqueue(item Item) (dropped int, accepted bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.maxSize {
		if q.policy == Reject {
			return 0, false
		}
		q.items = q.items[1:]
		dropped = 1
	}
	q.items = append(q.items, item)
	q.cond.Signal()
	return dropped, true
}

// enqueueForce appends item unconditionally, bypassing the drop
// policy. Used only to deliver the termination sentinel: under Reject
// with a full queue, a policy-obeying Enqueue could refuse the
// sentinel forever and deadlock Worker.Stop.
func (q *Queue) enqueueForce(item Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	q.cond.Signal()
}

// Dequeue blocks until an item is available, then removes and returns
// the head.
func (q *Queue) Dequeue() Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		q.cond.Wait()
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item
}

// Len reports the current number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
