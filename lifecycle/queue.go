package lifecycle

import (
	"time"

	"github.com/samber/lo"
)

// admission is the outcome delivered to a queued request: either a reserved
// slot on a ready node, or the reason it will never get one.
type admission struct {
	endpoint   Endpoint
	generation uint64
	err        error
}

type queuedRequest struct {
	id         uint64
	node       string
	payload    any
	enqueuedAt time.Time
	timer      *time.Timer
	result     chan admission
}

func (r *queuedRequest) resolve(a admission) {
	if r.timer != nil {
		r.timer.Stop()
	}
	// result has room for exactly one value and each request is resolved once
	r.result <- a
}

// requestQueue is the FIFO of requests waiting for one node to become servable.
// It is guarded by the owning nodeState's mutex.
type requestQueue struct {
	nextID uint64
	items  []*queuedRequest
}

func newRequestQueue() *requestQueue {
	return &requestQueue{}
}

func (q *requestQueue) Len() int {
	return len(q.items)
}

func (q *requestQueue) Push(node string, payload any, now time.Time) *queuedRequest {
	q.nextID += 1
	r := &queuedRequest{
		id:         q.nextID,
		node:       node,
		payload:    payload,
		enqueuedAt: now,
		result:     make(chan admission, 1),
	}
	q.items = append(q.items, r)
	return r
}

// Remove takes the request out of the queue, reporting whether it was still there.
func (q *requestQueue) Remove(r *queuedRequest) bool {
	if !lo.Contains(q.items, r) {
		return false
	}
	q.items = lo.Without(q.items, r)
	return true
}

// TakeAll empties the queue and returns its former content in enqueue order.
func (q *requestQueue) TakeAll() []*queuedRequest {
	items := q.items
	q.items = nil
	return items
}
