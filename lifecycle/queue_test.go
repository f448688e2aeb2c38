package lifecycle

import (
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestQueueKeepsEnqueueOrder(t *testing.T) {
	q := newRequestQueue()
	now := time.Now()

	a := q.Push("n1", "a", now)
	b := q.Push("n1", "b", now)
	c := q.Push("n1", "c", now)

	assert.Equal(t, 3, q.Len())
	assert.Less(t, a.id, b.id)
	assert.Less(t, b.id, c.id)

	items := q.TakeAll()
	assert.Equal(t, []any{"a", "b", "c"}, lo.Map(items, func(r *queuedRequest, _ int) any { return r.payload }))
	assert.Equal(t, 0, q.Len())
}

func TestRequestQueueRemove(t *testing.T) {
	q := newRequestQueue()
	now := time.Now()

	a := q.Push("n1", "a", now)
	b := q.Push("n1", "b", now)

	assert.True(t, q.Remove(a))
	assert.False(t, q.Remove(a))
	assert.Equal(t, 1, q.Len())

	items := q.TakeAll()
	require.Len(t, items, 1)
	assert.Same(t, b, items[0])
	assert.False(t, q.Remove(b))
}

func TestQueuedRequestResolveStopsTimer(t *testing.T) {
	q := newRequestQueue()
	r := q.Push("n1", nil, time.Now())

	fired := make(chan struct{})
	r.timer = time.AfterFunc(50*time.Millisecond, func() { close(fired) })
	r.resolve(admission{endpoint: Endpoint{Address: "http://n1"}})

	got := <-r.result
	assert.Equal(t, "http://n1", got.endpoint.Address)

	select {
	case <-fired:
		t.Fatal("timer fired after the request was resolved")
	case <-time.After(100 * time.Millisecond):
	}
}
