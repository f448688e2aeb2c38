package lifecycle

import (
	"context"
	"fmt"
	"time"
)

// Execute runs executor against the node's endpoint. If the node is not
// servable yet the request waits in the node's queue, and a provisioning
// attempt is started when the node is cold or in error. The wait is bounded
// by the configured maximum queue wait and by ctx.
func (m *Manager) Execute(ctx context.Context, id string, payload any, executor Executor) (any, error) {
	n, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	if n.removed {
		n.mu.Unlock()
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownNode, id)
	}
	if m.shutdown.Load() {
		n.mu.Unlock()
		return nil, ErrShutdown
	}

	if n.status.Servable() && n.terminating == nil {
		endpoint, generation := m.admit(n)
		n.mu.Unlock()
		return m.run(ctx, n, generation, endpoint, payload, executor)
	}

	request := n.queue.Push(id, payload, m.now())
	request.timer = time.AfterFunc(m.config.MaxQueueWait, func() {
		m.expire(n, request)
	})
	queuedRequests.WithLabelValues(id).Inc()
	n.log.Debug("Request queued", "request", request.id, "status", n.status)
	m.emit(EventRequestQueued{Node: id, Request: request.id})

	if n.status == NodeStatusCold || n.status == NodeStatusError {
		// The outcome reaches this request through the queue
		m.startProvisioning(n)
	}
	n.mu.Unlock()

	select {
	case a := <-request.result:
		if a.err != nil {
			requestsTotal.WithLabelValues(string(KindOf(a.err))).Inc()
			return nil, a.err
		}
		return m.run(ctx, n, a.generation, a.endpoint, payload, executor)

	case <-ctx.Done():
		n.mu.Lock()
		removed := n.queue.Remove(request)
		if removed {
			request.timer.Stop()
			queuedRequests.WithLabelValues(id).Dec()
			m.emit(EventRequestRejected{Node: id, Request: request.id, Reason: ErrorKindCanceled})
		}
		n.mu.Unlock()

		// Resolved while we were giving up, so the reserved slot must be handed back
		if !removed {
			if a := <-request.result; a.err == nil {
				m.release(n, a.generation)
			}
		}
		requestsTotal.WithLabelValues(string(ErrorKindCanceled)).Inc()
		return nil, ctx.Err()
	}
}

// admit reserves an execution slot on a servable node. n.mu must be held.
func (m *Manager) admit(n *nodeState) (Endpoint, uint64) {
	n.activeRequests += 1
	n.totalRequests += 1
	n.lastRequestAt = m.now()
	activeRequests.WithLabelValues(n.config.ID).Set(float64(n.activeRequests))
	m.setStatus(n, NodeStatusActive)
	return n.endpoint, n.generation
}

func (m *Manager) run(ctx context.Context, n *nodeState, generation uint64, endpoint Endpoint, payload any, executor Executor) (any, error) {
	defer m.release(n, generation)

	result, err := executor(ctx, endpoint, payload)
	if err != nil {
		requestsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	requestsTotal.WithLabelValues("succeeded").Inc()
	return result, nil
}

// release gives back a slot taken by admit.
func (m *Manager) release(n *nodeState, generation uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	// The node was reset while this request ran past the drain deadline
	if generation != n.generation || n.activeRequests == 0 {
		return
	}

	n.activeRequests -= 1
	n.lastRequestAt = m.now()
	activeRequests.WithLabelValues(n.config.ID).Set(float64(n.activeRequests))

	if n.activeRequests == 0 {
		if n.status == NodeStatusActive {
			m.setStatus(n, NodeStatusReady)
		}
		if n.drained != nil {
			close(n.drained)
			n.drained = nil
		}
	}
}

// drainQueue admits every queued request in enqueue order. n.mu must be held.
func (m *Manager) drainQueue(n *nodeState) {
	for _, request := range n.queue.TakeAll() {
		endpoint, generation := m.admit(n)
		waited := m.now().Sub(request.enqueuedAt)

		queuedRequests.WithLabelValues(n.config.ID).Dec()
		queueWait.Observe(waited.Seconds())
		m.emit(EventRequestDequeued{Node: n.config.ID, Request: request.id, Waited: waited})

		request.resolve(admission{endpoint: endpoint, generation: generation})
	}
}

// rejectQueue fails every queued request with err. n.mu must be held.
func (m *Manager) rejectQueue(n *nodeState, err error) {
	for _, request := range n.queue.TakeAll() {
		queuedRequests.WithLabelValues(n.config.ID).Dec()
		m.emit(EventRequestRejected{Node: n.config.ID, Request: request.id, Reason: KindOf(err)})
		request.resolve(admission{err: err})
	}
}

func (m *Manager) expire(n *nodeState, request *queuedRequest) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.queue.Remove(request) {
		return
	}

	n.log.Warn("Request timed out waiting for node", "request", request.id, "status", n.status, "wait", m.config.MaxQueueWait)
	queuedRequests.WithLabelValues(n.config.ID).Dec()
	m.emit(EventRequestRejected{Node: n.config.ID, Request: request.id, Reason: ErrorKindTimeout})

	request.resolve(admission{
		err: fmt.Errorf("%w: node '%s' was not ready after %s", ErrQueueTimeout, n.config.ID, m.config.MaxQueueWait),
	})
}
