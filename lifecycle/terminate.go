package lifecycle

import (
	"context"
	"time"
)

// terminateCallTimeout bounds the best-effort release call made to the provisioner.
const terminateCallTimeout = time.Minute

// Terminate drains the node, releases its resources and resets it to cold.
// In-flight requests get up to the drain timeout to finish. Failing to
// release the remote resources is logged, never returned: the node always
// ends up cold and can be provisioned again.
func (m *Manager) Terminate(ctx context.Context, id string) error {
	n, err := m.lookup(id)
	if err != nil {
		return err
	}
	return m.terminate(ctx, n, TerminationReasonRequested)
}

func (m *Manager) terminate(ctx context.Context, n *nodeState, reason TerminationReason) error {
	n.mu.Lock()
	for n.provisioning != nil {
		attempt := n.provisioning
		n.mu.Unlock()
		select {
		case <-attempt.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		n.mu.Lock()
	}

	termination := n.terminating
	if termination == nil {
		if n.status == NodeStatusCold {
			n.mu.Unlock()
			return nil
		}
		termination = m.startTermination(n, reason)
	}
	n.mu.Unlock()

	_, err := termination.wait(ctx)
	return err
}

// startTermination must be called with n.mu held.
func (m *Manager) startTermination(n *nodeState, reason TerminationReason) *future {
	termination := newFuture()
	n.terminating = termination
	n.stopMonitor()

	var drained chan struct{}
	if n.activeRequests > 0 {
		drained = make(chan struct{})
		n.drained = drained
		m.setStatus(n, NodeStatusDraining)
	}
	n.log.Info("Terminating node", "reason", reason, "activeRequests", n.activeRequests)

	m.wg.Add(1)
	go m.runTermination(n, termination, reason, drained)

	return termination
}

func (m *Manager) runTermination(n *nodeState, termination *future, reason TerminationReason, drained chan struct{}) {
	defer m.wg.Done()

	if drained != nil {
		deadline := time.NewTimer(m.config.DrainTimeout)
		select {
		case <-drained:
			n.log.Debug("Node drained")
		case <-deadline.C:
			n.log.Warn("Node did not drain in time, terminating anyway", "deadline", m.config.DrainTimeout)
		}
		deadline.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), terminateCallTimeout)
	if err := m.provisioner.Terminate(ctx, n.config.ID); err != nil {
		n.log.Error("Failed to release node resources, resetting anyway", "error", err)
	}
	cancel()

	n.mu.Lock()
	defer n.mu.Unlock()

	n.reset()
	n.terminating = nil
	m.setStatus(n, NodeStatusCold)
	activeRequests.WithLabelValues(n.config.ID).Set(0)

	terminations.WithLabelValues(string(reason)).Inc()
	n.log.Info("Node terminated", "reason", reason)
	m.emit(EventNodeTerminated{Node: n.config.ID, Reason: reason})
	termination.complete(Endpoint{}, nil)

	if n.queue.Len() > 0 && !n.removed && !m.shutdown.Load() {
		n.log.Info("Requests arrived while terminating, provisioning again", "queued", n.queue.Len())
		m.startProvisioning(n)
	}
}
