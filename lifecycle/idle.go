package lifecycle

import (
	"context"
	"time"

	"github.com/gammadia/standby/lifecycle/internal"
)

// idleMonitor is the recurring idle check of one ready node.
type idleMonitor struct {
	stop chan struct{}
}

// startMonitor must be called with n.mu held.
func (m *Manager) startMonitor(n *nodeState) {
	if n.monitor != nil {
		return
	}

	monitor := &idleMonitor{stop: make(chan struct{})}
	n.monitor = monitor
	go m.runMonitor(n, monitor)
}

// stopMonitor must be called with n.mu held. A tick racing with it sees that
// it is no longer the node's monitor and does nothing.
func (n *nodeState) stopMonitor() {
	if n.monitor != nil {
		close(n.monitor.stop)
		n.monitor = nil
	}
}

func (m *Manager) runMonitor(n *nodeState, monitor *idleMonitor) {
	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-monitor.stop:
			return
		case <-ticker.C:
			if m.checkIdle(n, monitor) {
				m.evict(n)
				return
			}
		}
	}
}

// checkIdle reports whether the node has been idle long enough to be evicted.
// Panics are contained so that a faulty tick never kills the monitor.
func (m *Manager) checkIdle(n *nodeState, monitor *idleMonitor) (evict bool) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Error("Idle check panicked", "panic", r)
			evict = false
		}
	}()

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.monitor != monitor || n.activeRequests > 0 {
		return false
	}

	timeout := n.idleTimeout(m.config.IdleTimeout)
	idleFor := m.now().Sub(internal.LastActivity(n.lastRequestAt, n.readySince))

	switch internal.Idleness(idleFor, timeout) {
	case internal.IdleVerdictEvict:
		n.log.Info("Node idle for too long", "idle", idleFor, "timeout", timeout)
		return true
	case internal.IdleVerdictIdle:
		if n.status == NodeStatusReady {
			m.setStatus(n, NodeStatusIdle)
		}
	}
	return false
}

func (m *Manager) evict(n *nodeState) {
	if err := m.terminate(context.Background(), n, TerminationReasonIdle); err != nil {
		n.log.Error("Failed to evict idle node", "error", err)
	}
}
