package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// future is the completion handle shared by everyone waiting on one
// provisioning or termination attempt.
type future struct {
	done     chan struct{}
	endpoint Endpoint
	err      error
}

func newFuture() *future {
	return &future{done: make(chan struct{})}
}

func (f *future) complete(endpoint Endpoint, err error) {
	f.endpoint = endpoint
	f.err = err
	close(f.done)
}

func (f *future) wait(ctx context.Context) (Endpoint, error) {
	select {
	case <-f.done:
		return f.endpoint, f.err
	case <-ctx.Done():
		return Endpoint{}, ctx.Err()
	}
}

var errNoEndpoint = errors.New("provisioner returned no endpoint")

// Provision makes the node servable and returns its endpoint. Concurrent
// calls share one attempt and all observe its outcome. A node in error is
// provisioned again exactly like a cold one. ctx bounds how long the caller
// waits, not the attempt itself.
func (m *Manager) Provision(ctx context.Context, id string) (Endpoint, error) {
	n, err := m.lookup(id)
	if err != nil {
		return Endpoint{}, err
	}

	for {
		n.mu.Lock()
		if n.removed {
			n.mu.Unlock()
			return Endpoint{}, fmt.Errorf("%w: '%s'", ErrUnknownNode, id)
		}

		if t := n.terminating; t != nil {
			n.mu.Unlock()
			if _, err := t.wait(ctx); err != nil {
				return Endpoint{}, err
			}
			continue
		}

		if n.status.Servable() {
			endpoint := n.endpoint
			n.mu.Unlock()
			return endpoint, nil
		}

		if m.shutdown.Load() {
			n.mu.Unlock()
			return Endpoint{}, ErrShutdown
		}

		attempt := m.startProvisioning(n)
		n.mu.Unlock()

		return attempt.wait(ctx)
	}
}

// startProvisioning returns the outstanding attempt for the node, starting
// one if there is none. n.mu must be held.
func (m *Manager) startProvisioning(n *nodeState) *future {
	if n.provisioning != nil {
		return n.provisioning
	}

	attempt := newFuture()
	n.provisioning = attempt
	n.err = nil
	n.provisioningStartedAt = m.now()
	m.setStatus(n, NodeStatusProvisioning)
	n.log.Info("Provisioning node", "expectedColdStart", n.config.ColdStart)

	m.wg.Add(1)
	go m.runProvisioning(n, attempt)

	return attempt
}

func (m *Manager) runProvisioning(n *nodeState, attempt *future) {
	defer m.wg.Done()

	started := time.Now()
	allocation, err := m.provisioner.Provision(m.ctx, n.config)
	if err == nil && allocation.Endpoint.IsZero() {
		err = errNoEndpoint
	}
	took := time.Since(started)

	n.mu.Lock()
	defer n.mu.Unlock()

	n.provisioning = nil

	if err != nil {
		failure := &ProvisioningError{Node: n.config.ID, Err: err}
		n.err = err
		m.setStatus(n, NodeStatusError)

		provisioningAttempts.WithLabelValues("failure").Inc()
		n.log.Error("Provisioning failed", "error", err, "took", took)
		m.emit(EventNodeProvisioningFailed{Node: n.config.ID, Error: err.Error()})

		m.rejectQueue(n, failure)
		attempt.complete(Endpoint{}, failure)
		return
	}

	n.endpoint = allocation.Endpoint
	n.providerMeta = allocation.ProviderMeta
	n.provisioningStartedAt = time.Time{}
	n.readySince = m.now()
	m.setStatus(n, NodeStatusReady)

	provisioningAttempts.WithLabelValues("success").Inc()
	provisioningDuration.Observe(took.Seconds())
	n.log.Info("Node is ready", "endpoint", n.endpoint.Address, "took", took)
	m.emit(EventNodeProvisioned{Node: n.config.ID, Endpoint: n.endpoint, Took: took})

	m.startMonitor(n)
	m.drainQueue(n)
	attempt.complete(n.endpoint, nil)
}
