package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammadia/standby/namegen"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

const subscriberBuffer = 1024

// Manager owns every registered node and drives it through its lifecycle.
// Mutations of a node are serialized by that node's own lock, so operations
// on different nodes never wait on each other.
type Manager struct {
	name        namegen.ID
	provisioner Provisioner
	config      Config
	log         *slog.Logger

	// ctx is handed to provisioning calls and cancelled on shutdown
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	nodes    map[string]*nodeState
	shutdown atomic.Bool

	subscribersMu     sync.Mutex
	subscribers       map[chan Event]struct{}
	subscribersClosed bool

	// wg tracks background provisioning and termination goroutines
	wg sync.WaitGroup

	now func() time.Time
}

func New(provisioner Provisioner, config Config) *Manager {
	if config.DrainTimeout == 0 {
		config.DrainTimeout = DefaultDrainTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	name := namegen.Get()
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		name:        name,
		provisioner: provisioner,
		config:      config,
		log:         config.Logger.With("manager", name.String()),

		ctx:    ctx,
		cancel: cancel,

		nodes:       make(map[string]*nodeState),
		subscribers: make(map[chan Event]struct{}),

		now: time.Now,
	}
}

func (m *Manager) Name() namegen.ID {
	return m.name
}

// Register adds a node in the cold state. Registering an id twice is an error.
func (m *Manager) Register(config NodeConfig) (Node, error) {
	if err := config.Validate(); err != nil {
		return Node{}, err
	}
	if m.shutdown.Load() {
		return Node{}, ErrShutdown
	}

	config.Env = maps.Clone(config.Env)
	config.Regions = slices.Clone(config.Regions)

	n := &nodeState{
		config: config,
		log:    m.log.With("node", config.ID),
		status: NodeStatusCold,
		queue:  newRequestQueue(),
	}

	m.mu.Lock()
	if _, exists := m.nodes[config.ID]; exists {
		m.mu.Unlock()
		return Node{}, fmt.Errorf("%w: '%s'", ErrNodeExists, config.ID)
	}
	m.nodes[config.ID] = n
	m.mu.Unlock()

	nodesByStatus.WithLabelValues(string(NodeStatusCold)).Inc()
	n.log.Info("Node registered", "hardware", config.HardwareType, "tee", config.TEEType, "image", config.ContainerImage)
	m.emit(EventNodeRegistered{Node: config.ID})

	return n.snapshot(), nil
}

// Unregister terminates the node and forgets about it. Once started, the
// removal completes in the background even if ctx expires first, in which
// case the ctx error is returned. Concurrent calls for the same id remove it
// once, the others report it as unknown.
func (m *Manager) Unregister(ctx context.Context, id string) error {
	n, err := m.lookup(id)
	if err != nil {
		return err
	}

	n.mu.Lock()
	if n.removed {
		n.mu.Unlock()
		return fmt.Errorf("%w: '%s' is being unregistered", ErrUnknownNode, id)
	}
	n.removed = true
	n.mu.Unlock()

	removed := make(chan struct{})
	go func() {
		defer close(removed)

		// Without a deadline, terminate only returns once the node is cold
		_ = m.terminate(context.Background(), n, TerminationReasonUnregister)
		m.remove(n)
	}()

	select {
	case <-removed:
		return nil
	case <-ctx.Done():
		n.log.Warn("Node still unregistering after caller gave up", "error", ctx.Err())
		return fmt.Errorf("node '%s' is still being unregistered: %w", id, ctx.Err())
	}
}

func (m *Manager) remove(n *nodeState) {
	id := n.config.ID

	m.mu.Lock()
	if m.nodes[id] != n {
		m.mu.Unlock()
		return
	}
	delete(m.nodes, id)
	m.mu.Unlock()

	n.mu.Lock()
	m.rejectQueue(n, fmt.Errorf("%w: '%s' was unregistered", ErrUnknownNode, id))
	nodesByStatus.WithLabelValues(string(n.status)).Dec()
	n.mu.Unlock()

	n.log.Info("Node unregistered")
	m.emit(EventNodeUnregistered{Node: id})
}

func (m *Manager) lookup(id string) (*nodeState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if n, ok := m.nodes[id]; ok {
		return n, nil
	}
	return nil, fmt.Errorf("%w: '%s'", ErrUnknownNode, id)
}

func (m *Manager) allNodes() []*nodeState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return lo.Values(m.nodes)
}

// Node returns a snapshot of the node's configuration and runtime state.
func (m *Manager) Node(id string) (Node, error) {
	n, err := m.lookup(id)
	if err != nil {
		return Node{}, err
	}
	return n.snapshot(), nil
}

func (m *Manager) Metadata(id string) (Metadata, error) {
	node, err := m.Node(id)
	if err != nil {
		return Metadata{}, err
	}
	return node.MetadataAt(m.now()), nil
}

// List returns the metadata of every registered node, ordered by id.
func (m *Manager) List() []Metadata {
	now := m.now()
	metadata := lo.Map(m.allNodes(), func(n *nodeState, _ int) Metadata {
		return n.snapshot().MetadataAt(now)
	})
	slices.SortFunc(metadata, func(a, b Metadata) int {
		return strings.Compare(a.ID, b.ID)
	})
	return metadata
}

// Subscribe returns a channel receiving every event emitted from now on.
// Events are dropped for subscribers that fall too far behind.
// The channel is closed by the returned function or when the manager shuts down.
// Subscribing to a manager that has already shut down yields a closed channel.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	m.subscribersMu.Lock()
	if m.subscribersClosed {
		m.subscribersMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	m.subscribers[ch] = struct{}{}
	m.subscribersMu.Unlock()

	return ch, func() {
		m.subscribersMu.Lock()
		defer m.subscribersMu.Unlock()

		if _, ok := m.subscribers[ch]; ok {
			delete(m.subscribers, ch)
			close(ch)
		}
	}
}

func (m *Manager) emit(event Event) {
	m.subscribersMu.Lock()
	defer m.subscribersMu.Unlock()

	for ch := range m.subscribers {
		select {
		case ch <- event:
		default:
			m.log.Warn("Dropping event for slow subscriber", "event", fmt.Sprintf("%T", event))
		}
	}
}

func (m *Manager) closeSubscribers() {
	m.subscribersMu.Lock()
	defer m.subscribersMu.Unlock()

	for ch := range m.subscribers {
		close(ch)
	}
	clear(m.subscribers)
	m.subscribersClosed = true
}

// setStatus must be called with n.mu held.
func (m *Manager) setStatus(n *nodeState, status NodeStatus) {
	if n.status == status {
		return
	}

	previous := n.status
	n.status = status

	nodesByStatus.WithLabelValues(string(previous)).Dec()
	nodesByStatus.WithLabelValues(string(status)).Inc()

	n.log.Debug("Node status updated", "from", previous, "to", status)
	m.emit(EventNodeStatusUpdated{Node: n.config.ID, Status: status})
}

// Shutdown rejects every queued request, terminates every node and waits for
// all of them to be back to cold. In-flight executions get the usual drain period.
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.shutdown.CompareAndSwap(false, true) {
		return m.waitBackground(ctx)
	}
	m.log.Info("Manager is shutting down")

	nodes := m.allNodes()
	for _, n := range nodes {
		n.mu.Lock()
		m.rejectQueue(n, ErrShutdown)
		n.mu.Unlock()
	}

	// Abort provisioning calls still in flight, terminations below wait for them to settle
	m.cancel()

	var g errgroup.Group
	for _, n := range nodes {
		g.Go(func() error {
			if err := m.terminate(ctx, n, TerminationReasonShutdown); err != nil {
				return fmt.Errorf("node '%s': %w", n.config.ID, err)
			}
			return nil
		})
	}

	err := errors.Join(g.Wait(), m.waitBackground(ctx))
	m.closeSubscribers()

	if err != nil {
		m.log.Error("Manager shutdown incomplete", "error", err)
	} else {
		m.log.Info("Manager shut down")
	}
	return err
}

func (m *Manager) waitBackground(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
