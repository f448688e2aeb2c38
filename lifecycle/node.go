package lifecycle

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gammadia/standby/lifecycle/internal"
	"github.com/samber/lo"
)

type NodeStatus string

const (
	NodeStatusCold         NodeStatus = "cold"
	NodeStatusProvisioning NodeStatus = "provisioning"
	NodeStatusReady        NodeStatus = "ready"
	NodeStatusActive       NodeStatus = "active"
	NodeStatusIdle         NodeStatus = "idle"
	NodeStatusDraining     NodeStatus = "draining"
	NodeStatusTerminated   NodeStatus = "terminated"
	NodeStatusError        NodeStatus = "error"
)

// Servable reports whether requests can run against a node in this status without queueing.
func (s NodeStatus) Servable() bool {
	return s == NodeStatusReady || s == NodeStatusActive || s == NodeStatusIdle
}

type HardwareType string

const (
	HardwareTypeCPU HardwareType = "cpu"
	HardwareTypeGPU HardwareType = "gpu"
)

type TEEType string

const (
	TEETypeNone     TEEType = "none"
	TEETypeSGX      TEEType = "sgx"
	TEETypeTDX      TEEType = "tdx"
	TEETypeSEVSNP   TEEType = "sev-snp"
	TEETypeNvidiaCC TEEType = "nvidia-cc"
)

var knownTEETypes = []TEEType{TEETypeNone, TEETypeSGX, TEETypeTDX, TEETypeSEVSNP, TEETypeNvidiaCC}

// NodeConfig is the static description of a compute node, supplied at registration.
type NodeConfig struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	HardwareType   HardwareType      `json:"hardwareType"`
	TEEType        TEEType           `json:"teeType"`
	GPUType        string            `json:"gpuType,omitempty"`
	GPUMemoryGB    int               `json:"gpuMemoryGb,omitempty"`
	CPUCores       int               `json:"cpuCores"`
	MemoryGB       int               `json:"memoryGb"`
	ContainerImage string            `json:"containerImage"`
	StartupCommand string            `json:"startupCommand,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	IdleTimeout    time.Duration     `json:"idleTimeout"`
	ColdStart      time.Duration     `json:"coldStart"`
	PricePerHour   float64           `json:"pricePerHour"`
	Regions        []string          `json:"regions,omitempty"`
	Priority       int               `json:"priority,omitempty"`
}

func (c NodeConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: node id must not be empty", ErrInvalidConfig)
	}
	switch c.HardwareType {
	case HardwareTypeCPU:
	case HardwareTypeGPU:
		if c.GPUType == "" {
			return fmt.Errorf("%w: node '%s' has hardware type gpu but no gpu type", ErrInvalidConfig, c.ID)
		}
	default:
		return fmt.Errorf("%w: node '%s' has unknown hardware type '%s'", ErrInvalidConfig, c.ID, c.HardwareType)
	}
	if c.TEEType != "" && !lo.Contains(knownTEETypes, c.TEEType) {
		return fmt.Errorf("%w: node '%s' has unknown tee type '%s'", ErrInvalidConfig, c.ID, c.TEEType)
	}
	if c.ContainerImage == "" {
		return fmt.Errorf("%w: node '%s' has no container image", ErrInvalidConfig, c.ID)
	}
	if c.IdleTimeout < 0 || c.ColdStart < 0 {
		return fmt.Errorf("%w: node '%s' has a negative duration", ErrInvalidConfig, c.ID)
	}
	if c.PricePerHour < 0 {
		return fmt.Errorf("%w: node '%s' has a negative price", ErrInvalidConfig, c.ID)
	}
	return nil
}

// Endpoint is where a ready node can be reached.
type Endpoint struct {
	Address  string `json:"endpoint"`
	Internal string `json:"internalEndpoint,omitempty"`
}

func (e Endpoint) IsZero() bool {
	return e.Address == ""
}

// Allocation is what a provisioner hands back for a successfully provisioned node.
type Allocation struct {
	Endpoint
	ProviderMeta map[string]any `json:"providerMeta,omitempty"`
}

// Node is a point-in-time copy of a node's configuration and runtime state.
type Node struct {
	Config NodeConfig

	Status                NodeStatus
	Endpoint              Endpoint
	ProvisioningStartedAt time.Time
	ReadySince            time.Time
	LastRequestAt         time.Time
	ActiveRequests        int
	QueuedRequests        int
	TotalRequests         uint64
	Error                 string
	ProviderMeta          map[string]any
}

// Metadata is the read-only view of a node offered to collaborators.
type Metadata struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Status         NodeStatus    `json:"status"`
	HardwareType   HardwareType  `json:"hardwareType"`
	TEEType        TEEType       `json:"teeType"`
	GPUType        string        `json:"gpuType,omitempty"`
	GPUMemoryGB    int           `json:"gpuMemoryGb,omitempty"`
	Reachable      bool          `json:"reachable"`
	TimeToReady    time.Duration `json:"timeToReady"`
	PricePerHour   float64       `json:"pricePerHour"`
	Regions        []string      `json:"regions"`
	ActiveRequests int           `json:"activeRequests"`
	QueuedRequests int           `json:"queuedRequests"`
	TotalRequests  uint64        `json:"totalRequests"`
	LastActivity   *time.Time    `json:"lastActivity,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// MetadataAt derives the metadata view of the snapshot as observed at the given instant.
func (n Node) MetadataAt(now time.Time) Metadata {
	var timeToReady time.Duration
	switch n.Status {
	case NodeStatusCold:
		timeToReady = n.Config.ColdStart
	case NodeStatusProvisioning:
		timeToReady = internal.RemainingColdStart(n.Config.ColdStart, now.Sub(n.ProvisioningStartedAt))
	}

	var lastActivity *time.Time
	if last := internal.LastActivity(n.LastRequestAt, n.ReadySince); !last.IsZero() {
		lastActivity = &last
	}

	return Metadata{
		ID:             n.Config.ID,
		Name:           lo.Ternary(n.Config.Name != "", n.Config.Name, n.Config.ID),
		Status:         n.Status,
		HardwareType:   n.Config.HardwareType,
		TEEType:        lo.Ternary(n.Config.TEEType != "", n.Config.TEEType, TEETypeNone),
		GPUType:        n.Config.GPUType,
		GPUMemoryGB:    n.Config.GPUMemoryGB,
		Reachable:      !n.Endpoint.IsZero(),
		TimeToReady:    timeToReady,
		PricePerHour:   n.Config.PricePerHour,
		Regions:        lo.Ternary(n.Config.Regions != nil, n.Config.Regions, []string{}),
		ActiveRequests: n.ActiveRequests,
		QueuedRequests: n.QueuedRequests,
		TotalRequests:  n.TotalRequests,
		LastActivity:   lastActivity,
		Error:          n.Error,
	}
}

// nodeState is the mutable record behind a registered node.
// Every field below mu is guarded by it.
type nodeState struct {
	config NodeConfig
	log    *slog.Logger

	mu sync.Mutex

	status                NodeStatus
	endpoint              Endpoint
	provisioningStartedAt time.Time
	readySince            time.Time
	lastRequestAt         time.Time
	activeRequests        int
	totalRequests         uint64
	err                   error
	providerMeta          map[string]any

	queue   *requestQueue
	monitor *idleMonitor

	provisioning *future
	terminating  *future
	drained      chan struct{}

	// generation changes on every reset to cold, so that late completions of
	// requests admitted before the reset cannot touch the new incarnation.
	generation uint64
	removed    bool
}

func (n *nodeState) snapshot() Node {
	n.mu.Lock()
	defer n.mu.Unlock()

	errMsg := ""
	if n.err != nil {
		errMsg = n.err.Error()
	}

	return Node{
		Config:                n.config,
		Status:                n.status,
		Endpoint:              n.endpoint,
		ProvisioningStartedAt: n.provisioningStartedAt,
		ReadySince:            n.readySince,
		LastRequestAt:         n.lastRequestAt,
		ActiveRequests:        n.activeRequests,
		QueuedRequests:        n.queue.Len(),
		TotalRequests:         n.totalRequests,
		Error:                 errMsg,
		ProviderMeta:          n.providerMeta,
	}
}

func (n *nodeState) idleTimeout(fallback time.Duration) time.Duration {
	return lo.Ternary(n.config.IdleTimeout > 0, n.config.IdleTimeout, fallback)
}

// reset brings every runtime field but the status back to its cold default.
func (n *nodeState) reset() {
	n.endpoint = Endpoint{}
	n.provisioningStartedAt = time.Time{}
	n.readySince = time.Time{}
	n.lastRequestAt = time.Time{}
	n.activeRequests = 0
	n.err = nil
	n.providerMeta = nil
	n.drained = nil
	n.generation++
}
