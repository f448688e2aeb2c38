package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gammadia/standby/lifecycle"
	"github.com/gammadia/standby/provisioner/internal"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/time/rate"
)

const (
	provisionPath = "/api/v1/compute/provision"
	terminatePath = "/api/v1/compute/terminate"
)

// Provisioner delegates nodes to the external provisioning service.
type Provisioner struct {
	log      *slog.Logger
	config   Config
	endpoint *url.URL
	client   *http.Client
	limiter  *rate.Limiter
	policy   internal.Policy
}

// Provisioner implements lifecycle.Provisioner
var _ lifecycle.Provisioner = (*Provisioner)(nil)

func NewProvisioner(config Config) (*Provisioner, error) {
	endpoint, err := url.Parse(strings.TrimRight(config.Endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid provisioning service endpoint '%s': %w", config.Endpoint, err)
	}
	if endpoint.Scheme != "http" && endpoint.Scheme != "https" {
		return nil, fmt.Errorf("invalid provisioning service endpoint '%s': scheme must be http or https", config.Endpoint)
	}

	config.MaxAttempts = lo.Ternary(config.MaxAttempts > 0, config.MaxAttempts, DefaultMaxAttempts)
	config.Timeout = lo.Ternary(config.Timeout > 0, config.Timeout, DefaultTimeout)
	config.Logger = lo.Ternary(config.Logger != nil, config.Logger, slog.Default())

	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}

	return &Provisioner{
		log:      config.Logger,
		config:   config,
		endpoint: endpoint,
		client:   &http.Client{Timeout: config.Timeout},
		limiter:  rate.NewLimiter(limit, max(1, int(config.RateLimit))),
		policy:   internal.Policy{MaxAttempts: config.MaxAttempts, Backoff: internal.ExponentialBackoff},
	}, nil
}

type provisionRequest struct {
	NodeID         string                 `json:"nodeId"`
	ContainerImage string                 `json:"containerImage"`
	StartupCommand string                 `json:"startupCommand,omitempty"`
	Env            map[string]string      `json:"env,omitempty"`
	HardwareType   lifecycle.HardwareType `json:"hardwareType"`
	TEEType        lifecycle.TEEType      `json:"teeType"`
	GPUType        string                 `json:"gpuType"`
	GPUMemoryGB    int                    `json:"gpuMemoryGb,omitempty"`
	CPUCores       int                    `json:"cpuCores"`
	MemoryGB       int                    `json:"memoryGb"`
	Priority       int                    `json:"priority,omitempty"`
}

type terminateRequest struct {
	NodeID string `json:"nodeId"`
}

func (p *Provisioner) Provision(ctx context.Context, config lifecycle.NodeConfig) (lifecycle.Allocation, error) {
	var allocation lifecycle.Allocation

	err := p.call(ctx, provisionPath, provisionRequest{
		NodeID:         config.ID,
		ContainerImage: config.ContainerImage,
		StartupCommand: config.StartupCommand,
		Env:            config.Env,
		HardwareType:   config.HardwareType,
		TEEType:        lo.Ternary(config.TEEType != "", config.TEEType, lifecycle.TEETypeNone),
		GPUType:        config.GPUType,
		GPUMemoryGB:    config.GPUMemoryGB,
		CPUCores:       config.CPUCores,
		MemoryGB:       config.MemoryGB,
		Priority:       config.Priority,
	}, &allocation)
	if err != nil {
		return lifecycle.Allocation{}, fmt.Errorf("failed to provision node '%s': %w", config.ID, err)
	}

	return allocation, nil
}

func (p *Provisioner) Terminate(ctx context.Context, nodeID string) error {
	if err := p.call(ctx, terminatePath, terminateRequest{NodeID: nodeID}, nil); err != nil {
		return fmt.Errorf("failed to terminate node '%s': %w", nodeID, err)
	}
	return nil
}

// call POSTs payload to the service, retrying per the configured policy, and
// decodes a successful response into out unless it is nil.
func (p *Provisioner) call(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	target := p.endpoint.JoinPath(path).String()
	requestID := uuid.NewString()
	log := p.log.With("request", requestID, "url", target)

	resp, err := internal.Do(ctx, p.client, p.policy, func(ctx context.Context) (*http.Request, error) {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Request-Id", requestID)
		if p.config.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
		}

		log.Debug("Calling provisioning service")
		return req, nil
	})
	if err != nil {
		log.Warn("Provisioning service call failed", "error", err)
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", target, err)
	}
	return nil
}
