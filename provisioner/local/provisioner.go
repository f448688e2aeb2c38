package local

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/docker/docker/client"
	"github.com/gammadia/standby/lifecycle"
	"github.com/gammadia/standby/provisioner/internal"
	"github.com/samber/lo"
)

// Provisioner runs every node as a container on the local Docker daemon.
type Provisioner struct {
	log    *slog.Logger
	config Config
	docker internal.DockerClient

	mu         sync.Mutex
	containers map[string]string
}

// Provisioner implements lifecycle.Provisioner
var _ lifecycle.Provisioner = (*Provisioner)(nil)

func NewProvisioner(config Config) (*Provisioner, error) {
	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to init docker client: %w", err)
	}

	return NewProvisionerWithClient(docker, config), nil
}

func NewProvisionerWithClient(docker internal.DockerClient, config Config) *Provisioner {
	config.ContainerPort = lo.Ternary(config.ContainerPort > 0, config.ContainerPort, DefaultContainerPort)
	config.HostAddress = lo.Ternary(config.HostAddress != "", config.HostAddress, DefaultHostAddress)
	config.NamePrefix = lo.Ternary(config.NamePrefix != "", config.NamePrefix, DefaultNamePrefix)
	config.Logger = lo.Ternary(config.Logger != nil, config.Logger, slog.Default())

	return &Provisioner{
		log:    config.Logger,
		config: config,
		docker: docker,

		containers: make(map[string]string),
	}
}

func (lp *Provisioner) containerName(nodeID string) string {
	return lp.config.NamePrefix + nodeID
}

func (lp *Provisioner) Provision(ctx context.Context, config lifecycle.NodeConfig) (lifecycle.Allocation, error) {
	log := lp.log.With("node", config.ID)

	running, err := internal.RunContainer(ctx, lp.docker, internal.ContainerSpec{
		Node:    config.ID,
		Name:    lp.containerName(config.ID),
		Image:   config.ContainerImage,
		Command: config.StartupCommand,
		Env:     config.Env,

		Port:   lp.config.ContainerPort,
		HostIP: lp.config.HostAddress,

		CPUCores: config.CPUCores,
		MemoryGB: config.MemoryGB,
		GPU:      config.HardwareType == lifecycle.HardwareTypeGPU,
	}, log)
	if err != nil {
		return lifecycle.Allocation{}, err
	}

	lp.mu.Lock()
	lp.containers[config.ID] = running.ID
	lp.mu.Unlock()

	allocation := lifecycle.Allocation{
		Endpoint: lifecycle.Endpoint{
			Address: "http://" + net.JoinHostPort(lp.config.HostAddress, running.HostPort),
		},
		ProviderMeta: map[string]any{
			"provider":    "docker",
			"containerId": running.ID,
			"hostPort":    running.HostPort,
		},
	}
	if running.IPAddress != "" {
		allocation.Internal = "http://" + net.JoinHostPort(running.IPAddress, strconv.Itoa(lp.config.ContainerPort))
	}

	log.Info("Node container started", "container", running.ID, "endpoint", allocation.Address)
	return allocation, nil
}

// Terminate removes the node's container by name, so containers left over by
// a previous run of the daemon are cleaned up as well.
func (lp *Provisioner) Terminate(ctx context.Context, nodeID string) error {
	if err := internal.RemoveContainer(ctx, lp.docker, lp.containerName(nodeID)); err != nil {
		return fmt.Errorf("failed to remove container of node '%s': %w", nodeID, err)
	}

	lp.mu.Lock()
	delete(lp.containers, nodeID)
	lp.mu.Unlock()

	lp.log.Debug("Node container removed", "node", nodeID)
	return nil
}

// Containers returns the id of the container of every node provisioned so far.
func (lp *Provisioner) Containers() map[string]string {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	return lo.Assign(lp.containers)
}

func (lp *Provisioner) Close() error {
	if closer, ok := lp.docker.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
