package openstack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gammadia/standby/lifecycle"
	"github.com/gammadia/standby/namegen"
	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/keypairs"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"github.com/samber/lo"
	"golang.org/x/crypto/ssh"
)

// Provisioner boots one OpenStack server per node and runs the node's
// container on it through the server's Docker daemon.
type Provisioner struct {
	name   namegen.ID
	config Config
	client *gophercloud.ServiceClient
	log    *slog.Logger

	keyName    string
	privateKey ssh.Signer

	mu      sync.Mutex
	servers map[string]string
}

// Provisioner implements lifecycle.Provisioner
var _ lifecycle.Provisioner = (*Provisioner)(nil)

func NewProvisioner(config Config) (*Provisioner, error) {
	if config.Image == "" || config.Flavor == "" {
		return nil, fmt.Errorf("openstack image and flavor are required")
	}
	config.DockerHost = lo.Ternary(config.DockerHost != "", config.DockerHost, DefaultDockerHost)
	config.ContainerPort = lo.Ternary(config.ContainerPort > 0, config.ContainerPort, DefaultContainerPort)
	config.ServerTimeout = lo.Ternary(config.ServerTimeout > 0, config.ServerTimeout, DefaultServerTimeout)
	config.Logger = lo.Ternary(config.Logger != nil, config.Logger, slog.Default())

	opts, err := openstack.AuthOptionsFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to get auth options from env: %w", err)
	}

	provider, err := openstack.AuthenticatedClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get authenticated client: %w", err)
	}

	client, err := openstack.NewComputeV2(provider, gophercloud.EndpointOpts{
		Region: os.Getenv("OS_REGION_NAME"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get compute client: %w", err)
	}

	name := namegen.Get()
	provisioner := &Provisioner{
		name:   name,
		config: config,
		client: client,
		log:    config.Logger.With("provisioner", name.String()),

		keyName: name.Prefixed("standby"),
		servers: make(map[string]string),
	}

	keypair, err := keypairs.Create(client, keypairs.CreateOpts{Name: provisioner.keyName}).Extract()
	if err != nil {
		return nil, fmt.Errorf("failed to create keypair: %w", err)
	}
	provisioner.privateKey, err = ssh.ParsePrivateKey([]byte(keypair.PrivateKey))
	if err != nil {
		provisioner.deleteKeypair()
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return provisioner, nil
}

// serverName is deterministic so that servers of a previous daemon run can be found again.
func serverName(nodeID string) string {
	return "standby-" + nodeID
}

func flavorFor(config Config, node lifecycle.NodeConfig) string {
	if node.HardwareType == lifecycle.HardwareTypeGPU && config.GPUFlavor != "" {
		return config.GPUFlavor
	}
	return config.Flavor
}

func (p *Provisioner) Provision(ctx context.Context, config lifecycle.NodeConfig) (lifecycle.Allocation, error) {
	name := serverName(config.ID)
	log := p.log.With("node", config.ID, "server", name)

	server, err := servers.Create(p.client, keypairs.CreateOptsExt{
		CreateOptsBuilder: servers.CreateOpts{
			Name:           name,
			ImageRef:       p.config.Image,
			FlavorRef:      flavorFor(p.config, config),
			Networks:       p.config.Networks,
			SecurityGroups: p.config.SecurityGroups,
			Metadata: map[string]string{
				"standby-provisioner":    p.name.String(),
				"standby-node":           config.ID,
				"standby-provisioned-at": time.Now().Format(time.RFC3339),
			},
		},
		KeyName: p.keyName,
	}).Extract()
	if err != nil {
		return lifecycle.Allocation{}, fmt.Errorf("failed to create server '%s': %w", name, err)
	}

	p.mu.Lock()
	p.servers[config.ID] = server.ID
	p.mu.Unlock()

	log.Info("Created server, waiting for it to become ready")
	n := &node{
		provisioner: p,
		config:      config,
		serverID:    server.ID,
		log:         log,
	}

	allocation, err := n.start(ctx)
	if err != nil {
		if deleteErr := p.deleteServer(server.ID); deleteErr != nil {
			log.Error("Failed to delete server after failed provisioning", "error", deleteErr)
		}
		p.forget(config.ID)
		return lifecycle.Allocation{}, err
	}

	return allocation, nil
}

func (p *Provisioner) Terminate(ctx context.Context, nodeID string) error {
	p.mu.Lock()
	serverID, ok := p.servers[nodeID]
	p.mu.Unlock()

	ids := []string{serverID}
	if !ok {
		found, err := p.findServers(nodeID)
		if err != nil {
			return err
		}
		ids = found
	}

	var errs []error
	for _, id := range ids {
		if err := p.deleteServer(id); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete server '%s': %w", id, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	p.forget(nodeID)
	p.log.Info("Deleted node server", "node", nodeID, "servers", len(ids))
	return nil
}

func (p *Provisioner) findServers(nodeID string) ([]string, error) {
	pages, err := servers.List(p.client, servers.ListOpts{Name: "^" + serverName(nodeID) + "$"}).AllPages()
	if err != nil {
		return nil, fmt.Errorf("failed to list servers of node '%s': %w", nodeID, err)
	}

	found, err := servers.ExtractServers(pages)
	if err != nil {
		return nil, fmt.Errorf("failed to extract servers of node '%s': %w", nodeID, err)
	}

	return lo.Map(found, func(server servers.Server, _ int) string { return server.ID }), nil
}

func (p *Provisioner) deleteServer(id string) error {
	err := servers.Delete(p.client, id).ExtractErr()
	if errors.As(err, &gophercloud.ErrDefault404{}) {
		return nil
	}
	return err
}

func (p *Provisioner) forget(nodeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.servers, nodeID)
}

func (p *Provisioner) deleteKeypair() {
	if err := keypairs.Delete(p.client, p.keyName, nil).ExtractErr(); err != nil {
		p.log.Error("Failed to delete keypair", "keypair", p.keyName, "error", err)
	}
}

// Close releases the provisioner's keypair. Servers are left to the lifecycle manager.
func (p *Provisioner) Close() error {
	p.deleteKeypair()
	return nil
}
