package openstack

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/alessio/shellescape"
	"github.com/docker/docker/client"
	"github.com/gammadia/standby/lifecycle"
	"github.com/gammadia/standby/provisioner/internal"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"golang.org/x/crypto/ssh"
)

const (
	pollInterval  = 5 * time.Second
	retryInterval = 2 * time.Second
	dockerTimeout = time.Minute
)

// node drives one server from creation to a running node container.
type node struct {
	provisioner *Provisioner
	config      lifecycle.NodeConfig
	serverID    string
	log         *slog.Logger
}

func (n *node) start(ctx context.Context) (lifecycle.Allocation, error) {
	cfg := n.provisioner.config

	ctx, cancel := context.WithTimeout(ctx, cfg.ServerTimeout)
	defer cancel()

	if err := n.waitForActive(ctx); err != nil {
		return lifecycle.Allocation{}, err
	}

	address, err := n.address()
	if err != nil {
		return lifecycle.Allocation{}, err
	}

	sshClient, err := n.dial(ctx, address)
	if err != nil {
		return lifecycle.Allocation{}, err
	}
	defer sshClient.Close()

	if err := n.waitForDocker(sshClient); err != nil {
		return lifecycle.Allocation{}, err
	}

	docker, err := client.NewClientWithOpts(
		client.WithHost(cfg.DockerHost),
		client.WithAPIVersionNegotiation(),
		client.WithDialContext(func(ctx context.Context, network, addr string) (net.Conn, error) {
			return sshClient.Dial(network, addr)
		}),
	)
	if err != nil {
		return lifecycle.Allocation{}, fmt.Errorf("failed to initialize docker client: %w", err)
	}
	defer docker.Close()

	running, err := internal.RunContainer(ctx, docker, internal.ContainerSpec{
		Node:    n.config.ID,
		Name:    "standby-" + n.config.ID,
		Image:   n.config.ContainerImage,
		Command: n.config.StartupCommand,
		Env:     n.config.Env,
		Port:    cfg.ContainerPort,

		CPUCores: n.config.CPUCores,
		MemoryGB: n.config.MemoryGB,
		GPU:      n.config.HardwareType == lifecycle.HardwareTypeGPU,
	}, n.log)
	if err != nil {
		return lifecycle.Allocation{}, err
	}

	n.log.Info("Node container started on server", "address", address, "hostPort", running.HostPort)
	return lifecycle.Allocation{
		Endpoint: lifecycle.Endpoint{
			Address:  "http://" + net.JoinHostPort(address, running.HostPort),
			Internal: "http://" + net.JoinHostPort(address, strconv.Itoa(cfg.ContainerPort)),
		},
		ProviderMeta: map[string]any{
			"provider":    "openstack",
			"serverId":    n.serverID,
			"address":     address,
			"containerId": running.ID,
		},
	}, nil
}

func (n *node) waitForActive(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		server, err := servers.Get(n.provisioner.client, n.serverID).Extract()
		if err != nil {
			return fmt.Errorf("failed to get server '%s': %w", n.serverID, err)
		}

		switch server.Status {
		case "ACTIVE":
			return nil
		case "ERROR":
			return fmt.Errorf("server '%s' failed to boot: %s", n.serverID, server.Fault.Message)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("server '%s' still %s: %w", n.serverID, server.Status, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (n *node) address() (string, error) {
	pages, err := servers.ListAddresses(n.provisioner.client, n.serverID).AllPages()
	if err != nil {
		return "", fmt.Errorf("failed to get server addresses for '%s': %w", n.serverID, err)
	}

	allAddresses, err := servers.ExtractAddresses(pages)
	if err != nil {
		return "", fmt.Errorf("failed to extract server addresses for '%s': %w", n.serverID, err)
	}

	for _, addresses := range allAddresses {
		for _, address := range addresses {
			if address.Version == 4 {
				return address.Address, nil
			}
		}
	}
	return "", fmt.Errorf("failed to find IPv4 address for server '%s'", n.serverID)
}

func (n *node) dial(ctx context.Context, address string) (*ssh.Client, error) {
	config := &ssh.ClientConfig{
		User:            n.provisioner.config.SSHUsername,
		Timeout:         5 * time.Second,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(n.provisioner.privateKey),
		},
	}

	policy := internal.Policy{
		MaxAttempts: 30,
		Backoff:     func(int) time.Duration { return retryInterval },
	}

	sshClient, err := internal.RetryResult(ctx, policy, func(attempt int) (*ssh.Client, error) {
		sshClient, err := ssh.Dial("tcp", net.JoinHostPort(address, "22"), config)
		if err != nil {
			n.log.Debug("Connection to server refused, retrying", "attempt", attempt+1, "error", err)
		}
		return sshClient, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server '%s': %w", address, err)
	}
	return sshClient, nil
}

// dockerWaitCommand blocks until the Docker daemon answers, or fails after timeout.
func dockerWaitCommand(timeout time.Duration) string {
	script := fmt.Sprintf("until docker info >/dev/null 2>&1; do sleep %d; done", int(retryInterval.Seconds()))
	return fmt.Sprintf("timeout %d sh -c %s", int(timeout.Seconds()), shellescape.Quote(script))
}

func (n *node) waitForDocker(sshClient *ssh.Client) error {
	session, err := sshClient.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create SSH session: %w", err)
	}
	defer session.Close()

	n.log.Debug("Wait for Docker daemon to start", "wait", dockerTimeout)
	if output, err := session.CombinedOutput(dockerWaitCommand(dockerTimeout)); err != nil {
		return fmt.Errorf("docker daemon did not start within %s: %w: %s", dockerTimeout, err, output)
	}
	return nil
}
