package internal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1" // for DockerClient interface
	"github.com/samber/lo"
)

// NodeLabel marks containers started for a node, its value is the node id.
const NodeLabel = "standby.node"

// DockerClient abstracts the Docker SDK methods used to run node containers,
// enabling mock-based testing without a real Docker daemon.
type DockerClient interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
}

// DockerPolicy retries Docker API calls quickly (100ms, 200ms, ...).
var DockerPolicy = Policy{
	MaxAttempts: 3,
	Backoff: func(attempt int) time.Duration {
		return time.Duration(100*(1<<attempt)) * time.Millisecond
	},
}

// ContainerSpec describes the single container serving a node.
type ContainerSpec struct {
	Node    string
	Name    string
	Image   string
	Command string
	Env     map[string]string

	// Port the workload listens on inside the container
	Port int
	// HostIP the port is published on, empty for every interface
	HostIP string

	CPUCores int
	MemoryGB int
	GPU      bool
}

// RunningContainer is where a started node container can be reached.
type RunningContainer struct {
	ID        string
	HostPort  string
	IPAddress string
}

// RunContainer pulls the image if needed, replaces any leftover container with
// the same name and starts a fresh one with its port published on a random host port.
func RunContainer(ctx context.Context, docker DockerClient, spec ContainerSpec, log *slog.Logger) (RunningContainer, error) {
	// tryTo is a best-effort cleanup helper: logs errors but doesn't fail the provisioning.
	tryTo := func(what string, thunk func() error) {
		if err := thunk(); err != nil {
			log.Error("Failed to "+what, "error", err)
		}
	}

	if err := EnsureImage(ctx, docker, spec.Image, log); err != nil {
		return RunningContainer{}, err
	}

	if err := RemoveContainer(ctx, docker, spec.Name); err != nil {
		return RunningContainer{}, fmt.Errorf("failed to remove leftover container '%s': %w", spec.Name, err)
	}

	port := nat.Port(fmt.Sprintf("%d/tcp", spec.Port))
	config, hostConfig := containerConfig(spec, port)

	resp, err := RetryResult(ctx, DockerPolicy, func(int) (container.CreateResponse, error) {
		return docker.ContainerCreate(ctx, config, hostConfig, nil, nil, spec.Name)
	})
	if err != nil {
		return RunningContainer{}, fmt.Errorf("failed to create docker container '%s': %w", spec.Name, err)
	}
	for _, warning := range resp.Warnings {
		log.Warn("Docker warning", "container", spec.Name, "warning", warning)
	}

	started := false
	defer func() {
		if !started {
			// Uses context.Background() so cleanup isn't skipped if ctx is already cancelled
			tryTo("remove failed container", func() error {
				return RemoveContainer(context.Background(), docker, resp.ID)
			})
		}
	}()

	if err := Retry(ctx, DockerPolicy, func(int) error {
		return docker.ContainerStart(ctx, resp.ID, container.StartOptions{})
	}); err != nil {
		return RunningContainer{}, fmt.Errorf("failed to start docker container '%s': %w", spec.Name, err)
	}

	inspect, err := RetryResult(ctx, DockerPolicy, func(int) (container.InspectResponse, error) {
		return docker.ContainerInspect(ctx, resp.ID)
	})
	if err != nil {
		return RunningContainer{}, fmt.Errorf("failed to inspect docker container '%s': %w", spec.Name, err)
	}
	if inspect.NetworkSettings == nil {
		return RunningContainer{}, fmt.Errorf("docker container '%s' has no network settings", spec.Name)
	}

	bindings := inspect.NetworkSettings.Ports[port]
	if len(bindings) == 0 || bindings[0].HostPort == "" {
		return RunningContainer{}, fmt.Errorf("docker container '%s' did not publish port %s", spec.Name, port)
	}

	running := RunningContainer{ID: resp.ID, HostPort: bindings[0].HostPort}
	for _, name := range slices.Sorted(maps.Keys(inspect.NetworkSettings.Networks)) {
		if settings := inspect.NetworkSettings.Networks[name]; settings != nil && settings.IPAddress != "" {
			running.IPAddress = settings.IPAddress
			break
		}
	}

	started = true
	log.Debug("Container started", "container", spec.Name, "id", resp.ID, "hostPort", running.HostPort)
	return running, nil
}

func containerConfig(spec ContainerSpec, port nat.Port) (*container.Config, *container.HostConfig) {
	config := &container.Config{
		Image: spec.Image,
		Env: lo.MapToSlice(spec.Env, func(key, value string) string {
			return fmt.Sprintf("%s=%s", key, value)
		}),
		Labels:       map[string]string{NodeLabel: spec.Node},
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}
	slices.Sort(config.Env)
	if spec.Command != "" {
		config.Cmd = []string{"sh", "-c", spec.Command}
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostIP: spec.HostIP}},
		},
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
		Resources: container.Resources{
			NanoCPUs: int64(spec.CPUCores) * 1e9,
			Memory:   int64(spec.MemoryGB) << 30,
		},
	}
	if spec.GPU {
		hostConfig.DeviceRequests = []container.DeviceRequest{{
			Driver:       "nvidia",
			Count:        -1,
			Capabilities: [][]string{{"gpu"}},
		}}
	}

	return config, hostConfig
}

// EnsureImage pulls the image unless it is already present.
func EnsureImage(ctx context.Context, docker DockerClient, ref string, log *slog.Logger) error {
	list, err := RetryResult(ctx, DockerPolicy, func(int) ([]image.Summary, error) {
		return docker.ImageList(ctx, image.ListOptions{
			Filters: filters.NewArgs(filters.Arg("reference", ref)),
		})
	})
	if err != nil {
		return fmt.Errorf("failed to list docker images: %w", err)
	}
	if len(list) > 0 {
		log.Debug("Image already present", "image", ref)
		return nil
	}

	log.Info("Pulling image", "image", ref)
	reader, err := RetryResult(ctx, Policy{MaxAttempts: 4, Backoff: DockerPolicy.Backoff}, func(int) (io.ReadCloser, error) {
		return docker.ImagePull(ctx, ref, image.PullOptions{})
	})
	if err != nil {
		return fmt.Errorf("failed to pull docker image '%s': %w", ref, err)
	}
	defer reader.Close()

	// The pull only completes once its progress stream has been consumed
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed while pulling docker image '%s': %w", ref, err)
	}
	return nil
}

// RemoveContainer force-removes the container. A missing container is not an error.
func RemoveContainer(ctx context.Context, docker DockerClient, nameOrID string) error {
	err := Retry(ctx, DockerPolicy, func(int) error {
		err := docker.ContainerRemove(ctx, nameOrID, container.RemoveOptions{RemoveVolumes: true, Force: true})
		if cerrdefs.IsNotFound(err) {
			return Permanent(err)
		}
		return err
	})
	if cerrdefs.IsNotFound(err) {
		return nil
	}
	return err
}
