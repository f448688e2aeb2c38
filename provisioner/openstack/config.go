package openstack

import (
	"log/slog"
	"time"

	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
)

type Config struct {
	Logger *slog.Logger `json:"-"`

	Image          string            `json:"image"`
	Flavor         string            `json:"flavor"`
	GPUFlavor      string            `json:"gpu-flavor"`
	Networks       []servers.Network `json:"networks"`
	SecurityGroups []string          `json:"security-groups"`

	SSHUsername   string        `json:"ssh-username"`
	DockerHost    string        `json:"docker-host"`
	ContainerPort int           `json:"container-port"`
	ServerTimeout time.Duration `json:"server-timeout"`
}

const (
	DefaultDockerHost    = "unix:///var/run/docker.sock"
	DefaultContainerPort = 8080
	DefaultServerTimeout = 5 * time.Minute
)
