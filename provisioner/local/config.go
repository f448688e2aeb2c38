package local

import (
	"log/slog"
)

type Config struct {
	// Logger to use
	Logger *slog.Logger `json:"-"`
	// Port node workloads listen on inside their container
	ContainerPort int `json:"container-port"`
	// Host address container ports are published on, and endpoints point to
	HostAddress string `json:"host-address"`
	// Prefix of the name of every container started for a node
	NamePrefix string `json:"name-prefix"`
}

const (
	DefaultContainerPort = 8080
	DefaultHostAddress   = "127.0.0.1"
	DefaultNamePrefix    = "standby-"
)
