package catalog

import (
	"fmt"
	"time"

	"github.com/gammadia/standby/lifecycle"
)

// NodeSpec is the serialized form of a node configuration, as found in
// catalog files, in etcd and in admin API requests. Durations are Go duration strings.
type NodeSpec struct {
	ID             string            `yaml:"id" json:"id"`
	Name           string            `yaml:"name,omitempty" json:"name,omitempty"`
	HardwareType   string            `yaml:"hardwareType" json:"hardwareType"`
	TEEType        string            `yaml:"teeType,omitempty" json:"teeType,omitempty"`
	GPUType        string            `yaml:"gpuType,omitempty" json:"gpuType,omitempty"`
	GPUMemoryGB    int               `yaml:"gpuMemoryGb,omitempty" json:"gpuMemoryGb,omitempty"`
	CPUCores       int               `yaml:"cpuCores" json:"cpuCores"`
	MemoryGB       int               `yaml:"memoryGb" json:"memoryGb"`
	ContainerImage string            `yaml:"containerImage" json:"containerImage"`
	StartupCommand string            `yaml:"startupCommand,omitempty" json:"startupCommand,omitempty"`
	Env            map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	IdleTimeout    string            `yaml:"idleTimeout,omitempty" json:"idleTimeout,omitempty"`
	ColdStart      string            `yaml:"coldStart,omitempty" json:"coldStart,omitempty"`
	PricePerHour   float64           `yaml:"pricePerHour,omitempty" json:"pricePerHour,omitempty"`
	Regions        []string          `yaml:"regions,omitempty" json:"regions,omitempty"`
	Priority       int               `yaml:"priority,omitempty" json:"priority,omitempty"`
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s '%s': %w", lifecycle.ErrInvalidConfig, field, value, err)
	}
	return d, nil
}

// NodeConfig converts the declaration and validates the result.
func (s NodeSpec) NodeConfig() (lifecycle.NodeConfig, error) {
	idleTimeout, err := parseDuration("idleTimeout", s.IdleTimeout)
	if err != nil {
		return lifecycle.NodeConfig{}, err
	}
	coldStart, err := parseDuration("coldStart", s.ColdStart)
	if err != nil {
		return lifecycle.NodeConfig{}, err
	}

	config := lifecycle.NodeConfig{
		ID:             s.ID,
		Name:           s.Name,
		HardwareType:   lifecycle.HardwareType(s.HardwareType),
		TEEType:        lifecycle.TEEType(s.TEEType),
		GPUType:        s.GPUType,
		GPUMemoryGB:    s.GPUMemoryGB,
		CPUCores:       s.CPUCores,
		MemoryGB:       s.MemoryGB,
		ContainerImage: s.ContainerImage,
		StartupCommand: s.StartupCommand,
		Env:            s.Env,
		IdleTimeout:    idleTimeout,
		ColdStart:      coldStart,
		PricePerHour:   s.PricePerHour,
		Regions:        s.Regions,
		Priority:       s.Priority,
	}
	if err := config.Validate(); err != nil {
		return lifecycle.NodeConfig{}, err
	}
	return config, nil
}

// SpecOf is the inverse of NodeSpec.NodeConfig.
func SpecOf(config lifecycle.NodeConfig) NodeSpec {
	spec := NodeSpec{
		ID:             config.ID,
		Name:           config.Name,
		HardwareType:   string(config.HardwareType),
		TEEType:        string(config.TEEType),
		GPUType:        config.GPUType,
		GPUMemoryGB:    config.GPUMemoryGB,
		CPUCores:       config.CPUCores,
		MemoryGB:       config.MemoryGB,
		ContainerImage: config.ContainerImage,
		StartupCommand: config.StartupCommand,
		Env:            config.Env,
		PricePerHour:   config.PricePerHour,
		Regions:        config.Regions,
		Priority:       config.Priority,
	}
	if config.IdleTimeout > 0 {
		spec.IdleTimeout = config.IdleTimeout.String()
	}
	if config.ColdStart > 0 {
		spec.ColdStart = config.ColdStart.String()
	}
	return spec
}
