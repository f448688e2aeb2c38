package catalog

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gammadia/standby/lifecycle"
	"gopkg.in/yaml.v3"
)

type file struct {
	Nodes []NodeSpec `yaml:"nodes"`
}

// Decode reads a YAML catalog. Every node is validated and ids must be unique.
func Decode(r io.Reader) ([]lifecycle.NodeConfig, error) {
	var catalog file

	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&catalog); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}

	seen := make(map[string]struct{}, len(catalog.Nodes))
	configs := make([]lifecycle.NodeConfig, 0, len(catalog.Nodes))
	for i, spec := range catalog.Nodes {
		config, err := spec.NodeConfig()
		if err != nil {
			return nil, fmt.Errorf("node #%d: %w", i+1, err)
		}
		if _, ok := seen[config.ID]; ok {
			return nil, fmt.Errorf("node #%d: %w: '%s' is declared twice", i+1, lifecycle.ErrNodeExists, config.ID)
		}
		seen[config.ID] = struct{}{}
		configs = append(configs, config)
	}
	return configs, nil
}

// LoadFile reads the YAML catalog at path.
func LoadFile(path string) ([]lifecycle.NodeConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()

	configs, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return configs, nil
}
