package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/flowline/flowline/pkg/models"
)

// LoadFile parses a single flow type config from a YAML file.
func LoadFile(path string) (*models.FlowTypeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flow type config: %w", err)
	}

	var cfg models.FlowTypeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse flow type config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadDir parses every .yaml/.yml file in dir as a flow type config.
func LoadDir(dir string) ([]*models.FlowTypeConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read flow type config dir: %w", err)
	}

	var configs []*models.FlowTypeConfig
	for _, e := range entries {
		if e.IsDir() || !isYAML(e.Name()) {
			continue
		}
		cfg, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// RegisterDir loads and registers every flow type config in dir.
// Returns the number of configs registered.
func RegisterDir(r *Registry, dir string) (int, error) {
	configs, err := LoadDir(dir)
	if err != nil {
		return 0, err
	}

	for _, cfg := range configs {
		if err := r.Register(cfg); err != nil {
			return 0, err
		}
	}
	return len(configs), nil
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
