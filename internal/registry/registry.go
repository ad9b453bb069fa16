// Package registry holds the process-wide flow type configuration registry.
// A Registry is an explicitly constructed instance passed by reference to
// its consumers; there is no hidden module-level state.
package registry

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/flowline/flowline/pkg/models"
)

// ErrNotFound indicates the named flow type is not registered.
var ErrNotFound = errors.New("flow type not registered")

// ValidationError reports every violation found in a flow type config, not
// just the first one.
type ValidationError struct {
	FlowType   string
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid flow type config %q: %s", e.FlowType, strings.Join(e.Violations, "; "))
}

// Registry stores immutable flow type configurations keyed by name.
type Registry struct {
	mu      sync.RWMutex
	configs map[string]*models.FlowTypeConfig
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{configs: make(map[string]*models.FlowTypeConfig)}
}

// Register validates and stores a flow type configuration. Registering an
// identical name+version again is a no-op; a different version replaces the
// existing config with a logged warning.
func (r *Registry) Register(cfg *models.FlowTypeConfig) error {
	if err := validate(cfg); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.configs[cfg.Name]; ok {
		if existing.Version == cfg.Version {
			return nil
		}
		log.Printf("[registry] replacing flow type %q version %s with version %s", cfg.Name, existing.Version, cfg.Version)
	}
	r.configs[cfg.Name] = cfg
	return nil
}

// GetConfig returns the config for the named flow type.
func (r *Registry) GetConfig(name string) (*models.FlowTypeConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.configs[name]
	if !ok {
		return nil, fmt.Errorf("flow type %q: %w", name, ErrNotFound)
	}
	return cfg, nil
}

// IsPhaseValid reports whether phase belongs to the named flow type.
func (r *Registry) IsPhaseValid(name, phase string) bool {
	cfg, err := r.GetConfig(name)
	if err != nil {
		return false
	}
	return cfg.Phase(phase) != nil
}

// GetNextPhase returns the phase following current in the flow type's
// sequence. The second return is false when current is unknown or last.
func (r *Registry) GetNextPhase(name, current string) (string, bool) {
	cfg, err := r.GetConfig(name)
	if err != nil {
		return "", false
	}
	return cfg.NextPhase(current)
}

// GetPhaseIndex returns the position of phase in the flow type's sequence,
// or -1 if either is unknown.
func (r *Registry) GetPhaseIndex(name, phase string) int {
	cfg, err := r.GetConfig(name)
	if err != nil {
		return -1
	}
	return cfg.PhaseIndex(phase)
}

// ListFlowTypes returns the names of all registered flow types.
func (r *Registry) ListFlowTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	return names
}

// Unregister removes a single flow type. Intended for test teardown.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.configs, name)
}

// Clear removes all registered flow types. Intended for test teardown.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs = make(map[string]*models.FlowTypeConfig)
}

// validate collects all violations in cfg into a single ValidationError.
func validate(cfg *models.FlowTypeConfig) error {
	var violations []string

	if cfg.Name == "" {
		violations = append(violations, "name must not be empty")
	}
	if len(cfg.Phases) == 0 {
		violations = append(violations, "at least one phase is required")
	}

	seen := make(map[string]bool, len(cfg.Phases))
	for i, p := range cfg.Phases {
		if p.Name == "" {
			violations = append(violations, fmt.Sprintf("phase %d has an empty name", i))
			continue
		}
		if seen[p.Name] {
			violations = append(violations, fmt.Sprintf("duplicate phase name %q", p.Name))
		}
		seen[p.Name] = true
		if p.DisplayName == "" {
			violations = append(violations, fmt.Sprintf("phase %q has an empty display name", p.Name))
		}
	}
	for _, p := range cfg.Phases {
		for _, dep := range p.Dependencies {
			if !seen[dep] {
				violations = append(violations, fmt.Sprintf("phase %q depends on unknown phase %q", p.Name, dep))
			}
		}
	}

	if len(violations) > 0 {
		return &ValidationError{FlowType: cfg.Name, Violations: violations}
	}
	return nil
}
