package flow

import (
	"errors"
	"fmt"

	"github.com/flowline/flowline/pkg/models"
)

// ErrCycleDetected indicates a circular dependency between phases.
var ErrCycleDetected = errors.New("circular phase dependency detected")

// DependencyGraph is a directed acyclic graph over a flow type's phases.
// Edges represent "must be complete before" relationships.
type DependencyGraph struct {
	// edges maps phase name to the names of phases it depends on.
	edges map[string][]string
}

// BuildDependencyGraph constructs the graph from a phase sequence.
// Returns an error if a phase depends on an unknown phase or a cycle exists.
func BuildDependencyGraph(phases []models.PhaseConfig) (*DependencyGraph, error) {
	g := &DependencyGraph{edges: make(map[string][]string, len(phases))}

	for _, p := range phases {
		g.edges[p.Name] = nil
	}
	for _, p := range phases {
		for _, dep := range p.Dependencies {
			if _, exists := g.edges[dep]; !exists {
				return nil, fmt.Errorf("phase %s depends on unknown phase %s", p.Name, dep)
			}
			g.edges[p.Name] = append(g.edges[p.Name], dep)
		}
	}

	if g.hasCycle() {
		return nil, ErrCycleDetected
	}
	return g, nil
}

// MissingDependencies returns the dependencies of phase that are not yet
// complete, in declaration order.
func (g *DependencyGraph) MissingDependencies(phase string, completed map[string]bool) []string {
	var missing []string
	for _, dep := range g.edges[phase] {
		if !completed[dep] {
			missing = append(missing, dep)
		}
	}
	return missing
}

// CanStart reports whether every dependency of phase is complete.
func (g *DependencyGraph) CanStart(phase string, completed map[string]bool) bool {
	return len(g.MissingDependencies(phase, completed)) == 0
}

// hasCycle detects cycles with a three-color depth-first search.
func (g *DependencyGraph) hasCycle() bool {
	const (
		white = 0 // unvisited
		gray  = 1 // in progress
		black = 2 // done
	)
	colors := make(map[string]int, len(g.edges))

	var visit func(node string) bool
	visit = func(node string) bool {
		colors[node] = gray
		for _, dep := range g.edges[node] {
			switch colors[dep] {
			case gray:
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		colors[node] = black
		return false
	}

	for node := range g.edges {
		if colors[node] == white && visit(node) {
			return true
		}
	}
	return false
}
