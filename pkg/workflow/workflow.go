// Package workflow holds the map from workflow name to its ordered list of
// stages (spec.md's Glossary: "an ordered list of named stages a task
// traverses; identified by name; loaded externally"). Workflow authoring
// itself is out of scope (spec.md §1); this is the minimal registry the
// daemon needs to hand stage names to the executor and to C6's
// stage-changed events. Grounded on the teacher's YAML-resource pattern in
// cmd/warren/apply.go (a typed struct decoded from a user-supplied YAML
// file, dispatched by a `kind`/`name` key) and the built-in-resource
// seeding cmd/warren/main.go performs for a fresh cluster.
package workflow

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Definition is one named, ordered stage list.
type Definition struct {
	Name   string   `yaml:"name"`
	Stages []string `yaml:"stages"`
}

// document is the shape of <project>/.apex/workflows.yaml.
type document struct {
	Workflows []Definition `yaml:"workflows"`
}

// Registry is a name -> ordered-stage-list lookup, safe for concurrent
// reads while a reload is in flight.
type Registry struct {
	mu        sync.RWMutex
	workflows map[string][]string
}

// builtins are seeded into every new Registry, mirroring how the teacher's
// `cluster init` always creates a default network and ingress resource
// before any user-supplied YAML is applied.
var builtins = []Definition{
	{Name: "default", Stages: []string{"plan", "implement", "verify"}},
	{Name: "quick", Stages: []string{"implement"}},
	{Name: "research", Stages: []string{"research", "summarize"}},
}

// NewRegistry creates a Registry seeded with the built-in workflows.
func NewRegistry() *Registry {
	r := &Registry{workflows: make(map[string][]string)}
	for _, def := range builtins {
		r.workflows[def.Name] = def.Stages
	}
	return r
}

// LoadFile seeds a new Registry with the built-ins, then overlays
// definitions from path. A missing file is not an error: the registry is
// returned with just the built-ins, matching spec.md §7's "configuration
// error: log, fall back to defaults; never crash on startup".
func LoadFile(path string) (*Registry, error) {
	r := NewRegistry()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("workflow: read %s: %w", path, err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("workflow: parse %s: %w", path, err)
	}

	for _, def := range doc.Workflows {
		r.Register(def.Name, def.Stages)
	}
	return r, nil
}

// Register adds or replaces a workflow definition.
func (r *Registry) Register(name string, stages []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows[name] = append([]string(nil), stages...)
}

// Stages returns the ordered stage list for name.
func (r *Registry) Stages(name string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stages, ok := r.workflows[name]
	return stages, ok
}

// StageAt returns the stage name at index within the named workflow.
func (r *Registry) StageAt(name string, index int) (string, bool) {
	stages, ok := r.Stages(name)
	if !ok || index < 0 || index >= len(stages) {
		return "", false
	}
	return stages[index], true
}

// Names returns every registered workflow name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.workflows))
	for name := range r.workflows {
		names = append(names, name)
	}
	return names
}
