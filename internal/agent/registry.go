package agent

import (
	"fmt"
	"sort"
)

// Registry maps worker names to instances. It is built once at process start
// and read-only afterwards; two workers sharing a name is a configuration
// error, not a silent overwrite.
type Registry struct {
	workers map[string]Worker
	order   []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{workers: make(map[string]Worker)}
}

// Register installs a worker. Duplicate names are rejected.
func (r *Registry) Register(w Worker) error {
	name := w.Name()
	if name == "" {
		return fmt.Errorf("agent: worker name is required")
	}
	if _, exists := r.workers[name]; exists {
		return fmt.Errorf("agent: worker %q already registered", name)
	}
	r.workers[name] = w
	r.order = append(r.order, name)
	return nil
}

// MustRegister panics on registration failure; used at startup where a
// duplicate name means the process is misconfigured.
func (r *Registry) MustRegister(w Worker) {
	if err := r.Register(w); err != nil {
		panic(err)
	}
}

// Get returns the worker by name, or nil when unknown.
func (r *Registry) Get(name string) Worker {
	return r.workers[name]
}

// Names lists registered worker names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// ByCapability returns every worker declaring the capability, sorted by name.
func (r *Registry) ByCapability(cap Capability) []Worker {
	var out []Worker
	for _, w := range r.workers {
		if w.Declares(cap) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Describe renders "name: description" lines for planner prompts.
func (r *Registry) Describe() []string {
	out := make([]string, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, fmt.Sprintf("- %s: %s", name, r.workers[name].Description()))
	}
	return out
}
