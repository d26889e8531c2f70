// Package agent holds the worker contract and the specialized workers that
// process a FOIA request: planning, local and public document discovery, PDF
// parsing, report synthesis and presentation output.
package agent

import (
	"context"
	"time"
)

// Role classifies a worker for the pipeline failure policy. Coordination and
// synthesis failures abort a run; discovery, parsing and presentation are
// best-effort.
type Role string

const (
	RoleCoordination Role = "coordination"
	RoleDiscovery    Role = "discovery"
	RoleParsing      Role = "parsing"
	RoleSynthesis    Role = "synthesis"
	RolePresentation Role = "presentation"
)

// Capability names a skill a worker declares at construction time.
type Capability string

// Worker is implemented by every pipeline stage unit. Execute must never
// panic or return a Go error to its caller: all internal failures become a
// Result with Success=false and Confidence=0.
type Worker interface {
	Name() string
	Description() string
	Role() Role
	SystemPrompt() string
	Declares(cap Capability) bool
	Execute(ctx context.Context, task Task) Result
}

// InputGate is optionally implemented by workers whose stage is pointless
// without specific upstream data (e.g. parsing with nothing discovered).
// When HasInput reports false the driver skips the stage without recording
// a result.
type InputGate interface {
	HasInput(context map[string]any) bool
}

// Base carries the identity and capability set shared by all workers.
// The capability set is fixed at construction and never mutated after.
type Base struct {
	name         string
	description  string
	role         Role
	capabilities map[Capability]bool
}

// NewBase seeds worker identity.
func NewBase(name, description string, role Role, caps ...Capability) Base {
	set := make(map[Capability]bool, len(caps))
	for _, c := range caps {
		set[c] = true
	}
	return Base{name: name, description: description, role: role, capabilities: set}
}

func (b Base) Name() string        { return b.name }
func (b Base) Description() string { return b.description }
func (b Base) Role() Role          { return b.role }

// Declares reports whether the worker was constructed with the capability.
func (b Base) Declares(cap Capability) bool { return b.capabilities[cap] }

// finish stamps a Result with identity and wall-clock execution time.
func (b Base) finish(task Task, start time.Time, success bool, data map[string]any, reasoning string, confidence float64) Result {
	return Result{
		WorkerName:    b.name,
		TaskID:        task.TaskID,
		Success:       success,
		Data:          data,
		Reasoning:     reasoning,
		Confidence:    confidence,
		ExecutionTime: time.Since(start),
	}
}

// fail converts an internal error into a failed Result.
func (b Base) fail(task Task, start time.Time, err error, reasoning string) Result {
	return b.finish(task, start, false, map[string]any{"error": err.Error()}, reasoning, 0)
}
