// Package pipeline sequences coordinator plans into worker invocations,
// threading each stage's output into the context of later stages and applying
// the per-role continue/abort policy.
package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/openrecords/foiabuddy/internal/agent"
	"github.com/openrecords/foiabuddy/internal/progress"
)

// errCoordinationFailed is the run error when planning itself fails; no
// further stages run after it.
const errCoordinationFailed = "coordination failed"

// Logger matches the stdlib logger and the observability writer.
type Logger interface {
	Printf(format string, args ...any)
}

// PlanLogger is implemented by loggers that record plan audits as structured
// events. The driver upgrades to it when available.
type PlanLogger interface {
	LogPlan(runID string, stages int, fallback bool, analysis string)
}

// Input is everything a run starts from.
type Input struct {
	RunID       string
	FOIARequest string
	OutputDir   string
	// Extra is merged into every stage context untouched.
	Extra map[string]any
}

// Driver runs FOIA requests through the worker pipeline. It is safe to share
// one Driver across concurrent runs: workers hold no run-specific state and
// each run owns its RunState.
type Driver struct {
	coordinator *agent.Coordinator
	registry    *agent.Registry
	hub         *progress.Hub
	logger      Logger

	// contextCharLimit truncates string values merged into stage context;
	// every stage sees the union of all prior outputs, so unbounded text
	// would compound stage over stage.
	contextCharLimit int
}

// Option configures a Driver.
type Option func(*Driver)

// WithHub attaches a progress broadcaster.
func WithHub(hub *progress.Hub) Option {
	return func(d *Driver) { d.hub = hub }
}

// WithLogger overrides the default stdlib logger.
func WithLogger(l Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// WithContextCharLimit overrides the stage-context truncation limit.
func WithContextCharLimit(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.contextCharLimit = n
		}
	}
}

// NewDriver wires the driver over a coordinator and its registry.
func NewDriver(coordinator *agent.Coordinator, registry *agent.Registry, opts ...Option) *Driver {
	d := &Driver{
		coordinator:      coordinator,
		registry:         registry,
		hub:              progress.NewHub(),
		logger:           log.Default(),
		contextCharLimit: 8000,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Hub exposes the broadcaster so hosts can attach observers.
func (d *Driver) Hub() *progress.Hub { return d.hub }

// Run executes one pipeline run to its terminal state. It always returns a
// terminal RunState; run-level failures live in the state, not in an error.
func (d *Driver) Run(ctx context.Context, input Input) *RunState {
	state := d.newState(&input)
	d.execute(ctx, input, state)
	return state
}

// Launch starts a run in the background and returns its live state
// immediately. Callers watch the Hub for the terminal event.
func (d *Driver) Launch(ctx context.Context, input Input) *RunState {
	state := d.newState(&input)
	go d.execute(ctx, input, state)
	return state
}

func (d *Driver) newState(input *Input) *RunState {
	if input.RunID == "" {
		input.RunID = "foia-" + uuid.NewString()[:12]
	}
	return NewRunState(input.RunID)
}

func (d *Driver) execute(ctx context.Context, input Input, state *RunState) {
	state.begin()
	d.notify(progress.Event{
		RunID:   input.RunID,
		Type:    progress.EventStatusUpdate,
		Status:  string(StatusProcessing),
		Message: "starting FOIA request processing",
	})

	// Stage zero: coordination. The only stage whose failure is always
	// fatal, and the only one that leaves no entry in Results.
	state.setStage(d.coordinator.Name())
	d.notifyStage(input.RunID, d.coordinator.Name(), progress.StageStarted, 0)

	outcome, err := d.coordinator.Plan(ctx, input.RunID, input.FOIARequest)
	if err != nil {
		d.logger.Printf("pipeline: run %s: coordination failed: %v", input.RunID, err)
		d.notifyStage(input.RunID, d.coordinator.Name(), progress.StageFailed, 0)
		d.fail(state, errCoordinationFailed)
		return
	}
	state.setPlanAudit(outcome.Analysis, outcome.Reasoning, outcome.Fallback)

	entries := d.ensureSynthesis(outcome.Entries)
	if pl, ok := d.logger.(PlanLogger); ok {
		pl.LogPlan(input.RunID, len(entries), outcome.Fallback, outcome.Analysis)
	}
	total := float64(len(entries) + 2) // coordination + stages + terminal transition
	state.setProgress(1 / total)
	d.notifyStage(input.RunID, d.coordinator.Name(), progress.StageSucceeded, 1/total)

	base := baseContext(input)
	for i, entry := range entries {
		// Cancellation only lands at stage boundaries, never mid-stage.
		if ctx.Err() != nil {
			d.logger.Printf("pipeline: run %s: cancelled before stage %s", input.RunID, entry.Worker)
			d.fail(state, fmt.Sprintf("run cancelled: %v", ctx.Err()))
			return
		}

		prog := float64(i+2) / total
		w := d.registry.Get(entry.Worker)
		if w == nil {
			d.logger.Printf("pipeline: run %s: plan references unknown worker %q, skipping", input.RunID, entry.Worker)
			d.notifyStage(input.RunID, entry.Worker, progress.StageSkipped, prog)
			state.setProgress(prog)
			continue
		}

		stageCtx := d.buildContext(base, state)

		if gate, ok := w.(agent.InputGate); ok && !gate.HasInput(stageCtx) {
			d.logger.Printf("pipeline: run %s: stage %s skipped, no input", input.RunID, entry.Worker)
			d.notifyStage(input.RunID, entry.Worker, progress.StageSkipped, prog)
			state.setProgress(prog)
			continue
		}

		state.setStage(entry.Worker)
		d.notifyStage(input.RunID, entry.Worker, progress.StageStarted, state.Snapshot().Progress)

		task := agent.Task{
			TaskID:       fmt.Sprintf("%s-%03d-%s", input.RunID, i+1, entry.Worker),
			WorkerKind:   entry.Worker,
			Instructions: entry.Task,
			Context:      stageCtx,
			Priority:     entry.Priority,
		}

		result := w.Execute(ctx, task)
		state.addResult(result)
		state.setProgress(prog)

		if result.Success {
			d.notifyStage(input.RunID, entry.Worker, progress.StageSucceeded, prog)
			continue
		}
		d.notifyStage(input.RunID, entry.Worker, progress.StageFailed, prog)

		if fatal(w.Role()) {
			d.logger.Printf("pipeline: run %s: fatal stage %s failed: %s", input.RunID, entry.Worker, result.Reasoning)
			d.fail(state, fmt.Sprintf("stage %s failed: %s", entry.Worker, result.Reasoning))
			return
		}
		d.logger.Printf("pipeline: run %s: stage %s failed, continuing: %s", input.RunID, entry.Worker, result.Reasoning)
	}

	state.terminate(StatusCompleted, "")
	d.notify(progress.Event{
		RunID:    input.RunID,
		Type:     progress.EventCompleted,
		Status:   string(StatusCompleted),
		Progress: 1.0,
		Message:  "FOIA request processing completed",
	})
}

// ensureSynthesis guarantees a report stage: a plan that never synthesizes
// can only produce an unusable run. The stage is inserted ahead of any
// presentation entries, which render the report it produces.
func (d *Driver) ensureSynthesis(entries []agent.PlanEntry) []agent.PlanEntry {
	insertAt := len(entries)
	maxPriority := 0
	for i, e := range entries {
		w := d.registry.Get(e.Worker)
		if w == nil {
			continue
		}
		if w.Role() == agent.RoleSynthesis {
			return entries
		}
		if w.Role() == agent.RolePresentation && i < insertAt {
			insertAt = i
		}
		if e.Priority > maxPriority {
			maxPriority = e.Priority
		}
	}
	synth := agent.PlanEntry{
		Worker:   agent.NameReportGenerator,
		Task:     "Generate the final FOIA response report",
		Priority: maxPriority + 1,
	}
	out := make([]agent.PlanEntry, 0, len(entries)+1)
	out = append(out, entries[:insertAt]...)
	out = append(out, synth)
	return append(out, entries[insertAt:]...)
}

// fatal reports whether a role's failure aborts the run. Discovery and
// parsing are best-effort enrichments; coordination and synthesis are
// structurally required; presentation never affects run status.
func fatal(role agent.Role) bool {
	return role == agent.RoleCoordination || role == agent.RoleSynthesis
}

func (d *Driver) fail(state *RunState, errText string) {
	state.terminate(StatusFailed, errText)
	d.notify(progress.Event{
		RunID:    state.RunID,
		Type:     progress.EventError,
		Status:   string(StatusFailed),
		Progress: 1.0,
		Error:    errText,
	})
}

func baseContext(input Input) map[string]any {
	base := map[string]any{
		"foia_request": input.FOIARequest,
		"output_dir":   input.OutputDir,
	}
	for k, v := range input.Extra {
		base[k] = v
	}
	return base
}

// buildContext unions the original input with every prior stage's data, each
// nested under its worker name so later stages can see all earlier outputs.
func (d *Driver) buildContext(base map[string]any, state *RunState) map[string]any {
	snap := state.Snapshot()
	out := make(map[string]any, len(base)+len(snap.ResultOrder))
	for k, v := range base {
		out[k] = v
	}
	for _, name := range snap.ResultOrder {
		result := snap.Results[name]
		if !result.Success {
			// Failed stages contribute no data downstream, only an
			// empty placeholder marking that they ran.
			out[name] = map[string]any{}
			continue
		}
		out[name] = d.truncate(result.Data)
	}
	return out
}

// truncate bounds string values carried between stages. Nested maps and
// slices are walked; everything else passes through.
func (d *Driver) truncate(value map[string]any) map[string]any {
	out := make(map[string]any, len(value))
	for k, v := range value {
		out[k] = d.truncateValue(v)
	}
	return out
}

func (d *Driver) truncateValue(v any) any {
	switch t := v.(type) {
	case string:
		return agent.ClipText(t, d.contextCharLimit, "\n... (truncated) ...")
	case map[string]any:
		return d.truncate(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = d.truncateValue(item)
		}
		return out
	default:
		return v
	}
}

func (d *Driver) notifyStage(runID, stage string, status progress.StageStatus, prog float64) {
	d.notify(progress.Event{
		RunID:       runID,
		Type:        progress.EventStageUpdate,
		Stage:       stage,
		StageStatus: status,
		Progress:    prog,
	})
}

func (d *Driver) notify(e progress.Event) {
	if d.hub == nil {
		return
	}
	d.hub.Notify(e)
}
