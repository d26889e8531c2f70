package agent

import "time"

// Task is the unit of work dispatched to a worker. It is built by the driver
// before each stage and immutable once dispatched.
type Task struct {
	TaskID       string         `json:"task_id"`
	WorkerKind   string         `json:"worker_kind"`
	Instructions string         `json:"instructions"`
	Context      map[string]any `json:"context"`
	Priority     int            `json:"priority"`
}

// Result is produced exactly once per stage invocation and never mutated
// after creation.
type Result struct {
	WorkerName    string         `json:"worker_name"`
	TaskID        string         `json:"task_id"`
	Success       bool           `json:"success"`
	Data          map[string]any `json:"data"`
	Reasoning     string         `json:"reasoning"`
	Confidence    float64        `json:"confidence"`
	ExecutionTime time.Duration  `json:"execution_time"`
}

// Decision is an append-only audit record of a choice a worker made. It is
// observational only: pipeline logic never reads it back.
type Decision struct {
	AgentName         string    `json:"agent_name"`
	Decision          string    `json:"decision"`
	Reasoning         string    `json:"reasoning"`
	OptionsConsidered []string  `json:"options_considered"`
	Confidence        float64   `json:"confidence"`
	Timestamp         time.Time `json:"timestamp"`
}

// DecisionSink receives audit records. Implementations must tolerate nil
// receivers being skipped by callers; failures to persist are the sink's
// problem, never the pipeline's.
type DecisionSink interface {
	AppendDecision(runID string, d Decision) error
}
