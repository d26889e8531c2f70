package pipeline

import (
	"sync"
	"time"

	"github.com/openrecords/foiabuddy/internal/agent"
)

// Status is the run lifecycle state. A run becomes terminal (completed or
// failed) exactly once and is immutable afterwards.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// RunState tracks one pipeline run. Only the driver mutates it, and only at
// stage boundaries; everyone else reads snapshots.
type RunState struct {
	mu sync.RWMutex

	RunID        string
	Status       Status
	Progress     float64
	CurrentStage string
	// Results is keyed by worker name; ResultOrder preserves insertion
	// order. A worker name maps to at most one Result per run, reruns
	// overwrite.
	Results     map[string]agent.Result
	ResultOrder []string
	StartedAt   time.Time
	UpdatedAt   time.Time
	Error       string

	// Coordinator audit trail, not consumed by later stages.
	PlanAnalysis  string
	PlanReasoning string
	PlanFallback  bool

	Elapsed time.Duration
}

// NewRunState returns a pending run.
func NewRunState(runID string) *RunState {
	now := time.Now()
	return &RunState{
		RunID:     runID,
		Status:    StatusPending,
		Results:   make(map[string]agent.Result),
		StartedAt: now,
		UpdatedAt: now,
	}
}

func (s *RunState) begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = StatusProcessing
	s.Progress = 0
	s.UpdatedAt = time.Now()
}

func (s *RunState) setStage(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CurrentStage = name
	s.UpdatedAt = time.Now()
}

func (s *RunState) setProgress(p float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p > s.Progress {
		s.Progress = p
	}
	s.UpdatedAt = time.Now()
}

func (s *RunState) addResult(r agent.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.Results[r.WorkerName]; !exists {
		s.ResultOrder = append(s.ResultOrder, r.WorkerName)
	}
	s.Results[r.WorkerName] = r
	s.UpdatedAt = time.Now()
}

func (s *RunState) setPlanAudit(analysis, reasoning string, fallback bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PlanAnalysis = analysis
	s.PlanReasoning = reasoning
	s.PlanFallback = fallback
	s.UpdatedAt = time.Now()
}

// terminate moves the run to its terminal status. Later calls are ignored:
// terminal is reached exactly once.
func (s *RunState) terminate(status Status, errText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status == StatusCompleted || s.Status == StatusFailed {
		return
	}
	s.Status = status
	s.Error = errText
	s.Progress = 1.0
	s.CurrentStage = ""
	now := time.Now()
	s.Elapsed = now.Sub(s.StartedAt)
	s.UpdatedAt = now
}

// Snapshot is the read-only view handed to renderers and stores.
type Snapshot struct {
	RunID         string                  `json:"run_id"`
	Status        Status                  `json:"status"`
	Progress      float64                 `json:"progress"`
	CurrentStage  string                  `json:"current_stage,omitempty"`
	Results       map[string]agent.Result `json:"results"`
	ResultOrder   []string                `json:"result_order"`
	StartedAt     time.Time               `json:"started_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
	Error         string                  `json:"error,omitempty"`
	PlanAnalysis  string                  `json:"plan_analysis,omitempty"`
	PlanReasoning string                  `json:"plan_reasoning,omitempty"`
	PlanFallback  bool                    `json:"plan_fallback,omitempty"`
	Elapsed       time.Duration           `json:"elapsed"`
}

// Snapshot deep-copies the run state for consumers outside the driver.
func (s *RunState) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make(map[string]agent.Result, len(s.Results))
	for k, v := range s.Results {
		results[k] = v
	}
	order := make([]string, len(s.ResultOrder))
	copy(order, s.ResultOrder)

	return Snapshot{
		RunID:         s.RunID,
		Status:        s.Status,
		Progress:      s.Progress,
		CurrentStage:  s.CurrentStage,
		Results:       results,
		ResultOrder:   order,
		StartedAt:     s.StartedAt,
		UpdatedAt:     s.UpdatedAt,
		Error:         s.Error,
		PlanAnalysis:  s.PlanAnalysis,
		PlanReasoning: s.PlanReasoning,
		PlanFallback:  s.PlanFallback,
		Elapsed:       s.Elapsed,
	}
}
