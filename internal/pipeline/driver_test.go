package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/openrecords/foiabuddy/internal/agent"
	"github.com/openrecords/foiabuddy/internal/llm"
	"github.com/openrecords/foiabuddy/internal/progress"
)

type fakeLLM struct {
	content string
	err     error
}

func (f *fakeLLM) Generate(ctx context.Context, msgs []llm.Message, opts ...llm.Option) (*llm.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Content: f.content}, nil
}

// stubWorker runs a canned function and records the task it received.
type stubWorker struct {
	agent.Base
	mu       sync.Mutex
	tasks    []agent.Task
	execute  func(task agent.Task) agent.Result
	hasInput func(ctx map[string]any) bool
}

func newStub(name string, role agent.Role, execute func(task agent.Task) agent.Result) *stubWorker {
	return &stubWorker{
		Base:    agent.NewBase(name, "stub "+name, role),
		execute: execute,
	}
}

func (s *stubWorker) SystemPrompt() string { return "" }

func (s *stubWorker) Execute(ctx context.Context, task agent.Task) agent.Result {
	s.mu.Lock()
	s.tasks = append(s.tasks, task)
	s.mu.Unlock()
	if s.execute != nil {
		return s.execute(task)
	}
	return agent.Result{WorkerName: s.Name(), TaskID: task.TaskID, Success: true, Data: map[string]any{}, Confidence: 1}
}

func (s *stubWorker) HasInput(ctx map[string]any) bool {
	if s.hasInput == nil {
		return true
	}
	return s.hasInput(ctx)
}

func (s *stubWorker) taskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func succeedWith(name string, data map[string]any) func(agent.Task) agent.Result {
	return func(task agent.Task) agent.Result {
		return agent.Result{WorkerName: name, TaskID: task.TaskID, Success: true, Data: data, Confidence: 0.9}
	}
}

func failWith(name, reason string) func(agent.Task) agent.Result {
	return func(task agent.Task) agent.Result {
		return agent.Result{WorkerName: name, TaskID: task.TaskID, Success: false, Data: map[string]any{"error": reason}, Reasoning: reason}
	}
}

// recorder collects every event the hub delivers, in order.
type recorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recorder) Notify(e progress.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *recorder) all() []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Event(nil), r.events...)
}

func planJSON(entries ...string) string {
	return fmt.Sprintf(`{"analysis":"test plan","execution_plan":[%s],"priority":3,"estimated_complexity":"low"}`,
		strings.Join(entries, ","))
}

func entry(worker string, priority int) string {
	return fmt.Sprintf(`{"agent":%q,"task":"do %s","priority":%d}`, worker, worker, priority)
}

func buildDriver(t *testing.T, client llm.Client, workers []agent.Worker, opts ...Option) (*Driver, *recorder) {
	t.Helper()
	registry := agent.NewRegistry()
	for _, w := range workers {
		registry.MustRegister(w)
	}
	driver := NewDriver(agent.NewCoordinator(client, registry, nil), registry, opts...)
	rec := &recorder{}
	driver.Hub().Attach(rec)
	return driver, rec
}

func TestRunExecutesPlanInPriorityOrder(t *testing.T) {
	var order []string
	track := func(name string) func(agent.Task) agent.Result {
		return func(task agent.Task) agent.Result {
			order = append(order, name)
			return agent.Result{WorkerName: name, TaskID: task.TaskID, Success: true, Data: map[string]any{"from": name}, Confidence: 1}
		}
	}
	searcher := newStub(agent.NamePDFSearcher, agent.RoleDiscovery, track(agent.NamePDFSearcher))
	researcher := newStub(agent.NameDocumentResearcher, agent.RoleDiscovery, track(agent.NameDocumentResearcher))
	reporter := newStub(agent.NameReportGenerator, agent.RoleSynthesis, track(agent.NameReportGenerator))

	client := &fakeLLM{content: planJSON(
		entry(agent.NameReportGenerator, 4),
		entry(agent.NamePDFSearcher, 1),
		entry(agent.NameDocumentResearcher, 2),
	)}
	driver, _ := buildDriver(t, client, []agent.Worker{searcher, researcher, reporter})

	state := driver.Run(context.Background(), Input{RunID: "run-order", FOIARequest: "budget records"})

	snap := state.Snapshot()
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed (error %q)", snap.Status, snap.Error)
	}
	want := []string{agent.NamePDFSearcher, agent.NameDocumentResearcher, agent.NameReportGenerator}
	if len(order) != len(want) {
		t.Fatalf("executed %v, want %v", order, want)
	}
	for i, name := range want {
		if order[i] != name {
			t.Errorf("stage %d = %s, want %s", i, order[i], name)
		}
	}
	if snap.Progress != 1.0 {
		t.Errorf("terminal progress = %v, want 1.0", snap.Progress)
	}
	if len(snap.Results) != 3 {
		t.Errorf("results = %d, want 3", len(snap.Results))
	}
}

func TestRunCoordinationFailureLeavesNoResults(t *testing.T) {
	searcher := newStub(agent.NamePDFSearcher, agent.RoleDiscovery, nil)
	reporter := newStub(agent.NameReportGenerator, agent.RoleSynthesis, nil)

	client := &fakeLLM{err: errors.New("inference unavailable")}
	driver, rec := buildDriver(t, client, []agent.Worker{searcher, reporter})

	state := driver.Run(context.Background(), Input{RunID: "run-coord", FOIARequest: "anything"})

	snap := state.Snapshot()
	if snap.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", snap.Status)
	}
	if snap.Error != "coordination failed" {
		t.Errorf("error = %q, want %q", snap.Error, "coordination failed")
	}
	if len(snap.Results) != 0 {
		t.Errorf("results = %d, want 0", len(snap.Results))
	}
	if searcher.taskCount() != 0 || reporter.taskCount() != 0 {
		t.Error("workers ran after coordination failure")
	}
	events := rec.all()
	last := events[len(events)-1]
	if last.Type != progress.EventError {
		t.Errorf("last event = %s, want error", last.Type)
	}
	if last.Progress != 1.0 {
		t.Errorf("terminal event progress = %v, want 1.0", last.Progress)
	}
}

func TestRunDiscoveryFailureContinues(t *testing.T) {
	searcher := newStub(agent.NamePDFSearcher, agent.RoleDiscovery, failWith(agent.NamePDFSearcher, "directory missing"))
	reporter := newStub(agent.NameReportGenerator, agent.RoleSynthesis,
		succeedWith(agent.NameReportGenerator, map[string]any{"report_content": "# Report"}))

	client := &fakeLLM{content: planJSON(
		entry(agent.NamePDFSearcher, 1),
		entry(agent.NameReportGenerator, 4),
	)}
	driver, _ := buildDriver(t, client, []agent.Worker{searcher, reporter})

	state := driver.Run(context.Background(), Input{RunID: "run-softfail", FOIARequest: "records"})

	snap := state.Snapshot()
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed after non-fatal failure", snap.Status)
	}
	if r := snap.Results[agent.NamePDFSearcher]; r.Success {
		t.Error("failed stage recorded as success")
	}
	if reporter.taskCount() != 1 {
		t.Fatal("synthesis did not run after discovery failure")
	}
	// The failed stage contributes only a placeholder downstream.
	ctx := reporter.tasks[0].Context
	got, ok := ctx[agent.NamePDFSearcher].(map[string]any)
	if !ok {
		t.Fatalf("failed stage missing from downstream context: %v", ctx)
	}
	if len(got) != 0 {
		t.Errorf("failed stage leaked data downstream: %v", got)
	}
}

func TestRunSynthesisFailureAborts(t *testing.T) {
	reporter := newStub(agent.NameReportGenerator, agent.RoleSynthesis, failWith(agent.NameReportGenerator, "empty model output"))
	presenter := newStub(agent.NameHTMLPresenter, agent.RolePresentation, nil)

	client := &fakeLLM{content: planJSON(
		entry(agent.NameReportGenerator, 4),
		entry(agent.NameHTMLPresenter, 5),
	)}
	driver, _ := buildDriver(t, client, []agent.Worker{reporter, presenter})

	state := driver.Run(context.Background(), Input{RunID: "run-synthfail", FOIARequest: "records"})

	snap := state.Snapshot()
	if snap.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", snap.Status)
	}
	if !strings.Contains(snap.Error, agent.NameReportGenerator) {
		t.Errorf("error = %q, want mention of failed stage", snap.Error)
	}
	if presenter.taskCount() != 0 {
		t.Error("presentation ran after fatal synthesis failure")
	}
	if _, ok := snap.Results[agent.NameHTMLPresenter]; ok {
		t.Error("presentation left a result without running")
	}
}

func TestRunPresentationFailureDoesNotAbort(t *testing.T) {
	reporter := newStub(agent.NameReportGenerator, agent.RoleSynthesis,
		succeedWith(agent.NameReportGenerator, map[string]any{"report_content": "# Report"}))
	presenter := newStub(agent.NameHTMLPresenter, agent.RolePresentation, failWith(agent.NameHTMLPresenter, "disk full"))

	client := &fakeLLM{content: planJSON(
		entry(agent.NameReportGenerator, 4),
		entry(agent.NameHTMLPresenter, 5),
	)}
	driver, _ := buildDriver(t, client, []agent.Worker{reporter, presenter})

	state := driver.Run(context.Background(), Input{RunID: "run-present", FOIARequest: "records"})

	if snap := state.Snapshot(); snap.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed despite presentation failure", snap.Status)
	}
}

func TestRunSkipsGatedStageWithoutInput(t *testing.T) {
	parser := newStub(agent.NamePDFParser, agent.RoleParsing, nil)
	parser.hasInput = func(ctx map[string]any) bool { return false }
	reporter := newStub(agent.NameReportGenerator, agent.RoleSynthesis, nil)

	client := &fakeLLM{content: planJSON(
		entry(agent.NamePDFParser, 2),
		entry(agent.NameReportGenerator, 4),
	)}
	driver, rec := buildDriver(t, client, []agent.Worker{parser, reporter})

	state := driver.Run(context.Background(), Input{RunID: "run-gate", FOIARequest: "records"})

	snap := state.Snapshot()
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", snap.Status)
	}
	if parser.taskCount() != 0 {
		t.Error("gated stage executed without input")
	}
	if _, ok := snap.Results[agent.NamePDFParser]; ok {
		t.Error("skipped stage recorded a result")
	}
	skipped := false
	for _, e := range rec.all() {
		if e.Stage == agent.NamePDFParser && e.StageStatus == progress.StageSkipped {
			skipped = true
		}
	}
	if !skipped {
		t.Error("no skipped event for gated stage")
	}
}

func TestRunSkipsUnknownWorker(t *testing.T) {
	reporter := newStub(agent.NameReportGenerator, agent.RoleSynthesis, nil)

	client := &fakeLLM{content: planJSON(
		entry("carrier_pigeon", 1),
		entry(agent.NameReportGenerator, 4),
	)}
	driver, _ := buildDriver(t, client, []agent.Worker{reporter})

	state := driver.Run(context.Background(), Input{RunID: "run-unknown", FOIARequest: "records"})

	snap := state.Snapshot()
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", snap.Status)
	}
	if _, ok := snap.Results["carrier_pigeon"]; ok {
		t.Error("unknown worker produced a result")
	}
	if reporter.taskCount() != 1 {
		t.Error("known workers did not run")
	}
}

func TestRunAppendsSynthesisWhenPlanOmitsIt(t *testing.T) {
	searcher := newStub(agent.NamePDFSearcher, agent.RoleDiscovery, nil)
	reporter := newStub(agent.NameReportGenerator, agent.RoleSynthesis, nil)

	client := &fakeLLM{content: planJSON(entry(agent.NamePDFSearcher, 1))}
	driver, _ := buildDriver(t, client, []agent.Worker{searcher, reporter})

	state := driver.Run(context.Background(), Input{RunID: "run-nosynth", FOIARequest: "records"})

	snap := state.Snapshot()
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", snap.Status)
	}
	if reporter.taskCount() != 1 {
		t.Error("synthesis stage not appended to plan without one")
	}
	if got := snap.ResultOrder[len(snap.ResultOrder)-1]; got != agent.NameReportGenerator {
		t.Errorf("last stage = %s, want %s", got, agent.NameReportGenerator)
	}
}

func TestRunInsertsSynthesisBeforePresentation(t *testing.T) {
	var order []string
	track := func(name string, data map[string]any) func(agent.Task) agent.Result {
		return func(task agent.Task) agent.Result {
			order = append(order, name)
			return agent.Result{WorkerName: name, TaskID: task.TaskID, Success: true, Data: data, Confidence: 1}
		}
	}
	searcher := newStub(agent.NamePDFSearcher, agent.RoleDiscovery, track(agent.NamePDFSearcher, map[string]any{}))
	reporter := newStub(agent.NameReportGenerator, agent.RoleSynthesis,
		track(agent.NameReportGenerator, map[string]any{"report_content": "# Report"}))
	presenter := newStub(agent.NameHTMLPresenter, agent.RolePresentation, track(agent.NameHTMLPresenter, map[string]any{}))

	client := &fakeLLM{content: planJSON(
		entry(agent.NamePDFSearcher, 1),
		entry(agent.NameHTMLPresenter, 5),
	)}
	driver, _ := buildDriver(t, client, []agent.Worker{searcher, reporter, presenter})

	state := driver.Run(context.Background(), Input{RunID: "run-insert", FOIARequest: "records"})

	if snap := state.Snapshot(); snap.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", snap.Status)
	}
	want := []string{agent.NamePDFSearcher, agent.NameReportGenerator, agent.NameHTMLPresenter}
	if len(order) != len(want) {
		t.Fatalf("executed %v, want %v", order, want)
	}
	for i, name := range want {
		if order[i] != name {
			t.Errorf("stage %d = %s, want %s", i, order[i], name)
		}
	}
}

func TestRunProgressMonotonicAndTerminalOnly(t *testing.T) {
	searcher := newStub(agent.NamePDFSearcher, agent.RoleDiscovery, nil)
	researcher := newStub(agent.NameDocumentResearcher, agent.RoleDiscovery, nil)
	reporter := newStub(agent.NameReportGenerator, agent.RoleSynthesis, nil)

	client := &fakeLLM{content: planJSON(
		entry(agent.NamePDFSearcher, 1),
		entry(agent.NameDocumentResearcher, 2),
		entry(agent.NameReportGenerator, 4),
	)}
	driver, rec := buildDriver(t, client, []agent.Worker{searcher, researcher, reporter})

	driver.Run(context.Background(), Input{RunID: "run-progress", FOIARequest: "records"})

	events := rec.all()
	if len(events) == 0 {
		t.Fatal("no events delivered")
	}
	prev := 0.0
	for i, e := range events {
		if e.Progress < prev {
			t.Errorf("event %d: progress %v < previous %v", i, e.Progress, prev)
		}
		prev = e.Progress
		terminal := e.Type == progress.EventCompleted || e.Type == progress.EventError
		if e.Progress >= 1.0 && !terminal {
			t.Errorf("event %d: progress hit 1.0 before terminal event (%s)", i, e.Type)
		}
	}
	last := events[len(events)-1]
	if last.Type != progress.EventCompleted || last.Progress != 1.0 {
		t.Errorf("last event = %s progress %v, want completed at 1.0", last.Type, last.Progress)
	}
}

func TestRunCancellationStopsAtStageBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	searcher := newStub(agent.NamePDFSearcher, agent.RoleDiscovery, func(task agent.Task) agent.Result {
		cancel() // next boundary check must stop the run
		return agent.Result{WorkerName: agent.NamePDFSearcher, TaskID: task.TaskID, Success: true, Data: map[string]any{}, Confidence: 1}
	})
	reporter := newStub(agent.NameReportGenerator, agent.RoleSynthesis, nil)

	client := &fakeLLM{content: planJSON(
		entry(agent.NamePDFSearcher, 1),
		entry(agent.NameReportGenerator, 4),
	)}
	driver, _ := buildDriver(t, client, []agent.Worker{searcher, reporter})

	state := driver.Run(ctx, Input{RunID: "run-cancel", FOIARequest: "records"})

	snap := state.Snapshot()
	if snap.Status != StatusFailed {
		t.Fatalf("status = %s, want failed after cancellation", snap.Status)
	}
	if !strings.Contains(snap.Error, "cancelled") {
		t.Errorf("error = %q, want cancellation mention", snap.Error)
	}
	// The in-flight stage finished; the next one never started.
	if _, ok := snap.Results[agent.NamePDFSearcher]; !ok {
		t.Error("in-flight stage result discarded on cancellation")
	}
	if reporter.taskCount() != 0 {
		t.Error("stage started after cancellation")
	}
}

func TestRunThreadsAndTruncatesContext(t *testing.T) {
	long := strings.Repeat("x", 200)
	searcher := newStub(agent.NamePDFSearcher, agent.RoleDiscovery,
		succeedWith(agent.NamePDFSearcher, map[string]any{
			"summary": long,
			"nested":  map[string]any{"text": long},
			"count":   7,
		}))
	reporter := newStub(agent.NameReportGenerator, agent.RoleSynthesis, nil)

	client := &fakeLLM{content: planJSON(
		entry(agent.NamePDFSearcher, 1),
		entry(agent.NameReportGenerator, 4),
	)}
	driver, _ := buildDriver(t, client, []agent.Worker{searcher, reporter},
		WithContextCharLimit(50))

	driver.Run(context.Background(), Input{RunID: "run-context", FOIARequest: "water records", OutputDir: "/tmp/out"})

	if reporter.taskCount() != 1 {
		t.Fatal("synthesis did not run")
	}
	ctx := reporter.tasks[0].Context
	if ctx["foia_request"] != "water records" || ctx["output_dir"] != "/tmp/out" {
		t.Errorf("input fields missing from context: %v", ctx)
	}
	upstream, ok := ctx[agent.NamePDFSearcher].(map[string]any)
	if !ok {
		t.Fatalf("upstream data not nested under worker name: %v", ctx)
	}
	got, _ := upstream["summary"].(string)
	if !strings.HasPrefix(got, strings.Repeat("x", 50)) || !strings.Contains(got, "truncated") {
		t.Errorf("summary not truncated: %d chars", len(got))
	}
	nested, _ := upstream["nested"].(map[string]any)
	if s, _ := nested["text"].(string); !strings.Contains(s, "truncated") {
		t.Error("nested string not truncated")
	}
	if upstream["count"] != 7 {
		t.Errorf("non-string value mangled: %v", upstream["count"])
	}
}

func TestRunTruncationKeepsRunesWhole(t *testing.T) {
	// Multi-byte runes straddling the byte limit must not be split.
	long := strings.Repeat("記", 40)
	searcher := newStub(agent.NamePDFSearcher, agent.RoleDiscovery,
		succeedWith(agent.NamePDFSearcher, map[string]any{"summary": long}))
	reporter := newStub(agent.NameReportGenerator, agent.RoleSynthesis, nil)

	client := &fakeLLM{content: planJSON(
		entry(agent.NamePDFSearcher, 1),
		entry(agent.NameReportGenerator, 4),
	)}
	driver, _ := buildDriver(t, client, []agent.Worker{searcher, reporter},
		WithContextCharLimit(50))

	driver.Run(context.Background(), Input{RunID: "run-runes", FOIARequest: "records"})

	if reporter.taskCount() != 1 {
		t.Fatal("synthesis did not run")
	}
	upstream, _ := reporter.tasks[0].Context[agent.NamePDFSearcher].(map[string]any)
	got, _ := upstream["summary"].(string)
	if !strings.Contains(got, "truncated") {
		t.Fatalf("summary not truncated: %d chars", len(got))
	}
	if !utf8.ValidString(got) {
		t.Errorf("truncation split a rune: %q", got)
	}
}

// auditLogger records plan audits alongside plain log lines.
type auditLogger struct {
	mu    sync.Mutex
	plans []string
}

func (a *auditLogger) Printf(format string, args ...any) {}

func (a *auditLogger) LogPlan(runID string, stages int, fallback bool, analysis string) {
	a.mu.Lock()
	a.plans = append(a.plans, fmt.Sprintf("%s/%d/%t/%s", runID, stages, fallback, analysis))
	a.mu.Unlock()
}

func TestRunLogsPlanAudit(t *testing.T) {
	reporter := newStub(agent.NameReportGenerator, agent.RoleSynthesis, nil)
	client := &fakeLLM{content: planJSON(entry(agent.NameReportGenerator, 4))}
	logger := &auditLogger{}
	driver, _ := buildDriver(t, client, []agent.Worker{reporter}, WithLogger(logger))

	driver.Run(context.Background(), Input{RunID: "run-audit", FOIARequest: "records"})

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.plans) != 1 {
		t.Fatalf("logged %d plan audits, want 1", len(logger.plans))
	}
	if logger.plans[0] != "run-audit/1/false/test plan" {
		t.Errorf("plan audit = %q", logger.plans[0])
	}
}

func TestRunRerunOverwritesResult(t *testing.T) {
	calls := 0
	searcher := newStub(agent.NamePDFSearcher, agent.RoleDiscovery, func(task agent.Task) agent.Result {
		calls++
		return agent.Result{
			WorkerName: agent.NamePDFSearcher, TaskID: task.TaskID, Success: true,
			Data: map[string]any{"call": calls}, Confidence: 1,
		}
	})
	reporter := newStub(agent.NameReportGenerator, agent.RoleSynthesis, nil)

	client := &fakeLLM{content: planJSON(
		entry(agent.NamePDFSearcher, 1),
		entry(agent.NamePDFSearcher, 2),
		entry(agent.NameReportGenerator, 4),
	)}
	driver, _ := buildDriver(t, client, []agent.Worker{searcher, reporter})

	state := driver.Run(context.Background(), Input{RunID: "run-rerun", FOIARequest: "records"})

	snap := state.Snapshot()
	if calls != 2 {
		t.Fatalf("worker ran %d times, want 2", calls)
	}
	if got := snap.Results[agent.NamePDFSearcher].Data["call"]; got != 2 {
		t.Errorf("result call = %v, want rerun to overwrite with 2", got)
	}
	if len(snap.ResultOrder) != 2 {
		t.Errorf("result order = %v, want one entry per distinct worker", snap.ResultOrder)
	}
}

func TestRunGeneratesRunID(t *testing.T) {
	reporter := newStub(agent.NameReportGenerator, agent.RoleSynthesis, nil)
	client := &fakeLLM{content: planJSON(entry(agent.NameReportGenerator, 4))}
	driver, _ := buildDriver(t, client, []agent.Worker{reporter})

	state := driver.Run(context.Background(), Input{FOIARequest: "records"})
	if state.RunID == "" {
		t.Fatal("no run id assigned")
	}
	if !strings.HasPrefix(state.RunID, "foia-") {
		t.Errorf("run id = %q, want foia- prefix", state.RunID)
	}
}
