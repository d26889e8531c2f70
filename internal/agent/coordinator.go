package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/openrecords/foiabuddy/internal/llm"
)

// Worker names known to the default plan. The driver appends a synthesis
// stage when a plan omits one.
const (
	NameCoordinator        = "coordinator"
	NamePDFSearcher        = "local_pdf_search"
	NamePDFParser          = "pdf_parser"
	NameDocumentResearcher = "document_researcher"
	NamePublicSearch       = "public_foia_search"
	NameReportGenerator    = "report_generator"
	NameHTMLPresenter      = "html_presenter"
)

// defaultPriority is assigned to plan entries whose priority is missing or
// out of the usual 1-5 range.
const defaultPriority = 5

// PlanEntry is one (worker, sub-task, priority) tuple in an execution plan.
type PlanEntry struct {
	Worker   string `json:"agent"`
	Task     string `json:"task"`
	Priority int    `json:"priority"`
}

// PlanOutcome is the coordinator's product: the ordered plan plus the raw
// model output kept for audit. Fallback marks plans built without the model.
type PlanOutcome struct {
	Entries             []PlanEntry
	Analysis            string
	EstimatedComplexity string
	RawContent          string
	Reasoning           string
	Fallback            bool
}

// plannerResponse is the JSON shape the coordinator asks the model for.
type plannerResponse struct {
	Analysis            string            `json:"analysis"`
	ExecutionPlan       []json.RawMessage `json:"execution_plan"`
	Priority            int               `json:"priority"`
	EstimatedComplexity string            `json:"estimated_complexity"`
}

// Coordinator analyzes a request and plans which workers run, in what order.
type Coordinator struct {
	Base
	client   llm.Client
	registry *Registry
	sink     DecisionSink
}

// NewCoordinator builds the planning worker over the given registry.
func NewCoordinator(client llm.Client, registry *Registry, sink DecisionSink) *Coordinator {
	return &Coordinator{
		Base: NewBase(
			NameCoordinator,
			"Analyzes FOIA requests and plans which workers run, in what order",
			RoleCoordination,
			"request_analysis", "planning", "agent_orchestration",
		),
		client:   client,
		registry: registry,
		sink:     sink,
	}
}

func (c *Coordinator) SystemPrompt() string {
	return `You are the coordinator for FOIA-Buddy, a system that processes Freedom of Information Act requests.

Your role is to ANALYZE the incoming request, then CREATE an execution plan deciding which workers to deploy and in what order.

Always respond with a JSON object:
{
  "analysis": "your reasoning about the request",
  "execution_plan": [{"agent": "worker name", "task": "what it should do", "priority": 1}],
  "priority": 3,
  "estimated_complexity": "low|medium|high"
}

Priorities run 1 (first) to 5 (last). Only use worker names from the provided list. Return the JSON object only.`
}

// Plan asks the inference service for an execution plan. A malformed or
// non-JSON response is recovered locally via the fixed default plan; only a
// failed inference call itself is returned as an error.
func (c *Coordinator) Plan(ctx context.Context, runID, input string) (*PlanOutcome, error) {
	prompt := fmt.Sprintf(`Analyze this FOIA request and create an execution plan.

Available workers:
%s

FOIA REQUEST:
%s`, strings.Join(c.registry.Describe(), "\n"), input)

	resp, err := c.client.Generate(ctx,
		[]llm.Message{
			{Role: llm.RoleSystem, Content: c.SystemPrompt()},
			{Role: llm.RoleUser, Content: prompt},
		},
		llm.WithTemperature(0.3), llm.WithMaxTokens(1500), llm.WithThinking(),
		llm.WithTrace(runID, NameCoordinator),
	)
	if err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}

	outcome := &PlanOutcome{RawContent: resp.Content, Reasoning: resp.Reasoning}
	entries, analysis, complexity, parseErr := parsePlan(resp.Content)
	if parseErr != nil {
		// Structured plan or fallback plan: exactly two outcomes,
		// nothing in between.
		outcome.Entries = c.DefaultPlan()
		outcome.Analysis = "structured plan unavailable, using default plan"
		outcome.Fallback = true
		c.logDecision(runID, fmt.Sprintf("fallback plan of %d stages", len(outcome.Entries)),
			parseErr.Error(), 0.5)
		return outcome, nil
	}

	outcome.Entries = normalizePlan(entries)
	outcome.Analysis = analysis
	outcome.EstimatedComplexity = complexity
	c.logDecision(runID, fmt.Sprintf("planned %d stages: %s", len(outcome.Entries), planSummary(outcome.Entries)),
		"model selected worker sequence from request analysis", 0.9)
	return outcome, nil
}

// Execute adapts Plan to the worker contract so coordination runs as stage
// zero of a pipeline.
func (c *Coordinator) Execute(ctx context.Context, task Task) Result {
	start := time.Now()
	input, _ := task.Context["foia_request"].(string)

	outcome, err := c.Plan(ctx, task.TaskID, input)
	if err != nil {
		return c.fail(task, start, err, "failed to generate coordination plan")
	}

	reasoning := outcome.Reasoning
	if reasoning == "" {
		reasoning = "analyzed request and created execution plan"
	}
	return c.finish(task, start, true, map[string]any{
		"analysis":             outcome.Analysis,
		"execution_plan":       outcome.Entries,
		"estimated_complexity": outcome.EstimatedComplexity,
		"fallback":             outcome.Fallback,
	}, reasoning, 0.9)
}

// DefaultPlan is the deterministic fallback: a fixed, reasonable ordering of
// the known worker kinds. It never consults the network.
func (c *Coordinator) DefaultPlan() []PlanEntry {
	return []PlanEntry{
		{Worker: NamePublicSearch, Task: "Search the public FOIA library for previously released documents", Priority: 1},
		{Worker: NamePDFSearcher, Task: "Search the local PDF directory for relevant documents", Priority: 2},
		{Worker: NamePDFParser, Task: "Parse discovered PDFs into text", Priority: 3},
		{Worker: NameDocumentResearcher, Task: "Search the local document repository for relevant files", Priority: 3},
		{Worker: NameReportGenerator, Task: "Generate the final FOIA response report", Priority: 4},
		{Worker: NameHTMLPresenter, Task: "Render the report as a standalone HTML page", Priority: 5},
	}
}

func (c *Coordinator) logDecision(runID, decision, reasoning string, confidence float64) {
	if c.sink == nil {
		return
	}
	_ = c.sink.AppendDecision(runID, Decision{
		AgentName:         c.Name(),
		Decision:          decision,
		Reasoning:         reasoning,
		OptionsConsidered: []string{"model plan", "default plan"},
		Confidence:        confidence,
		Timestamp:         time.Now(),
	})
}

// parsePlan locates a JSON object embedded anywhere in free text and decodes
// the execution plan out of it.
func parsePlan(content string) (entries []PlanEntry, analysis, complexity string, err error) {
	raw, ok := extractJSONObject(content)
	if !ok {
		return nil, "", "", fmt.Errorf("no JSON object found in response")
	}

	var decoded plannerResponse
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, "", "", fmt.Errorf("malformed plan JSON: %w", err)
	}
	if len(decoded.ExecutionPlan) == 0 {
		return nil, "", "", fmt.Errorf("plan JSON missing execution_plan")
	}

	for i, rawEntry := range decoded.ExecutionPlan {
		// Priority may be absent or non-numeric; decode loosely and
		// default rather than rejecting the whole plan.
		var loose struct {
			Agent    string          `json:"agent"`
			Task     string          `json:"task"`
			Priority json.RawMessage `json:"priority"`
		}
		if err := json.Unmarshal(rawEntry, &loose); err != nil {
			return nil, "", "", fmt.Errorf("malformed plan entry %d: %w", i, err)
		}
		if strings.TrimSpace(loose.Agent) == "" {
			return nil, "", "", fmt.Errorf("plan entry %d has no agent", i)
		}
		entries = append(entries, PlanEntry{
			Worker:   strings.TrimSpace(loose.Agent),
			Task:     strings.TrimSpace(loose.Task),
			Priority: decodePriority(loose.Priority),
		})
	}
	return entries, decoded.Analysis, decoded.EstimatedComplexity, nil
}

func decodePriority(raw json.RawMessage) int {
	if len(raw) == 0 {
		return defaultPriority
	}
	var p int
	if err := json.Unmarshal(raw, &p); err != nil || p <= 0 {
		return defaultPriority
	}
	return p
}

// normalizePlan stable-sorts entries by priority ascending; equal priorities
// keep their original order.
func normalizePlan(entries []PlanEntry) []PlanEntry {
	out := make([]PlanEntry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// extractJSONObject strips markdown code fences and scans for the outermost
// balanced JSON object. It returns the candidate text verbatim; whether it
// actually parses is the caller's problem.
func extractJSONObject(content string) (string, bool) {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimLeft(trimmed, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
		trimmed = strings.TrimSpace(trimmed)
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")

	start := strings.Index(trimmed, "{")
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(trimmed); i++ {
		ch := trimmed[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return trimmed[start : i+1], true
			}
		}
	}
	return "", false
}

func planSummary(entries []PlanEntry) string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Worker
	}
	return strings.Join(names, " -> ")
}
