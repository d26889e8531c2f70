package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openrecords/foiabuddy/internal/llm"
	"github.com/openrecords/foiabuddy/internal/redaction"
)

// findingsCharLimit bounds the serialized prior-stage findings embedded in
// the synthesis prompt.
const findingsCharLimit = 24000

// ReportGenerator synthesizes every prior stage's findings into the final
// FOIA response. Its failure is fatal to the run: no report, no output.
type ReportGenerator struct {
	Base
	client llm.Client
	policy *redaction.Policy
}

func NewReportGenerator(client llm.Client, policy *redaction.Policy) *ReportGenerator {
	if policy == nil {
		policy = redaction.DefaultPolicy()
	}
	return &ReportGenerator{
		Base: NewBase(
			NameReportGenerator,
			"Synthesizes findings into the final FOIA response report",
			RoleSynthesis,
			"report_generation", "synthesis",
		),
		client: client,
		policy: policy,
	}
}

func (r *ReportGenerator) SystemPrompt() string {
	return `You are the report generator for FOIA-Buddy. Given a FOIA request and the findings
gathered by discovery and parsing stages, write the response report in markdown with
exactly these sections:

## Executive Summary
## Findings
## Responsive Documents
## Compliance Notes

Cite document paths and public library links where the findings give them. Be factual:
never invent documents that the findings do not contain.`
}

func (r *ReportGenerator) Execute(ctx context.Context, task Task) Result {
	start := time.Now()
	request, _ := task.Context["foia_request"].(string)

	findings := summarizeFindings(task.Context)
	prompt := fmt.Sprintf("FOIA REQUEST:\n%s\n\nSTAGE FINDINGS (JSON):\n%s\n\nWrite the response report.",
		request, findings)

	resp, err := r.client.Generate(ctx,
		[]llm.Message{
			{Role: llm.RoleSystem, Content: r.SystemPrompt()},
			{Role: llm.RoleUser, Content: prompt},
		},
		llm.WithTemperature(0.4), llm.WithMaxTokens(3000), llm.WithThinking(),
		llm.WithTrace(task.TaskID, NameReportGenerator),
	)
	if err != nil {
		return r.fail(task, start, err, "report synthesis request failed")
	}
	if strings.TrimSpace(resp.Content) == "" {
		return r.fail(task, start, fmt.Errorf("empty report from model"), "model returned no report content")
	}

	report := resp.Content
	flags := r.policy.Scan(report)

	data := map[string]any{
		"report_content":    report,
		"executive_summary": extractSection(report, "Executive Summary"),
		"compliance_notes":  extractSection(report, "Compliance Notes"),
		"redaction_flags":   flagStrings(flags),
		"word_count":        len(strings.Fields(report)),
	}
	reasoning := resp.Reasoning
	if reasoning == "" {
		reasoning = "synthesized findings into response report"
	}
	return r.finish(task, start, true, data, reasoning, 0.85)
}

// summarizeFindings serializes the prior stages' data for the prompt,
// dropping the original request key (already carried separately).
func summarizeFindings(context map[string]any) string {
	findings := make(map[string]any, len(context))
	for key, value := range context {
		if key == "foia_request" || key == "output_dir" {
			continue
		}
		findings[key] = value
	}
	encoded, err := json.Marshal(findings)
	if err != nil {
		return "{}"
	}
	if len(encoded) > findingsCharLimit {
		encoded = encoded[:findingsCharLimit]
	}
	return string(encoded)
}

// extractSection pulls one "## Heading" section out of a markdown report,
// empty when the model ignored the requested structure.
func extractSection(report, heading string) string {
	marker := "## " + heading
	start := strings.Index(report, marker)
	if start < 0 {
		return ""
	}
	body := report[start+len(marker):]
	if next := strings.Index(body, "\n## "); next >= 0 {
		body = body[:next]
	}
	return strings.TrimSpace(body)
}

func flagStrings(flags []redaction.Flag) []string {
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		out = append(out, fmt.Sprintf("[%s] %s (%s)", f.Rule, f.Excerpt, f.Reason))
	}
	return out
}
