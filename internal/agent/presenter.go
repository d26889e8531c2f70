package agent

import (
	"context"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// HTMLPresenter renders the synthesized report as a standalone HTML page in
// the run's output directory. Presentation failures never abort a run.
type HTMLPresenter struct {
	Base
}

func NewHTMLPresenter() *HTMLPresenter {
	return &HTMLPresenter{
		Base: NewBase(
			NameHTMLPresenter,
			"Renders the final report as a standalone HTML page",
			RolePresentation,
			"html_rendering",
		),
	}
}

func (h *HTMLPresenter) SystemPrompt() string {
	return "You render FOIA response reports as HTML."
}

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: Georgia, serif; max-width: 52rem; margin: 2rem auto; padding: 0 1rem; color: #1a1a1a; }
h1 { border-bottom: 2px solid #2c3e50; padding-bottom: .5rem; }
pre { background: #f6f6f6; padding: 1rem; overflow-x: auto; white-space: pre-wrap; }
footer { margin-top: 3rem; font-size: .8rem; color: #777; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<pre>{{.Report}}</pre>
<footer>Generated by foiabuddy on {{.Generated}}</footer>
</body>
</html>
`))

func (h *HTMLPresenter) Execute(ctx context.Context, task Task) Result {
	start := time.Now()

	report := reportFromContext(task.Context)
	if strings.TrimSpace(report) == "" {
		return h.fail(task, start, fmt.Errorf("no report content in context"), "nothing to render")
	}

	outputDir, _ := task.Context["output_dir"].(string)
	if outputDir == "" {
		outputDir = "output"
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return h.fail(task, start, err, "could not create output directory")
	}

	path := filepath.Join(outputDir, "report.html")
	f, err := os.Create(path)
	if err != nil {
		return h.fail(task, start, err, "could not create HTML file")
	}
	defer f.Close()

	err = reportTemplate.Execute(f, map[string]any{
		"Title":     "FOIA Response Report",
		"Report":    report,
		"Generated": time.Now().Format(time.RFC1123),
	})
	if err != nil {
		return h.fail(task, start, err, "template rendering failed")
	}

	return h.finish(task, start, true, map[string]any{
		"html_path": path,
	}, "rendered report to HTML", 0.95)
}

func reportFromContext(context map[string]any) string {
	stage, ok := context[NameReportGenerator].(map[string]any)
	if !ok {
		return ""
	}
	report, _ := stage["report_content"].(string)
	return report
}
