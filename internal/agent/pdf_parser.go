package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/openrecords/foiabuddy/internal/docparse"
)

// perFileCharLimit caps the text carried per parsed file.
const perFileCharLimit = 12000

// PDFParser converts discovered PDFs into text. Downstream stages receive
// whatever subset parsed successfully; only a total wipeout fails the stage.
type PDFParser struct {
	Base
}

func NewPDFParser() *PDFParser {
	return &PDFParser{
		Base: NewBase(
			NamePDFParser,
			"Parses discovered PDFs and extracts their text content",
			RoleParsing,
			"pdf_parsing", "text_extraction",
		),
	}
}

func (p *PDFParser) SystemPrompt() string {
	return "You convert PDF documents into clean text for analysis."
}

// HasInput implements InputGate: with nothing discovered there is nothing to
// parse and the stage is skipped entirely.
func (p *PDFParser) HasInput(context map[string]any) bool {
	return len(pathsFromContext(context)) > 0
}

func (p *PDFParser) Execute(ctx context.Context, task Task) Result {
	start := time.Now()
	paths := pathsFromContext(task.Context)
	if len(paths) == 0 {
		return p.finish(task, start, true, map[string]any{
			"parsed_documents": []map[string]any{},
			"parsed_count":     0,
			"failed_count":     0,
		}, "no PDFs to parse", 1.0)
	}

	var parsed []map[string]any
	var failures []map[string]any
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return p.fail(task, start, err, "parsing cancelled")
		}
		text, err := docparse.ExtractText(path)
		if err != nil {
			failures = append(failures, map[string]any{"path": path, "error": err.Error()})
			continue
		}
		text = ClipText(text, perFileCharLimit, "\n... (truncated) ...")
		parsed = append(parsed, map[string]any{"path": path, "text": text, "chars": len(text)})
	}

	data := map[string]any{
		"parsed_documents": parsed,
		"parsed_count":     len(parsed),
		"failed_count":     len(failures),
		"failures":         failures,
	}

	if len(parsed) == 0 {
		return p.finish(task, start, false, data,
			fmt.Sprintf("all %d PDFs failed to parse", len(failures)), 0)
	}

	confidence := float64(len(parsed)) / float64(len(paths))
	return p.finish(task, start, true, data,
		fmt.Sprintf("parsed %d of %d PDFs", len(parsed), len(paths)), confidence)
}

// pathsFromContext digs the discovered PDF paths out of the threaded stage
// context, tolerating both native and JSON-decoded slice shapes.
func pathsFromContext(context map[string]any) []string {
	stage, ok := context[NamePDFSearcher].(map[string]any)
	if !ok {
		return nil
	}
	switch v := stage["pdf_paths"].(type) {
	case []string:
		return v
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
