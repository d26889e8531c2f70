package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openrecords/foiabuddy/internal/discovery"
	"github.com/openrecords/foiabuddy/internal/llm"
)

// PDFSearcher finds PDFs under a local directory and ranks them against the
// request so the parser only touches likely-relevant files.
type PDFSearcher struct {
	Base
	client  llm.Client
	pdfDir  string
	maxPDFs int
}

func NewPDFSearcher(client llm.Client, pdfDir string, maxPDFs int) *PDFSearcher {
	return &PDFSearcher{
		Base: NewBase(
			NamePDFSearcher,
			"Searches the local PDF directory for documents relevant to the request",
			RoleDiscovery,
			"local_pdf_search", "pdf_discovery", "filename_analysis",
		),
		client:  client,
		pdfDir:  pdfDir,
		maxPDFs: maxPDFs,
	}
}

func (s *PDFSearcher) SystemPrompt() string {
	return `You extract search keywords from FOIA requests for matching against PDF filenames.
Return 3-8 short keywords as a comma-separated list and nothing else.`
}

func (s *PDFSearcher) Execute(ctx context.Context, task Task) Result {
	start := time.Now()
	request, _ := task.Context["foia_request"].(string)

	keywords := s.extractKeywords(ctx, task.TaskID, request)

	candidates, err := discovery.Scan(s.pdfDir, []string{".pdf"}, keywords, s.maxPDFs)
	if err != nil {
		return s.fail(task, start, err, "could not scan the PDF directory")
	}

	paths := make([]string, 0, len(candidates))
	for _, c := range candidates {
		paths = append(paths, c.Path)
	}

	data := map[string]any{
		"total_pdfs_found": len(candidates),
		"relevant_pdfs":    candidates,
		"pdf_paths":        paths,
		"search_keywords":  keywords,
		"pdf_directory":    s.pdfDir,
	}
	reasoning := fmt.Sprintf("ranked %d PDFs against %d keywords", len(candidates), len(keywords))
	confidence := 0.8
	if len(candidates) == 0 {
		reasoning = fmt.Sprintf("no PDF files found in %s", s.pdfDir)
		confidence = 1.0
	}
	return s.finish(task, start, true, data, reasoning, confidence)
}

// extractKeywords asks the model for keywords and falls back to local
// tokenization when the call fails or yields nothing usable.
func (s *PDFSearcher) extractKeywords(ctx context.Context, taskID, request string) []string {
	if request == "" {
		return nil
	}
	resp, err := s.client.Generate(ctx,
		[]llm.Message{
			{Role: llm.RoleSystem, Content: s.SystemPrompt()},
			{Role: llm.RoleUser, Content: request},
		},
		llm.WithTemperature(0.3), llm.WithMaxTokens(100),
		llm.WithTrace(taskID, NamePDFSearcher),
	)
	if err == nil {
		var keywords []string
		for _, raw := range strings.Split(resp.Content, ",") {
			kw := strings.ToLower(strings.TrimSpace(raw))
			if kw != "" && len(kw) < 40 {
				keywords = append(keywords, kw)
			}
		}
		if len(keywords) > 0 {
			return keywords
		}
	}
	return discovery.Keywords(request, 8)
}
