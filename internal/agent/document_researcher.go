package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/openrecords/foiabuddy/internal/discovery"
	"github.com/openrecords/foiabuddy/internal/docparse"
)

// snippetRadius is how much text to keep around the first keyword hit.
const snippetRadius = 200

// DocumentResearcher searches the markdown/text document repository by
// keyword frequency and returns scored excerpts for the synthesis stage.
type DocumentResearcher struct {
	Base
	documentsDir string
	maxResults   int
}

func NewDocumentResearcher(documentsDir string, maxResults int) *DocumentResearcher {
	return &DocumentResearcher{
		Base: NewBase(
			NameDocumentResearcher,
			"Searches the local document repository for files relevant to the request",
			RoleDiscovery,
			"document_search", "semantic_search",
		),
		documentsDir: documentsDir,
		maxResults:   maxResults,
	}
}

func (d *DocumentResearcher) SystemPrompt() string {
	return "You rank local repository documents by relevance to a FOIA request."
}

type documentHit struct {
	Path           string  `json:"path"`
	RelevanceScore float64 `json:"relevance_score"`
	Matches        int     `json:"matches"`
	Snippet        string  `json:"snippet"`
}

func (d *DocumentResearcher) Execute(ctx context.Context, task Task) Result {
	start := time.Now()
	request, _ := task.Context["foia_request"].(string)
	keywords := discovery.Keywords(request, 10)

	candidates, err := discovery.Scan(d.documentsDir, []string{".md", ".txt"}, keywords, 0)
	if err != nil {
		return d.fail(task, start, err, "could not scan the document repository")
	}

	var hits []documentHit
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return d.fail(task, start, err, "document research cancelled")
		}
		text, err := docparse.ExtractText(c.Path)
		if err != nil {
			continue // unreadable file, keep going
		}
		hit := scoreDocument(c.Path, text, keywords)
		if hit.Matches > 0 {
			hits = append(hits, hit)
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].RelevanceScore > hits[j].RelevanceScore })
	if d.maxResults > 0 && len(hits) > d.maxResults {
		hits = hits[:d.maxResults]
	}

	data := map[string]any{
		"documents_searched":       len(candidates),
		"relevant_documents_found": len(hits),
		"relevant_documents":       hits,
		"search_keywords":          keywords,
	}
	return d.finish(task, start, true, data,
		fmt.Sprintf("searched %d documents, %d relevant", len(candidates), len(hits)), 0.75)
}

// scoreDocument counts keyword occurrences in the content and keeps a snippet
// around the first hit.
func scoreDocument(path, text string, keywords []string) documentHit {
	lowered := strings.ToLower(text)
	matches := 0
	firstHit := -1
	for _, kw := range keywords {
		idx := strings.Index(lowered, kw)
		if idx < 0 {
			continue
		}
		matches += strings.Count(lowered, kw)
		if firstHit < 0 || idx < firstHit {
			firstHit = idx
		}
	}

	hit := documentHit{Path: path, Matches: matches}
	if matches == 0 {
		return hit
	}

	// Score saturates: a handful of hits already marks a document relevant.
	hit.RelevanceScore = float64(matches) / float64(matches+5)

	from := firstHit - snippetRadius
	if from < 0 {
		from = 0
	}
	to := firstHit + snippetRadius
	if to > len(text) {
		to = len(text)
	}
	hit.Snippet = strings.TrimSpace(text[from:to])
	return hit
}
