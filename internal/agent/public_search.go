package agent

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
	"github.com/tmc/langchaingo/tools/duckduckgo"

	"github.com/openrecords/foiabuddy/internal/discovery"
)

// pageCharLimit bounds how much of a fetched page is carried into the stage
// result so big documents cannot blow up downstream prompts.
const pageCharLimit = 10000

// Searcher is the web-search boundary. The production implementation is the
// duckduckgo tool; tests substitute a canned one.
type Searcher interface {
	Call(ctx context.Context, input string) (string, error)
}

// PublicLibrarySearcher queries the public FOIA reading room for previously
// released documents and reduces the top pages to readable text.
type PublicLibrarySearcher struct {
	Base
	search     Searcher
	httpClient *http.Client
	sanitizer  *bluemonday.Policy
	maxPages   int
	userAgent  string
}

// NewPublicLibrarySearcher wires the duckduckgo search tool.
func NewPublicLibrarySearcher(maxPages int) (*PublicLibrarySearcher, error) {
	ddg, err := duckduckgo.New(10, duckduckgo.DefaultUserAgent)
	if err != nil {
		return nil, fmt.Errorf("agent: init public search: %w", err)
	}
	return newPublicLibrarySearcher(ddg, maxPages), nil
}

func newPublicLibrarySearcher(search Searcher, maxPages int) *PublicLibrarySearcher {
	return &PublicLibrarySearcher{
		Base: NewBase(
			NamePublicSearch,
			"Searches the public FOIA library for previously released documents",
			RoleDiscovery,
			"public_foia_search", "web_search",
		),
		search:     search,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		sanitizer:  bluemonday.StrictPolicy(),
		maxPages:   maxPages,
		userAgent:  duckduckgo.DefaultUserAgent,
	}
}

func (p *PublicLibrarySearcher) SystemPrompt() string {
	return "You locate previously released FOIA documents in public reading rooms."
}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

func (p *PublicLibrarySearcher) Execute(ctx context.Context, task Task) Result {
	start := time.Now()
	request, _ := task.Context["foia_request"].(string)

	keywords := discovery.Keywords(request, 5)
	query := strings.Join(keywords, " ") + " FOIA released documents"

	raw, err := p.search.Call(ctx, query)
	if err != nil {
		return p.fail(task, start, err, "public library search request failed")
	}

	links := dedupe(urlPattern.FindAllString(raw, -1))
	if len(links) > p.maxPages {
		links = links[:p.maxPages]
	}

	var pages []map[string]any
	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return p.fail(task, start, err, "public library search cancelled")
		}
		page, err := p.fetchReadable(ctx, link)
		if err != nil {
			// A dead link is not a stage failure.
			pages = append(pages, map[string]any{"url": link, "error": err.Error()})
			continue
		}
		pages = append(pages, page)
	}

	data := map[string]any{
		"query":                 query,
		"search_results":        raw,
		"total_documents_found": len(links),
		"documents":             pages,
	}
	return p.finish(task, start, true, data,
		fmt.Sprintf("public library search returned %d candidate pages", len(links)), 0.7)
}

// fetchReadable downloads a result page and reduces it to sanitized text.
func (p *PublicLibrarySearcher) fetchReadable(ctx context.Context, link string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch: status %d", resp.StatusCode)
	}

	parsedURL, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	article, err := readability.FromReader(resp.Body, parsedURL)
	if err != nil {
		return nil, fmt.Errorf("extract article: %w", err)
	}

	content := ClipText(p.sanitizer.Sanitize(article.TextContent), pageCharLimit, "\n... (content truncated) ...")
	return map[string]any{
		"url":     link,
		"title":   article.Title,
		"excerpt": article.Excerpt,
		"content": content,
	}, nil
}

func dedupe(links []string) []string {
	seen := make(map[string]bool, len(links))
	var out []string
	for _, l := range links {
		l = strings.TrimRight(l, ".,;")
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	return out
}
