// Package discovery implements the local discovery boundary: given a
// directory and keywords it returns candidates ranked by filename relevance.
package discovery

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// Candidate is one ranked discovery hit.
type Candidate struct {
	Path           string  `json:"path"`
	Filename       string  `json:"filename"`
	SizeBytes      int64   `json:"size_bytes"`
	RelevanceScore float64 `json:"relevance_score"`
	MatchReason    string  `json:"match_reason"`
}

// Scan walks dir for files with one of the extensions (e.g. ".pdf") and ranks
// them against the keywords. Results are ordered by descending relevance and
// capped at limit (0 means no cap). A missing directory is an error; an empty
// one is an empty result.
func Scan(dir string, extensions []string, keywords []string, limit int) ([]Candidate, error) {
	extSet := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		extSet[strings.ToLower(ext)] = true
	}

	var candidates []Candidate
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !extSet[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil // unreadable entry, skip
		}
		score, reason := rank(d.Name(), keywords)
		candidates = append(candidates, Candidate{
			Path:           path,
			Filename:       d.Name(),
			SizeBytes:      info.Size(),
			RelevanceScore: score,
			MatchReason:    reason,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discovery: scan %s: %w", dir, err)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].RelevanceScore > candidates[j].RelevanceScore
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// rank scores a filename in [0,1] by the fraction of keywords it contains.
// Without keywords every file is a weak candidate.
func rank(filename string, keywords []string) (float64, string) {
	if len(keywords) == 0 {
		return 0.5, "no keywords provided for ranking"
	}
	lowered := strings.ToLower(filename)
	var matched []string
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(lowered, kw) {
			matched = append(matched, kw)
		}
	}
	if len(matched) == 0 {
		return 0.1, "no keyword matches in filename"
	}
	score := float64(len(matched)) / float64(len(keywords))
	if score > 1 {
		score = 1
	}
	return score, fmt.Sprintf("filename matches: %s", strings.Join(matched, ", "))
}

// Keywords tokenizes free text into lowercase search keywords, dropping stop
// words and short tokens. Deterministic fallback for when the model cannot
// supply keywords.
func Keywords(text string, max int) []string {
	stop := map[string]bool{
		"the": true, "and": true, "for": true, "all": true, "any": true,
		"with": true, "from": true, "that": true, "this": true, "are": true,
		"records": true, "request": true, "requested": true, "documents": true,
		"information": true, "pursuant": true, "foia": true, "act": true,
	}
	seen := make(map[string]bool)
	var out []string
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		if len(tok) < 4 || stop[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out
}
