// Package redaction flags report passages that a human reviewer must check
// before release. It only flags; it never rewrites text.
package redaction

import (
	"fmt"
	"regexp"
)

// Flag marks one pattern hit in generated output.
type Flag struct {
	Rule    string `json:"rule"`
	Excerpt string `json:"excerpt"`
	Reason  string `json:"reason"`
}

type rule struct {
	name   string
	re     *regexp.Regexp
	reason string
}

// Policy holds the compiled rule set. Rules are fixed after construction.
type Policy struct {
	rules []rule
}

// NewPolicy returns a policy with no rules.
func NewPolicy() *Policy {
	return &Policy{}
}

// AddRule compiles and installs a pattern.
func (p *Policy) AddRule(name, pattern, reason string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("redaction: rule %s: %w", name, err)
	}
	p.rules = append(p.rules, rule{name: name, re: re, reason: reason})
	return nil
}

// DefaultPolicy carries the baseline rules applied to every report.
func DefaultPolicy() *Policy {
	p := NewPolicy()
	must := func(name, pattern, reason string) {
		if err := p.AddRule(name, pattern, reason); err != nil {
			panic(err)
		}
	}
	must("ssn", `\b\d{3}-\d{2}-\d{4}\b`, "possible social security number")
	must("classification", `(?i)\b(top secret|classified|noforn)\b`, "classification marking")
	must("personal_email", `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.(com|net|org)\b`, "personal email address")
	must("phone", `\b\d{3}[-.]\d{3}[-.]\d{4}\b`, "phone number")
	return p
}

// Scan returns a flag per rule hit, capped at one flag per rule occurrence up
// to eight occurrences each so a pathological report cannot flood the review
// file.
func (p *Policy) Scan(text string) []Flag {
	var flags []Flag
	for _, r := range p.rules {
		for _, match := range r.re.FindAllString(text, 8) {
			flags = append(flags, Flag{Rule: r.name, Excerpt: match, Reason: r.reason})
		}
	}
	return flags
}
