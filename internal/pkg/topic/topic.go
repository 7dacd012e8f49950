// Package topic matches broker topics against wildcard subscriptions.
//
// Patterns use the Solace convention: levels are separated by "/", "*"
// matches exactly one level and ">" matches one or more trailing levels.
// A ">" in the middle of a pattern is accepted and matches any run of levels.
package topic

import (
	"fmt"
	"regexp"
	"strings"
)

// Pattern is a compiled topic subscription.
type Pattern struct {
	raw string
	re  *regexp.Regexp
}

// Compile parses a subscription pattern.
func Compile(pattern string) (*Pattern, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("empty topic pattern")
	}
	var b strings.Builder
	b.WriteString("^")
	for i, level := range strings.Split(pattern, "/") {
		if i > 0 {
			b.WriteString("/")
		}
		switch level {
		case ">":
			b.WriteString(".+")
		case "*":
			b.WriteString("[^/]+")
		default:
			b.WriteString(regexp.QuoteMeta(level))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("invalid topic pattern %q: %w", pattern, err)
	}
	return &Pattern{raw: pattern, re: re}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(pattern string) *Pattern {
	p, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

// Match reports whether topic matches the pattern.
func (p *Pattern) Match(topic string) bool {
	if p == nil {
		return false
	}
	return p.re.MatchString(topic)
}

func (p *Pattern) String() string {
	if p == nil {
		return ""
	}
	return p.raw
}

// Filter matches a topic against a set of patterns.
type Filter struct {
	patterns []*Pattern
}

// NewFilter compiles every pattern. Blank entries are skipped.
func NewFilter(patterns []string) (*Filter, error) {
	f := &Filter{}
	for _, raw := range patterns {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		p, err := Compile(raw)
		if err != nil {
			return nil, err
		}
		f.patterns = append(f.patterns, p)
	}
	return f, nil
}

// Match reports whether any pattern matches topic. An empty filter matches nothing.
func (f *Filter) Match(topic string) bool {
	if f == nil {
		return false
	}
	for _, p := range f.patterns {
		if p.Match(topic) {
			return true
		}
	}
	return false
}

// Len returns the number of patterns.
func (f *Filter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.patterns)
}
