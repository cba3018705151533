package export

import (
	"fmt"

	"github.com/gobwas/glob"
)

// Filter selects records by glob patterns on type and artifact. An empty
// pattern list matches everything.
type Filter struct {
	types     []glob.Glob
	artifacts []glob.Glob
}

// NewFilter compiles the type and artifact patterns.
func NewFilter(typePatterns, artifactPatterns []string) (*Filter, error) {
	types, err := compileAll("type", typePatterns)
	if err != nil {
		return nil, err
	}
	artifacts, err := compileAll("artifact", artifactPatterns)
	if err != nil {
		return nil, err
	}
	return &Filter{types: types, artifacts: artifacts}, nil
}

func compileAll(what string, patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", what, p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// Match reports whether r passes both pattern lists.
func (f *Filter) Match(r Record) bool {
	if f == nil {
		return true
	}
	return anyMatch(f.artifacts, r.Artifact) && anyMatch(f.types, r.Type)
}

func anyMatch(globs []glob.Glob, s string) bool {
	if len(globs) == 0 {
		return true
	}
	for _, g := range globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}
