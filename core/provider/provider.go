// Package provider defines the read-only adapter contract between the
// builder and each knowledge source, plus the concrete adapters for the
// symbol store (SQLite), the semantic index (Postgres + pgvector) and the
// static-analysis export. The builder depends only on the Provider
// interface, never on a source technology.
package provider

import (
	"context"
	"strings"

	"github.com/davidahmann/ctxpack/core/match"
	schemapacket "github.com/davidahmann/ctxpack/core/schema/v1/packet"
	schemaspec "github.com/davidahmann/ctxpack/core/schema/v1/spec"
)

// Request carries the scope a provider should search and a budget hint so
// providers can cap result set size early. Providers must not mutate it.
type Request struct {
	Scope      schemaspec.Scope
	TaskType   schemaspec.TaskType
	Summary    string
	BudgetHint int
}

// CandidateItem is one unit of context as a provider reports it, before
// hashing, deduplication and budgeting.
type CandidateItem struct {
	Name         string
	Path         string
	ItemType     schemapacket.ItemType
	Signature    string
	Span         *schemapacket.Span
	Summary      string
	Content      string
	Dependencies []string
	Relevance    float64
}

// Provider fetches candidate items from one knowledge source. A provider
// must be side-effect-free with respect to its source and must honor
// context cancellation; a failure is reported as an error and never aborts
// the overall build.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, req Request) ([]CandidateItem, error)
}

// InScope reports whether a path falls inside the requested scope: under
// one of the roots when roots are set, matching an include pattern when
// includes are set, and never matching an exclude pattern.
func InScope(scope schemaspec.Scope, path string) bool {
	path = strings.TrimPrefix(strings.TrimSpace(path), "./")
	if len(scope.Roots) > 0 && !underAnyRoot(scope.Roots, path) {
		return false
	}
	if len(scope.Include) > 0 && !match.Any(scope.Include, path) {
		return false
	}
	return !match.Any(scope.Exclude, path)
}

func underAnyRoot(roots []string, path string) bool {
	for _, root := range roots {
		root = strings.TrimPrefix(strings.TrimSpace(root), "./")
		root = strings.Trim(root, "/")
		if root == "" {
			return true
		}
		if path == root || strings.HasPrefix(path, root+"/") {
			return true
		}
	}
	return false
}
