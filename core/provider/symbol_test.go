package provider

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	schemapacket "github.com/davidahmann/ctxpack/core/schema/v1/packet"
	schemaspec "github.com/davidahmann/ctxpack/core/schema/v1/spec"
)

func newSymbolDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "symbols.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	schema := `
		CREATE TABLE symbols (
			name TEXT NOT NULL,
			path TEXT NOT NULL,
			kind TEXT NOT NULL,
			signature TEXT,
			start_line INTEGER,
			end_line INTEGER,
			summary TEXT,
			content TEXT NOT NULL,
			deps TEXT,
			relevance REAL NOT NULL DEFAULT 0
		)
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return db
}

func insertSymbol(t *testing.T, db *sql.DB, name, path, kind, content string, relevance float64) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO symbols (name, path, kind, signature, start_line, end_line, summary, content, deps, relevance)
		 VALUES (?, ?, ?, ?, 1, 10, ?, ?, '', ?)`,
		name, path, kind, "func "+name+"()", "summary of "+name, content, relevance,
	)
	if err != nil {
		t.Fatalf("insert symbol: %v", err)
	}
}

func TestSymbolProviderFetch(t *testing.T) {
	db := newSymbolDB(t)
	insertSymbol(t, db, "OpenCache", "src/cache/cache.go", "function", "func OpenCache() {}", 0.9)
	insertSymbol(t, db, "Helper", "tools/helper.go", "function", "func Helper() {}", 0.5)

	p := NewSymbolProvider(db)
	items, err := p.Fetch(context.Background(), Request{
		Scope: schemaspec.Scope{Roots: []string{"src"}},
	})
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item inside scope, got %d", len(items))
	}
	item := items[0]
	if item.Name != "OpenCache" || item.Path != "src/cache/cache.go" {
		t.Fatalf("unexpected item: %+v", item)
	}
	if item.ItemType != schemapacket.ItemTypeSymbol {
		t.Fatalf("expected symbol item type, got %s", item.ItemType)
	}
	if item.Span == nil || item.Span.StartLine != 1 || item.Span.EndLine != 10 {
		t.Fatalf("unexpected span: %+v", item.Span)
	}
}

func TestSymbolProviderOrdersByRelevance(t *testing.T) {
	db := newSymbolDB(t)
	insertSymbol(t, db, "Low", "src/a.go", "function", "func Low() {}", 0.1)
	insertSymbol(t, db, "High", "src/b.go", "function", "func High() {}", 0.9)

	p := NewSymbolProvider(db)
	items, err := p.Fetch(context.Background(), Request{})
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Name != "High" {
		t.Fatalf("expected relevance ordering, got %s first", items[0].Name)
	}
}

func TestSymbolProviderBudgetHint(t *testing.T) {
	db := newSymbolDB(t)
	for _, name := range []string{"A", "B", "C", "D"} {
		insertSymbol(t, db, name, "src/"+name+".go", "function", "func "+name+"() {}", 0.5)
	}

	p := NewSymbolProvider(db)
	items, err := p.Fetch(context.Background(), Request{BudgetHint: 2})
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected budget hint to cap results at 2, got %d", len(items))
	}
}

func TestInScope(t *testing.T) {
	cases := []struct {
		name  string
		scope schemaspec.Scope
		path  string
		want  bool
	}{
		{"no scope matches everything", schemaspec.Scope{}, "any/file.go", true},
		{"inside root", schemaspec.Scope{Roots: []string{"src"}}, "src/main.go", true},
		{"outside root", schemaspec.Scope{Roots: []string{"src"}}, "lib/main.go", false},
		{"include filter", schemaspec.Scope{Include: []string{"**/*.go"}}, "src/main.go", true},
		{"include mismatch", schemaspec.Scope{Include: []string{"**/*.go"}}, "src/README.md", false},
		{"exclude wins", schemaspec.Scope{Include: []string{"**"}, Exclude: []string{"**/*_test.go"}}, "src/main_test.go", false},
	}
	for _, tc := range cases {
		if got := InScope(tc.scope, tc.path); got != tc.want {
			t.Fatalf("%s: InScope = %v, want %v", tc.name, got, tc.want)
		}
	}
}
