package provider

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	schemapacket "github.com/davidahmann/ctxpack/core/schema/v1/packet"
)

const defaultSymbolLimit = 200

// SymbolProvider reads the symbol/metadata store: a SQLite database owned
// and populated by the indexing facility. The provider only ever issues
// SELECTs.
type SymbolProvider struct {
	db    *sql.DB
	limit int
}

// OpenSymbolProvider opens the symbol database at path.
func OpenSymbolProvider(path string) (*SymbolProvider, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open symbol store: %w", err)
	}
	return NewSymbolProvider(db), nil
}

// NewSymbolProvider wraps an existing handle; the caller keeps ownership of
// closing it.
func NewSymbolProvider(db *sql.DB) *SymbolProvider {
	return &SymbolProvider{db: db, limit: defaultSymbolLimit}
}

func (p *SymbolProvider) Name() string {
	return "symbols"
}

func (p *SymbolProvider) Close() error {
	return p.db.Close()
}

func (p *SymbolProvider) Fetch(ctx context.Context, req Request) ([]CandidateItem, error) {
	limit := p.limit
	if req.BudgetHint > 0 && req.BudgetHint < limit {
		limit = req.BudgetHint
	}

	query := `
		SELECT name, path, kind, signature, start_line, end_line, summary, content, deps, relevance
		FROM symbols
	`
	args := make([]any, 0, len(req.Scope.Roots)+1)
	if len(req.Scope.Roots) > 0 {
		clauses := make([]string, 0, len(req.Scope.Roots))
		for _, root := range req.Scope.Roots {
			root = strings.Trim(strings.TrimSpace(root), "/")
			clauses = append(clauses, "path = ? OR path LIKE ?")
			args = append(args, root, root+"/%")
		}
		query += " WHERE (" + strings.Join(clauses, ") OR (") + ")"
	}
	query += " ORDER BY relevance DESC, path, name LIMIT ?"
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query symbols: %w", err)
	}
	defer rows.Close()

	items := make([]CandidateItem, 0, limit)
	for rows.Next() {
		var (
			item      CandidateItem
			kind      string
			signature sql.NullString
			startLine sql.NullInt64
			endLine   sql.NullInt64
			summary   sql.NullString
			deps      sql.NullString
		)
		if err := rows.Scan(&item.Name, &item.Path, &kind, &signature, &startLine, &endLine, &summary, &item.Content, &deps, &item.Relevance); err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}
		item.ItemType = symbolItemType(kind)
		item.Signature = signature.String
		item.Summary = summary.String
		if startLine.Valid && endLine.Valid {
			item.Span = &schemapacket.Span{StartLine: int(startLine.Int64), EndLine: int(endLine.Int64)}
		}
		if deps.Valid && strings.TrimSpace(deps.String) != "" {
			item.Dependencies = strings.Split(deps.String, ",")
		}
		if !InScope(req.Scope, item.Path) {
			continue
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate symbols: %w", err)
	}
	return items, nil
}

func symbolItemType(kind string) schemapacket.ItemType {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "function", "method", "type", "struct", "interface", "const", "var", "symbol":
		return schemapacket.ItemTypeSymbol
	case "snippet":
		return schemapacket.ItemTypeSnippet
	case "summary", "doc":
		return schemapacket.ItemTypeSummary
	default:
		return schemapacket.ItemTypeOther
	}
}

var _ Provider = (*SymbolProvider)(nil)
