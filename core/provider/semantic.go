package provider

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	schemapacket "github.com/davidahmann/ctxpack/core/schema/v1/packet"
)

const defaultSemanticLimit = 50

// Embedder turns query text into the vector the semantic index was built
// with. The embedding backend is external; only this interface is consumed.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SemanticProvider queries a Postgres + pgvector semantic index for
// snippets similar to the task summary. The pool is owned by the provider
// and shared across builds.
type SemanticProvider struct {
	pool     *pgxpool.Pool
	embedder Embedder
	limit    int
}

// NewSemanticProvider connects to the index at databaseURL.
func NewSemanticProvider(ctx context.Context, databaseURL string, embedder Embedder) (*SemanticProvider, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create semantic index pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping semantic index: %w", err)
	}
	return &SemanticProvider{pool: pool, embedder: embedder, limit: defaultSemanticLimit}, nil
}

func (p *SemanticProvider) Name() string {
	return "semantic"
}

func (p *SemanticProvider) Close() {
	p.pool.Close()
}

func (p *SemanticProvider) Fetch(ctx context.Context, req Request) ([]CandidateItem, error) {
	if p.embedder == nil {
		return nil, fmt.Errorf("semantic provider requires an embedder")
	}
	vector, err := p.embedder.Embed(ctx, req.Summary)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	limit := p.limit
	if req.BudgetHint > 0 && req.BudgetHint < limit {
		limit = req.BudgetHint
	}

	query := `
		SELECT name, path, summary, content, 1 - (embedding <=> $1) AS similarity
		FROM context_chunks
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2
	`
	rows, err := p.pool.Query(ctx, query, pgvector.NewVector(vector), limit)
	if err != nil {
		return nil, fmt.Errorf("query semantic index: %w", err)
	}
	defer rows.Close()

	items := make([]CandidateItem, 0, limit)
	for rows.Next() {
		var item CandidateItem
		if err := rows.Scan(&item.Name, &item.Path, &item.Summary, &item.Content, &item.Relevance); err != nil {
			return nil, fmt.Errorf("scan semantic chunk: %w", err)
		}
		item.ItemType = schemapacket.ItemTypeSnippet
		if !InScope(req.Scope, item.Path) {
			continue
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate semantic chunks: %w", err)
	}
	return items, nil
}

var _ Provider = (*SemanticProvider)(nil)
