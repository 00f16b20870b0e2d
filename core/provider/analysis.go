package provider

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/davidahmann/ctxpack/core/canon"
	schemapacket "github.com/davidahmann/ctxpack/core/schema/v1/packet"
)

const maxAnalysisExportBytes = int64(64 * 1024 * 1024)

// analysisRecord is one line of the static-analysis export file produced by
// the external AST extraction facility.
type analysisRecord struct {
	Name         string            `json:"name"`
	Path         string            `json:"path"`
	Kind         string            `json:"kind"`
	Signature    string            `json:"signature,omitempty"`
	StartLine    int               `json:"start_line,omitempty"`
	EndLine      int               `json:"end_line,omitempty"`
	Summary      string            `json:"summary,omitempty"`
	Content      string            `json:"content"`
	Dependencies []string          `json:"dependencies,omitempty"`
	Relevance    float64           `json:"relevance,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// AnalysisProvider adapts a static-analysis export: a JSONL file of
// extracted symbols and summaries written by the external facility. The
// file is re-read on every fetch so a refreshed export is picked up without
// restarting the process.
type AnalysisProvider struct {
	path string
}

func NewAnalysisProvider(path string) *AnalysisProvider {
	return &AnalysisProvider{path: path}
}

func (p *AnalysisProvider) Name() string {
	return "analysis"
}

func (p *AnalysisProvider) Fetch(ctx context.Context, req Request) ([]CandidateItem, error) {
	info, err := os.Stat(p.path)
	if err != nil {
		return nil, fmt.Errorf("stat analysis export: %w", err)
	}
	if info.Size() > maxAnalysisExportBytes {
		return nil, fmt.Errorf("analysis export exceeds size limit (%d bytes)", maxAnalysisExportBytes)
	}
	// #nosec G304 -- export path is explicit local configuration.
	payload, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("read analysis export: %w", err)
	}

	items := make([]CandidateItem, 0, 64)
	scanner := bufio.NewScanner(bytes.NewReader(payload))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var record analysisRecord
		if err := canon.DecodeStrict(raw, &record); err != nil {
			return nil, fmt.Errorf("parse analysis export line %d: %w", line, err)
		}
		if !InScope(req.Scope, record.Path) {
			continue
		}
		item := CandidateItem{
			Name:         record.Name,
			Path:         record.Path,
			ItemType:     symbolItemType(record.Kind),
			Signature:    record.Signature,
			Summary:      record.Summary,
			Content:      record.Content,
			Dependencies: record.Dependencies,
			Relevance:    record.Relevance,
		}
		if record.StartLine > 0 || record.EndLine > 0 {
			item.Span = &schemapacket.Span{StartLine: record.StartLine, EndLine: record.EndLine}
		}
		items = append(items, item)
		if req.BudgetHint > 0 && len(items) >= req.BudgetHint {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan analysis export: %w", err)
	}
	return items, nil
}

var _ Provider = (*AnalysisProvider)(nil)
