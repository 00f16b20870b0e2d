package tokens

import (
	"strings"
	"testing"

	schemapacket "github.com/davidahmann/ctxpack/core/schema/v1/packet"
)

func TestHeuristicEstimateTextEmpty(t *testing.T) {
	e := NewHeuristicEstimator()
	if got := e.EstimateText(""); got != 0 {
		t.Fatalf("expected 0 tokens for empty text, got %d", got)
	}
}

func TestHeuristicEstimateTextGrowsWithInput(t *testing.T) {
	e := NewHeuristicEstimator()
	short := e.EstimateText("func Foo() {}")
	long := e.EstimateText(strings.Repeat("func Foo() {}\n", 50))
	if short <= 0 {
		t.Fatalf("expected positive estimate for non-empty text, got %d", short)
	}
	if long <= short {
		t.Fatalf("expected longer text to cost more: short=%d long=%d", short, long)
	}
}

func TestHeuristicEstimateTextDeterministic(t *testing.T) {
	e := NewHeuristicEstimator()
	text := "the quick brown fox jumps over the lazy dog"
	if e.EstimateText(text) != e.EstimateText(text) {
		t.Fatalf("estimate must be deterministic")
	}
}

func TestEstimateItemIncludesMetadata(t *testing.T) {
	e := NewHeuristicEstimator()
	bare := schemapacket.ContextItem{Content: "func Foo() {}"}
	annotated := schemapacket.ContextItem{
		Content:   "func Foo() {}",
		Name:      "Foo",
		Signature: "func Foo() error",
		Summary:   "Foo performs the foo operation against the primary store",
	}
	if e.EstimateItem(annotated) <= e.EstimateItem(bare) {
		t.Fatalf("expected metadata to add to the estimate")
	}
}
