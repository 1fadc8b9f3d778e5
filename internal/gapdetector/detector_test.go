package gapdetector

import (
	"context"
	"regexp"
	"testing"

	"github.com/Strob0t/fortitude/internal/domain/gap"
)

func baseConfig() Config {
	return Config{
		MaxFileSizeBytes: 1 << 20,
		Rules: []Rule{
			{Kind: gap.KindTODO, Pattern: regexp.MustCompile(`(?i)TODO`), Description: "unresolved TODO", Confidence: 0.95, BasePriority: 5},
		},
		MinContentLength:     3,
		MinDescriptionLength: 3,
		HighConfidenceBoost:  2,
		LowConfidencePenalty: 2,
		UrgentKeywordBoost:   1,
		UrgentKeywords:       []string{"urgent"},
		MinPriority:          1,
		MaxPriority:          10,
		MaxGapsPerFile:       10,
	}
}

func TestAnalyzeDetectsTODOAndComputesPriority(t *testing.T) {
	d := New(baseConfig(), nil)
	content := []byte("package main\n// TODO: fix this urgent bug\nfunc main() {}\n")

	gaps, err := d.Analyze(context.Background(), "main.go", content)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(gaps) != 1 {
		t.Fatalf("expected 1 gap, got %d", len(gaps))
	}
	g := gaps[0]
	if g.Line != 2 {
		t.Fatalf("expected line 2, got %d", g.Line)
	}
	// base=5, high-confidence(0.95>=0.9)+2, urgent keyword+1 = 8
	if g.Priority.Final != 8 {
		t.Fatalf("expected final priority 8, got %d", g.Priority.Final)
	}
}

func TestAnalyzeSkipsFilesOverSizeLimit(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxFileSizeBytes = 5
	d := New(cfg, nil)

	gaps, err := d.Analyze(context.Background(), "big.go", []byte("// TODO: too big"))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if gaps != nil {
		t.Fatalf("expected no gaps for oversized file, got %v", gaps)
	}
}

func TestAnalyzeSkipsExcludedDirectory(t *testing.T) {
	cfg := baseConfig()
	cfg.ExcludedDirectories = []string{"vendor/"}
	d := New(cfg, nil)

	gaps, err := d.Analyze(context.Background(), "vendor/lib/main.go", []byte("// TODO: skip me"))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if gaps != nil {
		t.Fatalf("expected excluded directory to be skipped, got %v", gaps)
	}
}

func TestAnalyzeTruncatesToMaxGapsPerFile(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxGapsPerFile = 1
	d := New(cfg, nil)

	content := []byte("// TODO: one\n// TODO: two\n// TODO: three\n")
	gaps, err := d.Analyze(context.Background(), "f.go", content)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(gaps) != 1 {
		t.Fatalf("expected truncation to 1 gap, got %d", len(gaps))
	}
}

type stubIndex struct {
	score float64
}

func (s *stubIndex) Search(context.Context, string, int) ([]VectorMatch, error) {
	return []VectorMatch{{ID: "x", Score: s.score}}, nil
}

func TestAnalyzeDropsGapsBelowSemanticValidationThreshold(t *testing.T) {
	cfg := baseConfig()
	cfg.SemanticEnabled = true
	cfg.GapValidationThreshold = 0.9
	cfg.SemanticPriorityWeight = 0.1
	d := New(cfg, &stubIndex{score: 0.2})

	gaps, err := d.Analyze(context.Background(), "f.go", []byte("// TODO: low score"))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(gaps) != 0 {
		t.Fatalf("expected gap dropped below validation threshold, got %v", gaps)
	}
}
