// Package gapdetector implements the Gap Detector (C9): scans file content
// for rule-family matches, optionally validates them against a vector index,
// filters for quality, and computes final priority.
package gapdetector

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Strob0t/fortitude/internal/domain/gap"
)

// Rule is one pattern contributing Gaps for a detector Kind.
type Rule struct {
	Kind        gap.Kind
	Pattern     *regexp.Regexp
	Description string
	Confidence  float64
	BasePriority int
}

// VectorIndex is the narrow capability used for the optional semantic stage
// (§6's Vector Index capability).
type VectorIndex interface {
	Search(ctx context.Context, queryText string, limit int) ([]VectorMatch, error)
}

// VectorMatch is one result from VectorIndex.Search.
type VectorMatch struct {
	ID    string
	Score float64
}

// Config carries the detection_settings/detection_rules/semantic/priority/
// filtering configuration groups relevant to gap detection (§6).
type Config struct {
	MaxFileSizeBytes     int64
	ExcludedExtensions   []string
	ExcludedDirectories  []string
	ExcludedFilePatterns []*regexp.Regexp

	Rules []Rule

	UrgentKeywords []string

	SemanticEnabled          bool
	GapValidationThreshold   float64
	SemanticPriorityWeight   float64

	MinContentLength     int
	MinDescriptionLength int

	HighConfidenceBoost  int
	LowConfidencePenalty int
	UrgentKeywordBoost   int

	MinPriority   int
	MaxPriority   int
	MaxGapsPerFile int

	CustomRules []CustomRule
}

// CustomRule applies a signed adjustment when its patterns match a gap's
// file path, kind, or content.
type CustomRule struct {
	FilePattern    *regexp.Regexp
	KindPattern    gap.Kind
	ContentPattern *regexp.Regexp
	Adjustment     int
}

// Detector evaluates Config's rules against file content.
type Detector struct {
	cfg   Config
	index VectorIndex
	now   func() time.Time
}

// New creates a Detector. index may be nil to skip the semantic stage.
func New(cfg Config, index VectorIndex) *Detector {
	return &Detector{cfg: cfg, index: index, now: time.Now}
}

// Analyze implements §4.9's pipeline for one file.
func (d *Detector) Analyze(ctx context.Context, filePath string, content []byte) ([]gap.EnhancedGap, error) {
	if d.shouldSkip(filePath, int64(len(content))) {
		return nil, nil
	}

	lines := strings.Split(string(content), "\n")
	var gaps []gap.Gap
	for _, rule := range d.cfg.Rules {
		gaps = append(gaps, d.applyRule(filePath, lines, rule)...)
	}

	enhanced := make([]gap.EnhancedGap, 0, len(gaps))
	for _, g := range gaps {
		eg := gap.EnhancedGap{Gap: g, ResearchQuery: researchQuery(g)}

		if d.cfg.SemanticEnabled && d.index != nil {
			validation, related, err := d.semanticScore(ctx, g)
			if err != nil {
				return nil, fmt.Errorf("gapdetector: semantic stage: %w", err)
			}
			eg.ValidationScore = validation
			eg.RelatedContentScore = related
			if validation < d.cfg.GapValidationThreshold {
				continue
			}
		}

		if !d.passesQuality(eg) {
			continue
		}
		if !d.passesValidation(filePath, len(lines), eg) {
			continue
		}

		eg.Priority = d.computePriority(eg)
		enhanced = append(enhanced, eg)
	}

	sort.SliceStable(enhanced, func(i, j int) bool {
		return enhanced[i].Priority.Final > enhanced[j].Priority.Final
	})

	if d.cfg.MaxGapsPerFile > 0 && len(enhanced) > d.cfg.MaxGapsPerFile {
		enhanced = enhanced[:d.cfg.MaxGapsPerFile]
	}
	return enhanced, nil
}

func (d *Detector) shouldSkip(filePath string, size int64) bool {
	if d.cfg.MaxFileSizeBytes > 0 && size > d.cfg.MaxFileSizeBytes {
		return true
	}
	ext := filepath.Ext(filePath)
	for _, excluded := range d.cfg.ExcludedExtensions {
		if ext == excluded {
			return true
		}
	}
	for _, dir := range d.cfg.ExcludedDirectories {
		if strings.Contains(filePath, dir) {
			return true
		}
	}
	for _, pattern := range d.cfg.ExcludedFilePatterns {
		if pattern.MatchString(filePath) {
			return true
		}
	}
	return false
}

func (d *Detector) applyRule(filePath string, lines []string, rule Rule) []gap.Gap {
	var out []gap.Gap
	for i, line := range lines {
		if !rule.Pattern.MatchString(line) {
			continue
		}
		out = append(out, gap.Gap{
			ID:           fmt.Sprintf("%s:%d:%s", filePath, i+1, rule.Kind),
			FilePath:     filePath,
			Line:         i + 1,
			Kind:         rule.Kind,
			Description:  rule.Description,
			Content:      strings.TrimSpace(line),
			Confidence:   rule.Confidence,
			BasePriority: rule.BasePriority,
			DetectedAt:   d.now(),
		})
	}
	return out
}

func (d *Detector) semanticScore(ctx context.Context, g gap.Gap) (validation, related float64, err error) {
	matches, err := d.index.Search(ctx, g.Content, 5)
	if err != nil {
		return 0, 0, err
	}
	if len(matches) == 0 {
		return 0, 0, nil
	}
	var sum float64
	for _, m := range matches {
		sum += m.Score
	}
	avg := sum / float64(len(matches))
	return avg, matches[0].Score, nil
}

func (d *Detector) passesQuality(eg gap.EnhancedGap) bool {
	if len(eg.Content) < d.cfg.MinContentLength {
		return false
	}
	if len(eg.Description) < d.cfg.MinDescriptionLength {
		return false
	}
	lengthFactor := float64(len(eg.Content)) / float64(d.cfg.MinContentLength+1)
	if lengthFactor > 1 {
		lengthFactor = 1
	}
	overallQuality := 0.6*eg.Confidence + 0.4*lengthFactor
	return overallQuality > 0
}

func (d *Detector) passesValidation(filePath string, totalLines int, eg gap.EnhancedGap) bool {
	if eg.Line <= 0 || eg.Line > totalLines {
		return false
	}
	return eg.FilePath == filePath
}

func (d *Detector) computePriority(eg gap.EnhancedGap) gap.PriorityBreakdown {
	b := gap.PriorityBreakdown{Base: eg.BasePriority}

	if eg.Confidence >= 0.9 {
		b.HighConfidenceBoost = d.cfg.HighConfidenceBoost
	} else if eg.Confidence < 0.5 {
		b.LowConfidencePenalty = d.cfg.LowConfidencePenalty
	}

	lower := strings.ToLower(eg.Content)
	for _, kw := range d.cfg.UrgentKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			b.UrgentKeywordBoost = d.cfg.UrgentKeywordBoost
			break
		}
	}

	if d.cfg.SemanticEnabled {
		semanticEnhanced := eg.ValidationScore * 10 // scaled into priority units
		b.SemanticAdjustment = (semanticEnhanced - float64(eg.BasePriority)) * d.cfg.SemanticPriorityWeight
	}

	for _, cr := range d.cfg.CustomRules {
		if cr.FilePattern != nil && !cr.FilePattern.MatchString(eg.FilePath) {
			continue
		}
		if cr.KindPattern != "" && cr.KindPattern != eg.Kind {
			continue
		}
		if cr.ContentPattern != nil && !cr.ContentPattern.MatchString(eg.Content) {
			continue
		}
		b.CustomRuleAdjustments += cr.Adjustment
	}

	total := b.Base + b.HighConfidenceBoost - b.LowConfidencePenalty + b.UrgentKeywordBoost +
		int(b.SemanticAdjustment) + b.CustomRuleAdjustments
	b.Final = clamp(total, d.cfg.MinPriority, d.cfg.MaxPriority)
	return b
}

func researchQuery(g gap.Gap) string {
	return fmt.Sprintf("Investigate %s gap in %s:%d — %s", g.Kind, g.FilePath, g.Line, g.Description)
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
