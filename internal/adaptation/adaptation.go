// Package adaptation implements the Adaptation Engine (C15): a
// tagged-variant enumeration of selectable algorithms, each implementing
// the common analyze_feedback/analyze_patterns capability set (§9's
// dynamic-dispatch design note prefers this over an open-ended plugin
// interface).
package adaptation

import (
	"fmt"
	"math"

	"github.com/Strob0t/fortitude/internal/domain/adaptation"
)

// Algorithm names a selectable analyzer variant.
type Algorithm string

const (
	AlgorithmFeedbackAnalyzer Algorithm = "feedback_analyzer"
	AlgorithmPatternMatcher   Algorithm = "pattern_matcher"
	AlgorithmPromptOptimizer  Algorithm = "prompt_optimizer"
	AlgorithmQueryOptimizer   Algorithm = "query_optimizer"
	AlgorithmTemplateAdaptor  Algorithm = "template_adaptor"
)

// Analyzer is the common capability every algorithm variant implements.
type Analyzer interface {
	AnalyzeFeedback(data adaptation.FeedbackBatch) adaptation.FeedbackAnalysis
	AnalyzePatterns(patterns []adaptation.PatternData) adaptation.PatternAnalysis
}

// New returns the Analyzer for the named algorithm, or an error for an
// unrecognized name.
func New(algo Algorithm, confidenceThreshold float64) (Analyzer, error) {
	switch algo {
	case AlgorithmFeedbackAnalyzer:
		return feedbackAnalyzer{confidenceThreshold: confidenceThreshold}, nil
	case AlgorithmPatternMatcher:
		return patternMatcher{}, nil
	case AlgorithmPromptOptimizer:
		return promptOptimizer{}, nil
	case AlgorithmQueryOptimizer:
		return queryOptimizer{}, nil
	case AlgorithmTemplateAdaptor:
		return templateAdaptor{}, nil
	default:
		return nil, fmt.Errorf("adaptation: unknown algorithm %q", algo)
	}
}

// confidence implements §4.15's composition formula, shared by every
// variant: confidence = mean(volume, consistency, score).
func confidence(data adaptation.FeedbackBatch) float64 {
	volume := math.Min(1, float64(data.Count)/20)
	consistency := 1 - math.Min(1, math.Abs(data.RecentTrend))
	score := 0.0
	if data.AverageScore > 0 {
		score = 1
	}
	return (volume + consistency + score) / 3
}

type feedbackAnalyzer struct {
	confidenceThreshold float64
}

func (a feedbackAnalyzer) AnalyzeFeedback(data adaptation.FeedbackBatch) adaptation.FeedbackAnalysis {
	conf := confidence(data)

	priority := adaptation.PriorityLow
	if conf > a.confidenceThreshold {
		switch {
		case data.AverageScore < 0.7:
			priority = adaptation.PriorityHigh
		case data.AverageScore < 0.85:
			priority = adaptation.PriorityMedium
		}
	}

	var recs []string
	if data.AverageScore < 0.7 {
		recs = append(recs, "review prompt synthesis for this research type")
	}
	if data.RecentTrend < -0.1 {
		recs = append(recs, "investigate recent provider quality regression")
	}
	if len(recs) == 0 {
		recs = append(recs, "no action needed, quality holding steady")
	}

	return adaptation.FeedbackAnalysis{Recommendations: recs, Confidence: conf, Priority: priority}
}

func (a feedbackAnalyzer) AnalyzePatterns(patterns []adaptation.PatternData) adaptation.PatternAnalysis {
	return genericPatternAnalysis(patterns)
}

type patternMatcher struct{}

func (patternMatcher) AnalyzeFeedback(data adaptation.FeedbackBatch) adaptation.FeedbackAnalysis {
	return adaptation.FeedbackAnalysis{Confidence: confidence(data), Priority: adaptation.PriorityLow}
}

func (patternMatcher) AnalyzePatterns(patterns []adaptation.PatternData) adaptation.PatternAnalysis {
	analysis := genericPatternAnalysis(patterns)
	for _, p := range patterns {
		if p.Frequency >= 5 && p.AvgScore < 0.6 {
			analysis.Recommendations = append(analysis.Recommendations,
				fmt.Sprintf("pattern %q recurs frequently with low quality, consider a dedicated rule", p.Name))
		}
	}
	return analysis
}

type promptOptimizer struct{}

func (promptOptimizer) AnalyzeFeedback(data adaptation.FeedbackBatch) adaptation.FeedbackAnalysis {
	analysis := adaptation.FeedbackAnalysis{Confidence: confidence(data), Priority: adaptation.PriorityLow}
	if data.AverageScore < 0.7 {
		analysis.Recommendations = append(analysis.Recommendations, "lower temperature or tighten system prompt bullets")
		analysis.Priority = adaptation.PriorityMedium
	}
	return analysis
}

func (promptOptimizer) AnalyzePatterns(patterns []adaptation.PatternData) adaptation.PatternAnalysis {
	return genericPatternAnalysis(patterns)
}

type queryOptimizer struct{}

func (queryOptimizer) AnalyzeFeedback(data adaptation.FeedbackBatch) adaptation.FeedbackAnalysis {
	analysis := adaptation.FeedbackAnalysis{Confidence: confidence(data), Priority: adaptation.PriorityLow}
	if data.AverageScore < 0.7 {
		analysis.Recommendations = append(analysis.Recommendations, "expand query normalization to reduce fingerprint fragmentation")
	}
	return analysis
}

func (queryOptimizer) AnalyzePatterns(patterns []adaptation.PatternData) adaptation.PatternAnalysis {
	return genericPatternAnalysis(patterns)
}

type templateAdaptor struct{}

func (templateAdaptor) AnalyzeFeedback(data adaptation.FeedbackBatch) adaptation.FeedbackAnalysis {
	return adaptation.FeedbackAnalysis{Confidence: confidence(data), Priority: adaptation.PriorityLow}
}

func (templateAdaptor) AnalyzePatterns(patterns []adaptation.PatternData) adaptation.PatternAnalysis {
	analysis := genericPatternAnalysis(patterns)
	for _, p := range patterns {
		if p.AvgScore > 0.9 {
			analysis.Recommendations = append(analysis.Recommendations,
				fmt.Sprintf("promote pattern %q's prompt template as a default", p.Name))
		}
	}
	return analysis
}

func genericPatternAnalysis(patterns []adaptation.PatternData) adaptation.PatternAnalysis {
	if len(patterns) == 0 {
		return adaptation.PatternAnalysis{}
	}
	var sum float64
	var insights []adaptation.LearningInsight
	for _, p := range patterns {
		sum += p.AvgScore
		insights = append(insights, adaptation.LearningInsight{
			Description: fmt.Sprintf("%q observed %d times, average score %.2f", p.Name, p.Frequency, p.AvgScore),
			Confidence:  math.Min(1, float64(p.Frequency)/20),
		})
	}
	return adaptation.PatternAnalysis{
		Insights:   insights,
		Confidence: sum / float64(len(patterns)) ,
	}
}
