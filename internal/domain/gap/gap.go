// Package gap defines the Gap/EnhancedGap entities the Gap Detector (C9)
// produces and the Task Queue (C10) schedules research against.
package gap

import "time"

// Kind identifies which detector rule family produced a Gap.
type Kind string

const (
	KindTODO          Kind = "TODO"
	KindDocumentation Kind = "Documentation"
	KindTechnology    Kind = "Technology"
	KindAPI           Kind = "API"
	KindConfiguration Kind = "Configuration"
)

// Gap is the raw detection emitted by a single rule family, before semantic
// enhancement and priority computation.
type Gap struct {
	ID          string    `json:"id"`
	FilePath    string    `json:"file_path"`
	Line        int       `json:"line"`
	Kind        Kind      `json:"kind"`
	Description string    `json:"description"`
	Content     string    `json:"content"`
	Confidence  float64   `json:"confidence"` // [0,1]
	BasePriority int      `json:"base_priority"`
	DetectedAt  time.Time `json:"detected_at"`
}

// PriorityBreakdown records every adjustment folded into a gap's final
// priority, for auditability.
type PriorityBreakdown struct {
	Base               int     `json:"base"`
	HighConfidenceBoost int    `json:"high_confidence_boost"`
	LowConfidencePenalty int   `json:"low_confidence_penalty"`
	UrgentKeywordBoost  int    `json:"urgent_keyword_boost"`
	SemanticAdjustment  float64 `json:"semantic_adjustment"`
	CustomRuleAdjustments int  `json:"custom_rule_adjustments"`
	Final               int     `json:"final"`
}

// EnhancedGap is a Gap after semantic validation and priority computation,
// ready to be turned into a research task.
type EnhancedGap struct {
	Gap
	ValidationScore     float64           `json:"validation_score"`
	RelatedContentScore float64           `json:"related_content_score"`
	Priority            PriorityBreakdown `json:"priority"`
	ResearchQuery       string            `json:"research_query"`
}
