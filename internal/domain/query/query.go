// Package query defines the Query, Classification, PromptPlan, and
// Fingerprint entities that flow through the Context Classifier (C6),
// Prompt Synthesizer (C7), and Response Cache (C3).
package query

import (
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Query is the immutable raw request entering the system.
type Query struct {
	RawText    string    `json:"raw_text"`
	RequestID  string    `json:"request_id"`
	ReceivedAt time.Time `json:"received_at"`
}

// ResearchType classifies the intent of a query.
type ResearchType string

const (
	ResearchDecision        ResearchType = "Decision"
	ResearchImplementation  ResearchType = "Implementation"
	ResearchTroubleshooting ResearchType = "Troubleshooting"
	ResearchLearning        ResearchType = "Learning"
	ResearchValidation      ResearchType = "Validation"
)

// Audience is the experience level a response should target.
type Audience string

const (
	AudienceBeginner     Audience = "Beginner"
	AudienceIntermediate Audience = "Intermediate"
	AudienceAdvanced     Audience = "Advanced"
)

// Domain is the subject-matter area a query falls under.
type Domain string

const (
	DomainRust         Domain = "Rust"
	DomainWeb          Domain = "Web"
	DomainDevOps       Domain = "DevOps"
	DomainAI           Domain = "AI"
	DomainDatabase     Domain = "Database"
	DomainSystems      Domain = "Systems"
	DomainSecurity     Domain = "Security"
	DomainPython       Domain = "Python"
	DomainArchitecture Domain = "Architecture"
	DomainGeneral      Domain = "General"
)

// Urgency is how quickly a response is needed.
type Urgency string

const (
	UrgencyImmediate  Urgency = "Immediate"
	UrgencyPlanned    Urgency = "Planned"
	UrgencyExploratory Urgency = "Exploratory"
)

// Classification is derived from a Query and never mutated afterward.
type Classification struct {
	ResearchType    ResearchType `json:"research_type"`
	Audience        Audience     `json:"audience"`
	Domain          Domain       `json:"domain"`
	Urgency         Urgency      `json:"urgency"`
	Confidence      float64      `json:"confidence"` // [0,1]
	MatchedKeywords []string     `json:"matched_keywords"`
}

// PromptPlan is the deterministic function of (Classification, Query) that
// the Prompt Synthesizer (C7) produces.
type PromptPlan struct {
	SystemText    string   `json:"system_text"`
	UserText      string   `json:"user_text"`
	MaxTokens     int      `json:"max_tokens"` // [512,4096]
	Temperature   float64  `json:"temperature"` // [0,1]
	StopSequences []string `json:"stop_sequences"`
}

// Fingerprint is a stable 128-bit hash over the normalized query and its
// classification dimensions. Two independent xxhash invocations over
// disjoint input framings are combined into the 128 bits; no wall-clock or
// PID input participates, so identical semantic inputs always yield an
// identical fingerprint, in any process.
type Fingerprint [16]byte

// NormalizeQuery implements
// normalized_query = lowercase(collapse_whitespace(trim(raw))), with trailing
// sentence punctuation (?!.) stripped so that otherwise-identical queries
// that differ only in whether they're phrased as a question fingerprint
// identically.
func NormalizeQuery(raw string) string {
	trimmed := strings.TrimSpace(raw)
	fields := strings.Fields(trimmed)
	collapsed := strings.ToLower(strings.Join(fields, " "))
	return strings.TrimRight(collapsed, "?!.")
}

// BucketConfidence implements bucketed_confidence = round(confidence * 100).
func BucketConfidence(confidence float64) int {
	return int(confidence*100 + 0.5)
}

// Compute derives the Fingerprint for a query and its classification.
func Compute(rawQuery string, c Classification) Fingerprint {
	normalized := NormalizeQuery(rawQuery)
	bucketed := BucketConfidence(c.Confidence)

	var sb strings.Builder
	sb.WriteString(normalized)
	sb.WriteByte(0)
	sb.WriteString(string(c.ResearchType))
	sb.WriteByte(0)
	sb.WriteString(string(c.Domain))
	sb.WriteByte(0)
	sb.WriteString(string(c.Audience))
	sb.WriteByte(0)
	sb.WriteString(string(c.Urgency))
	sb.WriteByte(0)
	sb.WriteString(strconv.Itoa(bucketed))

	input := sb.String()

	var fp Fingerprint
	// Two disjoint framings of the same canonical input produce two
	// independent 64-bit digests; concatenated they form the 128-bit
	// fingerprint. Seeding the second digest with a different prefix avoids
	// the two halves ever trivially colliding.
	h1 := xxhash.Sum64String(input)
	h2 := xxhash.Sum64String("fortitude-fp-v1:" + input)
	putUint64(fp[0:8], h1)
	putUint64(fp[8:16], h2)
	return fp
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

