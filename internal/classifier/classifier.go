// Package classifier implements the Context Classifier (C6): derives
// research-type, audience, domain, and urgency from a raw query string.
package classifier

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Strob0t/fortitude/internal/domain/ferrors"
	"github.com/Strob0t/fortitude/internal/domain/query"
)

const scoreThreshold = 0.3

// rule is one weighted keyword/pattern contributing to a dimension label's
// score.
type rule struct {
	label   string
	weight  float64
	pattern *regexp.Regexp
}

// dimension owns the rules and default label for one classification axis.
type dimension struct {
	name         string
	rules        []rule
	defaultLabel string
}

func kw(words ...string) *regexp.Regexp {
	escaped := make([]string, len(words))
	for i, w := range words {
		escaped[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(escaped, "|") + `)\b`)
}

var researchTypeDim = dimension{
	name:         "research_type",
	defaultLabel: string(query.ResearchLearning),
	rules: []rule{
		{label: string(query.ResearchDecision), weight: 1.0, pattern: kw("should i", "which is better", "vs", "versus", "pros and cons", "recommend", "trade-off", "tradeoff")},
		{label: string(query.ResearchImplementation), weight: 1.0, pattern: kw("how to", "implement", "build", "write a", "code", "example")},
		{label: string(query.ResearchTroubleshooting), weight: 1.0, pattern: kw("error", "bug", "broken", "failing", "fix", "crash", "exception", "not working")},
		{label: string(query.ResearchLearning), weight: 1.0, pattern: kw("what is", "explain", "understand", "learn", "tutorial", "concept")},
		{label: string(query.ResearchValidation), weight: 1.0, pattern: kw("is it safe", "correct", "verify", "validate", "best practice", "review")},
	},
}

var audienceDim = dimension{
	name:         "audience",
	defaultLabel: string(query.AudienceIntermediate),
	rules: []rule{
		{label: string(query.AudienceBeginner), weight: 1.0, pattern: kw("beginner", "new to", "just started", "simple", "basics", "eli5")},
		{label: string(query.AudienceAdvanced), weight: 1.0, pattern: kw("advanced", "expert", "production-grade", "deep dive", "internals", "optimize")},
	},
}

var domainDim = dimension{
	name:         "domain",
	defaultLabel: string(query.DomainGeneral),
	rules: []rule{
		{label: string(query.DomainRust), weight: 1.0, pattern: kw("rust", "cargo", "tokio", "borrow checker")},
		{label: string(query.DomainWeb), weight: 1.0, pattern: kw("javascript", "react", "html", "css", "frontend", "web app")},
		{label: string(query.DomainDevOps), weight: 1.0, pattern: kw("docker", "kubernetes", "ci/cd", "deployment", "terraform", "devops")},
		{label: string(query.DomainAI), weight: 1.0, pattern: kw("llm", "machine learning", "neural network", "prompt", "embedding", "model training")},
		{label: string(query.DomainDatabase), weight: 1.0, pattern: kw("sql", "database", "postgres", "index", "query plan", "schema")},
		{label: string(query.DomainSystems), weight: 1.0, pattern: kw("kernel", "syscall", "memory layout", "operating system", "scheduler")},
		{label: string(query.DomainSecurity), weight: 1.0, pattern: kw("vulnerability", "exploit", "encryption", "authentication", "security")},
		{label: string(query.DomainPython), weight: 1.0, pattern: kw("python", "pip", "django", "flask", "pandas")},
		{label: string(query.DomainArchitecture), weight: 1.0, pattern: kw("architecture", "microservice", "design pattern", "system design")},
	},
}

var urgencyDim = dimension{
	name:         "urgency",
	defaultLabel: string(query.UrgencyPlanned),
	rules: []rule{
		{label: string(query.UrgencyImmediate), weight: 1.0, pattern: kw("urgent", "asap", "production down", "right now", "immediately", "blocking")},
		{label: string(query.UrgencyExploratory), weight: 1.0, pattern: kw("curious", "just wondering", "someday", "exploring", "out of interest")},
	},
}

// Classify derives a Classification for rawQuery, failing only on empty
// input (per §4.6's contract).
func Classify(rawQuery string) (query.Classification, error) {
	normalized := query.NormalizeQuery(rawQuery)
	if normalized == "" {
		return query.Classification{}, fmt.Errorf("classifier: empty query: %w", ferrors.ErrInvalidInput)
	}

	researchLabel, researchScore, researchMatches := score(normalized, researchTypeDim)
	audienceLabel, audienceScore, audienceMatches := score(normalized, audienceDim)
	domainLabel, domainScore, domainMatches := score(normalized, domainDim)
	urgencyLabel, urgencyScore, urgencyMatches := score(normalized, urgencyDim)

	confidence := average(researchScore, audienceScore, domainScore, urgencyScore)

	matched := make([]string, 0, len(researchMatches)+len(audienceMatches)+len(domainMatches)+len(urgencyMatches))
	matched = append(matched, researchMatches...)
	matched = append(matched, audienceMatches...)
	matched = append(matched, domainMatches...)
	matched = append(matched, urgencyMatches...)

	return query.Classification{
		ResearchType:    query.ResearchType(researchLabel),
		Audience:        query.Audience(audienceLabel),
		Domain:          query.Domain(domainLabel),
		Urgency:         query.Urgency(urgencyLabel),
		Confidence:      confidence,
		MatchedKeywords: matched,
	}, nil
}

// score evaluates every rule in dim against normalized text and returns the
// winning label, its score (or the dimension's default-confidence 0.1), and
// the keywords that matched for the winning label.
func score(normalized string, dim dimension) (label string, conf float64, matched []string) {
	type candidate struct {
		label     string
		weighted  float64
		matches   int
		keywords  []string
	}
	byLabel := make(map[string]*candidate)

	for _, r := range dim.rules {
		hits := r.pattern.FindAllString(normalized, -1)
		if len(hits) == 0 {
			continue
		}
		c, ok := byLabel[r.label]
		if !ok {
			c = &candidate{label: r.label}
			byLabel[r.label] = c
		}
		c.weighted += r.weight * float64(len(hits))
		c.matches += len(hits)
		c.keywords = append(c.keywords, hits...)
	}

	if len(byLabel) == 0 {
		return dim.defaultLabel, 0.1, nil
	}

	labels := make([]string, 0, len(byLabel))
	for l := range byLabel {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	var best *candidate
	var bestScore float64
	for _, l := range labels {
		c := byLabel[l]
		frequencyBonus := 1 + 0.1*float64(c.matches-1)
		s := (c.weighted / float64(c.matches)) * frequencyBonus
		if best == nil || s > bestScore {
			best, bestScore = c, s
		}
	}

	if bestScore < scoreThreshold {
		return dim.defaultLabel, 0.1, nil
	}
	return best.label, bestScore, best.keywords
}

func average(vals ...float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
