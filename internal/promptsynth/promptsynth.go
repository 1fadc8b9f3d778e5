// Package promptsynth implements the Prompt Synthesizer (C7): a pure
// function from (query, classification) to a PromptPlan.
package promptsynth

import (
	"fmt"
	"math"
	"strings"

	"github.com/Strob0t/fortitude/internal/domain/query"
)

var baseMaxTokens = map[query.ResearchType]int{
	query.ResearchDecision:        2048,
	query.ResearchImplementation:  3072,
	query.ResearchTroubleshooting: 2048,
	query.ResearchLearning:        2560,
	query.ResearchValidation:      1536,
}

var baseTemperature = map[query.ResearchType]float64{
	query.ResearchDecision:        0.3,
	query.ResearchImplementation:  0.2,
	query.ResearchTroubleshooting: 0.1,
	query.ResearchLearning:        0.4,
	query.ResearchValidation:      0.2,
}

var audienceTokenMultiplier = map[query.Audience]float64{
	query.AudienceBeginner:     1.3,
	query.AudienceIntermediate: 1.1,
	query.AudienceAdvanced:     0.9,
}

var urgencyTokenMultiplier = map[query.Urgency]float64{
	query.UrgencyImmediate:   0.8,
	query.UrgencyPlanned:     1.2,
	query.UrgencyExploratory: 1.4,
}

var audienceTempAdjust = map[query.Audience]float64{
	query.AudienceBeginner:     0.1,
	query.AudienceIntermediate: 0.05,
	query.AudienceAdvanced:     -0.05,
}

var urgencyTempAdjust = map[query.Urgency]float64{
	query.UrgencyImmediate:   -0.1,
	query.UrgencyPlanned:     0.0,
	query.UrgencyExploratory: 0.1,
}

var researchPreamble = map[query.ResearchType]string{
	query.ResearchDecision:        "You are helping the user weigh a decision between alternatives.",
	query.ResearchImplementation:  "You are helping the user implement working code.",
	query.ResearchTroubleshooting: "You are helping the user diagnose and resolve a problem.",
	query.ResearchLearning:        "You are helping the user build understanding of a concept.",
	query.ResearchValidation:      "You are helping the user validate correctness or best practice.",
}

var checklists = map[query.ResearchType][]string{
	query.ResearchDecision:        {"the alternatives considered", "the trade-offs of each", "a clear recommendation"},
	query.ResearchImplementation:  {"a working code example", "the key steps involved", "common pitfalls to avoid"},
	query.ResearchTroubleshooting: {"the likely root cause", "a concrete fix", "how to confirm the fix works"},
	query.ResearchLearning:        {"the core concept explained simply", "a concrete example", "where to learn more"},
	query.ResearchValidation:      {"whether the approach is correct", "any risks or edge cases", "the recommended best practice"},
}

// Plan derives a PromptPlan for rawQuery under the given classification. It
// is a pure function of its inputs, per §4.7's contract.
func Plan(rawQuery string, c query.Classification) query.PromptPlan {
	base := baseMaxTokens[c.ResearchType]
	if base == 0 {
		base = baseMaxTokens[query.ResearchLearning]
	}
	baseTemp, ok := baseTemperature[c.ResearchType]
	if !ok {
		baseTemp = baseTemperature[query.ResearchLearning]
	}

	audienceMult := audienceTokenMultiplier[c.Audience]
	if audienceMult == 0 {
		audienceMult = audienceTokenMultiplier[query.AudienceIntermediate]
	}
	urgencyMult := urgencyTokenMultiplier[c.Urgency]
	if urgencyMult == 0 {
		urgencyMult = urgencyTokenMultiplier[query.UrgencyPlanned]
	}

	maxTokens := clampInt(int(math.Round(float64(base)*audienceMult*urgencyMult)), 512, 4096)

	temp := baseTemp + audienceTempAdjust[c.Audience] + urgencyTempAdjust[c.Urgency]
	temp = clampFloat(temp, 0.0, 1.0)

	return query.PromptPlan{
		SystemText:    systemText(c),
		UserText:      userText(rawQuery, c),
		MaxTokens:     maxTokens,
		Temperature:   temp,
		StopSequences: nil,
	}
}

func systemText(c query.Classification) string {
	var sb strings.Builder
	sb.WriteString(researchPreamble[c.ResearchType])
	sb.WriteString("\n\n")

	switch c.Audience {
	case query.AudienceBeginner:
		sb.WriteString("- Avoid jargon; define terms on first use.\n")
		sb.WriteString("- Prefer step-by-step explanations over terse summaries.\n")
	case query.AudienceAdvanced:
		sb.WriteString("- Assume strong prior knowledge; skip basic definitions.\n")
		sb.WriteString("- Favor precision and nuance over hand-holding.\n")
	default:
		sb.WriteString("- Balance clarity with technical precision.\n")
	}

	if c.Domain != "" && c.Domain != query.DomainGeneral {
		fmt.Fprintf(&sb, "- Ground the answer in %s-specific conventions and tooling.\n", c.Domain)
	}

	switch c.Urgency {
	case query.UrgencyImmediate:
		sb.WriteString("- Lead with the actionable fix; defer background context.\n")
	case query.UrgencyExploratory:
		sb.WriteString("- Feel free to explore related considerations beyond the literal question.\n")
	}

	sb.WriteString("\nRespond in clear prose with code blocks where relevant.")
	return sb.String()
}

func userText(rawQuery string, c query.Classification) string {
	var sb strings.Builder
	if c.ResearchType != "" {
		fmt.Fprintf(&sb, "[Context: %s request for %s audience in %s domain with %s urgency]\n\n",
			c.ResearchType, c.Audience, c.Domain, c.Urgency)
	}
	sb.WriteString(rawQuery)

	if items, ok := checklists[c.ResearchType]; ok {
		sb.WriteString("\n\nPlease address:\n")
		for _, item := range items {
			fmt.Fprintf(&sb, "- %s\n", item)
		}
	}
	return sb.String()
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
