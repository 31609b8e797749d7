package analysis

import (
	"strings"

	"github.com/opensource-finance/conrisk/internal/domain"
)

// Scoring constants.
const (
	// OccurrenceWeight is added to the raw score for every phrase occurrence.
	OccurrenceWeight = 0.2

	HighThreshold   = 0.7
	MediumThreshold = 0.4
)

// PatternScore is the result of scoring one category.
type PatternScore struct {
	// Factors are the phrases found at least once, in declaration order
	Factors []string

	// Raw is the sum of OccurrenceWeight over all occurrences
	Raw float64

	// Normalized is Raw divided by the declared phrase count, capped at 1
	Normalized float64
}

// ScorePatterns counts non-overlapping literal occurrences of every phrase in
// content. Phrases are never interpreted as expressions.
func ScorePatterns(content string, patterns []string) PatternScore {
	var score PatternScore

	for _, p := range patterns {
		if p == "" {
			continue
		}
		n := strings.Count(content, p)
		if n == 0 {
			continue
		}
		score.Raw += float64(n) * OccurrenceWeight
		score.Factors = append(score.Factors, p)
	}

	if len(patterns) > 0 {
		score.Normalized = min(score.Raw/float64(len(patterns)), 1.0)
	}

	return score
}

// Classify maps a normalized score to a risk level. Boundaries resolve to the
// higher level.
func Classify(score float64) domain.RiskLevel {
	switch {
	case score >= HighThreshold:
		return domain.RiskHigh
	case score >= MediumThreshold:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}
