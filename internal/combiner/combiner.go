// Package combiner implements the weighted blend of rule and model
// scores and the threshold-based decision classifier (§4.5), grounded on
// this codebase's hybrid final-score math and the wider reference set's
// threshold-based Recommend() classifier.
package combiner

import (
	"github.com/enterprise/fraud-pipeline/internal/domain"
	"github.com/enterprise/fraud-pipeline/internal/rules"
)

// Weights holds the rule/model blend weights (§6.5 rules.weight, ml.weight).
// They must be non-negative; they need not sum to 1 since the final
// score is clamped.
type Weights struct {
	RuleWeight float64
	MLWeight   float64
}

// DefaultWeights returns the default 0.5/0.5 rule/model split.
func DefaultWeights() Weights {
	return Weights{RuleWeight: 0.5, MLWeight: 0.5}
}

// Thresholds holds the classifier's score boundaries (§6.5
// thresholds.review, thresholds.block). review must be <= block to
// preserve ALLOW < REVIEW < BLOCK ordering.
type Thresholds struct {
	Review float64
	Block  float64
}

// DefaultThresholds returns the default boundaries: review at 30, block at 60.
func DefaultThresholds() Thresholds {
	return Thresholds{Review: 30, Block: 60}
}

// mlHighRiskThreshold is the probability past which, when the model
// contributed to the score, the ml_high_risk reason is appended (§4.5).
const mlHighRiskThreshold = 0.7

// Combine computes finalScore = clamp(ruleWeight*ruleScore +
// mlWeight*(probability*100), 0, 100), and appends ml_high_risk to
// reasons (deduped) when the model dominated (probability >= 0.7 and
// mlWeight > 0). When reasons contains invalid_amount, the final score
// is 100 regardless of weights and probability. The input slice is never
// mutated: a new slice is returned when ml_high_risk is appended,
// otherwise reasons itself is returned.
func Combine(ruleScore, probability float64, w Weights, reasons []string) (float64, []string) {
	score := w.RuleWeight*ruleScore + w.MLWeight*(probability*100)

	for _, r := range reasons {
		if r == rules.ReasonInvalidAmount {
			score = 100
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	out := reasons
	if probability >= mlHighRiskThreshold && w.MLWeight > 0 {
		out = appendDeduped(reasons, rules.ReasonMLHighRisk)
	}

	return score, out
}

func appendDeduped(reasons []string, tag string) []string {
	for _, r := range reasons {
		if r == tag {
			return reasons
		}
	}
	out := make([]string, len(reasons), len(reasons)+1)
	copy(out, reasons)
	return append(out, tag)
}

// Classify maps a score to a Category using inclusive lower bounds:
// score < review -> ALLOW, review <= score < block -> REVIEW,
// score >= block -> BLOCK (§4.5).
func Classify(score float64, t Thresholds) domain.Category {
	switch {
	case score >= t.Block:
		return domain.Block
	case score >= t.Review:
		return domain.Review
	default:
		return domain.Allow
	}
}
