// Package policy produces ranked action candidates for a percept. Suggesters
// never validate their own output; that is left to the rule engine.
package policy

import (
	"cmp"
	"context"
	"slices"

	"github.com/avvvet/brain/internal/models"
)

// Suggester defines the interface for candidate producers
// This allows us to swap between a static table, an LLM, or an ensemble
type Suggester interface {
	Suggest(ctx context.Context, p models.Percept, s models.SessionState) ([]models.Candidate, error)
}

// SuggesterFunc adapts a function to Suggester.
type SuggesterFunc func(ctx context.Context, p models.Percept, s models.SessionState) ([]models.Candidate, error)

func (f SuggesterFunc) Suggest(ctx context.Context, p models.Percept, s models.SessionState) ([]models.Candidate, error) {
	return f(ctx, p, s)
}

// Rank orders candidates by descending confidence. Ties keep generation order.
// Confidences are clamped into [0, 1]. The input slice is not modified.
func Rank(cands []models.Candidate) []models.Candidate {
	out := make([]models.Candidate, len(cands))
	for i, c := range cands {
		c.Confidence = clampConfidence(c.Confidence)
		out[i] = c
	}
	slices.SortStableFunc(out, func(a, b models.Candidate) int {
		return cmp.Compare(b.Confidence, a.Confidence)
	})
	return out
}

func clampConfidence(c float64) float64 {
	if c != c || c < 0 { // NaN sorts as zero
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
