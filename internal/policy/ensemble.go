package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/avvvet/brain/internal/models"
)

// Member is one weighted suggester of an Ensemble.
type Member struct {
	Name      string
	Suggester Suggester
	Weight    float64
}

// Ensemble concatenates member outputs, each scaled by its weight, and re-ranks them.
type Ensemble struct {
	members []Member
	logger  *slog.Logger
}

// NewEnsemble builds an ensemble. A weight of zero or less is treated as 1.
// When any weight exceeds 1 all weights are divided by the largest, so scaled
// confidences stay within the range Rank keeps.
func NewEnsemble(logger *slog.Logger, members ...Member) *Ensemble {
	if logger == nil {
		logger = slog.Default()
	}
	ms := make([]Member, len(members))
	heaviest := 1.0
	for i, m := range members {
		if m.Weight <= 0 || math.IsNaN(m.Weight) {
			m.Weight = 1
		}
		heaviest = math.Max(heaviest, m.Weight)
		ms[i] = m
	}
	for i := range ms {
		ms[i].Weight /= heaviest
	}
	return &Ensemble{members: ms, logger: logger}
}

// Suggest skips members that fail, as long as at least one succeeds and the
// context is still live.
func (e *Ensemble) Suggest(ctx context.Context, p models.Percept, s models.SessionState) ([]models.Candidate, error) {
	var (
		all  []models.Candidate
		errs []error
	)
	for _, m := range e.members {
		cands, err := m.Suggester.Suggest(ctx, p, s)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			e.logger.Warn("suggester_failed", "member", m.Name, "session_id", p.SessionID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", m.Name, err))
			continue
		}
		for _, c := range cands {
			c.Confidence *= m.Weight
			if c.Source == "" {
				c.Source = m.Name
			}
			all = append(all, c)
		}
	}
	if len(errs) > 0 && len(errs) == len(e.members) {
		return nil, errors.Join(errs...)
	}
	return Rank(all), nil
}
