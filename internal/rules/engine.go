// Package rules implements the guardrail evaluator that has the last word on
// every action before it leaves the engine.
package rules

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"

	"github.com/avvvet/brain/internal/models"
)

// CheckFunc is a pure predicate over one decision input. It must not mutate
// its arguments.
type CheckFunc func(p models.Percept, s models.SessionState, c models.Candidate) models.Verdict

// Rule is a named check with a priority. Higher priorities run first.
type Rule struct {
	Name     string
	Priority int
	Check    CheckFunc
}

// Engine evaluates candidates against an immutable, priority-ordered rule list.
type Engine struct {
	rules  []Rule
	logger *slog.Logger
}

// NewEngine orders rules by descending priority. Rules sharing a priority keep
// the order they were given in.
func NewEngine(logger *slog.Logger, rules ...Rule) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	ordered := slices.Clone(rules)
	slices.SortStableFunc(ordered, func(a, b Rule) int {
		return b.Priority - a.Priority
	})
	return &Engine{rules: ordered, logger: logger}
}

// Rules returns the evaluation order.
func (e *Engine) Rules() []Rule {
	return slices.Clone(e.rules)
}

// Evaluate returns the verdict of the first rule that does not accept the
// candidate, or ACCEPT when none fires.
func (e *Engine) Evaluate(p models.Percept, s models.SessionState, c models.Candidate) models.Verdict {
	for _, r := range e.rules {
		v := e.run(r, p, s, c.Clone())
		if v.Kind == "" || v.Kind == models.VerdictAccept {
			continue
		}
		if v.Rule == "" {
			v.Rule = r.Name
		}
		return v
	}
	return models.Accept()
}

// run fails closed: a panicking rule blocks the candidate instead of approving it.
func (e *Engine) run(r Rule, p models.Percept, s models.SessionState, c models.Candidate) (v models.Verdict) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("rule_panic_recovered",
				"rule", r.Name,
				"action", c.Action,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			v = models.Reject(models.ReasonRuleFault, models.SeverityError, fmt.Sprintf("rule %s faulted: %v", r.Name, rec))
			v.Rule = r.Name
		}
	}()
	return r.Check(p, s, c)
}
