// Package orchestrator runs the decision cycle: load session state, ask the
// policy module for candidates, let the rule engine veto or repair them, fall
// back when nothing survives, and commit the new state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/avvvet/brain/internal/memory"
	"github.com/avvvet/brain/internal/models"
	"github.com/avvvet/brain/internal/observability"
	"github.com/avvvet/brain/internal/policy"
)

var tracer = otel.Tracer("brain/orchestrator")

// Evaluator is the rule engine as seen by the orchestrator.
type Evaluator interface {
	Evaluate(p models.Percept, s models.SessionState, c models.Candidate) models.Verdict
}

// Orchestrator is safe for concurrent use. Cycles for the same session are
// serialized by the store's version check, not by locks.
type Orchestrator struct {
	memory *memory.Manager
	policy policy.Suggester
	rules  Evaluator
	cfg    Config
	logger *slog.Logger

	now   func() time.Time
	newID func() string
}

// New wires an orchestrator.
func New(mgr *memory.Manager, suggester policy.Suggester, rules Evaluator, cfg Config, logger *slog.Logger) (*Orchestrator, error) {
	if mgr == nil || suggester == nil || rules == nil {
		return nil, errors.New("memory manager, suggester and rule engine are required")
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid orchestrator config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		memory: mgr,
		policy: suggester,
		rules:  rules,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		newID:  func() string { return uuid.Must(uuid.NewV7()).String() },
	}, nil
}

// Config returns the options the orchestrator was built with.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Decide produces exactly one FinalAction for the percept and commits the
// resulting session state, or returns an error and commits nothing.
func (o *Orchestrator) Decide(ctx context.Context, p models.Percept) (fa models.FinalAction, err error) {
	ctx, span := tracer.Start(ctx, "orchestrator.decide", trace.WithAttributes(
		attribute.String("brain.session.id", p.SessionID),
		attribute.String("brain.intent", string(p.Intent)),
		attribute.Int64("brain.percept.sequence", int64(p.Sequence)),
	))
	defer span.End()

	startTime := o.now()
	defer func() {
		durationMS := int(o.now().Sub(startTime).Milliseconds())
		if err != nil {
			observability.RecordDecision("", Code(err), durationMS)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return
		}
		observability.RecordDecision(string(fa.Provenance), "success", durationMS)
		span.SetAttributes(
			attribute.String("brain.action", string(fa.Action)),
			attribute.String("brain.provenance", string(fa.Provenance)),
			attribute.Int64("brain.session.version", int64(fa.Version)),
		)
		span.SetStatus(codes.Ok, "success")
	}()

	if err := p.Validate(); err != nil {
		return models.FinalAction{}, fmt.Errorf("%w: %v", ErrInvalidPercept, err)
	}

	attempts := o.cfg.MaxCommitRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		fa, err = o.cycle(ctx, p)
		if !errors.Is(err, memory.ErrVersionConflict) {
			return fa, err
		}
		observability.RecordCommitConflict()
		o.logger.Warn("commit_conflict",
			"session_id", p.SessionID,
			"attempt", attempt,
			"max_attempts", attempts,
		)
	}
	return models.FinalAction{}, fmt.Errorf("%w: session %s lost %d commit attempts", ErrConcurrentModification, p.SessionID, attempts)
}

// cycle is one load-suggest-evaluate-commit pass. A lost version check is
// returned as memory.ErrVersionConflict.
func (o *Orchestrator) cycle(ctx context.Context, p models.Percept) (models.FinalAction, error) {
	state, err := o.load(ctx, p.SessionID)
	if err != nil {
		return models.FinalAction{}, err
	}

	candidates, err := o.suggest(ctx, p, state.Clone())
	if err != nil {
		return models.FinalAction{}, err
	}

	chosen, provenance, rejections, err := o.arbitrate(p, state, candidates)
	if err != nil {
		return models.FinalAction{}, err
	}

	if err := ctx.Err(); err != nil {
		return models.FinalAction{}, fmt.Errorf("decision cancelled before commit: %w", err)
	}

	decidedAt := o.now().UTC()
	next := state.Clone()
	next.MergeSlots(p.Slots)
	next.CurrentIntent = p.Intent
	o.memory.AppendTurn(&next, models.TurnSummary{
		Sequence:   p.Sequence,
		Intent:     p.Intent,
		Action:     chosen.Action,
		Provenance: provenance,
		At:         decidedAt,
	})

	committed, err := o.commit(ctx, p.SessionID, state.Version, next)
	if err != nil {
		return models.FinalAction{}, err
	}

	fa := models.FinalAction{
		ID:         o.newID(),
		SessionID:  p.SessionID,
		Action:     chosen.Action,
		Params:     chosen.Clone().Params,
		Provenance: provenance,
		Rejections: rejections,
		Version:    committed.Version,
		DecidedAt:  decidedAt,
	}
	o.logger.Info("decision_made",
		"session_id", fa.SessionID,
		"action", fa.Action,
		"provenance", fa.Provenance,
		"version", fa.Version,
		"rejections", len(fa.Rejections),
	)
	return fa, nil
}

func (o *Orchestrator) load(ctx context.Context, sessionID string) (models.SessionState, error) {
	state, err := callWithTimeout(ctx, o.cfg.StoreTimeout, func(ctx context.Context) (models.SessionState, error) {
		return o.memory.Load(ctx, sessionID)
	})
	if err == nil {
		return state, nil
	}
	if ctx.Err() != nil {
		return models.SessionState{}, fmt.Errorf("decision cancelled during load: %w", ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.SessionState{}, fmt.Errorf("%w: load of session %s exceeded %s", ErrStoreTimeout, sessionID, o.cfg.StoreTimeout)
	}
	return models.SessionState{}, fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
}

func (o *Orchestrator) suggest(ctx context.Context, p models.Percept, snapshot models.SessionState) ([]models.Candidate, error) {
	startTime := time.Now()
	candidates, err := callWithTimeout(ctx, o.cfg.PolicyTimeout, func(ctx context.Context) ([]models.Candidate, error) {
		return o.policy.Suggest(ctx, p, snapshot)
	})
	durationMS := int(time.Since(startTime).Milliseconds())

	switch {
	case err == nil:
		observability.RecordPolicyCall("success", durationMS)
		return policy.Rank(candidates), nil
	case ctx.Err() != nil:
		observability.RecordPolicyCall("error", durationMS)
		return nil, fmt.Errorf("decision cancelled during suggest: %w", ctx.Err())
	case errors.Is(err, context.DeadlineExceeded):
		observability.RecordPolicyCall("timeout", durationMS)
		return nil, fmt.Errorf("%w: no suggestions within %s", ErrPolicyTimeout, o.cfg.PolicyTimeout)
	default:
		observability.RecordPolicyCall("error", durationMS)
		return nil, fmt.Errorf("%w: %w", ErrPolicyFailure, err)
	}
}

// arbitrate walks the ranked candidates until one is accepted or repaired,
// then falls back to the safety-net action.
func (o *Orchestrator) arbitrate(p models.Percept, s models.SessionState, candidates []models.Candidate) (models.Candidate, models.Provenance, []models.Rejection, error) {
	var rejections []models.Rejection
	for _, c := range candidates {
		v := o.rules.Evaluate(p, s, c)
		switch {
		case v.Kind == models.VerdictAccept:
			return c, models.FromPolicy, rejections, nil
		case v.Kind == models.VerdictModify && v.Replacement != nil:
			observability.RecordRuleVerdict(v.Rule, string(v.Kind), "")
			o.logger.Debug("candidate_modified", "session_id", p.SessionID, "action", c.Action, "replacement", v.Replacement.Action, "rule", v.Rule)
			return *v.Replacement, models.FromPolicy, rejections, nil
		case v.Kind == models.VerdictModify:
			rule := v.Rule
			v = models.Reject(models.ReasonRuleFault, models.SeverityError, "modify verdict without replacement")
			v.Rule = rule
		}
		observability.RecordRuleVerdict(v.Rule, string(models.VerdictReject), string(v.Reason))
		rejections = append(rejections, models.Rejection{
			Action:   c.Action,
			Rule:     v.Rule,
			Reason:   v.Reason,
			Severity: v.Severity,
			Detail:   v.Detail,
		})
	}

	safety, provenance := o.cfg.FallbackAction, models.FromFallback
	if o.shouldEscalate(rejections) {
		safety, provenance = o.cfg.EscalationAction, models.FromEscalation
	}

	if v := o.rules.Evaluate(p, s, safety); v.Kind != models.VerdictAccept {
		o.logger.Error("fallback_rejected_by_rules",
			"session_id", p.SessionID,
			"action", safety.Action,
			"rule", v.Rule,
			"reason", v.Reason,
			"detail", v.Detail,
		)
		return models.Candidate{}, "", rejections, fmt.Errorf("%w: %s rejected by rule %s: %s", ErrNoViableAction, safety.Action, v.Rule, v.Detail)
	}
	return safety.Clone(), provenance, rejections, nil
}

func (o *Orchestrator) shouldEscalate(rejections []models.Rejection) bool {
	for _, r := range rejections {
		if r.Severity >= o.cfg.EscalationSeverity {
			return true
		}
	}
	return false
}

// commit is the finalization point. It runs detached from caller
// cancellation so a started commit is never torn halfway.
func (o *Orchestrator) commit(ctx context.Context, sessionID string, expected uint64, next models.SessionState) (models.SessionState, error) {
	cctx := context.WithoutCancel(ctx)
	if o.cfg.StoreTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(cctx, o.cfg.StoreTimeout)
		defer cancel()
	}

	committed, err := o.memory.Commit(cctx, sessionID, expected, next)
	switch {
	case err == nil:
		return committed, nil
	case errors.Is(err, memory.ErrVersionConflict):
		return models.SessionState{}, err
	case errors.Is(err, context.DeadlineExceeded):
		return models.SessionState{}, fmt.Errorf("%w: commit of session %s exceeded %s", ErrStoreTimeout, sessionID, o.cfg.StoreTimeout)
	default:
		return models.SessionState{}, fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
	}
}

// callWithTimeout runs fn on its own goroutine so a callee that ignores its
// context still cannot hold the cycle past the deadline.
func callWithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- result{err: fmt.Errorf("panic: %v\n%s", rec, debug.Stack())}
			}
		}()
		v, err := fn(ctx)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
