package orchestrator

import (
	"fmt"
	"time"

	"github.com/avvvet/brain/internal/models"
)

// Config holds the decision cycle options.
type Config struct {
	// FallbackAction is emitted when no candidate survives the rules.
	FallbackAction models.Candidate
	// EscalationAction replaces the fallback when a rejection reaches EscalationSeverity.
	EscalationAction   models.Candidate
	EscalationSeverity models.Severity

	// MaxCommitRetries is the number of extra cycles after a lost version check.
	MaxCommitRetries int

	// Zero disables the timeout.
	PolicyTimeout time.Duration
	StoreTimeout  time.Duration
}

// DefaultConfig returns the stock options.
func DefaultConfig() Config {
	return Config{
		FallbackAction:     models.Candidate{Action: models.ActionAskClarification, Confidence: 1, Source: "fallback"},
		EscalationAction:   models.Candidate{Action: models.ActionEscalateToHuman, Confidence: 1, Source: "escalation"},
		EscalationSeverity: models.SeverityCritical,
		MaxCommitRetries:   3,
		PolicyTimeout:      2 * time.Second,
		StoreTimeout:       time.Second,
	}
}

func (c Config) validate() error {
	if c.FallbackAction.Action == "" {
		return fmt.Errorf("fallback action is required")
	}
	if c.EscalationAction.Action == "" {
		return fmt.Errorf("escalation action is required")
	}
	if c.MaxCommitRetries < 0 {
		return fmt.Errorf("max commit retries must not be negative, got %d", c.MaxCommitRetries)
	}
	if c.PolicyTimeout < 0 || c.StoreTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}
