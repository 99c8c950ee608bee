package models

import (
	"fmt"
	"strings"
)

// VerdictKind is the outcome of evaluating one candidate.
type VerdictKind string

const (
	VerdictAccept VerdictKind = "ACCEPT"
	VerdictReject VerdictKind = "REJECT"
	VerdictModify VerdictKind = "MODIFY"
)

// ReasonCode is the closed rule-violation taxonomy.
type ReasonCode string

const (
	ReasonMissingSlot     ReasonCode = "MISSING_SLOT"
	ReasonInvalidValue    ReasonCode = "INVALID_VALUE"
	ReasonPolicyViolation ReasonCode = "POLICY_VIOLATION"
	ReasonRuleFault       ReasonCode = "RULE_FAULT"
)

// Severity orders rule violations; escalation compares against a threshold.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

var severityNames = [...]string{"INFO", "WARNING", "ERROR", "CRITICAL"}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return fmt.Sprintf("Severity(%d)", int(s))
	}
	return severityNames[s]
}

// ParseSeverity accepts the names above, case-insensitively.
func ParseSeverity(name string) (Severity, error) {
	for i, n := range severityNames {
		if strings.EqualFold(name, n) {
			return Severity(i), nil
		}
	}
	return SeverityInfo, fmt.Errorf("unknown severity %q", name)
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Verdict is the rule engine's judgment on one candidate.
type Verdict struct {
	Kind        VerdictKind
	Reason      ReasonCode
	Severity    Severity
	Rule        string
	Detail      string
	Replacement *Candidate
}

// Accept is the implicit verdict when no rule fires.
func Accept() Verdict {
	return Verdict{Kind: VerdictAccept}
}

// Reject builds a REJECT verdict.
func Reject(reason ReasonCode, severity Severity, detail string) Verdict {
	return Verdict{Kind: VerdictReject, Reason: reason, Severity: severity, Detail: detail}
}

// Modify builds a MODIFY verdict carrying a sanitized replacement.
func Modify(replacement Candidate, detail string) Verdict {
	return Verdict{Kind: VerdictModify, Replacement: &replacement, Detail: detail}
}
