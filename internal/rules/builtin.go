package rules

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/avvvet/brain/internal/models"
)

// Requirements lists the slots each action needs before it can be taken.
type Requirements map[models.ActionTag][]string

// Missing returns the required slots of action that neither the percept nor
// the state provide, in declaration order.
func (r Requirements) Missing(p models.Percept, s models.SessionState, action models.ActionTag) []string {
	var missing []string
	for _, slot := range r[action] {
		if _, ok := models.LookupSlot(p, s, slot); !ok {
			missing = append(missing, slot)
		}
	}
	return missing
}

// RequiredSlots rejects a candidate whose action lacks a required slot. With
// substitute set it instead rewrites the candidate into a REQUEST_SLOT prompt
// for the first missing slot.
func RequiredSlots(name string, priority int, req Requirements, substitute bool) Rule {
	return Rule{
		Name:     name,
		Priority: priority,
		Check: func(p models.Percept, s models.SessionState, c models.Candidate) models.Verdict {
			missing := req.Missing(p, s, c.Action)
			if len(missing) == 0 {
				return models.Accept()
			}
			detail := fmt.Sprintf("%s requires %s", c.Action, strings.Join(missing, ", "))
			if substitute {
				return models.Modify(RequestSlot(missing, c.Confidence), detail)
			}
			return models.Reject(models.ReasonMissingSlot, models.SeverityWarning, detail)
		},
	}
}

// RequestSlot builds the candidate that asks the user for missing slots.
func RequestSlot(missing []string, confidence float64) models.Candidate {
	return models.Candidate{
		Action:     models.ActionRequestSlot,
		Params:     map[string]any{"slot": missing[0], "missing": slices.Clone(missing)},
		Confidence: confidence,
		Source:     "rules",
	}
}

// Validator reports whether a slot value is acceptable.
type Validator interface {
	Validate(v any) error
}

// PatternValidator requires the string form of a value to match a regexp.
type PatternValidator struct {
	re *regexp.Regexp
}

func NewPatternValidator(pattern string) (PatternValidator, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return PatternValidator{}, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	return PatternValidator{re: re}, nil
}

func (pv PatternValidator) Validate(v any) error {
	s := fmt.Sprint(v)
	if !pv.re.MatchString(s) {
		return fmt.Errorf("%q does not match %s", s, pv.re)
	}
	return nil
}

// RangeValidator requires a numeric value within [Min, Max].
type RangeValidator struct {
	Min, Max float64
}

func (rv RangeValidator) Validate(v any) error {
	n, ok := Number(v)
	if !ok {
		return fmt.Errorf("%v is not a number", v)
	}
	if n < rv.Min || n > rv.Max {
		return fmt.Errorf("%v outside [%v, %v]", n, rv.Min, rv.Max)
	}
	return nil
}

// OneOfValidator requires the string form of a value to be one of Values.
type OneOfValidator struct {
	Values []string
}

func (ov OneOfValidator) Validate(v any) error {
	s := fmt.Sprint(v)
	if !slices.Contains(ov.Values, s) {
		return fmt.Errorf("%q not one of %s", s, strings.Join(ov.Values, "|"))
	}
	return nil
}

// ValueValidity rejects candidates whose params, or the slots their action
// depends on, hold malformed values.
func ValueValidity(name string, priority int, req Requirements, validators map[string]Validator) Rule {
	return Rule{
		Name:     name,
		Priority: priority,
		Check: func(p models.Percept, s models.SessionState, c models.Candidate) models.Verdict {
			for _, key := range sortedKeys(c.Params) {
				if err := validate(validators, key, c.Params[key]); err != nil {
					return models.Reject(models.ReasonInvalidValue, models.SeverityError, err.Error())
				}
			}
			for _, slot := range req[c.Action] {
				v, ok := models.LookupSlot(p, s, slot)
				if !ok {
					continue
				}
				if err := validate(validators, slot, v); err != nil {
					return models.Reject(models.ReasonInvalidValue, models.SeverityError, err.Error())
				}
			}
			return models.Accept()
		},
	}
}

func validate(validators map[string]Validator, key string, v any) error {
	val, ok := validators[key]
	if !ok {
		return nil
	}
	if err := val.Validate(v); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

// Prohibition describes a disallowed action, optionally narrowed to an intent
// and to particular parameter values.
type Prohibition struct {
	Action models.ActionTag
	Intent models.Intent
	Param  string
	Values []string
}

func (pr Prohibition) matches(p models.Percept, c models.Candidate) bool {
	if pr.Action != c.Action {
		return false
	}
	if pr.Intent != "" && pr.Intent != p.Intent {
		return false
	}
	if pr.Param == "" {
		return true
	}
	v, ok := c.Params[pr.Param]
	if !ok {
		return false
	}
	return len(pr.Values) == 0 || slices.Contains(pr.Values, fmt.Sprint(v))
}

// Compliance rejects prohibited action/parameter combinations as critical.
func Compliance(name string, priority int, prohibitions []Prohibition) Rule {
	return Rule{
		Name:     name,
		Priority: priority,
		Check: func(p models.Percept, _ models.SessionState, c models.Candidate) models.Verdict {
			for _, pr := range prohibitions {
				if pr.matches(p, c) {
					return models.Reject(models.ReasonPolicyViolation, models.SeverityCritical,
						fmt.Sprintf("%s is not allowed", describe(pr)))
				}
			}
			return models.Accept()
		},
	}
}

func describe(pr Prohibition) string {
	s := string(pr.Action)
	if pr.Intent != "" {
		s += " for " + string(pr.Intent)
	}
	if pr.Param != "" {
		s += " with " + pr.Param
		if len(pr.Values) > 0 {
			s += "=" + strings.Join(pr.Values, "|")
		}
	}
	return s
}

// Clamp pulls a numeric parameter of action back into [lo, hi]. A present
// value that is not a finite number is rejected as INVALID_VALUE.
func Clamp(name string, priority int, action models.ActionTag, param string, lo, hi float64) Rule {
	return Rule{
		Name:     name,
		Priority: priority,
		Check: func(_ models.Percept, _ models.SessionState, c models.Candidate) models.Verdict {
			if c.Action != action {
				return models.Accept()
			}
			raw, present := c.Params[param]
			if !present {
				return models.Accept()
			}
			n, ok := Number(raw)
			if !ok {
				return models.Reject(models.ReasonInvalidValue, models.SeverityError,
					fmt.Sprintf("%s: %v is not a finite number", param, raw))
			}
			clamped := math.Min(math.Max(n, lo), hi)
			if clamped == n {
				return models.Accept()
			}
			out := c.Clone()
			out.Params[param] = clamped
			return models.Modify(out, fmt.Sprintf("%s clamped from %v to %v", param, n, clamped))
		},
	}
}

// Number converts JSON and YAML numeric representations to float64. NaN and
// infinities are not numbers here.
func Number(v any) (float64, bool) {
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
