package rules

import (
	"math"
	"testing"

	"github.com/avvvet/brain/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quoteRequirements = Requirements{
	models.ActionProvideQuote: {"policy_number"},
	models.ActionRenewPolicy:  {"policy_number", "vehicle_year"},
}

func percept(intent models.Intent, slots map[string]any) models.Percept {
	return models.Percept{SessionID: "s1", Sequence: 1, Intent: intent, Slots: slots}
}

func candidate(action models.ActionTag, params map[string]any) models.Candidate {
	return models.Candidate{Action: action, Params: params, Confidence: 0.8}
}

func TestEvaluateAcceptsWhenNoRuleFires(t *testing.T) {
	e := NewEngine(nil, RequiredSlots("required", 100, quoteRequirements, false))

	v := e.Evaluate(
		percept(models.IntentGetQuote, map[string]any{"policy_number": "ABC123456"}),
		models.NewSessionState("s1"),
		candidate(models.ActionProvideQuote, nil),
	)
	assert.Equal(t, models.VerdictAccept, v.Kind)
}

func TestEvaluateUsesRememberedSlots(t *testing.T) {
	e := NewEngine(nil, RequiredSlots("required", 100, quoteRequirements, false))
	s := models.NewSessionState("s1")
	s.Slots["policy_number"] = "ABC123456"

	v := e.Evaluate(percept(models.IntentGetQuote, nil), s, candidate(models.ActionProvideQuote, nil))
	assert.Equal(t, models.VerdictAccept, v.Kind)
}

func TestEvaluateRejectsMissingSlot(t *testing.T) {
	e := NewEngine(nil, RequiredSlots("required", 100, quoteRequirements, false))

	v := e.Evaluate(percept(models.IntentGetQuote, nil), models.NewSessionState("s1"), candidate(models.ActionProvideQuote, nil))

	assert.Equal(t, models.VerdictReject, v.Kind)
	assert.Equal(t, models.ReasonMissingSlot, v.Reason)
	assert.Equal(t, models.SeverityWarning, v.Severity)
	assert.Equal(t, "required", v.Rule)
}

func TestEvaluateHighestPriorityWins(t *testing.T) {
	e := NewEngine(nil,
		RequiredSlots("required", 100, quoteRequirements, false),
		Compliance("compliance", 300, []Prohibition{{Action: models.ActionProvideQuote}}),
	)

	v := e.Evaluate(percept(models.IntentGetQuote, nil), models.NewSessionState("s1"), candidate(models.ActionProvideQuote, nil))

	assert.Equal(t, models.ReasonPolicyViolation, v.Reason)
	assert.Equal(t, models.SeverityCritical, v.Severity)
	assert.Equal(t, "compliance", v.Rule)
}

func TestEqualPrioritiesKeepRegistrationOrder(t *testing.T) {
	first := Rule{Name: "first", Priority: 5, Check: func(models.Percept, models.SessionState, models.Candidate) models.Verdict {
		return models.Reject(models.ReasonInvalidValue, models.SeverityError, "first")
	}}
	second := Rule{Name: "second", Priority: 5, Check: func(models.Percept, models.SessionState, models.Candidate) models.Verdict {
		return models.Reject(models.ReasonMissingSlot, models.SeverityWarning, "second")
	}}

	e := NewEngine(nil, first, second)
	names := []string{}
	for _, r := range e.Rules() {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"first", "second"}, names)

	v := e.Evaluate(percept(models.IntentGetQuote, nil), models.NewSessionState("s1"), candidate(models.ActionGreet, nil))
	assert.Equal(t, "first", v.Rule)
}

func TestPanickingRuleFailsClosed(t *testing.T) {
	broken := Rule{Name: "broken", Priority: 1, Check: func(models.Percept, models.SessionState, models.Candidate) models.Verdict {
		var m map[string]int
		m["boom"]++
		return models.Accept()
	}}
	e := NewEngine(nil, broken)

	v := e.Evaluate(percept(models.IntentGreeting, nil), models.NewSessionState("s1"), candidate(models.ActionGreet, nil))

	assert.Equal(t, models.VerdictReject, v.Kind)
	assert.Equal(t, models.ReasonRuleFault, v.Reason)
	assert.Equal(t, "broken", v.Rule)
}

func TestEvaluateIsPure(t *testing.T) {
	e := NewEngine(nil,
		Compliance("compliance", 300, []Prohibition{{Action: models.ActionShareCustomerData}}),
		RequiredSlots("required", 100, quoteRequirements, true),
		Clamp("clamp", 10, models.ActionOfferDiscount, "percent", 0, 15),
	)
	p := percept(models.IntentRenewPolicy, map[string]any{"policy_number": "ABC123456"})
	s := models.NewSessionState("s1")
	s.Slots["vehicle_make"] = "Honda"
	c := candidate(models.ActionOfferDiscount, map[string]any{"percent": 40.0})

	first := e.Evaluate(p, s, c)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, e.Evaluate(p, s, c))
	}
	assert.Equal(t, 40.0, c.Params["percent"], "candidate must not be mutated")
	assert.Len(t, s.Slots, 1, "state must not be mutated")
}

func TestClampModifies(t *testing.T) {
	e := NewEngine(nil, Clamp("clamp", 10, models.ActionOfferDiscount, "percent", 0, 15))

	v := e.Evaluate(percept(models.IntentRenewPolicy, nil), models.NewSessionState("s1"),
		candidate(models.ActionOfferDiscount, map[string]any{"percent": 40.0}))

	require.Equal(t, models.VerdictModify, v.Kind)
	require.NotNil(t, v.Replacement)
	assert.Equal(t, 15.0, v.Replacement.Params["percent"])
}

func TestClampRejectsValuesThatAreNotFiniteNumbers(t *testing.T) {
	e := NewEngine(nil, Clamp("clamp", 10, models.ActionOfferDiscount, "percent", 0, 15))
	s := models.NewSessionState("s1")

	for _, value := range []any{"NaN", "Inf", "-Inf", "+Inf", "lots", math.NaN(), math.Inf(-1)} {
		v := e.Evaluate(percept(models.IntentRenewPolicy, nil), s,
			candidate(models.ActionOfferDiscount, map[string]any{"percent": value}))
		require.Equal(t, models.VerdictReject, v.Kind, "percent=%v", value)
		assert.Equal(t, models.ReasonInvalidValue, v.Reason)
		assert.Equal(t, models.SeverityError, v.Severity)
		assert.Equal(t, "clamp", v.Rule)
	}

	v := e.Evaluate(percept(models.IntentRenewPolicy, nil), s,
		candidate(models.ActionOfferDiscount, map[string]any{"percent": " 12 "}))
	assert.Equal(t, models.VerdictAccept, v.Kind)

	v = e.Evaluate(percept(models.IntentRenewPolicy, nil), s, candidate(models.ActionOfferDiscount, nil))
	assert.Equal(t, models.VerdictAccept, v.Kind, "absent parameter is left to other rules")
}

func TestNumberRejectsNonFinite(t *testing.T) {
	for _, v := range []any{"NaN", "inf", "-Infinity", math.NaN(), float32(math.Inf(1)), "", nil, true} {
		_, ok := Number(v)
		assert.False(t, ok, "%#v", v)
	}
	n, ok := Number("2.5")
	require.True(t, ok)
	assert.Equal(t, 2.5, n)
}

func TestRangeValidatorRejectsNaN(t *testing.T) {
	assert.Error(t, RangeValidator{Min: 1950, Max: 2030}.Validate("NaN"))
	assert.NoError(t, RangeValidator{Min: 1950, Max: 2030}.Validate(2020))
}

func TestModifyReplacementPassesReevaluation(t *testing.T) {
	e := NewEngine(nil,
		Compliance("compliance", 300, []Prohibition{{Action: models.ActionShareCustomerData}}),
		RequiredSlots("required", 100, quoteRequirements, true),
		Clamp("clamp", 10, models.ActionOfferDiscount, "percent", 0, 15),
	)
	p := percept(models.IntentRenewPolicy, nil)
	s := models.NewSessionState("s1")

	inputs := []models.Candidate{
		candidate(models.ActionRenewPolicy, nil),
		candidate(models.ActionProvideQuote, nil),
		candidate(models.ActionOfferDiscount, map[string]any{"percent": -3}),
		candidate(models.ActionOfferDiscount, map[string]any{"percent": 99.5}),
	}
	for _, c := range inputs {
		v := e.Evaluate(p, s, c)
		require.Equal(t, models.VerdictModify, v.Kind, "candidate %s", c.Action)
		again := e.Evaluate(p, s, *v.Replacement)
		assert.Equal(t, models.VerdictAccept, again.Kind, "replacement for %s", c.Action)
	}
}

func TestRequiredSlotsSubstitutesRequestSlot(t *testing.T) {
	e := NewEngine(nil, RequiredSlots("required", 100, quoteRequirements, true))

	v := e.Evaluate(percept(models.IntentRenewPolicy, map[string]any{"vehicle_year": 2020}),
		models.NewSessionState("s1"), candidate(models.ActionRenewPolicy, nil))

	require.Equal(t, models.VerdictModify, v.Kind)
	assert.Equal(t, models.ActionRequestSlot, v.Replacement.Action)
	assert.Equal(t, "policy_number", v.Replacement.Params["slot"])
	assert.Equal(t, []string{"policy_number"}, v.Replacement.Params["missing"])
}

func TestValueValidity(t *testing.T) {
	pattern, err := NewPatternValidator(`^[A-Z]{3}[0-9]{6}$`)
	require.NoError(t, err)
	e := NewEngine(nil, ValueValidity("validity", 200, quoteRequirements, map[string]Validator{
		"policy_number": pattern,
		"vehicle_year":  RangeValidator{Min: 1950, Max: 2030},
		"tier":          OneOfValidator{Values: []string{"basic", "full"}},
	}))
	s := models.NewSessionState("s1")

	tests := []struct {
		name   string
		slots  map[string]any
		cand   models.Candidate
		reject bool
	}{
		{"valid policy number", map[string]any{"policy_number": "ABC123456"}, candidate(models.ActionProvideQuote, nil), false},
		{"malformed policy number", map[string]any{"policy_number": "12"}, candidate(models.ActionProvideQuote, nil), true},
		{"year out of range", map[string]any{"policy_number": "ABC123456", "vehicle_year": 1900}, candidate(models.ActionRenewPolicy, nil), true},
		{"year as string", map[string]any{"policy_number": "ABC123456", "vehicle_year": "2019"}, candidate(models.ActionRenewPolicy, nil), false},
		{"irrelevant slot ignored", map[string]any{"vehicle_year": "abc"}, candidate(models.ActionGreet, nil), false},
		{"bad param", nil, candidate(models.ActionProvideQuote, map[string]any{"tier": "gold"}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := e.Evaluate(percept(models.IntentGetQuote, tt.slots), s, tt.cand)
			if tt.reject {
				assert.Equal(t, models.VerdictReject, v.Kind)
				assert.Equal(t, models.ReasonInvalidValue, v.Reason)
			} else {
				assert.Equal(t, models.VerdictAccept, v.Kind, v.Detail)
			}
		})
	}
}

func TestComplianceNarrowing(t *testing.T) {
	e := NewEngine(nil, Compliance("compliance", 300, []Prohibition{
		{Action: models.ActionOfferDiscount, Intent: models.IntentCancelRenewal},
		{Action: models.ActionCancelRenewal, Param: "confirmed", Values: []string{"false"}},
	}))
	s := models.NewSessionState("s1")

	v := e.Evaluate(percept(models.IntentRenewPolicy, nil), s, candidate(models.ActionOfferDiscount, nil))
	assert.Equal(t, models.VerdictAccept, v.Kind)

	v = e.Evaluate(percept(models.IntentCancelRenewal, nil), s, candidate(models.ActionOfferDiscount, nil))
	assert.Equal(t, models.ReasonPolicyViolation, v.Reason)

	v = e.Evaluate(percept(models.IntentCancelRenewal, nil), s, candidate(models.ActionCancelRenewal, map[string]any{"confirmed": false}))
	assert.Equal(t, models.ReasonPolicyViolation, v.Reason)

	v = e.Evaluate(percept(models.IntentCancelRenewal, nil), s, candidate(models.ActionCancelRenewal, map[string]any{"confirmed": true}))
	assert.Equal(t, models.VerdictAccept, v.Kind)
}
