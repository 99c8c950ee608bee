package rules

import (
	"fmt"
	"os"

	"github.com/avvvet/brain/internal/models"
	"gopkg.in/yaml.v3"
)

// Default priorities: compliance before validity before completeness, clamps last
// so they only ever see candidates every other rule already accepted.
const (
	DefaultCompliancePriority   = 300
	DefaultValidityPriority     = 200
	DefaultRequiredSlotPriority = 100
	DefaultClampPriority        = 10
)

// RuleSet is the `rules:` section of the engine configuration file.
type RuleSet struct {
	RequiredSlots RequiredSlotsConfig `yaml:"required_slots"`
	Validity      ValidityConfig      `yaml:"validity"`
	Compliance    ComplianceConfig    `yaml:"compliance"`
	Clamps        []ClampConfig       `yaml:"clamps"`
}

type RequiredSlotsConfig struct {
	Priority   *int                          `yaml:"priority"`
	Substitute bool                          `yaml:"substitute"`
	Actions    map[models.ActionTag][]string `yaml:"actions"`
}

type ValidityConfig struct {
	Priority   *int                       `yaml:"priority"`
	Validators map[string]ValidatorConfig `yaml:"validators"`
}

// ValidatorConfig selects exactly one validator kind.
type ValidatorConfig struct {
	Pattern string   `yaml:"pattern"`
	Min     *float64 `yaml:"min"`
	Max     *float64 `yaml:"max"`
	OneOf   []string `yaml:"one_of"`
}

type ComplianceConfig struct {
	Priority     *int                `yaml:"priority"`
	Prohibitions []ProhibitionConfig `yaml:"prohibitions"`
}

type ProhibitionConfig struct {
	Action models.ActionTag `yaml:"action"`
	Intent models.Intent    `yaml:"intent"`
	Param  string           `yaml:"param"`
	Values []string         `yaml:"values"`
}

type ClampConfig struct {
	Priority *int             `yaml:"priority"`
	Action   models.ActionTag `yaml:"action"`
	Param    string           `yaml:"param"`
	Min      float64          `yaml:"min"`
	Max      float64          `yaml:"max"`
}

type fileLayout struct {
	Rules RuleSet `yaml:"rules"`
}

// LoadRuleSet reads the rules section of an engine configuration file.
func LoadRuleSet(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("failed to read rule file: %w", err)
	}
	return ParseRuleSet(data)
}

// ParseRuleSet decodes the rules section from YAML.
func ParseRuleSet(data []byte) (RuleSet, error) {
	var f fileLayout
	if err := yaml.Unmarshal(data, &f); err != nil {
		return RuleSet{}, fmt.Errorf("failed to parse rule file: %w", err)
	}
	return f.Rules, nil
}

// Requirements returns the required slots per action.
func (rs RuleSet) Requirements() Requirements {
	return Requirements(rs.RequiredSlots.Actions)
}

// Build turns the configuration into rules, ready for NewEngine.
func (rs RuleSet) Build() ([]Rule, error) {
	var out []Rule

	if len(rs.Compliance.Prohibitions) > 0 {
		prohibitions := make([]Prohibition, 0, len(rs.Compliance.Prohibitions))
		for i, pc := range rs.Compliance.Prohibitions {
			if pc.Action == "" {
				return nil, fmt.Errorf("compliance prohibition %d: action is required", i)
			}
			prohibitions = append(prohibitions, Prohibition(pc))
		}
		out = append(out, Compliance("compliance", priority(rs.Compliance.Priority, DefaultCompliancePriority), prohibitions))
	}

	if len(rs.Validity.Validators) > 0 {
		validators := make(map[string]Validator, len(rs.Validity.Validators))
		for slot, vc := range rs.Validity.Validators {
			v, err := vc.build()
			if err != nil {
				return nil, fmt.Errorf("validator %s: %w", slot, err)
			}
			validators[slot] = v
		}
		out = append(out, ValueValidity("value_validity", priority(rs.Validity.Priority, DefaultValidityPriority), rs.Requirements(), validators))
	}

	if len(rs.RequiredSlots.Actions) > 0 {
		out = append(out, RequiredSlots("required_slots",
			priority(rs.RequiredSlots.Priority, DefaultRequiredSlotPriority),
			rs.Requirements(), rs.RequiredSlots.Substitute))
	}

	for i, cc := range rs.Clamps {
		if cc.Action == "" || cc.Param == "" {
			return nil, fmt.Errorf("clamp %d: action and param are required", i)
		}
		if cc.Min > cc.Max {
			return nil, fmt.Errorf("clamp %d: min %v greater than max %v", i, cc.Min, cc.Max)
		}
		name := fmt.Sprintf("clamp_%s_%s", cc.Action, cc.Param)
		out = append(out, Clamp(name, priority(cc.Priority, DefaultClampPriority), cc.Action, cc.Param, cc.Min, cc.Max))
	}

	return out, nil
}

func (vc ValidatorConfig) build() (Validator, error) {
	switch {
	case vc.Pattern != "":
		pv, err := NewPatternValidator(vc.Pattern)
		if err != nil {
			return nil, err
		}
		return pv, nil
	case len(vc.OneOf) > 0:
		return OneOfValidator{Values: vc.OneOf}, nil
	case vc.Min != nil && vc.Max != nil:
		if *vc.Min > *vc.Max {
			return nil, fmt.Errorf("min %v greater than max %v", *vc.Min, *vc.Max)
		}
		return RangeValidator{Min: *vc.Min, Max: *vc.Max}, nil
	}
	return nil, fmt.Errorf("one of pattern, one_of or min/max is required")
}

func priority(p *int, def int) int {
	if p != nil {
		return *p
	}
	return def
}
