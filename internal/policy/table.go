package policy

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/avvvet/brain/internal/models"
	"gopkg.in/yaml.v3"
)

// DefaultEntry is the table key used for intents without their own entry.
const DefaultEntry = "default"

// CandidateTemplate is one row of the suggestion table.
type CandidateTemplate struct {
	Action     models.ActionTag `yaml:"action"`
	Confidence float64          `yaml:"confidence"`
	Params     map[string]any   `yaml:"params"`
}

// TableSuggester is the symbolic suggester: a static intent -> candidates table.
type TableSuggester struct {
	table map[string][]CandidateTemplate
}

// NewTableSuggester validates and copies the table.
func NewTableSuggester(table map[string][]CandidateTemplate) (*TableSuggester, error) {
	for intent, rows := range table {
		for i, row := range rows {
			if row.Action == "" {
				return nil, fmt.Errorf("suggestion %s[%d]: action is required", intent, i)
			}
			if row.Confidence < 0 || row.Confidence > 1 {
				return nil, fmt.Errorf("suggestion %s[%d]: confidence %v outside [0,1]", intent, i, row.Confidence)
			}
		}
	}
	return &TableSuggester{table: maps.Clone(table)}, nil
}

// LoadTableSuggester reads the `suggestions:` section of the engine configuration file.
func LoadTableSuggester(path string) (*TableSuggester, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suggestion file: %w", err)
	}
	var f struct {
		Suggestions map[string][]CandidateTemplate `yaml:"suggestions"`
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse suggestion file: %w", err)
	}
	return NewTableSuggester(f.Suggestions)
}

// Actions lists every action the table can propose.
func (t *TableSuggester) Actions() []models.ActionTag {
	seen := map[models.ActionTag]bool{}
	var out []models.ActionTag
	for _, key := range slices.Sorted(maps.Keys(t.table)) {
		for _, row := range t.table[key] {
			if !seen[row.Action] {
				seen[row.Action] = true
				out = append(out, row.Action)
			}
		}
	}
	return out
}

func (t *TableSuggester) Suggest(_ context.Context, p models.Percept, _ models.SessionState) ([]models.Candidate, error) {
	rows, ok := t.table[string(p.Intent)]
	if !ok {
		rows = t.table[DefaultEntry]
	}
	out := make([]models.Candidate, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.Candidate{
			Action:     row.Action,
			Params:     maps.Clone(row.Params),
			Confidence: row.Confidence,
			Source:     "table",
		})
	}
	return Rank(out), nil
}
