package prompts

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/avvvet/brain/internal/models"
)

const SystemPrompt = `You are the policy component of a car-insurance customer assistant. Your job is to propose the next actions the assistant could take for the current user turn, ranked by how appropriate they are.

IMPORTANT RULES:
1. Only propose actions from the list of available actions
2. Propose at most 3 actions, best first
3. Use the known slots as parameters where the action needs them
4. Confidence is a number between 0 and 1
5. Your proposals are checked by business rules before anything is sent to the user

RESPONSE FORMAT:
You must respond with a valid JSON object in this exact format:
{
  "candidates": [
    {"action": "ACTION_NAME", "confidence": 0.0, "params": {"param_name": "value"}}
  ]
}`

const TurnPrompt = `Available Actions:
%s
Earlier conversation:
%s
Known slots:
%s
Current turn:
intent=%s slots=%s

Respond with the JSON format described above.`

// BuildSuggestPrompt renders the per-turn prompt for the LLM suggester.
func BuildSuggestPrompt(p models.Percept, s models.SessionState, actions []models.ActionTag) string {
	return fmt.Sprintf(TurnPrompt,
		buildActionsSection(actions),
		buildConversationSection(s),
		formatSlots(s.Slots),
		p.Intent,
		formatSlots(p.Slots),
	)
}

func buildActionsSection(actions []models.ActionTag) string {
	var builder strings.Builder
	for _, a := range actions {
		builder.WriteString(fmt.Sprintf("- %s\n", a))
	}
	return builder.String()
}

// buildConversationSection covers turns already compacted out of History;
// the recent turns are replayed as chat messages.
func buildConversationSection(s models.SessionState) string {
	return fmt.Sprintf("Summary: %s\n", s.Summary)
}

// TurnMessages renders a remembered turn as the user/assistant exchange
// replayed to the model.
func TurnMessages(turn models.TurnSummary) (user, assistant string) {
	return fmt.Sprintf("intent=%s", turn.Intent), fmt.Sprintf("%s (%s)", turn.Action, turn.Provenance)
}

func formatSlots(slots map[string]any) string {
	if len(slots) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(slots))
	for _, k := range slices.Sorted(maps.Keys(slots)) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, slots[k]))
	}
	return strings.Join(parts, ", ")
}

type llmReply struct {
	Candidates []models.Candidate `json:"candidates"`
}

// ParseCandidates extracts the candidate list from a model reply.
func ParseCandidates(content string) ([]models.Candidate, error) {
	// Try to extract JSON from the response
	jsonContent := extractJSON(content)
	if jsonContent == "" {
		return nil, fmt.Errorf("no valid JSON found in response")
	}

	var reply llmReply
	if err := json.Unmarshal([]byte(jsonContent), &reply); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	out := reply.Candidates[:0]
	for _, c := range reply.Candidates {
		if c.Action == "" {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func extractJSON(content string) string {
	// Look for JSON object in the content
	start := strings.Index(content, "{")
	if start == -1 {
		return ""
	}

	end := strings.LastIndex(content, "}")
	if end == -1 || end <= start {
		return ""
	}

	return content[start : end+1]
}
