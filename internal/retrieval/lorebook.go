package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"fabula/internal/types"
)

const loreSelectionSchema = `{
	"type": "object",
	"properties": {
		"selected": {"type": "array", "items": {"type": "integer"}}
	},
	"required": ["selected"]
}`

const loreSelectionSystemPrompt = `You pick lorebook entries relevant to the current moment of an interactive ` +
	`story. Select only entries whose content bears directly on the player's action or its likely consequences.`

// lorebookRetrieve asks the model which lorebook entries matter for the
// current action and renders their full content. Distinct from the tiering
// engine's keyword pass: this surfaces entry bodies, not just names.
func (p *Phase) lorebookRetrieve(ctx context.Context, gen *types.GenerationContext) (string, error) {
	var candidates []types.LorebookEntry
	for _, e := range gen.World.LorebookEntries {
		if e.InjectionMode != types.InjectionNever && e.Content != "" {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return "", nil
	}

	var prompt strings.Builder
	prompt.WriteString("Current player action:\n")
	prompt.WriteString(gen.UserAction)
	prompt.WriteString("\n\nLorebook entries:\n")
	for i, e := range candidates {
		preview := e.Content
		if len(preview) > 150 {
			preview = preview[:150]
		}
		fmt.Fprintf(&prompt, "%d. %s: %s\n", i, e.Name, preview)
	}

	raw, err := p.llm.CompleteWithSchema(ctx, loreSelectionSystemPrompt, prompt.String(), loreSelectionSchema)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Selected []int `json:"selected"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return "", fmt.Errorf("unparseable lore selection: %w", err)
	}
	if len(parsed.Selected) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("[LOREBOOK]")
	for _, idx := range parsed.Selected {
		if idx < 0 || idx >= len(candidates) {
			continue
		}
		e := candidates[idx]
		fmt.Fprintf(&b, "\n%s: %s", e.Name, e.Content)
	}
	if b.Len() == len("[LOREBOOK]") {
		return "", nil
	}
	return b.String(), nil
}
