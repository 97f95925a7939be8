package tiering

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"fabula/internal/logging"
	"fabula/internal/types"
)

const selectionSchema = `{
	"type": "object",
	"properties": {
		"selected": {
			"type": "array",
			"items": {"type": "integer"},
			"description": "Indices of entries relevant to the current scene"
		}
	},
	"required": ["selected"]
}`

const selectionSystemPrompt = `You select background lore for an interactive story. ` +
	`Given the player's current action and a numbered list of world entries, ` +
	`pick only the entries that are directly relevant to what is happening right now. ` +
	`Prefer fewer, highly relevant entries over many loosely related ones.`

// buildTier3 asks the model to select from the entities that Tiers 1 and 2
// left behind. It runs only when the remainder exceeds the configured
// threshold. Any failure degrades to an empty Tier 3; this never aborts the
// caller.
func (e *Engine) buildTier3(ctx context.Context, world *types.WorldState, userAction string, selected map[string]bool) []types.RelevantEntry {
	if !e.cfg.EnableLLMSelection || e.llm == nil {
		return nil
	}

	candidates := e.collectCandidates(world, selected)
	if len(candidates) <= e.cfg.LLMThreshold {
		logging.ContextDebug("Tier 3 skipped: %d candidates <= threshold %d", len(candidates), e.cfg.LLMThreshold)
		return nil
	}

	logging.Context("Tier 3 selection: %d candidates exceed threshold %d", len(candidates), e.cfg.LLMThreshold)

	var prompt strings.Builder
	prompt.WriteString("Current player action:\n")
	prompt.WriteString(userAction)
	prompt.WriteString("\n\nWorld entries:\n")
	for i, c := range candidates {
		desc := c.Description
		if len(desc) > 200 {
			desc = desc[:200]
		}
		fmt.Fprintf(&prompt, "%d. [%s] %s: %s\n", i, c.Type, c.Name, desc)
	}

	raw, err := e.llm.CompleteWithSchema(ctx, selectionSystemPrompt, prompt.String(), selectionSchema)
	if err != nil {
		logging.ContextWarn("Tier 3 selection failed (non-fatal): %v", err)
		return nil
	}

	var parsed struct {
		Selected []int `json:"selected"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		logging.ContextWarn("Tier 3 response not parseable (non-fatal): %v", err)
		return nil
	}

	var out []types.RelevantEntry
	for _, idx := range parsed.Selected {
		if idx < 0 || idx >= len(candidates) || len(out) >= e.cfg.MaxEntriesPerTier {
			continue
		}
		c := candidates[idx]
		if selected[c.ID] {
			continue
		}
		c.Tier = 3
		c.Priority = priorityTier3
		out = append(out, c)
		selected[c.ID] = true
	}
	return out
}

// collectCandidates gathers every entity not already selected by an earlier
// tier, excluding never-inject lorebook entries.
func (e *Engine) collectCandidates(world *types.WorldState, selected map[string]bool) []types.RelevantEntry {
	var out []types.RelevantEntry
	for _, c := range world.Characters {
		if !selected[c.ID] {
			out = append(out, entry(types.EntityCharacter, c.ID, c.Name, c.Description, 3, priorityTier3))
		}
	}
	for _, l := range world.Locations {
		if !selected[l.ID] {
			out = append(out, entry(types.EntityLocation, l.ID, l.Name, l.Description, 3, priorityTier3))
		}
	}
	for _, i := range world.Items {
		if !selected[i.ID] {
			out = append(out, entry(types.EntityItem, i.ID, i.Name, i.Description, 3, priorityTier3))
		}
	}
	for _, q := range world.ActiveQuests {
		if !selected[q.ID] {
			out = append(out, entry(types.EntityBeat, q.ID, q.Name, q.Description, 3, priorityTier3))
		}
	}
	for _, lb := range world.LorebookEntries {
		if !selected[lb.ID] && lb.InjectionMode != types.InjectionNever {
			out = append(out, entry(types.EntityLorebook, lb.ID, lb.Name, lb.Content, 3, priorityTier3))
		}
	}
	return out
}
