// Package tiering implements the context tiering engine: it classifies world
// entities into three injection tiers and renders a deterministic context
// block for the generation prompt.
//
// Tier 1 always injects scene-critical entities. Tier 2 adds entities whose
// name or keywords appear in recent story text. Tier 3 asks the model to pick
// from whatever remains, and only when the remainder is large enough to be
// worth the call.
package tiering

import (
	"context"
	"strings"

	"fabula/internal/config"
	"fabula/internal/logging"
	"fabula/internal/types"
)

// Fixed Tier 1 priorities so downstream formatting is deterministic.
const (
	priorityLocation  = 100
	priorityCharacter = 90
	priorityQuest     = 80
	priorityItem      = 70
	priorityLorebook  = 60
	priorityTier2     = 50
	priorityTier3     = 40
)

// Result is the output of one BuildContext invocation.
type Result struct {
	Tier1        []types.RelevantEntry
	Tier2        []types.RelevantEntry
	Tier3        []types.RelevantEntry
	All          []types.RelevantEntry
	ContextBlock string
}

// Engine classifies world entities into injection tiers.
type Engine struct {
	cfg config.ContextConfig
	llm types.LLMClient // nil disables Tier 3
}

// NewEngine creates a tiering engine. llm may be nil, which disables
// LLM-based Tier 3 selection.
func NewEngine(cfg config.ContextConfig, llm types.LLMClient) *Engine {
	return &Engine{cfg: cfg, llm: llm}
}

// BuildContext selects context entities from the world snapshot and renders
// the context block. recentEntries are the most recent story entries (oldest
// first); retrievedContext, if non-empty, is appended last to the block.
// Tier 1 and 2 are pure transforms and never fail; a Tier 3 model failure
// degrades to an empty Tier 3.
func (e *Engine) BuildContext(ctx context.Context, world *types.WorldState, userAction string, recentEntries []types.StoryEntry, retrievedContext string) *Result {
	timer := logging.StartTimer(logging.CategoryContext, "BuildContext")
	defer timer.Stop()

	selected := make(map[string]bool)

	tier1 := e.buildTier1(world, selected)
	searchText := e.buildSearchText(userAction, recentEntries)
	tier2 := e.buildTier2(world, searchText, selected)
	tier3 := e.buildTier3(ctx, world, userAction, selected)

	all := make([]types.RelevantEntry, 0, len(tier1)+len(tier2)+len(tier3))
	all = append(all, tier1...)
	all = append(all, tier2...)
	all = append(all, tier3...)

	logging.Context("BuildContext: tier1=%d tier2=%d tier3=%d", len(tier1), len(tier2), len(tier3))

	return &Result{
		Tier1:        tier1,
		Tier2:        tier2,
		Tier3:        tier3,
		All:          all,
		ContextBlock: renderContextBlock(all, retrievedContext),
	}
}

// buildTier1 selects always-inject entities: current location, active
// non-protagonist characters, inventory items, active/pending quests, and
// always-mode lorebook entries. Each category is capped at MaxEntriesPerTier.
func (e *Engine) buildTier1(world *types.WorldState, selected map[string]bool) []types.RelevantEntry {
	var out []types.RelevantEntry
	limit := e.cfg.MaxEntriesPerTier

	if loc := world.CurrentLocation(); loc != nil {
		out = append(out, entry(types.EntityLocation, loc.ID, loc.Name, loc.Description, 1, priorityLocation))
		selected[loc.ID] = true
	}

	n := 0
	for _, c := range world.Characters {
		if c.IsProtagonist || c.Status != types.CharacterActive || n >= limit {
			continue
		}
		out = append(out, entry(types.EntityCharacter, c.ID, c.Name, c.Description, 1, priorityCharacter))
		selected[c.ID] = true
		n++
	}

	n = 0
	for _, q := range world.ActiveQuests {
		if (q.Status != types.BeatActive && q.Status != types.BeatPending) || n >= limit {
			continue
		}
		out = append(out, entry(types.EntityBeat, q.ID, q.Name, q.Description, 1, priorityQuest))
		selected[q.ID] = true
		n++
	}

	n = 0
	for _, i := range world.Items {
		if !i.InInventory || n >= limit {
			continue
		}
		out = append(out, entry(types.EntityItem, i.ID, i.Name, i.Description, 1, priorityItem))
		selected[i.ID] = true
		n++
	}

	n = 0
	for _, l := range world.LorebookEntries {
		if l.InjectionMode != types.InjectionAlways || n >= limit {
			continue
		}
		out = append(out, entry(types.EntityLorebook, l.ID, l.Name, l.Content, 1, priorityLorebook))
		selected[l.ID] = true
		n++
	}

	return out
}

// buildSearchText concatenates the user action and the last N story entries.
func (e *Engine) buildSearchText(userAction string, recentEntries []types.StoryEntry) string {
	var b strings.Builder
	b.WriteString(userAction)
	start := 0
	if len(recentEntries) > e.cfg.RecentEntriesCount {
		start = len(recentEntries) - e.cfg.RecentEntriesCount
	}
	for _, entry := range recentEntries[start:] {
		b.WriteString("\n")
		b.WriteString(entry.Text)
	}
	return b.String()
}

// buildTier2 selects entities whose name or keywords appear in the search
// text. First match wins; nothing already selected is reconsidered.
func (e *Engine) buildTier2(world *types.WorldState, searchText string, selected map[string]bool) []types.RelevantEntry {
	var out []types.RelevantEntry
	limit := e.cfg.MaxEntriesPerTier

	add := func(re types.RelevantEntry) bool {
		if len(out) >= limit {
			return false
		}
		out = append(out, re)
		selected[re.ID] = true
		return true
	}

	for _, c := range world.Characters {
		if selected[c.ID] || !NameMatches(c.Name, searchText) {
			continue
		}
		if !add(entry(types.EntityCharacter, c.ID, c.Name, c.Description, 2, priorityTier2)) {
			return out
		}
	}
	for _, l := range world.Locations {
		if selected[l.ID] || !NameMatches(l.Name, searchText) {
			continue
		}
		if !add(entry(types.EntityLocation, l.ID, l.Name, l.Description, 2, priorityTier2)) {
			return out
		}
	}
	for _, i := range world.Items {
		if selected[i.ID] || !NameMatches(i.Name, searchText) {
			continue
		}
		if !add(entry(types.EntityItem, i.ID, i.Name, i.Description, 2, priorityTier2)) {
			return out
		}
	}
	for _, q := range world.ActiveQuests {
		if selected[q.ID] || !NameMatches(q.Name, searchText) {
			continue
		}
		if !add(entry(types.EntityBeat, q.ID, q.Name, q.Description, 2, priorityTier2)) {
			return out
		}
	}
	for _, lb := range world.LorebookEntries {
		if selected[lb.ID] || lb.InjectionMode == types.InjectionNever {
			continue
		}
		// "keyword" and "relevant" modes are equivalent: both match on
		// name or keywords.
		if !NameMatches(lb.Name, searchText) && !keywordMatches(lb.Keywords, searchText) {
			continue
		}
		if !add(entry(types.EntityLorebook, lb.ID, lb.Name, lb.Content, 2, priorityTier2)) {
			return out
		}
	}

	return out
}

func entry(t types.EntityType, id, name, description string, tier, priority int) types.RelevantEntry {
	return types.RelevantEntry{
		Type:        t,
		ID:          id,
		Name:        name,
		Description: description,
		Tier:        tier,
		Priority:    priority,
	}
}
