package agent

import (
	"fmt"
	"strings"

	"fabula/internal/types"
)

// WorkingSet is the loop's private, mutable copy of the world entities the
// agent may inspect and propose changes to. It is built once per run from a
// WorldState snapshot; entities flagged HiddenFromLore are dropped at
// construction and stay invisible for the whole run. Tools mutate the working
// set so later steps see earlier proposals, but the real world state is only
// changed through the approval of the emitted PendingChange records.
type WorkingSet struct {
	StoryID  string
	BranchID string

	Characters []types.Character
	Scenarios  []types.StoryBeat
	Lorebook   []types.LorebookEntry
}

// NewWorkingSet copies the agent-visible entities out of a world snapshot.
func NewWorkingSet(world *types.WorldState) *WorkingSet {
	ws := &WorkingSet{
		StoryID:  world.StoryID,
		BranchID: world.BranchID,
	}
	for _, c := range world.Characters {
		if c.HiddenFromLore {
			continue
		}
		c.Traits = append([]string(nil), c.Traits...)
		ws.Characters = append(ws.Characters, c)
	}
	// Story beats carry no hidden flag; the agent sees all of them.
	ws.Scenarios = append(ws.Scenarios, world.ActiveQuests...)
	for _, e := range world.LorebookEntries {
		if e.HiddenFromLore {
			continue
		}
		e.Keywords = append([]string(nil), e.Keywords...)
		ws.Lorebook = append(ws.Lorebook, e)
	}
	return ws
}

// characterIndex returns the position of a character by stable ID, or -1.
func (ws *WorkingSet) characterIndex(id string) int {
	for i := range ws.Characters {
		if ws.Characters[i].ID == id {
			return i
		}
	}
	return -1
}

// scenarioIndex returns the position of a story beat by stable ID, or -1.
func (ws *WorkingSet) scenarioIndex(id string) int {
	for i := range ws.Scenarios {
		if ws.Scenarios[i].ID == id {
			return i
		}
	}
	return -1
}

// lorebookIndex resolves a lorebook entry by stable ID or, when id is empty,
// by zero-based positional index. Returns -1 when the reference does not
// resolve.
func (ws *WorkingSet) lorebookIndex(id string, index int, hasIndex bool) int {
	if id != "" {
		for i := range ws.Lorebook {
			if ws.Lorebook[i].ID == id {
				return i
			}
		}
		return -1
	}
	if hasIndex && index >= 0 && index < len(ws.Lorebook) {
		return index
	}
	return -1
}

// Overview renders a compact listing of the working set for the agent's
// opening prompt.
func (ws *WorkingSet) Overview() string {
	var b strings.Builder

	b.WriteString("[CHARACTERS]\n")
	if len(ws.Characters) == 0 {
		b.WriteString("(none)\n")
	}
	for _, c := range ws.Characters {
		fmt.Fprintf(&b, "- %s (id=%s, status=%s)\n", c.Name, c.ID, c.Status)
	}

	b.WriteString("\n[SCENARIOS]\n")
	if len(ws.Scenarios) == 0 {
		b.WriteString("(none)\n")
	}
	for _, s := range ws.Scenarios {
		fmt.Fprintf(&b, "- %s (id=%s, status=%s)\n", s.Name, s.ID, s.Status)
	}

	b.WriteString("\n[LOREBOOK]\n")
	if len(ws.Lorebook) == 0 {
		b.WriteString("(none)\n")
	}
	for i, e := range ws.Lorebook {
		fmt.Fprintf(&b, "- [%d] %s (id=%s)\n", i, e.Name, e.ID)
	}

	return b.String()
}
