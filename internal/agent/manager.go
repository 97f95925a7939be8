package agent

import (
	"context"
	"fmt"
	"strings"

	"fabula/internal/config"
	"fabula/internal/logging"
	"fabula/internal/types"
)

// TerminalTool is the tool the model calls to end a lore-management run.
const TerminalTool = "finish_lore_management"

const loreSystemPrompt = `You are the lore keeper for an interactive story. A new chapter was just archived; review the world model for drift introduced by recent events.

Your job:
- Create entries for significant characters, scenarios or lore that appeared but are not yet recorded.
- Update records that recent events have made stale or wrong.
- Merge obvious duplicates and delete records that no longer belong.

Every mutation you propose is queued for human review, never applied directly, so prefer proposing a change over staying silent. When you are done, call ` + TerminalTool + ` with a short summary of what you changed and why.`

// LoreManager runs one bounded lore-management pass over a story's world
// model after a chapter has been created.
type LoreManager struct {
	cfg  config.AgentConfig
	llm  types.LLMClient
	sink types.PendingChangeSink
}

// NewLoreManager creates a lore manager. The sink receives every proposed
// change as it is produced; pass nil to only collect them on the run result.
func NewLoreManager(cfg config.AgentConfig, llm types.LLMClient, sink types.PendingChangeSink) *LoreManager {
	return &LoreManager{cfg: cfg, llm: llm, sink: sink}
}

// Run executes one lore-management pass. The world snapshot is copied into a
// working set the tools mutate; persistent state is never written. chapter is
// the freshly created chapter that triggered the pass and may be nil for a
// manually requested run.
func (m *LoreManager) Run(ctx context.Context, world *types.WorldState, chapter *types.Chapter) (*RunResult, error) {
	timer := logging.StartTimer(logging.CategoryAgent, "lore management")
	defer timer.Stop()

	ws := NewWorkingSet(world)
	rec := newRecorder(world.StoryID, m.sink)

	registry := NewRegistry()
	registerCharacterTools(registry, ws, rec)
	registerScenarioTools(registry, ws, rec)
	registerLorebookTools(registry, ws, rec)
	registry.MustRegister(&Tool{
		Name:        TerminalTool,
		Description: "Finish the lore review. Call this when no further changes are needed.",
		Schema: ToolSchema{
			Properties: map[string]Property{
				"summary": {Type: "string", Description: "Short summary of the proposed changes"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return toolOK(map[string]any{"summary": argString(args, "summary")}), nil
		},
	})

	stop := StopAny(
		StopOnTool(TerminalTool),
		StopOnBudget(m.cfg.MaxBudget),
	)
	loop := NewLoop(m.llm, registry, m.cfg.MaxIterations, stop)

	logging.Agent("lore management start: story=%s tools=%d", world.StoryID, registry.Count())

	result, err := loop.Run(ctx, loreSystemPrompt, m.openingPrompt(ws, chapter))
	if result != nil {
		result.Changes = append(result.Changes, rec.changes...)
	}
	if err != nil {
		return result, fmt.Errorf("lore management: %w", err)
	}

	logging.Agent("lore management done: steps=%d changes=%d reason=%s",
		len(result.Steps), len(result.Changes), result.StopReason)
	return result, nil
}

func (m *LoreManager) openingPrompt(ws *WorkingSet, chapter *types.Chapter) string {
	var b strings.Builder
	if chapter != nil {
		fmt.Fprintf(&b, "[NEW CHAPTER %d: %s]\n%s\n\n", chapter.Number, chapter.Title, chapter.Summary)
	}
	b.WriteString("[CURRENT WORLD MODEL]\n")
	b.WriteString(ws.Overview())
	b.WriteString("\nReview the world model against the new chapter and propose any needed changes.")
	return b.String()
}
