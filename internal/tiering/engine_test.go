package tiering

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"fabula/internal/config"
	"fabula/internal/types"
)

// stubLLM implements types.LLMClient for selector tests.
type stubLLM struct {
	schemaResponse string
	err            error
	calls          int
}

func (s *stubLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return "", errors.New("not used")
}

func (s *stubLLM) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "", errors.New("not used")
}

func (s *stubLLM) CompleteWithSchema(ctx context.Context, systemPrompt, userPrompt, jsonSchema string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.schemaResponse, nil
}

func (s *stubLLM) CompleteWithTools(ctx context.Context, systemPrompt string, messages []types.Message, tools []types.ToolDefinition) (*types.LLMToolResponse, error) {
	return nil, errors.New("not used")
}

func defaultEngine(llm types.LLMClient) *Engine {
	return NewEngine(config.DefaultConfig().Context, llm)
}

func TestScenarioHarborAndMira(t *testing.T) {
	world := &types.WorldState{
		StoryID: "s1",
		Characters: []types.Character{
			{ID: "c1", Name: "Mira", Status: types.CharacterActive},
		},
		Locations: []types.Location{
			{ID: "l1", Name: "Harbor", IsCurrent: true},
		},
	}

	res := defaultEngine(nil).BuildContext(context.Background(), world,
		"I walk to the Harbor and greet Mira", nil, "")

	if len(res.Tier1) != 2 {
		t.Fatalf("tier1 = %d entries, want 2", len(res.Tier1))
	}
	if res.Tier1[0].Name != "Harbor" || res.Tier1[0].Priority != 100 {
		t.Errorf("tier1[0] = %+v, want Harbor priority 100", res.Tier1[0])
	}
	if res.Tier1[1].Name != "Mira" || res.Tier1[1].Priority != 90 {
		t.Errorf("tier1[1] = %+v, want Mira priority 90", res.Tier1[1])
	}
	// Both already captured by Tier 1
	if len(res.Tier2) != 0 {
		t.Errorf("tier2 = %+v, want empty", res.Tier2)
	}
	if !strings.HasPrefix(res.ContextBlock, "[CURRENT LOCATION]\nHarbor") {
		t.Errorf("context block starts with %q", res.ContextBlock[:min(40, len(res.ContextBlock))])
	}
}

func TestTierExclusivity(t *testing.T) {
	world := &types.WorldState{
		Characters: []types.Character{
			{ID: "c1", Name: "Mira", Status: types.CharacterActive},
			{ID: "c2", Name: "Tobias", Status: types.CharacterInactive},
		},
		Locations: []types.Location{
			{ID: "l1", Name: "Harbor", IsCurrent: true},
			{ID: "l2", Name: "Keep"},
		},
	}

	res := defaultEngine(nil).BuildContext(context.Background(), world,
		"Mira and Tobias leave the Harbor for the Keep", nil, "")

	seen := make(map[string]int)
	for _, e := range res.All {
		seen[e.ID]++
	}
	for id, n := range seen {
		if n > 1 {
			t.Errorf("entity %s appears %d times across tiers", id, n)
		}
	}

	// Tier 2 picked up the entities Tier 1 skipped
	gotTier2 := make(map[string]bool)
	for _, e := range res.Tier2 {
		gotTier2[e.Name] = true
	}
	if !gotTier2["Tobias"] || !gotTier2["Keep"] {
		t.Errorf("tier2 = %+v, want Tobias and Keep", res.Tier2)
	}
}

func manyLorebookWorld(n int) *types.WorldState {
	world := &types.WorldState{}
	for i := 0; i < 10; i++ {
		world.LorebookEntries = append(world.LorebookEntries, types.LorebookEntry{
			ID:            fmt.Sprintf("always-%d", i),
			Name:          fmt.Sprintf("Pillar %d", i),
			InjectionMode: types.InjectionAlways,
		})
	}
	for i := 0; i < n; i++ {
		world.LorebookEntries = append(world.LorebookEntries, types.LorebookEntry{
			ID:            fmt.Sprintf("kw-%d", i),
			Name:          fmt.Sprintf("Obscure Fact %d", i),
			InjectionMode: types.InjectionKeyword,
		})
	}
	return world
}

func TestTier3FailureDegradesGracefully(t *testing.T) {
	// 10 always-mode entries land in Tier 1; 35 keyword entries never match
	// the action, so 35 > threshold 30 triggers Tier 3.
	world := manyLorebookWorld(35)
	llm := &stubLLM{err: errors.New("model unavailable")}

	res := defaultEngine(llm).BuildContext(context.Background(), world,
		"I sit quietly by the fire", nil, "")

	if llm.calls != 1 {
		t.Fatalf("llm calls = %d, want 1", llm.calls)
	}
	if len(res.Tier3) != 0 {
		t.Errorf("tier3 = %d entries, want 0 on failure", len(res.Tier3))
	}
	if len(res.All) != 10 {
		t.Errorf("all = %d entries, want 10 (tier1+2 only)", len(res.All))
	}
}

func TestTier3SelectsByIndex(t *testing.T) {
	world := manyLorebookWorld(35)
	llm := &stubLLM{schemaResponse: `{"selected": [0, 2, 99]}`}

	res := defaultEngine(llm).BuildContext(context.Background(), world,
		"I sit quietly by the fire", nil, "")

	// Index 99 is out of range and silently dropped.
	if len(res.Tier3) != 2 {
		t.Fatalf("tier3 = %d entries, want 2", len(res.Tier3))
	}
	for _, e := range res.Tier3 {
		if e.Tier != 3 {
			t.Errorf("entry %s tier = %d, want 3", e.ID, e.Tier)
		}
	}
}

func TestTier3SkippedBelowThreshold(t *testing.T) {
	world := manyLorebookWorld(20) // 20 remaining <= 30
	llm := &stubLLM{schemaResponse: `{"selected": [0]}`}

	defaultEngine(llm).BuildContext(context.Background(), world, "anything", nil, "")

	if llm.calls != 0 {
		t.Errorf("llm calls = %d, want 0 below threshold", llm.calls)
	}
}

func TestRetrievedContextAppendedLast(t *testing.T) {
	world := &types.WorldState{
		Locations: []types.Location{{ID: "l1", Name: "Harbor", IsCurrent: true}},
	}

	res := defaultEngine(nil).BuildContext(context.Background(), world,
		"look around", nil, "[PAST CHAPTERS]\nThe storm broke the fleet.")

	if !strings.HasSuffix(res.ContextBlock, "The storm broke the fleet.") {
		t.Errorf("retrieved context not appended last: %q", res.ContextBlock)
	}
	if !strings.HasPrefix(res.ContextBlock, "[CURRENT LOCATION]") {
		t.Errorf("location not first: %q", res.ContextBlock)
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
