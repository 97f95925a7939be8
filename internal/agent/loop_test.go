package agent

import (
	"context"
	"errors"
	"testing"

	"fabula/internal/config"
	"fabula/internal/types"
)

type stubLLM struct {
	responses []*types.LLMToolResponse
	err       error
	calls     int
}

func (s *stubLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return "", errors.New("not used")
}

func (s *stubLLM) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "", errors.New("not used")
}

func (s *stubLLM) CompleteWithSchema(ctx context.Context, systemPrompt, userPrompt, jsonSchema string) (string, error) {
	return "", errors.New("not used")
}

func (s *stubLLM) CompleteWithTools(ctx context.Context, systemPrompt string, messages []types.Message, tools []types.ToolDefinition) (*types.LLMToolResponse, error) {
	n := s.calls
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if n < len(s.responses) {
		return s.responses[n], nil
	}
	// Out of script: keep requesting the same harmless tool forever.
	return &types.LLMToolResponse{
		ToolCalls:  []types.ToolCall{{ID: "loop", Name: "list_characters", Input: map[string]any{}}},
		StopReason: "tool_use",
	}, nil
}

func testWorld() *types.WorldState {
	return &types.WorldState{
		StoryID: "s1",
		Characters: []types.Character{
			{ID: "c1", StoryID: "s1", Name: "Mira", Status: types.CharacterActive},
			{ID: "c-hidden", StoryID: "s1", Name: "The Stranger", Status: types.CharacterActive, HiddenFromLore: true},
		},
		ActiveQuests: []types.StoryBeat{
			{ID: "b1", StoryID: "s1", Name: "The Pact", Status: types.BeatActive},
		},
		LorebookEntries: []types.LorebookEntry{
			{ID: "lb1", StoryID: "s1", Name: "Harbor Law", Content: "No blades past the gate."},
		},
	}
}

func agentCfg(maxIterations int) config.AgentConfig {
	cfg := config.DefaultConfig().Agent
	cfg.MaxIterations = maxIterations
	return cfg
}

func toolCallResponse(id, name string, input map[string]any) *types.LLMToolResponse {
	if input == nil {
		input = map[string]any{}
	}
	return &types.LLMToolResponse{
		ToolCalls:  []types.ToolCall{{ID: id, Name: name, Input: input}},
		StopReason: "tool_use",
	}
}

func TestRunHaltsOnTerminalTool(t *testing.T) {
	llm := &stubLLM{responses: []*types.LLMToolResponse{
		toolCallResponse("call_0", "create_entry", map[string]any{
			"name": "The Pact", "content": "An old bargain binds the harbor.",
		}),
		toolCallResponse("call_1", TerminalTool, map[string]any{"summary": "added pact lore"}),
	}}

	var sunk []types.PendingChange
	mgr := NewLoreManager(agentCfg(12), llm, func(c types.PendingChange) { sunk = append(sunk, c) })

	res, err := mgr.Run(context.Background(), testWorld(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Steps) != 2 {
		t.Fatalf("steps = %d, want 2 (halt on terminal tool, not iteration bound)", len(res.Steps))
	}
	if res.StopReason != StopReasonCondition {
		t.Errorf("stop reason = %q", res.StopReason)
	}
	if len(res.Changes) != 1 {
		t.Fatalf("changes = %d, want exactly 1", len(res.Changes))
	}

	change := res.Changes[0]
	if change.Action != types.ActionCreate || change.EntityType != types.EntityLorebook {
		t.Errorf("change = %+v", change)
	}
	if change.Status != types.StatusPending {
		t.Errorf("status = %q, want pending", change.Status)
	}
	if change.ToolCallID != "call_0" {
		t.Errorf("tool call ID = %q, want call_0", change.ToolCallID)
	}
	if len(sunk) != 1 || sunk[0].ID != change.ID {
		t.Errorf("sink saw %+v", sunk)
	}
}

func TestRunBoundedWhenModelNeverFinishes(t *testing.T) {
	llm := &stubLLM{} // Always requests another tool call
	mgr := NewLoreManager(agentCfg(4), llm, nil)

	res, err := mgr.Run(context.Background(), testWorld(), nil)
	if err != nil {
		t.Fatalf("bound exhaustion must not be an error, got %v", err)
	}
	if len(res.Steps) != 4 {
		t.Errorf("steps = %d, want 4", len(res.Steps))
	}
	if res.StopReason != StopReasonMaxIterations {
		t.Errorf("stop reason = %q", res.StopReason)
	}
}

func TestRunEndsOnPlainText(t *testing.T) {
	llm := &stubLLM{responses: []*types.LLMToolResponse{
		{Text: "Everything is already consistent.", StopReason: "end_turn"},
	}}
	mgr := NewLoreManager(agentCfg(12), llm, nil)

	res, err := mgr.Run(context.Background(), testWorld(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.StopReason != StopReasonNoToolCalls {
		t.Errorf("stop reason = %q", res.StopReason)
	}
	if res.FinalText != "Everything is already consistent." {
		t.Errorf("final text = %q", res.FinalText)
	}
	if len(res.Changes) != 0 {
		t.Errorf("changes = %d, want 0", len(res.Changes))
	}
}

func TestRunNeverWritesThroughTheSnapshot(t *testing.T) {
	llm := &stubLLM{responses: []*types.LLMToolResponse{
		toolCallResponse("call_0", "create_character", map[string]any{
			"name": "Sable", "description": "A smuggler",
		}),
		toolCallResponse("call_1", "delete_entry", map[string]any{"id": "lb1"}),
		toolCallResponse("call_2", TerminalTool, nil),
	}}
	world := testWorld()
	mgr := NewLoreManager(agentCfg(12), llm, nil)

	res, err := mgr.Run(context.Background(), world, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Changes) != 2 {
		t.Fatalf("changes = %d, want 2", len(res.Changes))
	}

	// Mutations stay in the working set; the snapshot is untouched.
	if len(world.Characters) != 2 {
		t.Errorf("snapshot characters = %d, want 2", len(world.Characters))
	}
	if len(world.LorebookEntries) != 1 {
		t.Errorf("snapshot lorebook = %d, want 1", len(world.LorebookEntries))
	}
}

func TestRunHiddenEntitiesInvisible(t *testing.T) {
	llm := &stubLLM{responses: []*types.LLMToolResponse{
		toolCallResponse("call_0", "update_character", map[string]any{
			"id": "c-hidden", "description": "exposed",
		}),
		toolCallResponse("call_1", TerminalTool, nil),
	}}
	mgr := NewLoreManager(agentCfg(12), llm, nil)

	res, err := mgr.Run(context.Background(), testWorld(), nil)
	if err != nil {
		t.Fatal(err)
	}
	// The hidden character resolves to "not found": no change recorded.
	if len(res.Changes) != 0 {
		t.Errorf("changes = %d, want 0 for a hidden target", len(res.Changes))
	}
}

func TestRunMergeScenariosProposesOneChange(t *testing.T) {
	llm := &stubLLM{responses: []*types.LLMToolResponse{
		toolCallResponse("call_0", "merge_scenarios", map[string]any{
			"keep_id": "b1", "merge_id": "b2",
		}),
		toolCallResponse("call_1", TerminalTool, nil),
	}}
	world := testWorld()
	world.ActiveQuests = append(world.ActiveQuests, types.StoryBeat{
		ID: "b2", StoryID: "s1", Name: "The Pact, Restated",
		Description: "Duplicate thread.", Status: types.BeatActive,
	})
	mgr := NewLoreManager(agentCfg(12), llm, nil)

	res, err := mgr.Run(context.Background(), world, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Changes) != 1 {
		t.Fatalf("changes = %d, want 1", len(res.Changes))
	}
	change := res.Changes[0]
	if change.Action != types.ActionMerge || change.EntityType != types.EntityBeat {
		t.Errorf("change = %+v", change)
	}
	if change.EntityID != "b1" || change.Data["mergedFrom"] != "b2" {
		t.Errorf("merge recorded against %q with data %v", change.EntityID, change.Data)
	}
	// The snapshot keeps both beats; the merge lives in the proposal.
	if len(world.ActiveQuests) != 2 {
		t.Errorf("snapshot quests = %d, want 2", len(world.ActiveQuests))
	}
}

func TestRunLLMFailureIsAnError(t *testing.T) {
	llm := &stubLLM{err: errors.New("model down")}
	mgr := NewLoreManager(agentCfg(12), llm, nil)

	if _, err := mgr.Run(context.Background(), testWorld(), nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestStopConditions(t *testing.T) {
	withCalls := Step{ToolCalls: []types.ToolCall{{Name: "update_entry"}}}
	noCalls := Step{}

	if !StopOnTool("update_entry")(withCalls) {
		t.Error("StopOnTool missed its tool")
	}
	if StopOnTool("delete_entry")(withCalls) {
		t.Error("StopOnTool fired on the wrong tool")
	}
	if !StopOnAnyTool("a", "update_entry")(withCalls) {
		t.Error("StopOnAnyTool missed")
	}
	if !StopOnNoToolCalls()(noCalls) || StopOnNoToolCalls()(withCalls) {
		t.Error("StopOnNoToolCalls wrong")
	}
	if !StopOnBudget(1.0)(Step{CumulativeCost: 1.5}) {
		t.Error("StopOnBudget missed an exceeded budget")
	}
	if StopOnBudget(0)(Step{CumulativeCost: 99}) {
		t.Error("zero budget must never stop")
	}
	if !StopAny(StopOnTool("x"), StopOnNoToolCalls())(noCalls) {
		t.Error("StopAny missed")
	}
	if StopAny()(withCalls) {
		t.Error("empty StopAny fired")
	}
}

func TestLoopBudgetStop(t *testing.T) {
	llm := &stubLLM{responses: []*types.LLMToolResponse{
		{
			ToolCalls: []types.ToolCall{{ID: "c0", Name: "noop", Input: map[string]any{}}},
			Usage:     types.UsageMetadata{TotalTokens: 1000},
		},
		{
			ToolCalls: []types.ToolCall{{ID: "c1", Name: "noop", Input: map[string]any{}}},
			Usage:     types.UsageMetadata{TotalTokens: 1000},
		},
	}}

	registry := NewRegistry()
	registry.MustRegister(&Tool{
		Name: "noop",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return toolOK(nil), nil
		},
	})

	loop := NewLoop(llm, registry, 10, StopOnBudget(0.015))
	loop.Cost = func(u types.UsageMetadata) float64 { return float64(u.TotalTokens) / 100000 } // 0.01 per call

	res, err := loop.Run(context.Background(), "sys", "go")
	if err != nil {
		t.Fatal(err)
	}
	if res.StopReason != StopReasonCondition {
		t.Errorf("stop reason = %q", res.StopReason)
	}
	if len(res.Steps) != 2 {
		t.Errorf("steps = %d, want 2 (budget trips on the second call)", len(res.Steps))
	}
}

func TestLoopCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loop := NewLoop(&stubLLM{}, NewRegistry(), 5, nil)
	if _, err := loop.Run(ctx, "sys", "go"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
