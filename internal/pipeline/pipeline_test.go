package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fabula/internal/config"
	"fabula/internal/store"
	"fabula/internal/types"
)

type stubLLM struct {
	completeText string
	completeErr  error

	// onSchema runs when Tier 3 / lorebook selection is invoked, letting
	// tests cancel mid-retrieval.
	onSchema func()
}

func (s *stubLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return s.CompleteWithSystem(ctx, "", prompt)
}

func (s *stubLLM) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.completeText, s.completeErr
}

func (s *stubLLM) CompleteWithSchema(ctx context.Context, systemPrompt, userPrompt, jsonSchema string) (string, error) {
	if s.onSchema != nil {
		s.onSchema()
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return `{"selected":[]}`, nil
}

func (s *stubLLM) CompleteWithTools(ctx context.Context, systemPrompt string, messages []types.Message, tools []types.ToolDefinition) (*types.LLMToolResponse, error) {
	return &types.LLMToolResponse{Text: "", StopReason: "end_turn"}, nil
}

func newTestPipeline(t *testing.T, llm types.LLMClient) (*Pipeline, store.Persistence) {
	t.Helper()
	st, err := store.NewLocalStore(filepath.Join(t.TempDir(), "pipeline.db"))
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(config.DefaultConfig(), llm, st), st
}

func seedStory(t *testing.T, st store.Persistence) *types.Story {
	t.Helper()
	story := &types.Story{ID: "s1", Title: "Test", UpdatedAt: time.Now()}
	if err := st.SaveStory(story); err != nil {
		t.Fatal(err)
	}
	st.SaveEntry(&types.StoryEntry{ID: "e1", StoryID: "s1", Role: types.RolePlayer, Text: "I enter the harbor", Timestamp: time.Now()})
	st.SaveEntry(&types.StoryEntry{ID: "e2", StoryID: "s1", Role: types.RoleNarrator, Text: "Gulls scatter as you step off the gangway.", Timestamp: time.Now()})
	st.SaveLocation(&types.Location{ID: "l1", StoryID: "s1", Name: "Harbor", IsCurrent: true})
	st.SaveLorebookEntry(&types.LorebookEntry{ID: "lb1", StoryID: "s1", Name: "The Pact", Content: "An old bargain.", InjectionMode: types.InjectionKeyword})
	return story
}

func collectEvents() (*[]types.Event, types.EventSink) {
	events := &[]types.Event{}
	return events, func(e types.Event) { *events = append(*events, e) }
}

func TestRunHappyPath(t *testing.T) {
	llm := &stubLLM{completeText: "The harbormaster waves you over."}
	p, st := newTestPipeline(t, llm)
	story := seedStory(t, st)

	events, sink := collectEvents()
	res, err := p.Run(context.Background(), story, "", "I look for the harbormaster", sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Text != "The harbormaster waves you over." {
		t.Errorf("text = %q", res.Text)
	}
	if res.Aborted {
		t.Error("unexpected abort")
	}
	if res.Backup == nil || len(res.Backup.Entries) != 2 {
		t.Errorf("backup = %+v, want 2 entries", res.Backup)
	}
	if res.Context == nil || !strings.Contains(res.Context.ContextBlock, "Harbor") {
		t.Error("tiered context missing current location")
	}
	if res.CorrelationID == "" {
		t.Error("missing correlation ID")
	}

	var phases []string
	for _, e := range *events {
		phases = append(phases, string(e.Type)+":"+e.Phase)
		if e.CorrelationID != res.CorrelationID {
			t.Errorf("event %v has wrong correlation ID", e)
		}
	}
	want := []string{
		"phase_start:pre", "phase_complete:pre",
		"phase_start:retrieval", "phase_complete:retrieval",
		"phase_start:generation", "phase_complete:generation",
	}
	// No chapters exist, so the retrieval memory task is skipped but the
	// phase still brackets itself with start/complete.
	if strings.Join(phases, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", phases, want)
	}
}

func TestRunCancelledMidRetrieval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	// Lorebook selection fires during retrieval; cancel there.
	llm := &stubLLM{completeText: "never seen", onSchema: cancel}
	p, st := newTestPipeline(t, llm)
	story := seedStory(t, st)

	events, sink := collectEvents()
	res, err := p.Run(ctx, story, "", "I look around", sink)
	if err != nil {
		t.Fatalf("cancellation must not return an error, got %v", err)
	}

	if !res.Aborted {
		t.Fatal("expected aborted result")
	}
	if res.Text != "" || res.Context != nil || res.Retrieval != nil {
		t.Errorf("context fields must be empty on abort: %+v", res)
	}
	if res.Backup == nil {
		t.Error("backup must survive abort so the caller can restore")
	}

	var sawAborted bool
	for _, e := range *events {
		if e.Type == types.EventAborted {
			sawAborted = true
		}
		if e.Type == types.EventPhaseStart && e.Phase == PhaseGeneration {
			t.Error("generation started after abort")
		}
	}
	if !sawAborted {
		t.Error("no aborted event emitted")
	}
}

func TestRunGenerationFailureIsFatal(t *testing.T) {
	llm := &stubLLM{completeErr: errors.New("model exploded")}
	p, st := newTestPipeline(t, llm)
	story := seedStory(t, st)

	res, err := p.Run(context.Background(), story, "", "I look around", nil)
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("err = %v, want ErrGenerationFailed", err)
	}
	if res == nil || res.Backup == nil {
		t.Error("backup must accompany a fatal generation failure for retry")
	}
}

func TestRunCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	llm := &stubLLM{completeText: "never"}
	p, st := newTestPipeline(t, llm)
	story := seedStory(t, st)

	events, sink := collectEvents()
	res, err := p.Run(ctx, story, "", "I look around", sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Aborted || res.Text != "" {
		t.Errorf("res = %+v, want aborted", res)
	}

	// The pre phase gets exactly one terminal event: aborted, not
	// phase_complete followed by aborted.
	var phases []string
	for _, e := range *events {
		phases = append(phases, string(e.Type)+":"+e.Phase)
	}
	want := []string{"phase_start:pre", "aborted:pre"}
	if strings.Join(phases, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", phases, want)
	}
}

func TestBackupIsACopy(t *testing.T) {
	llm := &stubLLM{completeText: "ok"}
	p, st := newTestPipeline(t, llm)
	story := seedStory(t, st)

	res, err := p.Run(context.Background(), story, "", "act", nil)
	if err != nil {
		t.Fatal(err)
	}

	// Mutating the backup must not be visible to later loads.
	res.Backup.Entries[0].Text = "tampered"
	entries, _ := st.GetEntries("s1", "")
	if entries[0].Text == "tampered" {
		t.Error("backup aliases live storage")
	}
	if res.Backup.UserInput != "act" {
		t.Errorf("backup user input = %q", res.Backup.UserInput)
	}
}
