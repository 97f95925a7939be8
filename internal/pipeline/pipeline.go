// Package pipeline sequences one generation cycle: pre-generation snapshot,
// concurrent retrieval, model invocation. The pipeline is cancellable at
// every suspension point and emits typed progress events; only a failure of
// the generation call itself is fatal.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fabula/internal/config"
	"fabula/internal/logging"
	"fabula/internal/retrieval"
	"fabula/internal/store"
	"fabula/internal/tiering"
	"fabula/internal/types"

	"github.com/google/uuid"
)

// Phase names used in progress events.
const (
	PhasePre        = "pre"
	PhaseRetrieval  = "retrieval"
	PhaseGeneration = "generation"
)

// ErrGenerationFailed wraps a failure of the core text-generation call, the
// only failure class a pipeline run surfaces as an error.
var ErrGenerationFailed = errors.New("pipeline: generation failed")

// Result is the outcome of one pipeline run. On abort, Text and the context
// fields are empty and Aborted is set; Backup is always populated once the
// pre phase has run, so callers can restore and retry.
type Result struct {
	Text          string
	Backup        *types.RetryBackupData
	Context       *tiering.Result
	Retrieval     *retrieval.Result
	CorrelationID string
	Aborted       bool
}

// Pipeline runs generation cycles.
type Pipeline struct {
	cfg       *config.Config
	llm       types.LLMClient
	store     store.Persistence
	tiering   *tiering.Engine
	retrieval *retrieval.Phase
}

// New creates a generation pipeline.
func New(cfg *config.Config, llm types.LLMClient, st store.Persistence) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		llm:       llm,
		store:     st,
		tiering:   tiering.NewEngine(cfg.Context, llm),
		retrieval: retrieval.NewPhase(cfg.Retrieval, llm),
	}
}

// Run executes one generation cycle for a user action. Phases run in fixed
// order: pre, retrieval, generation. Cancellation at any point yields an
// aborted result and a nil error; a generation failure is the only error
// returned.
func (p *Pipeline) Run(ctx context.Context, story *types.Story, branchID, userAction string, events types.EventSink) (*Result, error) {
	correlationID := uuid.NewString()
	timer := logging.StartTimer(logging.CategoryPipeline, "generation cycle")
	defer timer.Stop()

	logging.Pipeline("cycle %s: story=%s action_len=%d", correlationID, story.ID, len(userAction))

	// Pre-generation: snapshot state and assemble the unit of work.
	events.Emit(types.EventPhaseStart, PhasePre, correlationID, "")

	entries, err := p.store.GetEntries(story.ID, branchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}
	world, err := p.store.LoadWorldState(story.ID, branchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load world state: %w", err)
	}

	backup := buildRetryBackup(entries, world, userAction)
	gen := &types.GenerationContext{
		Story:          story,
		World:          world,
		VisibleEntries: visibleWindow(entries, world.Chapters),
		UserAction:     userAction,
		CorrelationID:  correlationID,
	}

	// One terminal event per phase: aborted replaces phase_complete here.
	if ctx.Err() != nil {
		events.Emit(types.EventAborted, PhasePre, correlationID, "")
		return &Result{Backup: backup, CorrelationID: correlationID, Aborted: true}, nil
	}
	events.Emit(types.EventPhaseComplete, PhasePre, correlationID, "")

	// Retrieval: concurrent memory and lorebook context. Emits its own
	// events and swallows its own failures.
	retr := p.retrieval.Run(ctx, gen, events)
	if retr.Aborted {
		return &Result{Backup: backup, CorrelationID: correlationID, Aborted: true}, nil
	}

	// Generation.
	events.Emit(types.EventPhaseStart, PhaseGeneration, correlationID, "")

	tiered := p.tiering.BuildContext(ctx, world, userAction, gen.VisibleEntries, retr.CombinedContext)

	text, err := p.generate(ctx, gen, tiered.ContextBlock)
	if ctx.Err() != nil {
		// Partial output is discarded on abort.
		events.Emit(types.EventAborted, PhaseGeneration, correlationID, "")
		return &Result{Backup: backup, CorrelationID: correlationID, Aborted: true}, nil
	}
	if err != nil {
		// The only pipeline-fatal failure: no narrative was produced.
		logging.Get(logging.CategoryPipeline).Error("generation failed: %v", err)
		return &Result{Backup: backup, CorrelationID: correlationID},
			fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	events.Emit(types.EventPhaseComplete, PhaseGeneration, correlationID, "")
	logging.Pipeline("cycle %s complete: %d chars", correlationID, len(text))

	return &Result{
		Text:          text,
		Backup:        backup,
		Context:       tiered,
		Retrieval:     retr,
		CorrelationID: correlationID,
	}, nil
}

// generate invokes the model with the tiered context block and the recent
// story window.
func (p *Pipeline) generate(ctx context.Context, gen *types.GenerationContext, contextBlock string) (string, error) {
	var prompt strings.Builder

	if contextBlock != "" {
		prompt.WriteString(contextBlock)
		prompt.WriteString("\n\n")
	}

	if len(gen.VisibleEntries) > 0 {
		prompt.WriteString("[RECENT STORY]\n")
		for _, e := range gen.VisibleEntries {
			fmt.Fprintf(&prompt, "%s: %s\n", e.Role, e.Text)
		}
		prompt.WriteString("\n")
	}

	prompt.WriteString("[PLAYER ACTION]\n")
	prompt.WriteString(gen.UserAction)

	return p.llm.CompleteWithSystem(ctx, narratorSystemPrompt(gen.Story), prompt.String())
}

func narratorSystemPrompt(story *types.Story) string {
	var b strings.Builder
	b.WriteString("You are the narrator of an interactive ")
	if story.Genre != "" {
		b.WriteString(story.Genre)
		b.WriteString(" ")
	}
	b.WriteString("story. Continue the narrative from the player's action. ")
	b.WriteString("Stay consistent with the provided world context and past chapters. ")
	b.WriteString("Never speak for the player or decide their actions.")
	if story.Settings.VisualProse {
		b.WriteString(" Favor vivid, sensory description of scenes and characters.")
	}
	return b.String()
}

// visibleWindow returns the entries after the last chapter boundary: the part
// of the story the model sees verbatim rather than as a summary.
func visibleWindow(entries []types.StoryEntry, chapters []types.Chapter) []types.StoryEntry {
	if len(chapters) == 0 {
		return entries
	}
	lastEnd := chapters[len(chapters)-1].EndEntryID
	for i, e := range entries {
		if e.ID == lastEnd {
			return entries[i+1:]
		}
	}
	return entries
}
