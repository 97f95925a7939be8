// Package retrieval gathers supplementary context for generation: chapter
// memory (mechanical timeline fill or agentic chapter querying) and lorebook
// content, fetched concurrently.
package retrieval

import (
	"context"
	"strings"

	"fabula/internal/config"
	"fabula/internal/logging"
	"fabula/internal/types"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of the retrieval phase. On cancellation every context
// field is empty and Aborted is set.
type Result struct {
	ChapterContext  string
	LorebookContext string
	CombinedContext string
	Aborted         bool
}

// Phase orchestrates the retrieval sub-tasks.
type Phase struct {
	cfg config.RetrievalConfig
	llm types.LLMClient
}

// NewPhase creates a retrieval phase.
func NewPhase(cfg config.RetrievalConfig, llm types.LLMClient) *Phase {
	return &Phase{cfg: cfg, llm: llm}
}

// Run executes the retrieval phase. The two sub-tasks (memory retrieval and
// lorebook retrieval) run concurrently, each writing into its own result
// slot; a failure in either is logged and swallowed. Cancellation yields an
// aborted event and an all-empty result, never an error.
func (p *Phase) Run(ctx context.Context, gen *types.GenerationContext, events types.EventSink) *Result {
	events.Emit(types.EventPhaseStart, "retrieval", gen.CorrelationID, "")

	timer := logging.StartTimer(logging.CategoryRetrieval, "retrieval phase")
	defer timer.Stop()

	world := gen.World
	agentic := p.cfg.Enabled && len(world.Chapters) > p.cfg.AgenticChapterThreshold

	var chapterCtx, lorebookCtx string

	// Fan-out: each task writes only its own slot, joined once below.
	g := new(errgroup.Group)

	if p.cfg.Enabled && len(world.Chapters) > 0 {
		g.Go(func() error {
			var err error
			if agentic {
				chapterCtx, err = p.agenticRetrieve(ctx, gen)
			} else {
				chapterCtx = timelineFill(world.Chapters, p.cfg.TimelineChapterCount)
			}
			if err != nil && ctx.Err() == nil {
				logging.RetrievalDebug("memory retrieval failed (non-fatal): %v", err)
				chapterCtx = ""
			}
			return nil
		})
	}

	// Agentic retrieval subsumes lorebook lookup through its own
	// chapter-querying tools.
	if hasLoreContent(world) && !agentic {
		g.Go(func() error {
			var err error
			lorebookCtx, err = p.lorebookRetrieve(ctx, gen)
			if err != nil && ctx.Err() == nil {
				logging.RetrievalDebug("lorebook retrieval failed (non-fatal): %v", err)
				lorebookCtx = ""
			}
			return nil
		})
	}

	g.Wait()

	if ctx.Err() != nil {
		logging.Retrieval("retrieval aborted")
		events.Emit(types.EventAborted, "retrieval", gen.CorrelationID, "")
		return &Result{Aborted: true}
	}

	var parts []string
	if chapterCtx != "" {
		parts = append(parts, chapterCtx)
	}
	if lorebookCtx != "" {
		parts = append(parts, lorebookCtx)
	}
	combined := strings.Join(parts, "\n")

	logging.Retrieval("retrieval complete: chapter=%d lorebook=%d bytes", len(chapterCtx), len(lorebookCtx))
	events.Emit(types.EventPhaseComplete, "retrieval", gen.CorrelationID, "")

	return &Result{
		ChapterContext:  chapterCtx,
		LorebookContext: lorebookCtx,
		CombinedContext: combined,
	}
}

func hasLoreContent(world *types.WorldState) bool {
	for _, e := range world.LorebookEntries {
		if e.InjectionMode != types.InjectionNever && e.Content != "" {
			return true
		}
	}
	return false
}
