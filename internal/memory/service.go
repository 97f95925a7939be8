// Package memory implements the chapter service: it decides when accumulated
// story history should be compressed into a chapter summary and produces that
// chapter.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fabula/internal/config"
	"fabula/internal/logging"
	"fabula/internal/store"
	"fabula/internal/tokens"
	"fabula/internal/types"

	"github.com/google/uuid"
)

// AnalysisResult is the analyzer's verdict on the unchaptered entry range.
type AnalysisResult struct {
	ShouldCreateChapter bool   `json:"shouldCreateChapter"`
	OptimalEndIndex     int    `json:"optimalEndIndex"` // Index into the unchaptered slice
	SuggestedTitle      string `json:"suggestedTitle,omitempty"`
}

// Analyzer decides whether a chapter boundary exists in the given entries.
type Analyzer interface {
	Analyze(ctx context.Context, entries []types.StoryEntry) (*AnalysisResult, error)
}

// SummaryResult is the summarizer's output for a chapter slice.
type SummaryResult struct {
	Title         string   `json:"title"`
	Summary       string   `json:"summary"`
	Keywords      []string `json:"keywords,omitempty"`
	Characters    []string `json:"characters,omitempty"`
	Locations     []string `json:"locations,omitempty"`
	PlotThreads   []string `json:"plotThreads,omitempty"`
	EmotionalTone string   `json:"emotionalTone,omitempty"`
}

// Summarizer produces a chapter summary from an entry slice, given all
// previously created chapters for continuity.
type Summarizer interface {
	Summarize(ctx context.Context, entries []types.StoryEntry, previous []types.Chapter) (*SummaryResult, error)
}

// CheckResult reports the outcome of one chapter check cycle.
type CheckResult struct {
	Created                 bool
	Chapter                 *types.Chapter
	LoreManagementTriggered bool
}

// Service runs chapter detection after each generation cycle. Checks for the
// same (story, branch) are serialized so two concurrent cycles cannot both
// read the last chapter boundary and double-create.
type Service struct {
	cfg        config.MemoryConfig
	store      store.Persistence
	counter    tokens.Counter
	analyzer   Analyzer
	summarizer Summarizer

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a chapter service.
func NewService(cfg config.MemoryConfig, st store.Persistence, counter tokens.Counter, analyzer Analyzer, summarizer Summarizer) *Service {
	return &Service{
		cfg:        cfg,
		store:      st,
		counter:    counter,
		analyzer:   analyzer,
		summarizer: summarizer,
		locks:      make(map[string]*sync.Mutex),
	}
}

func (s *Service) lockFor(storyID, branchID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storyID + "\x00" + branchID
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// CheckAndCreateChapter runs one check cycle:
// idle -> checking -> (skip | analyzing -> creating -> done).
// Analysis and summarization failures skip chapter creation for this cycle;
// the next threshold crossing retries naturally.
func (s *Service) CheckAndCreateChapter(ctx context.Context, storyID, branchID string) (*CheckResult, error) {
	lock := s.lockFor(storyID, branchID)
	lock.Lock()
	defer lock.Unlock()

	timer := logging.StartTimer(logging.CategoryMemory, "chapter check")
	defer timer.Stop()

	logging.MemoryDebug("chapter check: story=%s branch=%q state=checking", storyID, branchID)

	entries, err := s.store.GetEntries(storyID, branchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}
	chapters, err := s.store.GetChapters(storyID, branchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chapters: %w", err)
	}

	unchaptered := entriesAfterLastChapter(entries, chapters)

	// The most recent entries stay out of any chapter so the model-visible
	// window is never summarized away.
	outsideBuffer := unchaptered
	if len(outsideBuffer) > s.cfg.ChapterBuffer {
		outsideBuffer = outsideBuffer[:len(outsideBuffer)-s.cfg.ChapterBuffer]
	} else {
		outsideBuffer = nil
	}

	accumulated := s.countTokens(outsideBuffer)
	if accumulated == 0 || accumulated < s.cfg.TokenThreshold {
		// Short-circuit: the analyzer is never invoked below threshold.
		logging.MemoryDebug("chapter check: %d tokens outside buffer < threshold %d, state=skip",
			accumulated, s.cfg.TokenThreshold)
		return &CheckResult{}, nil
	}

	logging.Memory("chapter check: %d tokens outside buffer >= threshold %d, state=analyzing",
		accumulated, s.cfg.TokenThreshold)

	analysis, err := s.analyzer.Analyze(ctx, unchaptered)
	if err != nil {
		logging.MemoryWarn("chapter analysis failed (skipping this cycle): %v", err)
		return &CheckResult{}, nil
	}
	if !analysis.ShouldCreateChapter {
		logging.MemoryDebug("chapter check: analyzer declined, state=skip")
		return &CheckResult{}, nil
	}

	end := analysis.OptimalEndIndex
	if end > len(unchaptered) {
		end = len(unchaptered)
	}
	slice := unchaptered[:max(end, 0)]
	if len(slice) == 0 {
		// The analyzer said "create" but the boundary slice is empty: the
		// analysis and slicing logic disagree about boundaries. Log it
		// distinctly so the inconsistency is observable, and skip.
		logging.MemoryWarn("chapter boundary inconsistency: analyzer requested a chapter but the entry slice is empty (story=%s branch=%q endIndex=%d unchaptered=%d)",
			storyID, branchID, analysis.OptimalEndIndex, len(unchaptered))
		return &CheckResult{}, nil
	}

	logging.Memory("chapter check: state=creating (%d entries)", len(slice))

	chapter, err := s.createChapter(ctx, storyID, branchID, slice, chapters, analysis.SuggestedTitle)
	if err != nil {
		logging.MemoryWarn("chapter creation failed (skipping this cycle): %v", err)
		return &CheckResult{}, nil
	}

	logging.Memory("chapter %d %q created, state=done", chapter.Number, chapter.Title)

	return &CheckResult{
		Created:                 true,
		Chapter:                 chapter,
		LoreManagementTriggered: true,
	}, nil
}

// createChapter summarizes the slice and persists the chapter.
func (s *Service) createChapter(ctx context.Context, storyID, branchID string, slice []types.StoryEntry, previous []types.Chapter, suggestedTitle string) (*types.Chapter, error) {
	// Previous chapters arrive sorted ascending by number from the store;
	// the summarizer relies on that for continuity.
	summary, err := s.summarizer.Summarize(ctx, slice, previous)
	if err != nil {
		return nil, fmt.Errorf("summarization failed: %w", err)
	}

	number, err := s.store.GetNextChapterNumber(storyID, branchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get next chapter number: %w", err)
	}

	title := summary.Title
	if title == "" {
		title = suggestedTitle
	}
	if title == "" {
		title = fmt.Sprintf("Chapter %d", number)
	}

	first, last := slice[0], slice[len(slice)-1]
	chapter := &types.Chapter{
		ID:            uuid.NewString(),
		StoryID:       storyID,
		BranchID:      branchID,
		Number:        number,
		Title:         title,
		StartEntryID:  first.ID,
		EndEntryID:    last.ID,
		EntryCount:    len(slice),
		Summary:       summary.Summary,
		StartTime:     first.Metadata.StoryTime,
		EndTime:       last.Metadata.StoryTime,
		Keywords:      summary.Keywords,
		Characters:    summary.Characters,
		Locations:     summary.Locations,
		PlotThreads:   summary.PlotThreads,
		EmotionalTone: summary.EmotionalTone,
		CreatedAt:     time.Now(),
	}

	if err := s.store.SaveChapter(chapter); err != nil {
		return nil, fmt.Errorf("failed to persist chapter: %w", err)
	}
	return chapter, nil
}

func (s *Service) countTokens(entries []types.StoryEntry) int {
	total := 0
	for _, e := range entries {
		if e.TokenCount > 0 {
			total += e.TokenCount
			continue
		}
		total += s.counter.Count(e.Text)
	}
	return total
}

// entriesAfterLastChapter returns the entries after the last chapter's end
// boundary, in insertion order. With no chapters, all entries are unchaptered.
func entriesAfterLastChapter(entries []types.StoryEntry, chapters []types.Chapter) []types.StoryEntry {
	if len(chapters) == 0 {
		return entries
	}
	lastEnd := chapters[len(chapters)-1].EndEntryID
	for i, e := range entries {
		if e.ID == lastEnd {
			return entries[i+1:]
		}
	}
	// Boundary entry not found (deleted or branch mismatch); treat everything
	// as unchaptered rather than losing history.
	logging.MemoryWarn("last chapter end entry %s not found in entry list", lastEnd)
	return entries
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
