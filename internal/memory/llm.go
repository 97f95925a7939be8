package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"fabula/internal/types"
)

const analysisSchema = `{
	"type": "object",
	"properties": {
		"shouldCreateChapter": {"type": "boolean"},
		"optimalEndIndex": {"type": "integer", "description": "Number of entries, from the start, that belong to the chapter"},
		"suggestedTitle": {"type": "string"}
	},
	"required": ["shouldCreateChapter", "optimalEndIndex"]
}`

const analysisSystemPrompt = `You analyze an interactive story transcript to find a natural chapter boundary. ` +
	`A good boundary falls after a scene resolves: a conversation ends, the party moves on, a conflict closes. ` +
	`Do not cut mid-scene. If no clean boundary exists yet, say so.`

const summarySchema = `{
	"type": "object",
	"properties": {
		"title": {"type": "string"},
		"summary": {"type": "string"},
		"keywords": {"type": "array", "items": {"type": "string"}},
		"characters": {"type": "array", "items": {"type": "string"}},
		"locations": {"type": "array", "items": {"type": "string"}},
		"plotThreads": {"type": "array", "items": {"type": "string"}},
		"emotionalTone": {"type": "string"}
	},
	"required": ["title", "summary"]
}`

const summarySystemPrompt = `You summarize a chapter of an interactive story. Write a summary that preserves ` +
	`everything a future narrator needs: named characters, locations, items gained or lost, promises made, ` +
	`and open plot threads. Keep continuity with the earlier chapter summaries you are shown.`

// LLMAnalyzer implements Analyzer with a structured model call.
type LLMAnalyzer struct {
	llm types.LLMClient
}

// NewLLMAnalyzer creates an analyzer backed by the given client.
func NewLLMAnalyzer(llm types.LLMClient) *LLMAnalyzer {
	return &LLMAnalyzer{llm: llm}
}

func (a *LLMAnalyzer) Analyze(ctx context.Context, entries []types.StoryEntry) (*AnalysisResult, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Transcript of %d entries:\n\n", len(entries))
	for i, e := range entries {
		fmt.Fprintf(&b, "[%d] %s: %s\n", i+1, e.Role, e.Text)
	}
	b.WriteString("\nIs there a natural chapter boundary? If yes, report how many entries (counted from the start) the chapter should cover.")

	raw, err := a.llm.CompleteWithSchema(ctx, analysisSystemPrompt, b.String(), analysisSchema)
	if err != nil {
		return nil, err
	}

	var result AnalysisResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("unparseable analysis response: %w", err)
	}
	return &result, nil
}

// LLMSummarizer implements Summarizer with a structured model call.
type LLMSummarizer struct {
	llm types.LLMClient
}

// NewLLMSummarizer creates a summarizer backed by the given client.
func NewLLMSummarizer(llm types.LLMClient) *LLMSummarizer {
	return &LLMSummarizer{llm: llm}
}

func (s *LLMSummarizer) Summarize(ctx context.Context, entries []types.StoryEntry, previous []types.Chapter) (*SummaryResult, error) {
	var b strings.Builder

	if len(previous) > 0 {
		b.WriteString("Earlier chapters:\n")
		for _, ch := range previous {
			fmt.Fprintf(&b, "Chapter %d, %q: %s\n", ch.Number, ch.Title, ch.Summary)
		}
		b.WriteString("\n")
	}

	b.WriteString("Entries to summarize:\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%s: %s\n", e.Role, e.Text)
	}

	raw, err := s.llm.CompleteWithSchema(ctx, summarySystemPrompt, b.String(), summarySchema)
	if err != nil {
		return nil, err
	}

	var result SummaryResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("unparseable summary response: %w", err)
	}
	return &result, nil
}
