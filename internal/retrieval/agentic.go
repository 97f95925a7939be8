package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"fabula/internal/logging"
	"fabula/internal/types"
)

const agenticSystemPrompt = `You retrieve long-term story memory for a narrator. You are shown the current ` +
	`player action and have tools to inspect past chapters. Ask targeted questions of specific chapters to ` +
	`recover facts the narrator needs right now (names, promises, unresolved threads, past visits to this ` +
	`place or person). When you have what you need, call finish_retrieval with a compact context block. ` +
	`Retrieve only what is relevant; do not summarize the whole story.`

// agenticRetrieve runs a small bounded tool loop that lets the model query
// specific chapters instead of mechanically injecting the most recent ones.
// Returns the model-assembled context block.
func (p *Phase) agenticRetrieve(ctx context.Context, gen *types.GenerationContext) (string, error) {
	chapters := gen.World.Chapters

	tools := []types.ToolDefinition{
		{
			Name:        "list_chapters",
			Description: "List all chapters with number, title, time range, and keywords.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		},
		{
			Name:        "query_chapter",
			Description: "Read one chapter's full summary and metadata by chapter number.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"number":   map[string]any{"type": "integer"},
					"question": map[string]any{"type": "string", "description": "What you want to know from this chapter"},
				},
				"required": []string{"number"},
			},
		},
		{
			Name:        "finish_retrieval",
			Description: "Finish retrieval and return the assembled context block.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"context": map[string]any{"type": "string", "description": "Compact context block for the narrator"},
				},
				"required": []string{"context"},
			},
		},
	}

	messages := []types.Message{{
		Role:    types.MessageRoleUser,
		Content: fmt.Sprintf("Current player action:\n%s\n\nThe story has %d chapters. Retrieve the memory the narrator needs.", gen.UserAction, len(chapters)),
	}}

	maxQueries := p.cfg.MaxAgenticQueries
	if maxQueries <= 0 {
		maxQueries = 6
	}

	for i := 0; i < maxQueries; i++ {
		resp, err := p.llm.CompleteWithTools(ctx, agenticSystemPrompt, messages, tools)
		if err != nil {
			return "", err
		}

		if !resp.HasToolCalls() {
			// Model answered in plain text; use it as the context block.
			return strings.TrimSpace(resp.Text), nil
		}

		messages = append(messages, types.Message{
			Role:      types.MessageRoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
			Reasoning: resp.Reasoning,
		})

		for _, call := range resp.ToolCalls {
			if call.Name == "finish_retrieval" {
				if block, ok := call.Input["context"].(string); ok {
					logging.RetrievalDebug("agentic retrieval finished after %d steps", i+1)
					return strings.TrimSpace(block), nil
				}
				return "", nil
			}
			result := p.execChapterTool(call, chapters)
			messages = append(messages, types.Message{
				Role:       types.MessageRoleTool,
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}

	logging.RetrievalDebug("agentic retrieval hit query budget %d without finishing", maxQueries)
	return "", nil
}

// execChapterTool executes one read-only chapter tool. Errors come back as
// structured payloads so the model can correct itself.
func (p *Phase) execChapterTool(call types.ToolCall, chapters []types.Chapter) string {
	switch call.Name {
	case "list_chapters":
		type row struct {
			Number   int      `json:"number"`
			Title    string   `json:"title"`
			Start    string   `json:"start,omitempty"`
			End      string   `json:"end,omitempty"`
			Keywords []string `json:"keywords,omitempty"`
		}
		rows := make([]row, 0, len(chapters))
		for _, ch := range chapters {
			rows = append(rows, row{ch.Number, ch.Title, ch.StartTime, ch.EndTime, ch.Keywords})
		}
		return mustJSON(map[string]any{"chapters": rows})

	case "query_chapter":
		number, ok := asInt(call.Input["number"])
		if !ok {
			return mustJSON(map[string]any{"error": "missing or invalid 'number' argument"})
		}
		for _, ch := range chapters {
			if ch.Number == number {
				return mustJSON(map[string]any{
					"number":        ch.Number,
					"title":         ch.Title,
					"summary":       ch.Summary,
					"characters":    ch.Characters,
					"locations":     ch.Locations,
					"plotThreads":   ch.PlotThreads,
					"emotionalTone": ch.EmotionalTone,
				})
			}
		}
		return mustJSON(map[string]any{"error": fmt.Sprintf("no chapter with number %d", number)})

	default:
		return mustJSON(map[string]any{"error": fmt.Sprintf("unknown tool %q", call.Name)})
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return `{"error":"internal encoding failure"}`
	}
	return string(data)
}
