package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"fabula/internal/logging"
	"fabula/internal/types"

	"google.golang.org/genai"
)

// GeminiClient implements types.LLMClient using the official Gemini SDK.
type GeminiClient struct {
	client          *genai.Client
	model           string
	maxOutputTokens int
}

// NewGeminiClient creates a Gemini client. The context is only used for
// client construction, not for later requests.
func NewGeminiClient(ctx context.Context, cfg ClientConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	cfg = cfg.withDefaults("gemini-2.5-flash", "")

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client:          client,
		model:           cfg.Model,
		maxOutputTokens: cfg.MaxOutputTokens,
	}, nil
}

// Complete sends a prompt and returns the completion.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system instruction.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	timer := logging.StartTimer(logging.CategoryLLM, "gemini completion")
	defer timer.Stop()

	genCfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(c.maxOutputTokens),
	}
	if systemPrompt != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromText(userPrompt, genai.RoleUser)},
		genCfg)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// CompleteWithSchema requests JSON output conforming to the given schema.
func (c *GeminiClient) CompleteWithSchema(ctx context.Context, systemPrompt, userPrompt, jsonSchema string) (string, error) {
	timer := logging.StartTimer(logging.CategoryLLM, "gemini structured completion")
	defer timer.Stop()

	genCfg := &genai.GenerateContentConfig{
		MaxOutputTokens:  int32(c.maxOutputTokens),
		ResponseMIMEType: "application/json",
	}
	if systemPrompt != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	var schema any
	if err := json.Unmarshal([]byte(jsonSchema), &schema); err != nil {
		// Unparseable schema: fall back to embedding it in the prompt
		logging.Get(logging.CategoryLLM).Warn("[Gemini] schema not valid JSON, embedding in prompt: %v", err)
		userPrompt = userPrompt + "\n\nRespond with JSON matching this schema:\n" + jsonSchema
	} else {
		genCfg.ResponseJsonSchema = schema
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromText(userPrompt, genai.RoleUser)},
		genCfg)
	if err != nil {
		return "", fmt.Errorf("gemini structured request failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// CompleteWithTools sends the conversation with tool definitions and returns
// a response that may contain tool calls.
func (c *GeminiClient) CompleteWithTools(ctx context.Context, systemPrompt string, messages []types.Message, tools []types.ToolDefinition) (*types.LLMToolResponse, error) {
	timer := logging.StartTimer(logging.CategoryLLM, "gemini tool completion")
	defer timer.Stop()

	genCfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(c.maxOutputTokens),
	}
	if systemPrompt != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	if len(tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(tools))
		for _, t := range tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.InputSchema,
			})
		}
		genCfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	contents, err := c.buildContents(messages)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, genCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini tool request failed: %w", err)
	}

	result := &types.LLMToolResponse{
		Text:       strings.TrimSpace(resp.Text()),
		StopReason: "end_turn",
	}

	for i, fc := range resp.FunctionCalls() {
		id := fc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		result.ToolCalls = append(result.ToolCalls, types.ToolCall{
			ID:    id,
			Name:  fc.Name,
			Input: fc.Args,
		})
	}
	if len(result.ToolCalls) > 0 {
		result.StopReason = "tool_use"
	}

	if resp.UsageMetadata != nil {
		result.Usage = types.UsageMetadata{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	logging.LLMDebug("[Gemini] tool completion: text_len=%d tool_calls=%d", len(result.Text), len(result.ToolCalls))

	return result, nil
}

// buildContents converts the provider-neutral message history into Gemini
// contents. Tool results need the originating function name, which Gemini
// requires but our Message only carries as a ToolCallID, so call IDs are
// resolved against earlier assistant turns.
func (c *GeminiClient) buildContents(messages []types.Message) ([]*genai.Content, error) {
	callNames := make(map[string]string)
	contents := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case types.MessageRoleUser:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))

		case types.MessageRoleAssistant:
			parts := make([]*genai.Part, 0, 1+len(msg.ToolCalls))
			if msg.Content != "" {
				parts = append(parts, genai.NewPartFromText(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				callNames[tc.ID] = tc.Name
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   tc.ID,
						Name: tc.Name,
						Args: tc.Input,
					},
				})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))

		case types.MessageRoleTool:
			name, ok := callNames[msg.ToolCallID]
			if !ok {
				return nil, fmt.Errorf("tool result references unknown call %q", msg.ToolCallID)
			}
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{{
				FunctionResponse: &genai.FunctionResponse{
					ID:       msg.ToolCallID,
					Name:     name,
					Response: map[string]any{"result": msg.Content},
				},
			}}, genai.RoleUser))

		case types.MessageRoleSystem:
			// System content travels as SystemInstruction, not history.
			continue
		}
	}

	return contents, nil
}
