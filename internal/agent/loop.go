package agent

import (
	"context"
	"fmt"

	"fabula/internal/logging"
	"fabula/internal/types"
)

// Reasons a loop run ended.
const (
	StopReasonCondition     = "stop_condition"
	StopReasonNoToolCalls   = "no_tool_calls"
	StopReasonMaxIterations = "max_iterations"
)

// Step records one loop iteration: the model response, the tool calls it
// requested, and their results in call order.
type Step struct {
	Index            int
	Response         *types.LLMToolResponse
	ToolCalls        []types.ToolCall
	ToolResults      []string
	CumulativeTokens int
	CumulativeCost   float64
}

// RunResult is the outcome of one agent run.
type RunResult struct {
	Steps      []Step
	FinalText  string
	StopReason string
	// Changes holds every PendingChange emitted during the run, in the order
	// the mutation tools produced them.
	Changes []types.PendingChange
}

// Loop drives a bounded, strictly sequential tool-calling conversation. Each
// iteration sends the full accumulated message history; tool calls execute in
// order and their results join the history as tool messages before the next
// model call.
type Loop struct {
	llm           types.LLMClient
	registry      *Registry
	maxIterations int
	stop          StopCondition

	// Cost converts per-call token usage into a cost figure for
	// StopOnBudget. Nil means cost is always zero and budgets never trip.
	Cost func(types.UsageMetadata) float64
}

// NewLoop creates a loop. maxIterations is a hard bound; reaching it is a
// soft stop, not an error. stop may be nil.
func NewLoop(llm types.LLMClient, registry *Registry, maxIterations int, stop StopCondition) *Loop {
	if maxIterations <= 0 {
		maxIterations = 1
	}
	return &Loop{llm: llm, registry: registry, maxIterations: maxIterations, stop: stop}
}

// Run executes the loop until the model stops requesting tools, a stop
// condition fires, or the iteration bound is reached. The returned error is
// reserved for infrastructure failures (model call failed, context
// cancelled); domain-level tool failures stay inside the conversation.
func (l *Loop) Run(ctx context.Context, systemPrompt, userPrompt string) (*RunResult, error) {
	messages := []types.Message{{Role: types.MessageRoleUser, Content: userPrompt}}
	result := &RunResult{}
	totalTokens := 0
	totalCost := 0.0

	for i := 0; i < l.maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		resp, err := l.llm.CompleteWithTools(ctx, systemPrompt, messages, l.registry.Definitions())
		if err != nil {
			return result, fmt.Errorf("agent step %d: %w", i+1, err)
		}
		totalTokens += resp.Usage.TotalTokens
		if l.Cost != nil {
			totalCost += l.Cost(resp.Usage)
		}

		messages = append(messages, types.Message{
			Role:      types.MessageRoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
			Reasoning: resp.Reasoning,
		})

		step := Step{
			Index:            i,
			Response:         resp,
			ToolCalls:        resp.ToolCalls,
			CumulativeTokens: totalTokens,
			CumulativeCost:   totalCost,
		}

		if !resp.HasToolCalls() {
			result.Steps = append(result.Steps, step)
			result.FinalText = resp.Text
			result.StopReason = StopReasonNoToolCalls
			logging.AgentDebug("loop ended after %d steps: no tool calls", i+1)
			return result, nil
		}

		for _, call := range resp.ToolCalls {
			out := l.registry.Execute(withCallID(ctx, call.ID), call.Name, call.Input)
			step.ToolResults = append(step.ToolResults, out)
			messages = append(messages, types.Message{
				Role:       types.MessageRoleTool,
				Content:    out,
				ToolCallID: call.ID,
			})
		}

		result.Steps = append(result.Steps, step)

		if l.stop != nil && l.stop(step) {
			result.FinalText = resp.Text
			result.StopReason = StopReasonCondition
			logging.AgentDebug("loop ended after %d steps: stop condition", i+1)
			return result, nil
		}
	}

	result.StopReason = StopReasonMaxIterations
	logging.Agent("loop reached iteration bound (%d), stopping", l.maxIterations)
	return result, nil
}
