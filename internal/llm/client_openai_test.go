package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fabula/internal/config"
	"fabula/internal/types"
)

func testClient(url string) *OpenAIClient {
	return NewOpenAIClient(ClientConfig{
		APIKey:  "test-key",
		Model:   "test-model",
		BaseURL: url,
		Timeout: 5 * time.Second,
	})
}

func TestOpenAIComplete(t *testing.T) {
	var gotReq chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatal(err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "  hello there  "}},
			},
		})
	}))
	defer server.Close()

	c := testClient(server.URL)
	got, err := c.CompleteWithSystem(context.Background(), "be brief", "say hello")
	if err != nil {
		t.Fatalf("CompleteWithSystem: %v", err)
	}
	if got != "hello there" {
		t.Errorf("got %q, want trimmed %q", got, "hello there")
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
		t.Errorf("expected system+user messages, got %+v", gotReq.Messages)
	}
}

func TestOpenAICompleteWithTools(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if len(req.Tools) != 1 || req.Tools[0].Function.Name != "update_character" {
			t.Errorf("tools not forwarded: %+v", req.Tools)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"role":    "assistant",
					"content": "",
					"tool_calls": []map[string]any{{
						"id":   "call_1",
						"type": "function",
						"function": map[string]any{
							"name":      "update_character",
							"arguments": `{"name":"Mira","status":"active"}`,
						},
					}},
				},
				"finish_reason": "tool_calls",
			}},
		})
	}))
	defer server.Close()

	c := testClient(server.URL)
	resp, err := c.CompleteWithTools(context.Background(), "manage lore",
		[]types.Message{{Role: types.MessageRoleUser, Content: "update Mira"}},
		[]types.ToolDefinition{{Name: "update_character", InputSchema: map[string]any{"type": "object"}}})
	if err != nil {
		t.Fatalf("CompleteWithTools: %v", err)
	}
	if !resp.HasToolCalls() {
		t.Fatal("expected tool calls")
	}
	tc := resp.ToolCalls[0]
	if tc.Name != "update_character" || tc.Input["name"] != "Mira" {
		t.Errorf("tool call not decoded: %+v", tc)
	}
}

func TestOpenAIRetriesOn429(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "ok"}},
			},
		})
	}))
	defer server.Close()

	c := testClient(server.URL)
	got, err := c.Complete(context.Background(), "retry please")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "ok" || attempts != 2 {
		t.Errorf("got %q after %d attempts, want ok after 2", got, attempts)
	}
}

func TestOpenAINoAPIKey(t *testing.T) {
	c := NewOpenAIClient(ClientConfig{Model: "m"})
	_, err := c.Complete(context.Background(), "hi")
	if !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("err = %v, want ErrNoAPIKey", err)
	}
}

func TestFactoryUnknownProvider(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LLM.Provider = "carrier-pigeon"
	_, err := NewClient(context.Background(), cfg)
	if !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("err = %v, want ErrUnknownProvider", err)
	}
}
