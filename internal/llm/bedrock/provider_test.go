package bedrock

import (
	"encoding/json"
	"testing"

	"github.com/deskpilot/orchestrator/internal/llm"
)

func TestConvertMessages(t *testing.T) {
	tests := []struct {
		name     string
		messages []llm.CompletionMessage
		wantLen  int
		wantErr  bool
	}{
		{
			name: "basic text messages",
			messages: []llm.CompletionMessage{
				{Role: "user", Content: "hello"},
				{Role: "assistant", Content: "hi there"},
			},
			wantLen: 2,
		},
		{
			name: "assistant message with tool call",
			messages: []llm.CompletionMessage{
				{
					Role: "assistant",
					ToolCalls: []llm.ToolCall{
						{ID: "call_1", Name: "lookup", Input: json.RawMessage(`{"query":"weather"}`)},
					},
				},
			},
			wantLen: 1,
		},
		{
			name: "tool result message",
			messages: []llm.CompletionMessage{
				{
					Role: "tool",
					ToolResults: []llm.ToolResult{
						{ToolCallID: "call_1", Content: "sunny", IsError: false},
					},
				},
			},
			wantLen: 1,
		},
		{
			name: "unsupported role",
			messages: []llm.CompletionMessage{
				{Role: "system", Content: "nope"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := convertMessages(tt.messages)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != tt.wantLen {
				t.Fatalf("got %d messages, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestConvertTools(t *testing.T) {
	tools := []llm.Tool{
		{Name: "lookup", Description: "looks things up", Schema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}}}`)},
	}

	cfg := convertTools(tools)
	if len(cfg.Tools) != 1 {
		t.Fatalf("got %d tools, want 1", len(cfg.Tools))
	}
}

func TestConvertTools_InvalidSchemaFallsBackToEmptyObject(t *testing.T) {
	tools := []llm.Tool{
		{Name: "broken", Description: "malformed schema", Schema: json.RawMessage(`not json`)},
	}

	cfg := convertTools(tools)
	if len(cfg.Tools) != 1 {
		t.Fatalf("got %d tools, want 1", len(cfg.Tools))
	}
}

func TestSchemaDocument_NilFallsBackToEmptyObject(t *testing.T) {
	doc := schemaDocument(nil)
	if doc["type"] != "object" {
		t.Fatalf("expected fallback object schema, got %v", doc)
	}
}
