package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"ENS-Agent-Chain/internal/llm"
)

// loopingExecutor 记录调用次数并返回固定结果，驱动模型持续请求工具。
type loopingExecutor struct {
	calls     int
	directive *llm.ClientToolCall
}

func (e *loopingExecutor) Definitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{{Name: "ens_check", Description: "check availability"}}
}

func (e *loopingExecutor) ExecuteTool(context.Context, string, map[string]any) (string, *llm.ClientToolCall, error) {
	e.calls++
	return `{"ok": true}`, e.directive, nil
}

func newStubAPI(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func runStream(t *testing.T, client *Client) []llm.StreamEvent {
	t.Helper()
	stream, err := client.Run(context.Background(), llm.Request{
		Items: []llm.InputItem{{Role: "user", Content: "is coolname.eth free?"}},
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	var events []llm.StreamEvent
	for evt := range stream {
		events = append(events, evt)
	}
	return events
}

func toolCallResponse(name string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{{
			"message": map[string]any{
				"role": "assistant",
				"tool_calls": []map[string]any{{
					"id":   "call-1",
					"type": "function",
					"function": map[string]any{
						"name":      name,
						"arguments": `{"name": "coolname"}`,
					},
				}},
			},
		}},
	}
}

func TestRunLoopReportsExhaustedToolRounds(t *testing.T) {
	// 模型永远要求再调一次工具，推理循环必须在轮次耗尽后报错收尾。
	api := newStubAPI(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(toolCallResponse("ens_check"))
	})

	executor := &loopingExecutor{}
	client, err := NewClient(Config{APIKey: "test-key", BaseURL: api.URL}, executor)
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}

	events := runStream(t, client)
	if len(events) == 0 {
		t.Fatal("expected events from an exhausted run")
	}
	last := events[len(events)-1]
	if last.Kind != llm.EventError || last.Err == nil {
		t.Fatalf("exhausted rounds must end with an error event, got %+v", last)
	}
	for _, evt := range events {
		if evt.Kind == llm.EventMessage {
			t.Fatalf("no final message expected, got %q", evt.Message)
		}
	}
	if executor.calls != maxToolRounds {
		t.Fatalf("expected %d tool executions, got %d", maxToolRounds, executor.calls)
	}
}

func TestRunLoopFinishesWithMessage(t *testing.T) {
	var requests int
	api := newStubAPI(t, func(w http.ResponseWriter, _ *http.Request) {
		requests++
		if requests == 1 {
			_ = json.NewEncoder(w).Encode(toolCallResponse("ens_check"))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"role":    "assistant",
					"content": "coolname.eth is available",
				},
			}},
		})
	})

	client, err := NewClient(Config{APIKey: "test-key", BaseURL: api.URL}, &loopingExecutor{})
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}

	events := runStream(t, client)
	var message string
	for _, evt := range events {
		if evt.Kind == llm.EventError {
			t.Fatalf("unexpected error event: %v", evt.Err)
		}
		if evt.Kind == llm.EventMessage {
			message = evt.Message
		}
	}
	if message != "coolname.eth is available" {
		t.Fatalf("unexpected final message: %q", message)
	}
}
