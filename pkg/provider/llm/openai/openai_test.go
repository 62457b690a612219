package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/luna/pkg/provider/llm"
)

// chatServer answers every completion request with body and records the
// decoded request.
func chatServer(t *testing.T, body string) (*httptest.Server, *map[string]any) {
	t.Helper()
	got := new(map[string]any)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("Authorization = %q", auth)
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := New("", "gpt-4o-mini"); err == nil {
		t.Error("expected error for empty api key")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("expected error for empty model")
	}
}

func TestComplete_ToolCall(t *testing.T) {
	t.Parallel()
	srv, body := chatServer(t, `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"created": 0,
		"model": "gpt-4o-mini",
		"choices": [{
			"index": 0,
			"finish_reason": "tool_calls",
			"message": {
				"role": "assistant",
				"content": null,
				"tool_calls": [{
					"id": "call_1",
					"type": "function",
					"function": {"name": "open_app", "arguments": "{\"app\":\"notes\"}"}
				}]
			}
		}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
	}`)

	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		System: "be brief",
		Prompt: "open notes",
		Tools:  []llm.ToolDefinition{{Name: "open_app", Description: "Open an application", Parameters: map[string]any{"type": "object"}}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	want := &llm.CompletionResponse{
		ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "open_app", Arguments: `{"app":"notes"}`}},
		Usage:     llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
	if diff := cmp.Diff(want, resp); diff != "" {
		t.Errorf("response (-want +got):\n%s", diff)
	}
	if (*body)["tool_choice"] != "auto" {
		t.Errorf("tool_choice = %v, want auto", (*body)["tool_choice"])
	}
	if tools, _ := (*body)["tools"].([]any); len(tools) != 1 {
		t.Errorf("tools in request = %v", (*body)["tools"])
	}
	if msgs, _ := (*body)["messages"].([]any); len(msgs) != 2 {
		t.Errorf("messages = %v, want system and user", (*body)["messages"])
	}
}

func TestComplete_PlainReplyWithoutTools(t *testing.T) {
	t.Parallel()
	srv, body := chatServer(t, `{
		"id": "chatcmpl-2",
		"object": "chat.completion",
		"created": 0,
		"model": "openai/gpt-oss-20b",
		"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "Hello!"}}]
	}`)

	p, err := New("sk-test", "openai/gpt-oss-20b", WithBaseURL(srv.URL+"/"), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Hello!" || len(resp.ToolCalls) != 0 {
		t.Errorf("response = %+v", resp)
	}
	if _, ok := (*body)["tool_choice"]; ok {
		t.Error("tool_choice sent without tools")
	}
	if (*body)["model"] != "openai/gpt-oss-20b" {
		t.Errorf("model = %v", (*body)["model"])
	}
}

func TestComplete_NoChoices(t *testing.T) {
	t.Parallel()
	srv, _ := chatServer(t, `{"id": "x", "object": "chat.completion", "created": 0, "model": "m", "choices": []}`)
	p, _ := New("sk-test", "m", WithBaseURL(srv.URL+"/"))
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{Prompt: "hi"}); !errors.Is(err, llm.ErrNoChoices) {
		t.Errorf("err = %v, want ErrNoChoices", err)
	}
}

func TestComplete_EmptyPrompt(t *testing.T) {
	t.Parallel()
	p, _ := New("sk-test", "m", WithBaseURL("http://127.0.0.1:1/"))
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{}); err == nil {
		t.Error("expected error for empty prompt")
	}
}
