package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIProvider_Chat_ParsesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{
				"message": {
					"content": "",
					"tool_calls": [{"id": "c1", "function": {"name": "lookup", "arguments": "{\"q\":\"x\"}"}}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5}
		}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("openai", "test-key", srv.URL, "gpt-test")
	resp, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("FinishReason = %q", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "lookup" {
		t.Fatalf("ToolCalls = %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Arguments["q"] != "x" {
		t.Errorf("arguments = %+v", resp.ToolCalls[0].Arguments)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 5 {
		t.Errorf("Usage = %+v", resp.Usage)
	}
}

func TestOpenAIProvider_Chat_NonOKStatusReturnsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("openai", "k", srv.URL, "gpt-test", WithOpenAIRetryConfig(RetryConfig{Enabled: false}))
	_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	if err == nil {
		t.Fatal("expected an error for a 500 response")
	}
	if _, ok := err.(*HTTPError); !ok {
		t.Fatalf("error = %T, want *HTTPError", err)
	}
}

func TestOpenAIProvider_DefaultModelUsedWhenRequestOmitsOne(t *testing.T) {
	var gotModel interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel = body["model"]
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "ok"}, "finish_reason": "stop"}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("openai", "k", srv.URL, "gpt-default")
	if _, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if gotModel != "gpt-default" {
		t.Errorf("model = %v, want gpt-default", gotModel)
	}
}
