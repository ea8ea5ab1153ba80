package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAnthropicProvider_Chat_ParsesTextAndToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("x-api-key = %q, want test-key", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"content": [
				{"type": "text", "text": "the weather is "},
				{"type": "tool_use", "id": "tc1", "name": "get_weather", "input": {"city": "nyc"}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("test-key", WithAnthropicBaseURL(srv.URL), WithAnthropicModel("claude-test"))

	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "what's the weather"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "the weather is " {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("FinishReason = %q, want tool_calls", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "get_weather" {
		t.Fatalf("ToolCalls = %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Arguments["city"] != "nyc" {
		t.Errorf("tool call arguments = %+v", resp.ToolCalls[0].Arguments)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 15 {
		t.Errorf("Usage = %+v, want total 15", resp.Usage)
	}
}

func TestAnthropicProvider_Chat_NonOKStatusReturnsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("test-key", WithAnthropicBaseURL(srv.URL),
		WithAnthropicRetryConfig(RetryConfig{Enabled: false}))

	_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	if err == nil {
		t.Fatal("expected an error for a 429 response")
	}
	httpErr, ok := err.(*HTTPError)
	if !ok {
		t.Fatalf("error = %T, want *HTTPError", err)
	}
	if httpErr.Status != http.StatusTooManyRequests {
		t.Errorf("Status = %d", httpErr.Status)
	}
	if httpErr.RetryAfter.Seconds() != 2 {
		t.Errorf("RetryAfter = %v, want 2s", httpErr.RetryAfter)
	}
}

func TestAnthropicProvider_BuildRequestBody_SeparatesSystemAndToolResults(t *testing.T) {
	p := NewAnthropicProvider("k")
	body := p.buildRequestBody("claude-test", ChatRequest{
		Messages: []Message{
			{Role: "system", Content: "be terse"},
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "", ToolCalls: []ToolCall{{ID: "t1", Name: "lookup", Arguments: map[string]interface{}{"q": "x"}}}},
			{Role: "tool", ToolCallID: "t1", Content: "result"},
		},
	}, false)

	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if _, ok := decoded["system"]; !ok {
		t.Error("expected a top-level system block")
	}
	msgs, ok := decoded["messages"].([]interface{})
	if !ok || len(msgs) != 3 {
		t.Fatalf("messages = %+v, want 3 entries", decoded["messages"])
	}
}

func TestParseRetryAfter(t *testing.T) {
	cases := map[string]int{"": 0, "5": 5, "not-a-number": 0, "-1": 0}
	for in, wantSecs := range cases {
		got := ParseRetryAfter(in)
		if int(got.Seconds()) != wantSecs {
			t.Errorf("ParseRetryAfter(%q) = %v, want %ds", in, got, wantSecs)
		}
	}
}
