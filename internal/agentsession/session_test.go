package agentsession

import (
	"context"
	"errors"
	"testing"

	"github.com/nextlevelbuilder/aobot-gateway/internal/providers"
)

// fakeProvider is a scripted provider.Provider used to drive Session without
// hitting a network.
type fakeProvider struct {
	replies []string
	calls   int
	err     error
	chunks  []string
}

func (f *fakeProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	var reply string
	if f.calls < len(f.replies) {
		reply = f.replies[f.calls]
	}
	f.calls++
	return &providers.ChatResponse{Content: reply, FinishReason: "stop"}, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	var full string
	for _, c := range f.chunks {
		onChunk(providers.StreamChunk{Content: c})
		full += c
	}
	return &providers.ChatResponse{Content: full, FinishReason: "stop"}, nil
}

func (f *fakeProvider) DefaultModel() string { return "claude-sonnet-4" }
func (f *fakeProvider) Name() string         { return "fake" }

func TestPrompt_AppendsUserAndAssistantTurns(t *testing.T) {
	p := &fakeProvider{replies: []string{"hi there"}}
	s := New(p, "claude-sonnet-4", "You are helpful.", nil)

	got, err := s.Prompt(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if got != "hi there" {
		t.Errorf("Prompt() = %q, want %q", got, "hi there")
	}
	if len(s.Messages()) != 2 {
		t.Fatalf("Messages() len = %d, want 2", len(s.Messages()))
	}
	if s.Messages()[0].Role != "user" || s.Messages()[1].Role != "assistant" {
		t.Errorf("unexpected roles: %+v", s.Messages())
	}
}

func TestPrompt_RollsBackUserTurnOnError(t *testing.T) {
	p := &fakeProvider{err: errors.New("boom")}
	s := New(p, "claude-sonnet-4", "", nil)

	if _, err := s.Prompt(context.Background(), "hello"); err == nil {
		t.Fatal("expected error")
	}
	if len(s.Messages()) != 0 {
		t.Errorf("Messages() len = %d, want 0 after rollback", len(s.Messages()))
	}
}

func TestStream_EmitsDeltasThenDone(t *testing.T) {
	p := &fakeProvider{chunks: []string{"hel", "lo"}}
	s := New(p, "claude-sonnet-4", "", nil)

	var events []StreamEvent
	got, err := s.Stream(context.Background(), "hi", func(e StreamEvent) {
		events = append(events, e)
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if got != "hello" {
		t.Errorf("Stream() = %q, want hello", got)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Type != EventTextDelta || events[1].Type != EventTextDelta {
		t.Errorf("expected two text_delta events, got %+v", events[:2])
	}
	if events[2].Type != EventDone || events[2].FullResponse != "hello" {
		t.Errorf("expected done event with full response, got %+v", events[2])
	}
}

func TestIsContextOverflow(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New("request too long for model"), true},
		{errors.New("context_length_exceeded"), true},
		{errors.New("invalid token count"), true},
		{errors.New("connection reset"), false},
		{nil, false},
	}
	for _, c := range cases {
		if got := IsContextOverflow(c.err); got != c.want {
			t.Errorf("IsContextOverflow(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestShouldCompact(t *testing.T) {
	p := &fakeProvider{}
	s := New(p, "claude-sonnet-4", "", nil)
	s.messages = []providers.Message{{Role: "user", Content: string(make([]byte, 4000))}}

	settings := CompactionSettings{Enabled: true, ReserveTokens: 100, KeepRecentTokens: 50}
	if !s.ShouldCompact(900, settings) {
		t.Error("expected compaction to trigger when footprint exceeds budget")
	}
	if s.ShouldCompact(10000, settings) {
		t.Error("did not expect compaction when well under budget")
	}
	if s.ShouldCompact(900, CompactionSettings{Enabled: false}) {
		t.Error("disabled settings must never trigger compaction")
	}
}

func TestCompact_SummarizesOlderMessagesKeepsRecentTail(t *testing.T) {
	p := &fakeProvider{replies: []string{"summary of earlier turns"}}
	s := New(p, "claude-sonnet-4", "", nil)
	s.messages = []providers.Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "first reply"},
		{Role: "user", Content: "second"},
		{Role: "assistant", Content: "second reply"},
	}

	result, err := s.Compact(context.Background(), CompactionSettings{KeepRecentTokens: 1})
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if result.MessagesBefore != 4 {
		t.Errorf("MessagesBefore = %d, want 4", result.MessagesBefore)
	}
	if s.Messages()[0].Role != "system" || s.Messages()[0].Content != "summary of earlier turns" {
		t.Errorf("expected summary system message first, got %+v", s.Messages()[0])
	}
}

func TestContextWindowFor(t *testing.T) {
	if got := ContextWindowFor("anthropic/claude-sonnet-4"); got != 200000 {
		t.Errorf("ContextWindowFor(claude-sonnet-4) = %d, want 200000", got)
	}
	if got := ContextWindowFor("unknown-model-xyz"); got != defaultContextWindow {
		t.Errorf("ContextWindowFor(unknown) = %d, want default %d", got, defaultContextWindow)
	}
}
