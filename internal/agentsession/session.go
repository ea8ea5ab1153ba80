// Package agentsession wraps an internal/providers.Provider into a stateful
// conversation handle: it accumulates the message history for one session,
// drives a single prompt/stream turn, and knows how to compact itself when
// the conversation grows past the model's context window.
package agentsession

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/aobot-gateway/internal/providers"
)

// Session is the concrete agent-session handle behind a ManagedSession. It
// is not safe for concurrent use; callers serialize access (the Session
// Manager holds a per-session lock around every method call).
type Session struct {
	provider     providers.Provider
	model        string
	systemPrompt string
	tools        []providers.ToolDefinition
	messages     []providers.Message
}

// New builds a session bound to a provider, model, system prompt and tool
// set. The message list starts empty; use Restore to seed it from persisted
// history.
func New(provider providers.Provider, model, systemPrompt string, tools []providers.ToolDefinition) *Session {
	return &Session{
		provider:     provider,
		model:        model,
		systemPrompt: systemPrompt,
		tools:        tools,
	}
}

// Model returns the configured model id.
func (s *Session) Model() string { return s.model }

// Messages returns the accumulated conversation, oldest first. The returned
// slice must not be mutated by the caller.
func (s *Session) Messages() []providers.Message { return s.messages }

// Restore replaces the conversation wholesale, e.g. when reloading a
// session's prior history at startup.
func (s *Session) Restore(history []providers.Message) {
	s.messages = append([]providers.Message(nil), history...)
}

func (s *Session) contextMessages() []providers.Message {
	msgs := make([]providers.Message, 0, len(s.messages)+1)
	if s.systemPrompt != "" {
		msgs = append(msgs, providers.Message{Role: "system", Content: s.systemPrompt})
	}
	msgs = append(msgs, s.messages...)
	return msgs
}

// Prompt appends userContent (plus any images) as a user turn, invokes the
// provider once (non-streaming), appends the assistant reply, and returns
// its text.
func (s *Session) Prompt(ctx context.Context, userContent string, images ...providers.ImageContent) (string, error) {
	s.messages = append(s.messages, providers.Message{Role: "user", Content: userContent, Images: images})

	resp, err := s.provider.Chat(ctx, providers.ChatRequest{
		Messages: s.contextMessages(),
		Tools:    s.tools,
		Model:    s.model,
	})
	if err != nil {
		// Roll back the user turn so a failed prompt doesn't poison history
		// for the retry that the session manager is about to attempt.
		s.messages = s.messages[:len(s.messages)-1]
		return "", err
	}

	s.messages = append(s.messages, providers.Message{
		Role:      "assistant",
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	})
	return resp.Content, nil
}

// Stream appends userContent (plus any images) as a user turn and drives a
// streaming prompt, invoking onEvent with a TextDelta for every chunk and a
// final Done (or Error) event. It returns the same full text Prompt would
// have.
func (s *Session) Stream(ctx context.Context, userContent string, onEvent func(StreamEvent), images ...providers.ImageContent) (string, error) {
	s.messages = append(s.messages, providers.Message{Role: "user", Content: userContent, Images: images})

	resp, err := s.provider.ChatStream(ctx, providers.ChatRequest{
		Messages: s.contextMessages(),
		Tools:    s.tools,
		Model:    s.model,
	}, func(chunk providers.StreamChunk) {
		if chunk.Content != "" {
			onEvent(StreamEvent{Type: EventTextDelta, Delta: chunk.Content})
		}
	})
	if err != nil {
		s.messages = s.messages[:len(s.messages)-1]
		onEvent(StreamEvent{Type: EventError, Message: err.Error()})
		return "", err
	}

	s.messages = append(s.messages, providers.Message{
		Role:      "assistant",
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	})
	onEvent(StreamEvent{Type: EventDone, FullResponse: resp.Content})
	return resp.Content, nil
}

// EstimatedTokens is a crude character-count heuristic (roughly 4 characters
// per token) used to decide whether auto-compaction should run. It avoids
// depending on a provider-specific tokenizer.
func (s *Session) EstimatedTokens() int64 {
	var total int64
	if s.systemPrompt != "" {
		total += int64(len(s.systemPrompt)) / 4
	}
	for _, m := range s.messages {
		total += int64(len(m.Content)) / 4
	}
	return total
}

// overflowSubstrings are the free-form error fragments that indicate the
// provider rejected a prompt for exceeding its context window. The provider
// library surfaces these as plain error text rather than a structured code.
var overflowSubstrings = []string{"too long", "context", "token"}

// IsContextOverflow reports whether err looks like a context-window
// rejection rather than some other provider failure.
func IsContextOverflow(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, frag := range overflowSubstrings {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

// CompactionSettings mirrors the configured compaction policy.
type CompactionSettings struct {
	Enabled          bool
	ReserveTokens    int64
	KeepRecentTokens int64
}

// CompactResult reports what a compaction pass changed, for logging.
type CompactResult struct {
	MessagesBefore int
	MessagesAfter  int
	TokensBefore   int64
	TokensAfter    int64
}

// ShouldCompact reports whether the session's footprint exceeds the model's
// usable context window (context window minus the configured reserve).
func (s *Session) ShouldCompact(contextWindow int64, settings CompactionSettings) bool {
	if !settings.Enabled {
		return false
	}
	budget := contextWindow - settings.ReserveTokens
	if budget <= 0 {
		return false
	}
	return s.EstimatedTokens() > budget
}

// Compact summarizes every message except a recent tail into a single
// system message, using the same provider the session talks to. The tail is
// kept whole, growing backwards from the most recent message until adding
// another message would exceed KeepRecentTokens.
func (s *Session) Compact(ctx context.Context, settings CompactionSettings) (CompactResult, error) {
	before := CompactResult{
		MessagesBefore: len(s.messages),
		TokensBefore:   s.EstimatedTokens(),
	}

	if len(s.messages) < 2 {
		before.MessagesAfter = len(s.messages)
		before.TokensAfter = before.TokensBefore
		return before, nil
	}

	keepFrom := len(s.messages)
	var kept int64
	for keepFrom > 0 {
		cost := int64(len(s.messages[keepFrom-1].Content)) / 4
		if kept+cost > settings.KeepRecentTokens && keepFrom < len(s.messages) {
			break
		}
		kept += cost
		keepFrom--
	}
	if keepFrom == 0 {
		keepFrom = 1
	}

	toSummarize := s.messages[:keepFrom]
	recent := s.messages[keepFrom:]

	summary, err := s.summarize(ctx, toSummarize)
	if err != nil {
		return before, err
	}

	s.messages = append([]providers.Message{{Role: "system", Content: summary}}, recent...)

	before.MessagesAfter = len(s.messages)
	before.TokensAfter = s.EstimatedTokens()
	return before, nil
}

const summarizationSystemPrompt = "You are summarizing a conversation so it can continue with less context. " +
	"Write a concise summary capturing decisions made, open questions, and any state the assistant must remember."

func (s *Session) summarize(ctx context.Context, messages []providers.Message) (string, error) {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}

	resp, err := s.provider.Chat(ctx, providers.ChatRequest{
		Model: s.model,
		Messages: []providers.Message{
			{Role: "system", Content: summarizationSystemPrompt},
			{Role: "user", Content: b.String()},
		},
	})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	if resp.Content == "" {
		const maxLen = 500
		text := b.String()
		if len(text) > maxLen {
			text = text[:maxLen]
		}
		return "Conversation summary: " + text, nil
	}
	return resp.Content, nil
}
