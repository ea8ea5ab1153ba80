// Package channels defines the channel plugin contract shared by every
// adapter (built-in or external) and the base helper each adapter embeds.
package channels

import (
	"context"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/aobot-gateway/internal/bus"
)

// Channel is the capability set every plugin offers: identify, start, stop,
// send, and report status. NotifyProcessing is optional ambient behaviour —
// a no-op implementation is fine for plugins with no "typing" affordance.
type Channel interface {
	ChannelID() string
	ChannelType() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	Status() bus.ChannelStatus
	NotifyProcessing(ctx context.Context, recipientID string, metadata map[string]string) error
}

// StreamEvent mirrors agentsession.StreamEvent without depending on that
// package, so channels need not import the session layer.
type StreamEvent struct {
	Kind     string // "text_delta" | "tool_start" | "tool_end" | "error" | "done"
	Text     string
	ToolName string
	IsError  bool
	Message  string
}

// StreamingChannel is implemented by plugins that render a StreamEvent
// sequence progressively instead of waiting for the full reply.
type StreamingChannel interface {
	Channel
	SupportsStreaming() bool
	SendStreaming(ctx context.Context, recipientID string, metadata map[string]string, events <-chan StreamEvent) error
}

// BaseChannel implements the bookkeeping shared by every adapter: identity,
// running/status flag, allow-list, and the bus it publishes inbound traffic
// on. Concrete adapters embed it and implement Start/Stop/Send themselves.
type BaseChannel struct {
	mu          sync.RWMutex
	channelType string
	channelID   string
	router      bus.MessageRouter
	allowFrom   map[string]struct{}
	status      bus.ChannelStatus
}

// NewBaseChannel builds a BaseChannel for one plugin instance. allowFrom, if
// non-empty, restricts IsAllowed to the listed sender ids; an empty list
// allows everyone.
func NewBaseChannel(channelType, channelID string, router bus.MessageRouter, allowFrom []string) *BaseChannel {
	allow := make(map[string]struct{}, len(allowFrom))
	for _, id := range allowFrom {
		allow[id] = struct{}{}
	}
	return &BaseChannel{
		channelType: channelType,
		channelID:   channelID,
		router:      router,
		allowFrom:   allow,
		status:      bus.ChannelStatus{Status: bus.ChannelStopped},
	}
}

func (b *BaseChannel) ChannelType() string { return b.channelType }
func (b *BaseChannel) ChannelID() string   { return b.channelID }

// Router returns the message bus this channel publishes inbound traffic to.
func (b *BaseChannel) Router() bus.MessageRouter { return b.router }

// IsRunning reports whether the channel's last recorded status is Running.
func (b *BaseChannel) IsRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status.Status == bus.ChannelRunning
}

// SetRunning flips the status between Running and Stopped.
func (b *BaseChannel) SetRunning(running bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if running {
		b.status = bus.ChannelStatus{Status: bus.ChannelRunning}
	} else {
		b.status = bus.ChannelStatus{Status: bus.ChannelStopped}
	}
}

// SetStarting marks the channel mid-startup.
func (b *BaseChannel) SetStarting() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = bus.ChannelStatus{Status: bus.ChannelStarting}
}

// SetError records a non-fatal start/stop failure as the channel's status.
func (b *BaseChannel) SetError(message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = bus.ChannelStatus{Status: bus.ChannelError, Message: message}
}

// Status is a best-effort, non-blocking snapshot: a try-lock that falls back
// to reporting Running if the lock is momentarily contended. Status is
// advisory, not a linearisation point.
func (b *BaseChannel) Status() bus.ChannelStatus {
	if b.mu.TryRLock() {
		defer b.mu.RUnlock()
		return b.status
	}
	return bus.ChannelStatus{Status: bus.ChannelRunning}
}

// HasAllowList reports whether this channel restricts senders.
func (b *BaseChannel) HasAllowList() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.allowFrom) > 0
}

// IsAllowed reports whether senderID may talk to this channel. With no
// configured allow-list every sender is allowed.
func (b *BaseChannel) IsAllowed(senderID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.allowFrom) == 0 {
		return true
	}
	_, ok := b.allowFrom[senderID]
	return ok
}

// Publish normalises one external event into a canonical InboundMessage and
// pushes it onto the bus, filling in the fields that are this channel's
// responsibility to stamp. Disallowed senders are dropped silently.
func (b *BaseChannel) Publish(senderID, senderName, text string, attachments []bus.Attachment, metadata map[string]string, timestamp int64) error {
	if !b.IsAllowed(senderID) {
		return nil
	}
	msg := bus.InboundMessage{
		ChannelType: b.channelType,
		ChannelID:   b.channelID,
		SenderID:    senderID,
		SenderName:  senderName,
		Text:        text,
		Metadata:    metadata,
		Attachments: attachments,
		Timestamp:   timestamp,
	}
	return b.router.PublishInbound(msg)
}

// Truncate shortens s to at most maxLen bytes, appending an ellipsis when
// trimmed, matching the teacher's convention for logging long message text.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return strings.TrimSpace(s[:maxLen]) + "…"
}
