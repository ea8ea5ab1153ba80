// Package bus defines the canonical message types that flow between channel
// plugins, the channel manager, and the session manager, plus the small
// interfaces each side depends on.
package bus

import "context"

// AttachmentKind tags the variant carried by an Attachment.
type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentDocument AttachmentKind = "document"
	AttachmentAudio    AttachmentKind = "audio"
)

// Attachment is a tagged union over the three media kinds the core
// understands. Content is always inlined as base64; there is no external
// blob store in the gateway core.
type Attachment struct {
	Kind     AttachmentKind `json:"type"`
	Data     string         `json:"data"`               // base64-encoded bytes
	MimeType string         `json:"mime_type"`
	FileName string         `json:"file_name,omitempty"` // only meaningful for Document
}

// InboundMessage is the canonical record produced by a channel adapter for
// every external event it normalises. It is immutable once constructed.
type InboundMessage struct {
	ChannelType string            `json:"channel_type"`
	ChannelID   string            `json:"channel_id"`
	SenderID    string            `json:"sender_id"`
	SenderName  string            `json:"sender_name,omitempty"`
	Text        string            `json:"text"`
	Agent       string            `json:"agent,omitempty"`       // optional agent override
	SessionKey  string            `json:"session_key,omitempty"` // optional explicit key override
	Metadata    map[string]string `json:"metadata,omitempty"`    // platform-specific attributes, e.g. "command"
	Attachments []Attachment      `json:"attachments,omitempty"`
	Timestamp   int64             `json:"timestamp"` // unix millis
}

// IsEmpty reports whether the message carries no text and no attachments —
// such a message never reaches the agent as a prompt; the channel manager
// drops it before any session lookup unless it carries a bot command (see
// RunMessageLoop).
func (m InboundMessage) IsEmpty() bool {
	return m.Text == "" && len(m.Attachments) == 0
}

// OutboundMessage is the symmetrical record handed back to a channel
// plugin's Send method.
type OutboundMessage struct {
	ChannelID   string            `json:"channel_id"`
	RecipientID string            `json:"recipient_id"`
	Text        string            `json:"text"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ChannelStatusKind enumerates the plugin lifecycle states. Transitions are
// monotonic except for the Running -> Stopped -> Starting restart cycle.
type ChannelStatusKind string

const (
	ChannelStopped ChannelStatusKind = "stopped"
	ChannelStarting ChannelStatusKind = "starting"
	ChannelRunning  ChannelStatusKind = "running"
	ChannelError    ChannelStatusKind = "error"
)

// ChannelStatus carries the current lifecycle state and, for the Error
// variant, a human-readable message.
type ChannelStatus struct {
	Status  ChannelStatusKind `json:"status"`
	Message string            `json:"message,omitempty"`
}

// ChannelConfig is the instance configuration consumed by a channel plugin
// factory. Settings is treated opaquely by the core; each plugin decodes its
// own shape out of it.
type ChannelConfig struct {
	ChannelType string                 `json:"channel_type"`
	Enabled     bool                   `json:"enabled"`
	Agent       string                 `json:"agent,omitempty"`
	Settings    map[string]interface{} `json:"settings,omitempty"`
}

// MessageHandler handles an inbound message from a specific channel.
type MessageHandler func(InboundMessage) error

// MessageRouter abstracts inbound/outbound message routing between channels
// and the session manager, decoupling both sides from the concrete
// MessageBus implementation.
type MessageRouter interface {
	PublishInbound(msg InboundMessage) error
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage) error
	SubscribeOutbound(ctx context.Context) (OutboundMessage, bool)
}
