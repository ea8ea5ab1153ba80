package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/aobot-gateway/internal/agentsession"
	"github.com/nextlevelbuilder/aobot-gateway/internal/bus"
	"github.com/nextlevelbuilder/aobot-gateway/internal/sessions"
)

// typingInterval is how often the non-streaming path re-notifies the
// originating channel that a reply is being computed.
const typingInterval = 4 * time.Second

// newConversationReply and helpReply are the fixed strings the command
// interceptor sends back without prompting the agent (new/reset only delete
// the session first).
const (
	newConversationReply = "New conversation started."
	helpReply            = "Send me a message to chat. Commands: new, reset, help."
)

// Manager holds every registered plugin keyed by channel id and drives the
// single inbound routing loop that bridges the bus to the session manager.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel
	router   bus.MessageRouter
}

// NewManager builds a Manager bound to router, the bus both plugins and the
// routing loop share.
func NewManager(router bus.MessageRouter) *Manager {
	return &Manager{
		channels: make(map[string]Channel),
		router:   router,
	}
}

// Register inserts plugin, replacing (and, if Running, best-effort stopping)
// any previous entry under the same channel id.
func (m *Manager) Register(ctx context.Context, plugin Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prior, ok := m.channels[plugin.ChannelID()]; ok && prior.Status().Status == bus.ChannelRunning {
		if err := prior.Stop(ctx); err != nil {
			slog.Warn("failed to stop replaced channel", "channel_id", prior.ChannelID(), "error", err)
		}
	}
	m.channels[plugin.ChannelID()] = plugin
}

// Unregister stops (if Running) and removes the plugin for id. Returns false
// if no plugin was registered under id.
func (m *Manager) Unregister(ctx context.Context, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	plugin, ok := m.channels[id]
	if !ok {
		return false
	}
	if plugin.Status().Status == bus.ChannelRunning {
		if err := plugin.Stop(ctx); err != nil {
			slog.Warn("failed to stop unregistered channel", "channel_id", id, "error", err)
		}
	}
	delete(m.channels, id)
	return true
}

// GetChannel returns the plugin registered under id.
func (m *Manager) GetChannel(id string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	plugin, ok := m.channels[id]
	return plugin, ok
}

// StartChannel forwards Start to the named plugin.
func (m *Manager) StartChannel(ctx context.Context, id string) error {
	plugin, ok := m.GetChannel(id)
	if !ok {
		return fmt.Errorf("channel %q not registered", id)
	}
	return plugin.Start(ctx)
}

// StopChannel forwards Stop to the named plugin.
func (m *Manager) StopChannel(ctx context.Context, id string) error {
	plugin, ok := m.GetChannel(id)
	if !ok {
		return fmt.Errorf("channel %q not registered", id)
	}
	return plugin.Stop(ctx)
}

// StartAll starts every registered plugin; a single failure is logged and
// does not prevent the rest from starting.
func (m *Manager) StartAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, plugin := range m.channels {
		if err := plugin.Start(ctx); err != nil {
			slog.Error("failed to start channel", "channel_id", id, "error", err)
		}
	}
}

// StopAll stops every registered plugin; failures are logged, not fatal.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, plugin := range m.channels {
		if err := plugin.Stop(ctx); err != nil {
			slog.Error("failed to stop channel", "channel_id", id, "error", err)
		}
	}
}

// List returns the current channel_id -> status snapshot.
func (m *Manager) List() map[string]bus.ChannelStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bus.ChannelStatus, len(m.channels))
	for id, plugin := range m.channels {
		out[id] = plugin.Status()
	}
	return out
}

// SendMessage looks up msg's destination channel and delegates Send to it.
func (m *Manager) SendMessage(ctx context.Context, msg bus.OutboundMessage) error {
	plugin, ok := m.GetChannel(msg.ChannelID)
	if !ok {
		return fmt.Errorf("channel %q not registered", msg.ChannelID)
	}
	return plugin.Send(ctx, msg)
}

// RunMessageLoop is the Channel Manager's central routing loop: it consumes
// InboundMessages from the bus until ctx is cancelled, dispatching each to
// its own goroutine so a single slow turn never blocks the next message's
// arrival.
func (m *Manager) RunMessageLoop(ctx context.Context, sessionMgr *sessions.Manager) {
	slog.Info("channel manager routing loop started")
	for {
		msg, ok := m.router.ConsumeInbound(ctx)
		if !ok {
			slog.Info("channel manager routing loop stopped")
			return
		}
		go m.route(ctx, sessionMgr, msg)
	}
}

func (m *Manager) route(ctx context.Context, sessionMgr *sessions.Manager, msg bus.InboundMessage) {
	// A bare command ("/new", "!help") arrives with its text stripped, so it
	// is not dropped as empty.
	cmd := msg.Metadata["command"]
	if msg.IsEmpty() && cmd == "" {
		return
	}

	key := msg.SessionKey
	if key == "" {
		key = sessions.BuildSessionKey(msg.ChannelType, msg.ChannelID, msg.SenderID)
	}

	if cmd != "" {
		m.dispatchCommand(ctx, sessionMgr, msg, key, cmd)
		return
	}

	plugin, ok := m.GetChannel(msg.ChannelID)
	if !ok {
		slog.Warn("inbound message for unregistered channel", "channel_id", msg.ChannelID)
		return
	}

	if sc, ok := plugin.(StreamingChannel); ok && sc.SupportsStreaming() {
		m.routeStreaming(ctx, sessionMgr, sc, msg, key)
		return
	}

	m.routeBlocking(ctx, sessionMgr, plugin, msg, key)
}

func (m *Manager) dispatchCommand(ctx context.Context, sessionMgr *sessions.Manager, msg bus.InboundMessage, key, cmd string) {
	var reply string
	switch cmd {
	case "new", "reset":
		sessionMgr.DeleteSession(ctx, key)
		reply = newConversationReply
	case "help", "start":
		reply = helpReply
	default:
		// Unrecognised commands fall through to agent dispatch, unless no
		// text or attachment is left to prompt with.
		if msg.IsEmpty() {
			return
		}
		m.routeToAgent(ctx, sessionMgr, msg, key)
		return
	}

	if err := m.SendMessage(ctx, bus.OutboundMessage{ChannelID: msg.ChannelID, RecipientID: msg.SenderID, Text: reply}); err != nil {
		slog.Warn("failed to send command reply", "channel_id", msg.ChannelID, "error", err)
	}
}

func (m *Manager) routeToAgent(ctx context.Context, sessionMgr *sessions.Manager, msg bus.InboundMessage, key string) {
	plugin, ok := m.GetChannel(msg.ChannelID)
	if !ok {
		slog.Warn("inbound message for unregistered channel", "channel_id", msg.ChannelID)
		return
	}
	if sc, ok := plugin.(StreamingChannel); ok && sc.SupportsStreaming() {
		m.routeStreaming(ctx, sessionMgr, sc, msg, key)
		return
	}
	m.routeBlocking(ctx, sessionMgr, plugin, msg, key)
}

// routeBlocking drives the non-streaming path: a typing-indicator loop runs
// alongside the blocking prompt and is cancelled as soon as it resolves.
func (m *Manager) routeBlocking(ctx context.Context, sessionMgr *sessions.Manager, plugin Channel, msg bus.InboundMessage, key string) {
	typingCtx, cancelTyping := context.WithCancel(ctx)
	go m.runTypingLoop(typingCtx, plugin, msg.SenderID, msg.Metadata)

	reply, err := sessionMgr.SendMessage(ctx, key, msg.Text, msg.Agent, msg.Attachments)
	cancelTyping()
	if err != nil {
		slog.Error("agent prompt failed", "session_key", key, "error", err)
		return
	}

	out := bus.OutboundMessage{ChannelID: msg.ChannelID, RecipientID: msg.SenderID, Text: reply}
	if err := m.SendMessage(ctx, out); err != nil {
		slog.Error("failed to deliver agent reply", "channel_id", msg.ChannelID, "error", err)
	}
}

func (m *Manager) runTypingLoop(ctx context.Context, plugin Channel, recipientID string, metadata map[string]string) {
	limiter := rate.NewLimiter(rate.Every(typingInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if err := plugin.NotifyProcessing(ctx, recipientID, metadata); err != nil {
			slog.Debug("notify_processing failed", "channel_id", plugin.ChannelID(), "error", err)
		}
	}
}

// routeStreaming drives the streaming path: the session manager's event
// stream is forwarded to the plugin's progressive renderer concurrently
// with the blocking prompt call that ultimately returns the full text.
func (m *Manager) routeStreaming(ctx context.Context, sessionMgr *sessions.Manager, plugin StreamingChannel, msg bus.InboundMessage, key string) {
	// Buffered so the agent-session producer can run up to 256 events ahead
	// of a slow plugin renderer; once the buffer is full the producer blocks
	// until the renderer drains it. The channel is not unbounded.
	events := make(chan StreamEvent, 256)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := plugin.SendStreaming(ctx, msg.SenderID, msg.Metadata, events); err != nil {
			slog.Error("streaming send failed", "channel_id", msg.ChannelID, "error", err)
		}
	}()

	_, err := sessionMgr.SendMessageStreaming(ctx, key, msg.Text, msg.Agent, msg.Attachments, func(ev agentsession.StreamEvent) {
		events <- toChannelEvent(ev)
	})
	close(events)
	wg.Wait()

	if err != nil {
		slog.Error("agent stream failed", "session_key", key, "error", err)
	}
}

func toChannelEvent(ev agentsession.StreamEvent) StreamEvent {
	switch ev.Type {
	case agentsession.EventTextDelta:
		return StreamEvent{Kind: "text_delta", Text: ev.Delta}
	case agentsession.EventToolStart:
		return StreamEvent{Kind: "tool_start", ToolName: ev.ToolName}
	case agentsession.EventToolEnd:
		return StreamEvent{Kind: "tool_end", ToolName: ev.ToolName, IsError: ev.IsError}
	case agentsession.EventError:
		return StreamEvent{Kind: "error", Message: ev.Message}
	default:
		return StreamEvent{Kind: "done", Text: ev.FullResponse}
	}
}
