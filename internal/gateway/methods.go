package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nextlevelbuilder/aobot-gateway/internal/agentsession"
	"github.com/nextlevelbuilder/aobot-gateway/internal/bus"
	"github.com/nextlevelbuilder/aobot-gateway/internal/config"
	"github.com/nextlevelbuilder/aobot-gateway/pkg/protocol"
)

// handlerFunc answers one RPC call. params is the raw JSON request params;
// the return value is marshalled as the response result.
type handlerFunc func(ctx context.Context, client *Client, params json.RawMessage) (interface{}, error)

// MethodRouter dispatches the gateway's WebSocket JSON-RPC surface (§6)
// against the session and channel managers it was built with.
type MethodRouter struct {
	srv      *Server
	handlers map[string]handlerFunc
}

// NewMethodRouter wires every RPC method named in §6 to its handler.
func NewMethodRouter(srv *Server) *MethodRouter {
	r := &MethodRouter{srv: srv, handlers: make(map[string]handlerFunc)}

	r.handlers[protocol.MethodHealth] = r.handleHealth
	r.handlers[protocol.MethodChatSend] = r.handleChatSend
	r.handlers[protocol.MethodChatStream] = r.handleChatStream
	r.handlers[protocol.MethodChatHistory] = r.handleChatHistory
	r.handlers[protocol.MethodSessionsList] = r.handleSessionsList
	r.handlers[protocol.MethodSessionsDelete] = r.handleSessionsDelete
	r.handlers[protocol.MethodAgentsList] = r.handleAgentsList
	r.handlers[protocol.MethodAgentsAdd] = r.handleAgentsAdd
	r.handlers[protocol.MethodAgentsDelete] = r.handleAgentsDelete
	r.handlers[protocol.MethodChannelsList] = r.handleChannelsList
	r.handlers[protocol.MethodChannelsStatus] = r.handleChannelsStatus
	r.handlers[protocol.MethodConfigGet] = r.handleConfigGet
	r.handlers[protocol.MethodConfigSet] = r.handleConfigSet

	return r
}

// Dispatch looks up and invokes the handler for method, or returns a
// "method not found" error. Like every handler error, the client sends it
// back with the InternalError code.
func (r *MethodRouter) Dispatch(ctx context.Context, client *Client, method string, params json.RawMessage) (interface{}, error) {
	h, ok := r.handlers[method]
	if !ok {
		return nil, fmt.Errorf("method not found: %s", method)
	}
	return h(ctx, client, params)
}

func (r *MethodRouter) handleHealth(_ context.Context, _ *Client, _ json.RawMessage) (interface{}, error) {
	return map[string]string{"status": "ok"}, nil
}

type chatSendParams struct {
	SessionKey  string           `json:"session_key"`
	Agent       string           `json:"agent,omitempty"`
	Text        string           `json:"text"`
	Attachments []bus.Attachment `json:"attachments,omitempty"`
}

func (r *MethodRouter) handleChatSend(ctx context.Context, _ *Client, raw json.RawMessage) (interface{}, error) {
	var p chatSendParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.SessionKey == "" {
		return nil, fmt.Errorf("session_key is required")
	}
	reply, err := r.srv.sessions.SendMessage(ctx, p.SessionKey, p.Text, p.Agent, p.Attachments)
	if err != nil {
		return nil, err
	}
	return map[string]string{"text": reply}, nil
}

// handleChatStream runs the prompt to completion, forwarding every delta as
// a chat.event notification on the calling client's connection before the
// JSON-RPC response (carrying the full text) is written.
func (r *MethodRouter) handleChatStream(ctx context.Context, client *Client, raw json.RawMessage) (interface{}, error) {
	var p chatSendParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.SessionKey == "" {
		return nil, fmt.Errorf("session_key is required")
	}

	text, err := r.srv.sessions.SendMessageStreaming(ctx, p.SessionKey, p.Text, p.Agent, p.Attachments,
		func(ev agentsession.StreamEvent) {
			client.SendEvent(protocol.ChatEventMethod, ev)
		})
	if err != nil {
		return nil, err
	}
	return map[string]string{"text": text}, nil
}

func (r *MethodRouter) handleChatHistory(_ context.Context, _ *Client, raw json.RawMessage) (interface{}, error) {
	var p struct {
		SessionKey string `json:"session_key"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	messages, err := r.srv.sessions.GetHistory(p.SessionKey)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"messages": messages}, nil
}

func (r *MethodRouter) handleSessionsList(_ context.Context, _ *Client, _ json.RawMessage) (interface{}, error) {
	return r.srv.sessions.ListSessions(), nil
}

func (r *MethodRouter) handleSessionsDelete(ctx context.Context, _ *Client, raw json.RawMessage) (interface{}, error) {
	var p struct {
		SessionKey string `json:"session_key"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	deleted := r.srv.sessions.DeleteSession(ctx, p.SessionKey)
	return map[string]bool{"deleted": deleted}, nil
}

func (r *MethodRouter) handleAgentsList(_ context.Context, _ *Client, _ json.RawMessage) (interface{}, error) {
	return r.srv.sessions.ListAgents(), nil
}

func (r *MethodRouter) handleAgentsAdd(_ context.Context, _ *Client, raw json.RawMessage) (interface{}, error) {
	var p struct {
		Name  string            `json:"name"`
		Agent config.AgentConfig `json:"agent"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	r.srv.sessions.AddAgent(p.Name, p.Agent)
	return map[string]bool{"ok": true}, nil
}

func (r *MethodRouter) handleAgentsDelete(_ context.Context, _ *Client, raw json.RawMessage) (interface{}, error) {
	var p struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	deleted := r.srv.sessions.DeleteAgent(p.Name)
	return map[string]bool{"deleted": deleted}, nil
}

func (r *MethodRouter) handleChannelsList(_ context.Context, _ *Client, _ json.RawMessage) (interface{}, error) {
	return r.srv.channels.List(), nil
}

func (r *MethodRouter) handleChannelsStatus(_ context.Context, _ *Client, raw json.RawMessage) (interface{}, error) {
	var p struct {
		ChannelID string `json:"channel_id"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	plugin, ok := r.srv.channels.GetChannel(p.ChannelID)
	if !ok {
		return nil, fmt.Errorf("channel %q not registered", p.ChannelID)
	}
	return plugin.Status(), nil
}

func (r *MethodRouter) handleConfigGet(_ context.Context, _ *Client, _ json.RawMessage) (interface{}, error) {
	return r.srv.sessions.GetConfig().Clone(), nil
}

func (r *MethodRouter) handleConfigSet(_ context.Context, _ *Client, raw json.RawMessage) (interface{}, error) {
	var cfg config.Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	cfg.ApplyEnvOverrides()
	r.srv.sessions.SetConfig(&cfg)
	return map[string]bool{"ok": true}, nil
}
