package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/aobot-gateway/internal/agentsession"
	"github.com/nextlevelbuilder/aobot-gateway/internal/bus"
	"github.com/nextlevelbuilder/aobot-gateway/internal/config"
	"github.com/nextlevelbuilder/aobot-gateway/internal/providers"
	"github.com/nextlevelbuilder/aobot-gateway/internal/store/sqlite"
)

// ErrSessionNotFound is returned by operations on a session key with no
// entry in the map.
var ErrSessionNotFound = errors.New("session not found")

// ManagedSession is the in-memory wrapper around one agent-session handle.
// It is exclusively owned by the Manager and accessed only while holding
// its own lock, which also serializes prompts for this session.
type ManagedSession struct {
	mu sync.Mutex

	handle           *agentsession.Session
	agentName        string
	modelID          string
	createdAt        int64
	piSessionIDSaved bool
	persistedCount   int // number of handle.Messages() already flushed to the store
}

// SessionInfo is a lightweight, lock-free snapshot of a managed session for
// listing purposes.
type SessionInfo struct {
	SessionKey   string `json:"session_key"`
	AgentName    string `json:"agent_name"`
	ModelID      string `json:"model_id"`
	MessageCount int    `json:"message_count"`
	CreatedAt    int64  `json:"created_at"`
}

// Manager owns every ManagedSession, keyed by opaque session key, and the
// live gateway configuration used to resolve new sessions' agents. An
// optional sqlite store persists session metadata across restarts; when nil
// the manager is purely in-memory.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*ManagedSession

	cfg   *config.Config
	store *sqlite.Store

	// providerFactory builds the provider behind a new session's model id.
	// It defaults to buildProvider; tests substitute a fake to exercise the
	// manager's session lifecycle without live provider credentials.
	providerFactory func(modelID string, creds config.ProvidersConfig, retry providers.RetryConfig) (providers.Provider, string, error)
}

// NewManager builds a Manager bound to the given live config and optional
// persistent store.
func NewManager(cfg *config.Config, store *sqlite.Store) *Manager {
	return &Manager{
		sessions:        make(map[string]*ManagedSession),
		cfg:             cfg,
		store:           store,
		providerFactory: buildProvider,
	}
}

func nowMS() int64 { return time.Now().UnixMilli() }

// CreateSession resolves the effective agent config, builds a fresh
// ManagedSession bound to it, inserts it unconditionally (overwriting any
// existing entry for key), and persists its initial metadata.
func (m *Manager) CreateSession(ctx context.Context, key string, agentName string) error {
	if agentName == "" {
		agentName = m.cfg.DefaultAgentName()
	}
	agentCfg := m.cfg.ResolveAgent(agentName)

	provider, model, err := m.providerFactory(agentCfg.Model, m.cfg.ProviderCreds(), resolveRetryConfig(m.cfg.RetryPolicy()))
	if err != nil {
		return fmt.Errorf("create session %q: %w", key, err)
	}

	handle := agentsession.New(provider, model, agentCfg.SystemPrompt, resolveTools(agentCfg.Tools))

	now := nowMS()
	managed := &ManagedSession{
		handle:    handle,
		agentName: agentName,
		modelID:   agentCfg.Model,
		createdAt: now,
	}

	m.mu.Lock()
	m.sessions[key] = managed
	m.mu.Unlock()

	if m.store != nil {
		row := sqlite.SessionRow{
			SessionKey:   key,
			AgentName:    agentName,
			ModelID:      agentCfg.Model,
			CreatedAt:    now,
			LastActiveAt: now,
			IsActive:     true,
		}
		if err := m.store.UpsertSession(ctx, row); err != nil {
			slog.Warn("failed to persist session metadata", "session_key", key, "error", err)
		}
	}

	return nil
}

// EnsureSession returns the existing entry for key, creating one (with
// agentName, or the default agent if empty) if absent.
func (m *Manager) EnsureSession(ctx context.Context, key, agentName string) (*ManagedSession, error) {
	m.mu.RLock()
	existing, ok := m.sessions[key]
	m.mu.RUnlock()
	if ok {
		return existing, nil
	}

	if err := m.CreateSession(ctx, key, agentName); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	managed, ok := m.sessions[key]
	if !ok {
		return nil, fmt.Errorf("session %q not found after creation", key)
	}
	return managed, nil
}

// overflowErrorLooksLikeContextWindow delegates to
// agentsession.IsContextOverflow, so the manager matches exactly the same
// substrings as the agent-session layer on the error Prompt/Stream return.
func overflowErrorLooksLikeContextWindow(err error) bool {
	return agentsession.IsContextOverflow(err)
}

// SendMessage sends text (with attachments lowered to text/images) through
// the session identified by key, creating it first if needed. It
// auto-compacts if the session is over budget, retries once via emergency
// compaction on a context-overflow error, captures the external session id
// on first success, and bumps activity — all persistence failures are
// logged and never fail the turn.
func (m *Manager) SendMessage(ctx context.Context, key, text string, agentName string, attachments []bus.Attachment) (string, error) {
	managed, err := m.EnsureSession(ctx, key, agentName)
	if err != nil {
		return "", err
	}

	managed.mu.Lock()
	defer managed.mu.Unlock()

	content, images := lowerAttachments(text, attachments)

	m.maybeCompact(ctx, key, managed)

	result, err := managed.handle.Prompt(ctx, content, images...)
	if err != nil {
		if !overflowErrorLooksLikeContextWindow(err) {
			return "", fmt.Errorf("prompt error: %w", err)
		}
		slog.Warn("context overflow detected, attempting emergency compaction", "session_key", key)
		if _, cErr := managed.handle.Compact(ctx, emergencyCompactionSettings()); cErr != nil {
			return "", fmt.Errorf("prompt error: %w", err)
		}
		result, err = managed.handle.Prompt(ctx, content, images...)
		if err != nil {
			return "", fmt.Errorf("prompt error after compaction: %w", err)
		}
	}

	m.capturePiSessionID(ctx, key, managed)
	m.persistNewMessages(ctx, key, managed)
	m.bumpActivity(ctx, key)

	return result, nil
}

// SendMessageStreaming is the streaming counterpart of SendMessage: onEvent
// is invoked for every delta and a final Done/Error event, and the full
// text is returned once the turn completes.
func (m *Manager) SendMessageStreaming(ctx context.Context, key, text string, agentName string, attachments []bus.Attachment, onEvent func(agentsession.StreamEvent)) (string, error) {
	managed, err := m.EnsureSession(ctx, key, agentName)
	if err != nil {
		return "", err
	}

	managed.mu.Lock()
	defer managed.mu.Unlock()

	content, images := lowerAttachments(text, attachments)

	m.maybeCompact(ctx, key, managed)

	result, err := managed.handle.Stream(ctx, content, onEvent, images...)
	if err != nil {
		if !overflowErrorLooksLikeContextWindow(err) {
			return "", fmt.Errorf("prompt error: %w", err)
		}
		slog.Warn("context overflow detected, attempting emergency compaction", "session_key", key)
		if _, cErr := managed.handle.Compact(ctx, emergencyCompactionSettings()); cErr != nil {
			return "", fmt.Errorf("prompt error: %w", err)
		}
		result, err = managed.handle.Stream(ctx, content, onEvent, images...)
		if err != nil {
			return "", fmt.Errorf("prompt error after compaction: %w", err)
		}
	}

	m.capturePiSessionID(ctx, key, managed)
	m.persistNewMessages(ctx, key, managed)
	m.bumpActivity(ctx, key)

	return result, nil
}

func (m *Manager) compactionSettings() agentsession.CompactionSettings {
	c := m.cfg.CompactionPolicy()
	return agentsession.CompactionSettings{
		Enabled:          c.Enabled,
		ReserveTokens:    c.ReserveTokens,
		KeepRecentTokens: c.KeepRecentTokens,
	}
}

// emergencyCompactionSettings is the fallback policy applied when a prompt
// overflows the model's context window outright, independent of whatever
// auto-compaction policy (or none) the operator has configured. A user who
// disabled auto-compaction, or tuned it loosely, still needs the turn to
// recover rather than fail outright, so this path is deliberately not
// threaded through config.Config — it is the gateway's own safety net, not
// a setting.
func emergencyCompactionSettings() agentsession.CompactionSettings {
	return agentsession.CompactionSettings{
		Enabled:          true,
		ReserveTokens:    4096,
		KeepRecentTokens: 2048,
	}
}

// maybeCompact runs auto-compaction ahead of a prompt when the session's
// estimated footprint exceeds the model's usable context window. Failures
// are logged and never abort the turn.
func (m *Manager) maybeCompact(ctx context.Context, key string, managed *ManagedSession) {
	settings := m.compactionSettings()
	if !settings.Enabled {
		return
	}

	window := agentsession.ContextWindowFor(managed.modelID)
	if !managed.handle.ShouldCompact(window, settings) {
		return
	}

	slog.Info("auto-compaction triggered", "session_key", key)
	result, err := managed.handle.Compact(ctx, settings)
	if err != nil {
		slog.Warn("auto-compaction failed", "session_key", key, "error", err)
		return
	}
	slog.Info("auto-compaction complete", "session_key", key,
		"messages_before", result.MessagesBefore, "messages_after", result.MessagesAfter,
		"tokens_before", result.TokensBefore, "tokens_after", result.TokensAfter)
}

// capturePiSessionID is a no-op against the current stateless HTTP
// providers (none of them hand back an opaque server-side conversation
// id). Only the idempotence guard is in place; it never calls
// SavePiSessionID.
func (m *Manager) capturePiSessionID(ctx context.Context, key string, managed *ManagedSession) {
	if managed.piSessionIDSaved || m.store == nil {
		return
	}
}

// persistNewMessages flushes every message appended to managed's history
// since the last flush, so RestoreSessions can reload a session's prior
// turns after a restart instead of starting it over with empty context.
func (m *Manager) persistNewMessages(ctx context.Context, key string, managed *ManagedSession) {
	if m.store == nil {
		return
	}

	all := managed.handle.Messages()
	for i := managed.persistedCount; i < len(all); i++ {
		if err := m.store.AppendMessage(ctx, key, toMessageRow(int64(i), all[i])); err != nil {
			slog.Warn("failed to persist message", "session_key", key, "seq", i, "error", err)
			return
		}
	}
	managed.persistedCount = len(all)
}

func toMessageRow(seq int64, msg providers.Message) sqlite.MessageRow {
	row := sqlite.MessageRow{Seq: seq, Role: msg.Role, Content: msg.Content, ToolCallID: msg.ToolCallID}
	if len(msg.Images) > 0 {
		if b, err := json.Marshal(msg.Images); err == nil {
			row.ImagesJSON = string(b)
		}
	}
	if len(msg.ToolCalls) > 0 {
		if b, err := json.Marshal(msg.ToolCalls); err == nil {
			row.ToolCallsJSON = string(b)
		}
	}
	return row
}

func fromMessageRow(row sqlite.MessageRow) providers.Message {
	msg := providers.Message{Role: row.Role, Content: row.Content, ToolCallID: row.ToolCallID}
	if row.ImagesJSON != "" {
		_ = json.Unmarshal([]byte(row.ImagesJSON), &msg.Images)
	}
	if row.ToolCallsJSON != "" {
		_ = json.Unmarshal([]byte(row.ToolCallsJSON), &msg.ToolCalls)
	}
	return msg
}

func (m *Manager) bumpActivity(ctx context.Context, key string) {
	if m.store == nil {
		return
	}
	if err := m.store.UpdateActivity(ctx, key, nowMS()); err != nil {
		slog.Warn("failed to update session activity", "session_key", key, "error", err)
	}
}

// GetHistory returns the accumulated conversation for key.
func (m *Manager) GetHistory(key string) ([]providers.Message, error) {
	m.mu.RLock()
	managed, ok := m.sessions[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	managed.mu.Lock()
	defer managed.mu.Unlock()
	return managed.handle.Messages(), nil
}

// ListSessions returns a snapshot of every in-memory session.
func (m *Manager) ListSessions() []SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]SessionInfo, 0, len(m.sessions))
	for key, managed := range m.sessions {
		managed.mu.Lock()
		result = append(result, SessionInfo{
			SessionKey:   key,
			AgentName:    managed.agentName,
			ModelID:      managed.modelID,
			MessageCount: len(managed.handle.Messages()),
			CreatedAt:    managed.createdAt,
		})
		managed.mu.Unlock()
	}
	return result
}

// DeleteSession removes key's in-memory entry and soft-deletes its
// persisted row. Returns true if a session existed.
func (m *Manager) DeleteSession(ctx context.Context, key string) bool {
	m.mu.Lock()
	_, existed := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()

	if existed && m.store != nil {
		if err := m.store.SoftDelete(ctx, key); err != nil {
			slog.Warn("failed to soft-delete session", "session_key", key, "error", err)
		}
	}
	return existed
}

// HasSession reports whether key has a live in-memory entry.
func (m *Manager) HasSession(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[key]
	return ok
}

// RestoreSessions recreates every persisted active session at startup. Per
// row, it rebuilds the session's agent and model, then reloads that
// session's message history from gateway_messages and replays it into the
// handle via Restore, so a session with a pi_session_id resumes with its
// prior conversation intact instead of starting over empty. A failed row
// is logged and skipped without aborting the rest.
func (m *Manager) RestoreSessions(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}

	rows, err := m.store.ListActiveSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("load sessions from storage: %w", err)
	}

	slog.Info("restoring sessions from storage", "count", len(rows))
	for _, row := range rows {
		if err := m.CreateSession(ctx, row.SessionKey, row.AgentName); err != nil {
			slog.Warn("failed to restore session", "session_key", row.SessionKey, "error", err)
			continue
		}

		m.mu.RLock()
		managed, ok := m.sessions[row.SessionKey]
		m.mu.RUnlock()
		if !ok {
			continue
		}

		msgRows, err := m.store.LoadMessages(ctx, row.SessionKey)
		if err != nil {
			slog.Warn("failed to load session history", "session_key", row.SessionKey, "error", err)
			continue
		}
		if len(msgRows) > 0 {
			history := make([]providers.Message, len(msgRows))
			for i, r := range msgRows {
				history[i] = fromMessageRow(r)
			}
			managed.handle.Restore(history)
			managed.persistedCount = len(history)
			slog.Info("restored session history", "session_key", row.SessionKey, "messages", len(history))
		}

		if row.PiSessionID != "" {
			managed.piSessionIDSaved = true
		}
	}

	slog.Info("session restoration complete")
	return len(rows), nil
}

// ListAgents returns the currently configured agent set.
func (m *Manager) ListAgents() map[string]config.AgentConfig {
	return m.cfg.ListAgents()
}

// AddAgent adds or replaces an agent definition. It affects the next
// session creation only; existing sessions keep their original config.
func (m *Manager) AddAgent(name string, agentCfg config.AgentConfig) {
	m.cfg.SetAgent(name, agentCfg)
}

// DeleteAgent removes an agent definition. Returns true if it existed.
func (m *Manager) DeleteAgent(name string) bool {
	return m.cfg.DeleteAgent(name)
}

// GetConfig returns the live config in use by the manager.
func (m *Manager) GetConfig() *config.Config { return m.cfg }

// SetConfig replaces the live config's contents in place.
func (m *Manager) SetConfig(cfg *config.Config) {
	m.cfg.ReplaceFrom(cfg)
}
