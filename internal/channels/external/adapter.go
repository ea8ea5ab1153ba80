package external

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/aobot-gateway/internal/bus"
	"github.com/nextlevelbuilder/aobot-gateway/internal/channels"
	"github.com/nextlevelbuilder/aobot-gateway/internal/config"
	"github.com/nextlevelbuilder/aobot-gateway/pkg/protocol"
)

// defaultTimeout bounds every RPC except notify_processing, which gets the
// shorter notifyTimeout so a stalled typing hint can never stall an agent
// turn.
const (
	defaultTimeout  = 30 * time.Second
	notifyTimeout   = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Adapter exposes a subprocess speaking the plugin protocol as an ordinary
// channels.Channel. The synchronous ChannelType always reports "external";
// the plugin's self-reported type is captured once at Start and exposed via
// RemoteChannelType for callers that need it.
type Adapter struct {
	*channels.BaseChannel

	cfg config.ExternalChannelConfig

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	cancel context.CancelFunc
	done   chan struct{}

	pendingMu sync.Mutex
	pending   map[int64]chan envelope
	nextID    int64

	remoteType        atomic.Value // string
	supportsStreaming atomic.Bool
}

// New builds an Adapter for one external plugin instance. It does not spawn
// the subprocess — that happens in Start.
func New(channelID string, cfg config.ExternalChannelConfig, router bus.MessageRouter) *Adapter {
	a := &Adapter{
		BaseChannel: channels.NewBaseChannel("external", channelID, router, nil),
		cfg:         cfg,
		pending:     make(map[int64]chan envelope),
	}
	a.remoteType.Store("external")
	return a
}

// RemoteChannelType returns the channel_type the subprocess reported at
// initialize, or "external" if Start has not completed yet.
func (a *Adapter) RemoteChannelType() string { return a.remoteType.Load().(string) }

// SupportsStreaming reports the plugin's initialize-time streaming claim.
func (a *Adapter) SupportsStreaming() bool { return a.supportsStreaming.Load() }

// Start spawns the subprocess, performs the initialize/start handshake, and
// marks the channel Running. Any failure sets an Error status and returns.
func (a *Adapter) Start(ctx context.Context) error {
	if a.IsRunning() {
		return fmt.Errorf("external channel %q is already running", a.ChannelID())
	}
	a.SetStarting()

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, a.cfg.Command, a.cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range a.cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		a.SetError(err.Error())
		return fmt.Errorf("open stdin for %q: %w", a.ChannelID(), err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		a.SetError(err.Error())
		return fmt.Errorf("open stdout for %q: %w", a.ChannelID(), err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		a.SetError(err.Error())
		return fmt.Errorf("spawn external channel %q: %w", a.ChannelID(), err)
	}

	a.cmd = cmd
	a.stdin = stdin
	a.cancel = cancel
	a.done = make(chan struct{})

	go a.readLoop(stdout)

	initCtx, initCancel := context.WithTimeout(ctx, defaultTimeout)
	defer initCancel()

	result, err := a.call(initCtx, protocol.PluginMethodInitialize, map[string]interface{}{
		"channel_id": a.ChannelID(),
		"config":     a.cfg,
	})
	if err != nil {
		a.SetError(err.Error())
		return fmt.Errorf("initialize %q: %w", a.ChannelID(), err)
	}

	var initResult struct {
		ChannelType      string `json:"channel_type"`
		SupportsStreaming bool  `json:"supports_streaming"`
	}
	if err := json.Unmarshal(result, &initResult); err == nil && initResult.ChannelType != "" {
		a.remoteType.Store(initResult.ChannelType)
	}
	a.supportsStreaming.Store(initResult.SupportsStreaming)

	startCtx, startCancel := context.WithTimeout(ctx, defaultTimeout)
	defer startCancel()
	if _, err := a.call(startCtx, protocol.PluginMethodStart, nil); err != nil {
		a.SetError(err.Error())
		return fmt.Errorf("start %q: %w", a.ChannelID(), err)
	}

	a.SetRunning(true)
	return nil
}

// Stop best-effort notifies the subprocess, closes stdin, waits up to
// shutdownTimeout, then kills it.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.cmd == nil {
		a.SetRunning(false)
		return nil
	}

	stopCtx, stopCancel := context.WithTimeout(ctx, defaultTimeout)
	if _, err := a.call(stopCtx, protocol.PluginMethodStop, nil); err != nil {
		slog.Warn("external channel stop RPC failed", "channel_id", a.ChannelID(), "error", err)
	}
	stopCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, defaultTimeout)
	if _, err := a.call(shutdownCtx, protocol.PluginMethodShutdown, nil); err != nil {
		slog.Warn("external channel shutdown RPC failed", "channel_id", a.ChannelID(), "error", err)
	}
	shutdownCancel()

	_ = a.stdin.Close()

	waited := make(chan error, 1)
	go func() { waited <- a.cmd.Wait() }()

	select {
	case <-waited:
	case <-time.After(shutdownTimeout):
		slog.Warn("external channel did not exit in time, killing", "channel_id", a.ChannelID())
		_ = a.cmd.Process.Kill()
		<-waited
	}

	a.cancel()
	<-a.done

	a.pendingMu.Lock()
	for id, ch := range a.pending {
		close(ch)
		delete(a.pending, id)
	}
	a.pendingMu.Unlock()

	a.SetRunning(false)
	return nil
}

// Send posts an outbound message to the subprocess.
func (a *Adapter) Send(ctx context.Context, msg bus.OutboundMessage) error {
	callCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	_, err := a.call(callCtx, protocol.PluginMethodSend, map[string]interface{}{"message": msg})
	return err
}

// NotifyProcessing asks the subprocess to show a "typing" affordance. The
// deadline is shorter than other RPCs so a misbehaving plugin cannot stall
// the agent turn waiting on it.
func (a *Adapter) NotifyProcessing(ctx context.Context, recipientID string, metadata map[string]string) error {
	callCtx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	_, err := a.call(callCtx, protocol.PluginMethodNotifyProcessing, map[string]interface{}{
		"recipient_id": recipientID,
		"metadata":     metadata,
	})
	return err
}

// call sends a request and blocks for its correlated response or ctx
// expiry, whichever comes first.
func (a *Adapter) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := atomic.AddInt64(&a.nextID, 1)
	req, err := newRequest(id, method, params)
	if err != nil {
		return nil, fmt.Errorf("encode %s params: %w", method, err)
	}

	reply := make(chan envelope, 1)
	a.pendingMu.Lock()
	a.pending[id] = reply
	a.pendingMu.Unlock()
	defer func() {
		a.pendingMu.Lock()
		delete(a.pending, id)
		a.pendingMu.Unlock()
	}()

	if err := a.writeLine(req); err != nil {
		return nil, fmt.Errorf("write %s request: %w", method, err)
	}

	select {
	case resp, ok := <-reply:
		if !ok {
			return nil, fmt.Errorf("%s: connection closed before reply", method)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("%s: %w", method, resp.Error)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

func (a *Adapter) writeLine(e envelope) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = a.stdin.Write(data)
	return err
}

// readLoop is the reader goroutine: it never takes a.mu (there is no main
// lock on this adapter, only the independently-guarded pending table), so a
// slow consumer of notifications can never block a concurrent call's write.
func (a *Adapter) readLoop(stdout io.Reader) {
	defer close(a.done)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var e envelope
		if err := json.Unmarshal(line, &e); err != nil {
			slog.Warn("external channel sent invalid JSON-RPC line", "channel_id", a.ChannelID(), "error", err)
			continue
		}

		if e.isResponse() {
			a.pendingMu.Lock()
			reply, ok := a.pending[*e.ID]
			if ok {
				delete(a.pending, *e.ID)
			}
			a.pendingMu.Unlock()
			if !ok {
				slog.Warn("external channel response for unknown id", "channel_id", a.ChannelID(), "id", *e.ID)
				continue
			}
			reply <- e
			continue
		}

		a.handleNotification(e)
	}
}

func (a *Adapter) handleNotification(e envelope) {
	switch e.Method {
	case protocol.PluginNotifyInboundMessage:
		var payload struct {
			Message bus.InboundMessage `json:"message"`
		}
		if err := json.Unmarshal(e.Params, &payload); err != nil {
			slog.Warn("external channel sent malformed inbound_message", "channel_id", a.ChannelID(), "error", err)
			return
		}
		msg := payload.Message
		if err := a.Publish(msg.SenderID, msg.SenderName, msg.Text, msg.Attachments, msg.Metadata, msg.Timestamp); err != nil {
			slog.Warn("failed to publish external channel message", "channel_id", a.ChannelID(), "error", err)
		}
	case protocol.PluginNotifyStatusChange:
		var payload struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(e.Params, &payload); err != nil {
			return
		}
		if payload.Status != "" {
			slog.Info("external channel status changed", "channel_id", a.ChannelID(), "status", payload.Status)
		}
	case protocol.PluginNotifyLog:
		var payload struct {
			Level   string `json:"level"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(e.Params, &payload); err != nil {
			return
		}
		slog.Info("external channel log", "channel_id", a.ChannelID(), "level", payload.Level, "message", payload.Message)
	default:
		slog.Warn("external channel sent unknown notification", "channel_id", a.ChannelID(), "method", e.Method)
	}
}
