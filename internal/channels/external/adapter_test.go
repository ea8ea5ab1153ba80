package external

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/aobot-gateway/internal/bus"
	"github.com/nextlevelbuilder/aobot-gateway/internal/config"
)

// echoPluginScript is a minimal shell "plugin" that answers initialize,
// start, send, and stop/shutdown with the results the protocol expects, and
// emits one inbound_message notification right after start.
const echoPluginScript = `
while IFS= read -r line; do
  case "$line" in
    *'"method":"initialize"'*)
      id=$(echo "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
      echo "{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":{\"channel_type\":\"echo\",\"supports_streaming\":false}}"
      ;;
    *'"method":"start"'*)
      id=$(echo "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
      echo "{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":{}}"
      echo "{\"jsonrpc\":\"2.0\",\"method\":\"inbound_message\",\"params\":{\"message\":{\"sender_id\":\"u1\",\"text\":\"hi from plugin\"}}}"
      ;;
    *'"method":"send"'*)
      id=$(echo "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
      echo "{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":{}}"
      ;;
    *'"method":"stop"'*|*'"method":"shutdown"'*)
      id=$(echo "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
      echo "{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":{}}"
      ;;
  esac
done
`

type recordingRouter struct {
	inbound chan bus.InboundMessage
}

func newRecordingRouter() *recordingRouter {
	return &recordingRouter{inbound: make(chan bus.InboundMessage, 4)}
}

func (r *recordingRouter) PublishInbound(msg bus.InboundMessage) error {
	r.inbound <- msg
	return nil
}
func (r *recordingRouter) ConsumeInbound(ctx context.Context) (bus.InboundMessage, bool) {
	select {
	case m := <-r.inbound:
		return m, true
	case <-ctx.Done():
		return bus.InboundMessage{}, false
	}
}
func (r *recordingRouter) PublishOutbound(bus.OutboundMessage) error { return nil }
func (r *recordingRouter) SubscribeOutbound(ctx context.Context) (bus.OutboundMessage, bool) {
	<-ctx.Done()
	return bus.OutboundMessage{}, false
}

func TestAdapter_StartPublishesInboundAndSendRoundTrips(t *testing.T) {
	router := newRecordingRouter()
	cfg := config.ExternalChannelConfig{Command: "sh", Args: []string{"-c", echoPluginScript}}
	a := New("echo1", cfg, router)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !a.IsRunning() {
		t.Error("expected adapter to report running after Start")
	}
	if a.RemoteChannelType() != "echo" {
		t.Errorf("RemoteChannelType() = %q, want echo", a.RemoteChannelType())
	}

	select {
	case msg := <-router.inbound:
		if msg.Text != "hi from plugin" || msg.ChannelID != "echo1" {
			t.Errorf("unexpected inbound message %+v", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for inbound_message notification")
	}

	if err := a.Send(ctx, bus.OutboundMessage{ChannelID: "echo1", RecipientID: "u1", Text: "reply"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if err := a.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if a.IsRunning() {
		t.Error("expected adapter to report stopped after Stop")
	}
}

func TestAdapter_StartTwiceReturnsErrorWithoutRestarting(t *testing.T) {
	router := newRecordingRouter()
	cfg := config.ExternalChannelConfig{Command: "sh", Args: []string{"-c", echoPluginScript}}
	a := New("echo2", cfg, router)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop(ctx)

	if err := a.Start(ctx); err == nil {
		t.Fatal("expected second Start to return an error")
	}
	if !a.IsRunning() {
		t.Error("expected adapter to remain running after a rejected second Start")
	}
}
