package gateway

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/aobot-gateway/internal/bus"
	"github.com/nextlevelbuilder/aobot-gateway/internal/channels"
	"github.com/nextlevelbuilder/aobot-gateway/internal/config"
	"github.com/nextlevelbuilder/aobot-gateway/internal/sessions"
	"github.com/nextlevelbuilder/aobot-gateway/pkg/protocol"
)

func dialTestServer(t *testing.T, srv *Server, token string) (*websocket.Conn, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	addr, start := StartTestServer(srv, ctx)
	go start()
	time.Sleep(50 * time.Millisecond)

	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		cancel()
		t.Fatalf("dial: %v", err)
	}
	return conn, func() {
		conn.Close()
		cancel()
	}
}

func newTestServer(authToken string) *Server {
	cfg := config.Default()
	cfg.Gateway.AuthToken = authToken
	sessionMgr := sessions.NewManager(cfg, nil)
	channelMgr := channels.NewManager(bus.NewMessageBus())
	return NewServer(cfg, sessionMgr, channelMgr)
}

func TestHealth_RoundTrips(t *testing.T) {
	conn, closeAll := dialTestServer(t, newTestServer(""), "")
	defer closeAll()

	req, err := protocol.NewRequest(1, protocol.MethodHealth, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write: %v", err)
	}

	var resp protocol.JSONRPCResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	var result map[string]string
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result["status"] != "ok" {
		t.Errorf("result = %+v, want status=ok", result)
	}
}

func TestMethodNotFound_ReturnsError(t *testing.T) {
	conn, closeAll := dialTestServer(t, newTestServer(""), "")
	defer closeAll()

	req, err := protocol.NewRequest(1, "bogus.method", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write: %v", err)
	}

	var resp protocol.JSONRPCResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Error == nil {
		t.Fatal("expected an error response for an unknown method")
	}
}

func TestCheckAuth_RejectsMissingToken(t *testing.T) {
	srv := newTestServer("secret")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr, start := StartTestServer(srv, ctx)
	go start()
	time.Sleep(50 * time.Millisecond)

	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	_, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err == nil {
		t.Fatal("expected dial to fail without a token")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestCheckAuth_AcceptsQueryToken(t *testing.T) {
	conn, closeAll := dialTestServer(t, newTestServer("secret"), "secret")
	defer closeAll()

	req, err := protocol.NewRequest(1, protocol.MethodHealth, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp protocol.JSONRPCResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}

func TestChatSend_RequiresSessionKey(t *testing.T) {
	conn, closeAll := dialTestServer(t, newTestServer(""), "")
	defer closeAll()

	req, err := protocol.NewRequest(1, protocol.MethodChatSend, map[string]string{"text": "hi"})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp protocol.JSONRPCResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Error == nil || !strings.Contains(resp.Error.Message, "session_key") {
		t.Fatalf("expected a session_key validation error, got %+v", resp.Error)
	}
}
