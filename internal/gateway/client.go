package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/aobot-gateway/pkg/protocol"
)

// Client is one WebSocket connection's JSON-RPC session: requests are read
// and dispatched concurrently (each in its own goroutine, so a long-running
// chat.stream call never blocks other requests on the same connection),
// while writes are serialized through writeMu since notifications and
// responses can be produced concurrently.
type Client struct {
	id     string
	conn   *websocket.Conn
	router *MethodRouter

	writeMu sync.Mutex
}

// NewClient wraps an upgraded WebSocket connection bound to router.
func NewClient(conn *websocket.Conn, router *MethodRouter) *Client {
	return &Client{
		id:     uuid.NewString(),
		conn:   conn,
		router: router,
	}
}

// Run reads JSON-RPC requests until reading from the connection fails
// (typically because it closed). ctx is handed to each request's handler;
// the read loop itself does not watch it.
func (c *Client) Run(ctx context.Context) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var req protocol.JSONRPCRequest
		if err := json.Unmarshal(data, &req); err != nil {
			c.writeResponse(protocol.ErrorResponse(nil, protocol.ParseError, err.Error()))
			continue
		}

		go c.handle(ctx, req)
	}
}

func (c *Client) handle(ctx context.Context, req protocol.JSONRPCRequest) {
	result, err := c.router.Dispatch(ctx, c, req.Method, req.Params)
	if req.IsNotification() {
		return
	}
	if err != nil {
		c.writeResponse(protocol.ErrorResponse(req.ID, protocol.InternalError, err.Error()))
		return
	}
	c.writeResponse(protocol.Success(req.ID, result))
}

// SendEvent forwards a chat.stream notification over this connection.
func (c *Client) SendEvent(method string, params interface{}) {
	notif, err := protocol.NewNotification(method, params)
	if err != nil {
		slog.Warn("failed to encode client event", "client_id", c.id, "error", err)
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(notif); err != nil {
		slog.Warn("failed to write client event", "client_id", c.id, "error", err)
	}
}

func (c *Client) writeResponse(resp protocol.JSONRPCResponse) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(resp); err != nil {
		slog.Warn("failed to write client response", "client_id", c.id, "error", err)
	}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
