package rpc

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"

	"fixme/internal/logging"
)

// WebSocketHandler serves the dispatcher over WebSocket text frames, one
// request per frame. Each connection gets its own in-flight id set and
// worker pool.
type WebSocketHandler struct {
	d        *Dispatcher
	ctx      context.Context
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a handler whose connections live at most as
// long as ctx. Only loopback origins (or none) are accepted.
func NewWebSocketHandler(ctx context.Context, d *Dispatcher) *WebSocketHandler {
	return &WebSocketHandler{
		d:   d,
		ctx: ctx,
		upgrader: websocket.Upgrader{
			CheckOrigin: loopbackOrigin,
		},
	}
}

func loopbackOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "tauri", "file":
		return true
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.RPCWarn("ws upgrade failed from %s: %v", r.RemoteAddr, err)
		return
	}
	defer c.Close()
	if limit := h.d.opts.MaxMessageBytes; limit > 0 {
		c.SetReadLimit(int64(limit))
	}
	logging.RPC("ws client connected: %s", r.RemoteAddr)

	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		// Unblocks ReadMessage when the server shuts down.
		_ = c.Close()
	}()

	wc := &wsConn{c: c}
	if err := h.d.Serve(ctx, wc, wc); err != nil {
		logging.RPCWarn("ws client %s: %v", r.RemoteAddr, err)
	}
	_ = c.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	logging.RPC("ws client disconnected: %s", r.RemoteAddr)
}

// wsConn adapts a websocket connection to MessageReader and MessageWriter.
type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	for {
		kind, data, err := w.c.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				errors.Is(err, net.ErrClosed) {
				return nil, ErrConnectionClosed
			}
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (w *wsConn) WriteMessage(data []byte) error {
	return w.c.WriteMessage(websocket.TextMessage, data)
}
