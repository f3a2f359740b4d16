// Package transport opens the stream connections the protocol runs over:
// plain TCP, or a WebSocket carrying the same frames as binary messages.
package transport

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
)

// WSPath is the HTTP path the WebSocket listener accepts on.
const WSPath = "/minijira"

// wsReadLimit covers the largest frame allowed by default limits.
const wsReadLimit = 16 << 20

// IsWebSocket reports whether addr selects the WebSocket transport.
func IsWebSocket(addr string) bool {
	return strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://")
}

// Dial connects to addr. Addresses starting with ws:// or wss:// use the
// WebSocket transport; anything else is a TCP host:port.
func Dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if !IsWebSocket(addr) {
		var dialer net.Dialer
		return dialer.DialContext(ctx, "tcp", addr)
	}
	conn, _, err := websocket.Dial(ctx, addr, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(wsReadLimit)
	return websocket.NetConn(context.Background(), conn, websocket.MessageBinary), nil
}

// WSHandler upgrades requests and hands each connection to serve. serve
// owns the connection and must close it.
func WSHandler(serve func(net.Conn)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("transport.WSHandler accept failed")
			return
		}
		conn.SetReadLimit(wsReadLimit)
		serve(websocket.NetConn(context.Background(), conn, websocket.MessageBinary))
	})
}
