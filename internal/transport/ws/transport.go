// Package ws is the gorilla/websocket transport adapter for the
// coordination core's EventDispatcher (C9, spec.md §4.9). It owns the
// socket; the core never touches it directly. Grounded on the teacher's
// internal/websocket package (ReadPump/WritePump/sendEvent), generalized
// from a single-user fan-out hub to a bare accept-and-pump adapter since
// this core's fan-out target (the paired connections) is already tracked
// by Presence/PairRegistry rather than a hub-owned client map.
package ws

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chatcore/internal/core"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024 // 64KB is ample for chat/signaling frames; media never flows through the core.
)

// Transport accepts WebSocket connections and drives each one's
// reader/writer pump pair, delivering decoded frames to the
// EventDispatcher and draining outbound frames from the Connection's
// bounded Send channel (spec.md §5 and §9).
type Transport struct {
	presence   *core.Presence
	dispatcher *core.EventDispatcher
	pongWait   time.Duration
	upgrader   websocket.Upgrader
}

// New constructs a Transport. allowedOrigins is a comma-separated list,
// matching the teacher's CORS_ALLOWED_ORIGINS convention; pongWait should
// exceed config.PingInterval with margin (spec.md §6 PONG_TIMEOUT_MS is
// informational for clients, but the transport still needs a read
// deadline so an unresponsive socket doesn't block forever).
func New(presence *core.Presence, dispatcher *core.EventDispatcher, allowedOrigins string, pongWait time.Duration) *Transport {
	origins := strings.Split(allowedOrigins, ",")
	return &Transport{
		presence:   presence,
		dispatcher: dispatcher,
		pongWait:   pongWait,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originURL, err := url.Parse(origin)
				if err != nil {
					return false
				}
				for _, allowed := range origins {
					allowed = strings.TrimSpace(allowed)
					if strings.EqualFold(allowed, originURL.String()) || strings.EqualFold(allowed, originURL.Hostname()) {
						return true
					}
				}
				log.Printf("[transport/ws] connection from disallowed origin rejected: %s", origin)
				return false
			},
		},
	}
}

// ServeWs upgrades r and spawns the reader/writer pumps for a brand-new
// connection. It blocks until the connection closes.
func (t *Transport) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[transport/ws] upgrade failed: %v", err)
		return
	}

	connID := uuid.NewString()
	c := t.presence.Accept(connID)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t.writePump(conn, c)
	}()

	t.readPump(conn, connID, c)
	wg.Wait()
}

// readPump decodes inbound frames in arrival order (spec.md §5's ordering
// guarantee) and dispatches each to the EventDispatcher. A per-connection
// recover guard turns an uncaught panic in a handler into a FatalProcess
// close (spec.md §7) instead of taking the whole process down.
func (t *Transport) readPump(conn *websocket.Conn, connID string, c *core.Connection) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[transport/ws] PANIC in reader for conn %s: %v", connID, r)
		}
		t.dispatcher.HandleDisconnect(connID)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(t.pongWait))

	ctx := context.Background()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[transport/ws] read error for conn %s: %v", connID, err)
			}
			return
		}
		// Liveness is tracked at the application level (spec.md §4.5's
		// ping/pong wire events, handled by Heartbeat/EvPong), not via
		// native WebSocket control frames — but any inbound frame at all
		// still proves the socket is alive, so the read deadline is pushed
		// out here regardless of frame content.
		conn.SetReadDeadline(time.Now().Add(t.pongWait))

		// Processing happens inline rather than in a spawned goroutine: the
		// spec requires a connection's inbound events to be handled in
		// arrival order, and the only I/O a handler performs (Moderator
		// Layer 2) already runs under its own timeout without holding any
		// core lock, so it cannot stall other connections' readers.
		t.dispatcher.HandleMessage(ctx, connID, message)
	}
}

// writePump drains c.Send in enqueue order until the channel is closed by
// Presence.Remove (spec.md §5's per-connection outbound ordering
// guarantee).
func (t *Transport) writePump(conn *websocket.Conn, c *core.Connection) {
	defer conn.Close()
	for message := range c.Send {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// Ping sends a native WebSocket ping control frame. Unused by default —
// Heartbeat emits an application-level "ping" event instead, matching
// spec.md §4.5's wire-level ping/pong rather than the transport-level
// ping/pong gorilla/websocket also supports. Kept for operators who want
// TCP-level keepalive in addition to the application heartbeat.
func Ping(conn *websocket.Conn) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.PingMessage, nil)
}
