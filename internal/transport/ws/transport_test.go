package ws_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chatcore/internal/core"
	"chatcore/internal/store/memory"
	"chatcore/internal/transport/ws"
)

type fixture struct {
	presence   *core.Presence
	transport  *ws.Transport
}

func newFixture() fixture {
	presence := core.NewPresence()
	queues := core.NewMatchQueues(30 * time.Second)
	moderator := core.NewModerator("", 0.5, time.Second, false, 2, 5)
	pairs := core.NewPairRegistry(presence, time.Hour, nil)
	chat := core.NewChatRelay(presence, pairs, moderator, memory.NewMessageStore(), memory.NewHotStore(), time.Hour)
	recon := core.NewReconnector(presence, pairs, moderator)
	signal := core.NewSignalingRelay(presence, pairs)
	dispatcher := core.NewEventDispatcher(presence, queues, pairs, recon, chat, signal, memory.NewReportStore())
	transport := ws.New(presence, dispatcher, "*", 5*time.Second)
	return fixture{presence: presence, transport: transport}
}

func dialTestServer(t *testing.T, transport *ws.Transport) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(transport.ServeWs))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial failed: %v", err)
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

// TestTransportServeWsEchoesUserJoinConfirmation verifies an end-to-end
// WebSocket round trip: dialing the server and sending a user-join frame
// yields a session-confirmed frame back over the same connection.
func TestTransportServeWsEchoesUserJoinConfirmation(t *testing.T) {
	t.Parallel()

	fx := newFixture()
	conn, cleanup := dialTestServer(t, fx.transport)
	defer cleanup()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"user-join","data":{"sessionId":"sess-1"}}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !strings.Contains(string(message), "session-confirmed") {
		t.Fatalf("got %s, want a session-confirmed envelope", message)
	}
}

// TestTransportServeWsClosesOnClientDisconnect verifies that closing the
// client connection eventually removes the connection from Presence.
func TestTransportServeWsClosesOnClientDisconnect(t *testing.T) {
	t.Parallel()

	fx := newFixture()
	conn, cleanup := dialTestServer(t, fx.transport)
	defer cleanup()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"user-join","data":{"sessionId":"sess-1"}}`)); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatal(err)
	}
	conn.Close()

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := fx.presence.SessionByID("sess-1"); !ok {
			return
		}
		select {
		case <-deadline:
			t.Fatal("session was never cleaned up after client disconnect")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
