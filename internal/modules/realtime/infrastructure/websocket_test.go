package infrastructure

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"toporia/internal/modules/realtime/domain"
)

type wsTestServer struct {
	srv       *httptest.Server
	transport *WebSocketTransport
	registry  *fakeRegistry
	conns     chan *domain.Connection
}

func newWSTestServer(t *testing.T) *wsTestServer {
	t.Helper()
	registry := &fakeRegistry{}
	transport := NewWebSocketTransport(registry, WebSocketConfig{SendBuffer: 8})
	ts := &wsTestServer{
		transport: transport,
		registry:  registry,
		conns:     make(chan *domain.Connection, 4),
	}

	upgrader := websocket.Upgrader{}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client, conn := transport.Attach(ws)
		ts.conns <- conn
		go client.WritePump()
		client.ReadPump()
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *wsTestServer) dial(t *testing.T) (*websocket.Conn, *domain.Connection) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })

	select {
	case conn := <-ts.conns:
		return ws, conn
	case <-time.After(2 * time.Second):
		t.Fatal("server never attached the connection")
		return nil, nil
	}
}

func readFrame(t *testing.T, ws *websocket.Conn) *domain.Message {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	msg, err := domain.DecodeMessage(raw)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return msg
}

func TestWebSocketDirectedSend(t *testing.T) {
	ts := newWSTestServer(t)
	ws, conn := ts.dial(t)

	sent := domain.NewEventMessage("chat.1", "message.created", "hello")
	if err := ts.transport.Send(conn, sent); err != nil {
		t.Fatalf("send: %v", err)
	}

	got := readFrame(t, ws)
	if got.ID != sent.ID || got.Event != "message.created" || got.Channel != "chat.1" {
		t.Fatalf("received %+v, want the sent message", got)
	}
}

func TestWebSocketBroadcastToChannel(t *testing.T) {
	ts := newWSTestServer(t)
	wsMember, member := ts.dial(t)
	wsOutsider, _ := ts.dial(t)

	member.JoinChannel("chat.1")
	msg := domain.NewEventMessage("chat.1", "message.created", nil)
	if delivered := ts.transport.BroadcastToChannel("chat.1", msg); delivered != 1 {
		t.Fatalf("delivered %d, want 1", delivered)
	}

	got := readFrame(t, wsMember)
	if got.ID != msg.ID {
		t.Fatalf("member received %+v, want the broadcast", got)
	}

	_ = wsOutsider.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, _, err := wsOutsider.ReadMessage(); err == nil {
		t.Fatal("outsider should not receive channel broadcasts")
	}
}

func TestWebSocketSubscribeCommand(t *testing.T) {
	ts := newWSTestServer(t)
	ws, conn := ts.dial(t)

	sub := &domain.Message{Type: domain.TypeSubscribe, Channel: "chat.1"}
	if err := ws.WriteJSON(sub); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	waitFor(t, func() bool { return conn.InChannel("chat.1") })

	msg := domain.NewEventMessage("chat.1", "message.created", nil)
	if delivered := ts.transport.BroadcastToChannel("chat.1", msg); delivered != 1 {
		t.Fatalf("delivered %d, want 1", delivered)
	}
	if got := readFrame(t, ws); got.ID != msg.ID {
		t.Fatalf("received %+v, want the broadcast", got)
	}
}

func TestWebSocketPingCommand(t *testing.T) {
	ts := newWSTestServer(t)
	ws, _ := ts.dial(t)

	if err := ws.WriteJSON(&domain.Message{Type: domain.TypePing}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	got := readFrame(t, ws)
	if got.Type != domain.TypePong {
		t.Fatalf("type = %s, want pong", got.Type)
	}
}

func TestWebSocketMalformedFrameKeepsConnection(t *testing.T) {
	ts := newWSTestServer(t)
	ws, _ := ts.dial(t)

	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := readFrame(t, ws)
	if got.Type != domain.TypeError {
		t.Fatalf("type = %s, want error", got.Type)
	}

	if err := ws.WriteJSON(&domain.Message{Type: domain.TypePing}); err != nil {
		t.Fatalf("write ping after malformed frame: %v", err)
	}
	if got := readFrame(t, ws); got.Type != domain.TypePong {
		t.Fatalf("type = %s, want pong after malformed frame", got.Type)
	}
}

func TestWebSocketUnauthorizedSubscribe(t *testing.T) {
	ts := newWSTestServer(t)
	ts.registry.failSubscribes(domain.ErrUnauthorized)
	ws, conn := ts.dial(t)

	if err := ws.WriteJSON(&domain.Message{Type: domain.TypeSubscribe, Channel: "private-x"}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	got := readFrame(t, ws)
	if got.Type != domain.TypeError {
		t.Fatalf("type = %s, want error", got.Type)
	}
	if conn.InChannel("private-x") {
		t.Fatal("refused subscription should not join the channel")
	}
}

func TestWebSocketClientDisconnectDetaches(t *testing.T) {
	ts := newWSTestServer(t)
	ws, conn := ts.dial(t)

	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = ws.Close()

	waitFor(t, func() bool { return !ts.transport.HasConnection(conn.ID) })
	waitFor(t, func() bool { return ts.registry.disconnectedCount() == 1 })
}

func TestWebSocketCloseSendsCloseFrame(t *testing.T) {
	ts := newWSTestServer(t)
	ws, conn := ts.dial(t)

	if err := ts.transport.Close(conn, websocket.CloseNormalClosure, "done"); err != nil {
		t.Fatalf("close: %v", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("err = %v, want normal close", err)
	}
	if ts.transport.HasConnection(conn.ID) {
		t.Fatal("closed connection still present")
	}
}
