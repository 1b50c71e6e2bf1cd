package infrastructure

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"toporia/internal/modules/realtime/application/port"
	"toporia/internal/modules/realtime/domain"
)

var errSendBufferFull = errors.New("send buffer full")

// WebSocketConfig tunes the per-client socket behavior.
type WebSocketConfig struct {
	// SendBuffer is the per-client outbound queue. A client that cannot
	// drain it is detached rather than allowed to stall a broadcast.
	SendBuffer     int
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
}

func (cfg *WebSocketConfig) normalize() {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 1 << 16
	}
}

// WebSocketTransport holds every upgraded socket on this server. It is the
// sender behind each connection it creates; socket state lives here and
// nowhere else.
type WebSocketTransport struct {
	registry ConnectionRegistry
	commands *CommandProcessor
	cfg      WebSocketConfig

	mu      sync.RWMutex
	clients map[string]*Client
}

var (
	_ port.Transport = (*WebSocketTransport)(nil)
	_ domain.Sender  = (*WebSocketTransport)(nil)
	_ domain.Closer  = (*WebSocketTransport)(nil)
)

func NewWebSocketTransport(registry ConnectionRegistry, cfg WebSocketConfig) *WebSocketTransport {
	cfg.normalize()
	t := &WebSocketTransport{
		registry: registry,
		cfg:      cfg,
		clients:  make(map[string]*Client),
	}
	t.commands = NewCommandProcessor(registry, nil)
	return t
}

// Attach wraps an upgraded socket in a client and registers its connection.
// The caller owns the pump loops: start WritePump on its own goroutine and
// block on ReadPump for the life of the socket.
func (t *WebSocketTransport) Attach(ws *websocket.Conn) (*Client, *domain.Connection) {
	conn := domain.NewConnection(t)
	client := &Client{
		transport: t,
		ws:        ws,
		conn:      conn,
		send:      make(chan []byte, t.cfg.SendBuffer),
		done:      make(chan struct{}),
	}
	t.mu.Lock()
	t.clients[conn.ID] = client
	t.mu.Unlock()
	if t.registry != nil {
		t.registry.Register(conn)
	}
	slog.Info("ws client attached", slog.String("connectionId", conn.ID))
	return client, conn
}

func (t *WebSocketTransport) Send(conn *domain.Connection, msg *domain.Message) error {
	t.mu.RLock()
	client, ok := t.clients[conn.ID]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("send to %s: %w", conn.ID, port.ErrConnectionNotFound)
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	return client.enqueue(data)
}

func (t *WebSocketTransport) Broadcast(msg *domain.Message) int {
	data, err := msg.Encode()
	if err != nil {
		slog.Error("ws broadcast encode error", slog.Any("error", err))
		return 0
	}
	delivered := 0
	for _, client := range t.snapshot() {
		if client.enqueue(data) == nil {
			delivered++
		}
	}
	return delivered
}

func (t *WebSocketTransport) BroadcastToChannel(channel string, msg *domain.Message) int {
	data, err := msg.Encode()
	if err != nil {
		slog.Error("ws broadcast encode error", slog.Any("error", err))
		return 0
	}
	delivered := 0
	for _, client := range t.snapshot() {
		if !client.conn.InChannel(channel) {
			continue
		}
		if client.enqueue(data) == nil {
			delivered++
		}
	}
	return delivered
}

// Close tears the socket down with a close frame. The manager calls this
// mid-disconnect, so registry cleanup is deliberately not repeated here.
func (t *WebSocketTransport) Close(conn *domain.Connection, code int, reason string) error {
	t.mu.Lock()
	client, ok := t.clients[conn.ID]
	delete(t.clients, conn.ID)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	client.closeWith(code, reason)
	return nil
}

func (t *WebSocketTransport) ConnectionCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clients)
}

func (t *WebSocketTransport) HasConnection(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.clients[id]
	return ok
}

func (t *WebSocketTransport) snapshot() []*Client {
	t.mu.RLock()
	defer t.mu.RUnlock()
	clients := make([]*Client, 0, len(t.clients))
	for _, client := range t.clients {
		clients = append(clients, client)
	}
	return clients
}

// detach is the socket-initiated exit path: the read pump saw the peer go
// away. Socket state goes first, then the manager finishes channel and
// registry cleanup through its own idempotent disconnect.
func (t *WebSocketTransport) detach(c *Client) {
	t.mu.Lock()
	current, ok := t.clients[c.conn.ID]
	if ok && current == c {
		delete(t.clients, c.conn.ID)
	}
	t.mu.Unlock()
	c.close()
	if ok && current == c && t.registry != nil {
		_ = t.registry.Disconnect(c.conn.ID)
	}
	slog.Info("ws client detached", slog.String("connectionId", c.conn.ID))
}
