package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"toporia/internal/modules/realtime/application/port"
	"toporia/internal/modules/realtime/domain"
)

var errNoFlusher = errors.New("response writer does not support flushing")

// SSEConfig tunes the per-stream behavior.
type SSEConfig struct {
	SendBuffer int
	// KeepAlive is the interval between comment frames that hold idle
	// streams open through proxies.
	KeepAlive time.Duration
}

func (cfg *SSEConfig) normalize() {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 30 * time.Second
	}
}

type sseStream struct {
	conn      *domain.Connection
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (s *sseStream) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// SSETransport delivers messages as server-sent events. Each connection is
// one long-lived HTTP response drained by Serve; sends never block, and a
// stream that stops draining is detached.
type SSETransport struct {
	registry ConnectionRegistry
	cfg      SSEConfig

	mu      sync.RWMutex
	streams map[string]*sseStream
}

var (
	_ port.Transport = (*SSETransport)(nil)
	_ domain.Sender  = (*SSETransport)(nil)
	_ domain.Closer  = (*SSETransport)(nil)
)

func NewSSETransport(registry ConnectionRegistry, cfg SSEConfig) *SSETransport {
	cfg.normalize()
	return &SSETransport{
		registry: registry,
		cfg:      cfg,
		streams:  make(map[string]*sseStream),
	}
}

// Attach creates a connection backed by a fresh stream and registers it.
// The caller follows up with Serve on the response writer.
func (t *SSETransport) Attach() *domain.Connection {
	conn := domain.NewConnection(t)
	stream := &sseStream{
		conn: conn,
		send: make(chan []byte, t.cfg.SendBuffer),
		done: make(chan struct{}),
	}
	t.mu.Lock()
	t.streams[conn.ID] = stream
	t.mu.Unlock()
	if t.registry != nil {
		t.registry.Register(conn)
	}
	slog.Info("sse stream attached", slog.String("connectionId", conn.ID))
	return conn
}

// Serve writes the event stream for the connection until the client goes
// away, the context ends, or the connection is closed. It blocks on the
// handler goroutine.
func (t *SSETransport) Serve(ctx context.Context, w http.ResponseWriter, conn *domain.Connection) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return errNoFlusher
	}
	t.mu.RLock()
	stream, found := t.streams[conn.ID]
	t.mu.RUnlock()
	if !found {
		return fmt.Errorf("serve %s: %w", conn.ID, port.ErrConnectionNotFound)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(t.cfg.KeepAlive)
	defer keepAlive.Stop()
	defer t.detach(conn.ID)

	for {
		select {
		case data := <-stream.send:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return err
			}
			flusher.Flush()
			conn.Touch()
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return err
			}
			flusher.Flush()
		case <-stream.done:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (t *SSETransport) Send(conn *domain.Connection, msg *domain.Message) error {
	t.mu.RLock()
	stream, ok := t.streams[conn.ID]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("send to %s: %w", conn.ID, port.ErrConnectionNotFound)
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	return t.enqueue(stream, data)
}

func (t *SSETransport) Broadcast(msg *domain.Message) int {
	data, err := msg.Encode()
	if err != nil {
		slog.Error("sse broadcast encode error", slog.Any("error", err))
		return 0
	}
	delivered := 0
	for _, stream := range t.snapshot() {
		if t.enqueue(stream, data) == nil {
			delivered++
		}
	}
	return delivered
}

func (t *SSETransport) BroadcastToChannel(channel string, msg *domain.Message) int {
	data, err := msg.Encode()
	if err != nil {
		slog.Error("sse broadcast encode error", slog.Any("error", err))
		return 0
	}
	delivered := 0
	for _, stream := range t.snapshot() {
		if !stream.conn.InChannel(channel) {
			continue
		}
		if t.enqueue(stream, data) == nil {
			delivered++
		}
	}
	return delivered
}

// Close ends the stream. The manager calls this mid-disconnect, so registry
// cleanup is deliberately not repeated here.
func (t *SSETransport) Close(conn *domain.Connection, code int, reason string) error {
	t.mu.Lock()
	stream, ok := t.streams[conn.ID]
	delete(t.streams, conn.ID)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	stream.close()
	return nil
}

func (t *SSETransport) ConnectionCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.streams)
}

func (t *SSETransport) HasConnection(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.streams[id]
	return ok
}

func (t *SSETransport) snapshot() []*sseStream {
	t.mu.RLock()
	defer t.mu.RUnlock()
	streams := make([]*sseStream, 0, len(t.streams))
	for _, stream := range t.streams {
		streams = append(streams, stream)
	}
	return streams
}

func (t *SSETransport) enqueue(stream *sseStream, data []byte) error {
	select {
	case stream.send <- data:
		return nil
	case <-stream.done:
		return errSendBufferFull
	default:
		slog.Warn("sse send buffer full", slog.String("connectionId", stream.conn.ID))
		go t.detach(stream.conn.ID)
		return errSendBufferFull
	}
}

// detach is the stream-initiated exit path; the manager finishes channel
// and registry cleanup through its own idempotent disconnect.
func (t *SSETransport) detach(id string) {
	t.mu.Lock()
	stream, ok := t.streams[id]
	if ok {
		delete(t.streams, id)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	stream.close()
	if t.registry != nil {
		_ = t.registry.Disconnect(id)
	}
	slog.Info("sse stream detached", slog.String("connectionId", id))
}
