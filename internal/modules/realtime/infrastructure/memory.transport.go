package infrastructure

import (
	"errors"
	"fmt"
	"sync"

	"toporia/internal/modules/realtime/application/port"
	"toporia/internal/modules/realtime/domain"
)

var errInjectedFailure = errors.New("injected send failure")

// MemoryTransport is the reference transport: deliveries land in an
// in-memory outbox per connection. It backs tests and single-process
// deployments where the caller inspects traffic directly.
type MemoryTransport struct {
	registry ConnectionRegistry

	mu      sync.RWMutex
	conns   map[string]*domain.Connection
	outbox  map[string][]*domain.Message
	failing map[string]struct{}
}

var (
	_ port.Transport = (*MemoryTransport)(nil)
	_ domain.Sender  = (*MemoryTransport)(nil)
	_ domain.Closer  = (*MemoryTransport)(nil)
)

func NewMemoryTransport(registry ConnectionRegistry) *MemoryTransport {
	return &MemoryTransport{
		registry: registry,
		conns:    make(map[string]*domain.Connection),
		outbox:   make(map[string][]*domain.Message),
		failing:  make(map[string]struct{}),
	}
}

// Connect creates a connection backed by this transport and registers it.
func (t *MemoryTransport) Connect() *domain.Connection {
	conn := domain.NewConnection(t)
	t.mu.Lock()
	t.conns[conn.ID] = conn
	t.mu.Unlock()
	if t.registry != nil {
		t.registry.Register(conn)
	}
	return conn
}

// FailConnection makes every future send to the connection fail. It exists
// so failure-isolation behavior can be exercised without a real socket.
func (t *MemoryTransport) FailConnection(id string) {
	t.mu.Lock()
	t.failing[id] = struct{}{}
	t.mu.Unlock()
}

// Deliveries returns a snapshot of everything sent to the connection.
func (t *MemoryTransport) Deliveries(id string) []*domain.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*domain.Message, len(t.outbox[id]))
	copy(out, t.outbox[id])
	return out
}

func (t *MemoryTransport) Send(conn *domain.Connection, msg *domain.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.conns[conn.ID]; !ok {
		return fmt.Errorf("send to %s: %w", conn.ID, port.ErrConnectionNotFound)
	}
	if _, ok := t.failing[conn.ID]; ok {
		return fmt.Errorf("send to %s: %w", conn.ID, errInjectedFailure)
	}
	t.outbox[conn.ID] = append(t.outbox[conn.ID], msg)
	return nil
}

func (t *MemoryTransport) Broadcast(msg *domain.Message) int {
	delivered := 0
	for _, conn := range t.snapshot() {
		if t.Send(conn, msg) == nil {
			delivered++
		}
	}
	return delivered
}

func (t *MemoryTransport) BroadcastToChannel(channel string, msg *domain.Message) int {
	delivered := 0
	for _, conn := range t.snapshot() {
		if !conn.InChannel(channel) {
			continue
		}
		if t.Send(conn, msg) == nil {
			delivered++
		}
	}
	return delivered
}

func (t *MemoryTransport) Close(conn *domain.Connection, code int, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, conn.ID)
	delete(t.failing, conn.ID)
	return nil
}

func (t *MemoryTransport) ConnectionCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}

func (t *MemoryTransport) HasConnection(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.conns[id]
	return ok
}

func (t *MemoryTransport) snapshot() []*domain.Connection {
	t.mu.RLock()
	defer t.mu.RUnlock()
	conns := make([]*domain.Connection, 0, len(t.conns))
	for _, conn := range t.conns {
		conns = append(conns, conn)
	}
	return conns
}
