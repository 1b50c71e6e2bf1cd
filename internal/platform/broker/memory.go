package broker

import (
	"log/slog"
	"sync"

	"toporia/internal/modules/realtime/application/port"
	"toporia/internal/modules/realtime/domain"
)

// MemoryBroker dispatches published messages to in-process subscribers. It
// backs single-process deployments and tests; there is no cross-process
// fan-out. Dispatch is synchronous, so publish ordering is delivery
// ordering.
type MemoryBroker struct {
	mu        sync.RWMutex
	handlers  map[string][]port.MessageHandler
	connected bool
}

var _ port.Broker = (*MemoryBroker)(nil)

// NewMemoryBroker builds an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		handlers:  map[string][]port.MessageHandler{},
		connected: true,
	}
}

// Publish delivers the message to every handler subscribed to the channel.
// Handler errors are logged and do not affect the other handlers.
func (b *MemoryBroker) Publish(channel string, msg *domain.Message) error {
	b.mu.RLock()
	if !b.connected {
		b.mu.RUnlock()
		return port.ErrNotConnected
	}
	handlers := make([]port.MessageHandler, len(b.handlers[channel]))
	copy(handlers, b.handlers[channel])
	b.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(msg); err != nil {
			slog.Warn("memory broker handler error",
				slog.String("channel", channel),
				slog.Any("error", err))
		}
	}
	return nil
}

// Subscribe registers a handler for the channel.
func (b *MemoryBroker) Subscribe(channel string, handler port.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return port.ErrNotConnected
	}
	b.handlers[channel] = append(b.handlers[channel], handler)
	return nil
}

// Unsubscribe drops every handler registered for the channel.
func (b *MemoryBroker) Unsubscribe(channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, channel)
	return nil
}

// SubscriberCount reports the handlers registered for the channel.
func (b *MemoryBroker) SubscriberCount(channel string) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[channel]), nil
}

// IsConnected reports whether the broker accepts publishes.
func (b *MemoryBroker) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

// Disconnect drops all subscriptions. Safe to call more than once.
func (b *MemoryBroker) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = map[string][]port.MessageHandler{}
	b.connected = false
	return nil
}
