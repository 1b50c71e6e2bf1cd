package infrastructure

import (
	"fmt"

	"toporia/internal/modules/realtime/application/port"
)

// TransportConfig selects and tunes one transport driver.
type TransportConfig struct {
	Driver    port.TransportDriver
	WebSocket WebSocketConfig
	SSE       SSEConfig
}

// NewTransport builds the configured transport. The driver set is closed;
// anything else is a configuration error.
func NewTransport(cfg TransportConfig, registry ConnectionRegistry) (port.Transport, error) {
	switch cfg.Driver {
	case port.TransportMemory:
		return NewMemoryTransport(registry), nil
	case port.TransportWebSocket:
		return NewWebSocketTransport(registry, cfg.WebSocket), nil
	case port.TransportSSE:
		return NewSSETransport(registry, cfg.SSE), nil
	default:
		return nil, fmt.Errorf("transport driver %q: %w", cfg.Driver, port.ErrUnknownDriver)
	}
}
