package application

import (
	"fmt"
	"log/slog"
	"sync"

	"toporia/internal/modules/realtime/application/port"
	"toporia/internal/modules/realtime/domain"
)

// closeNormal matches the websocket normal-closure code; transports without
// close codes ignore it.
const closeNormal = 1000

// TransportFactory builds the transport registered under a name. The
// concrete driver behind a name is configuration; unknown names fail with
// port.ErrUnknownDriver.
type TransportFactory func(name string) (port.Transport, error)

// BrokerFactory builds the broker registered under a name.
type BrokerFactory func(name string) (port.Broker, error)

// ChannelAuthorizer yields the subscription predicate installed on
// restricted channels when they are first created.
type ChannelAuthorizer func(channel string) domain.Authorizer

// Manager is the single source of truth for channels, connections,
// transports, and brokers. Channels and both driver kinds are created
// lazily on first reference and cached for the process lifetime; the
// manager is the only writer of registry-level membership.
type Manager struct {
	log *slog.Logger

	transportFactory TransportFactory
	brokerFactory    BrokerFactory
	channelAuth      ChannelAuthorizer

	defaultTransport string
	defaultBroker    string

	mu          sync.RWMutex
	channels    map[string]*domain.Channel
	connections map[string]*domain.Connection
	transports  map[string]port.Transport
	brokers     map[string]port.Broker
}

var _ port.Broadcaster = (*Manager)(nil)

// NewManager builds a manager; factories and defaults come in as options.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		log:              slog.Default(),
		defaultTransport: string(port.TransportMemory),
		channels:         map[string]*domain.Channel{},
		connections:      map[string]*domain.Connection{},
		transports:       map[string]port.Transport{},
		brokers:          map[string]port.Broker{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Broadcast builds an event message, delivers it to the local channel, and,
// when a default broker is configured, publishes it so sibling servers
// deliver their copies. A publish failure propagates; lost cross-server
// delivery is never silent. Without a broker, local delivery alone is a
// complete single-server broadcast.
func (m *Manager) Broadcast(channel, event string, data any) error {
	msg := domain.NewEventMessage(channel, event, data)
	m.Channel(channel).Broadcast(msg, nil)

	if m.defaultBroker == "" {
		return nil
	}
	broker, err := m.Broker(m.defaultBroker)
	if err != nil {
		return err
	}
	if err := broker.Publish(channel, msg); err != nil {
		return fmt.Errorf("broadcast %s: %w", channel, err)
	}
	return nil
}

// BroadcastLocal is Broadcast without the broker leg. It exists for the
// consumer path relaying messages that already arrived from a broker;
// publishing them again would loop them through the cluster forever.
func (m *Manager) BroadcastLocal(channel, event string, data any) error {
	msg := domain.NewEventMessage(channel, event, data)
	m.Channel(channel).Broadcast(msg, nil)
	return nil
}

// Send delivers a directed event to one connection.
func (m *Manager) Send(connectionID, event string, data any) error {
	m.mu.RLock()
	conn, ok := m.connections[connectionID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("send to %s: %w", connectionID, port.ErrConnectionNotFound)
	}
	return conn.Send(domain.NewEventMessage("", event, data))
}

// SendToUser delivers an event to every connection authenticated as the
// user. A failure on one connection is logged and does not abort delivery
// to the others.
func (m *Manager) SendToUser(userID, event string, data any) error {
	m.mu.RLock()
	var targets []*domain.Connection
	for _, conn := range m.connections {
		if id, ok := conn.UserID(); ok && id == userID {
			targets = append(targets, conn)
		}
	}
	m.mu.RUnlock()

	if len(targets) == 0 {
		return fmt.Errorf("send to user %s: %w", userID, port.ErrUserNotConnected)
	}
	msg := domain.NewEventMessage("", event, data)
	for _, conn := range targets {
		if err := conn.Send(msg); err != nil {
			m.log.Warn("user send failed",
				slog.String("userId", userID),
				slog.String("connectionId", conn.ID),
				slog.Any("error", err))
		}
	}
	return nil
}

// Channel returns the named channel, creating and caching it on first
// reference. Restricted channels get their authorizer installed at creation.
func (m *Manager) Channel(name string) *domain.Channel {
	m.mu.RLock()
	ch, ok := m.channels[name]
	m.mu.RUnlock()
	if ok {
		return ch
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[name]; ok {
		return ch
	}
	ch = domain.NewChannel(name)
	if m.channelAuth != nil && ch.Visibility != domain.VisibilityPublic {
		ch.SetAuthorizer(m.channelAuth(name))
	}
	m.channels[name] = ch
	return ch
}

func (m *Manager) channelIfExists(name string) *domain.Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.channels[name]
}

// LookupChannel returns the named channel without creating it.
func (m *Manager) LookupChannel(name string) (*domain.Channel, bool) {
	ch := m.channelIfExists(name)
	return ch, ch != nil
}

// Transport returns the named transport, building it through the factory on
// first use. An empty name selects the configured default.
func (m *Manager) Transport(name string) (port.Transport, error) {
	if name == "" {
		name = m.defaultTransport
	}
	m.mu.RLock()
	t, ok := m.transports[name]
	m.mu.RUnlock()
	if ok {
		return t, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.transports[name]; ok {
		return t, nil
	}
	if m.transportFactory == nil {
		return nil, fmt.Errorf("transport %q: %w", name, port.ErrUnknownDriver)
	}
	t, err := m.transportFactory(name)
	if err != nil {
		return nil, err
	}
	m.transports[name] = t
	return t, nil
}

// Broker returns the named broker, building it through the factory on first
// use. An empty name selects the configured default.
func (m *Manager) Broker(name string) (port.Broker, error) {
	if name == "" {
		name = m.defaultBroker
	}
	if name == "" {
		return nil, fmt.Errorf("broker: %w", port.ErrUnknownDriver)
	}
	m.mu.RLock()
	b, ok := m.brokers[name]
	m.mu.RUnlock()
	if ok {
		return b, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.brokers[name]; ok {
		return b, nil
	}
	if m.brokerFactory == nil {
		return nil, fmt.Errorf("broker %q: %w", name, port.ErrUnknownDriver)
	}
	b, err := m.brokerFactory(name)
	if err != nil {
		return nil, err
	}
	m.brokers[name] = b
	return b, nil
}

// Register adds a transport-created connection to the registry.
func (m *Manager) Register(conn *domain.Connection) {
	m.mu.Lock()
	m.connections[conn.ID] = conn
	m.mu.Unlock()
	m.log.Info("connection registered", slog.String("connectionId", conn.ID))
}

// Connection looks up a registered connection by id.
func (m *Manager) Connection(id string) (*domain.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.connections[id]
	return conn, ok
}

// ConnectionCount reports the registered connections.
func (m *Manager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// ChannelCount reports the cached channels.
func (m *Manager) ChannelCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels)
}

// Subscribe admits the connection to the channel, honoring the channel's
// authorizer.
func (m *Manager) Subscribe(conn *domain.Connection, channel string) error {
	if err := m.Channel(channel).Subscribe(conn); err != nil {
		return fmt.Errorf("subscribe %s to %s: %w", conn.ID, channel, err)
	}
	return nil
}

// Unsubscribe removes the connection from the channel. Unknown channels are
// a no-op.
func (m *Manager) Unsubscribe(conn *domain.Connection, channel string) {
	if ch := m.channelIfExists(channel); ch != nil {
		ch.Unsubscribe(conn)
	}
}

// Disconnect removes the connection from every channel, closes it at the
// transport level, and drops it from the registry. Safe to call twice; a
// connection never returns from the disconnected state.
func (m *Manager) Disconnect(connectionID string) error {
	m.mu.Lock()
	conn, ok := m.connections[connectionID]
	delete(m.connections, connectionID)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	for _, name := range conn.Channels() {
		if ch := m.channelIfExists(name); ch != nil {
			ch.Unsubscribe(conn)
		}
	}
	if err := conn.Close(closeNormal, "disconnected"); err != nil {
		m.log.Warn("transport close failed",
			slog.String("connectionId", conn.ID),
			slog.Any("error", err))
	}
	m.log.Info("connection disconnected", slog.String("connectionId", conn.ID))
	return nil
}
