package application

import "log/slog"

// Option customizes a Manager at construction.
type Option func(*Manager)

// WithTransportFactory installs the factory that resolves transport names.
func WithTransportFactory(f TransportFactory) Option {
	return func(m *Manager) { m.transportFactory = f }
}

// WithBrokerFactory installs the factory that resolves broker names.
func WithBrokerFactory(f BrokerFactory) Option {
	return func(m *Manager) { m.brokerFactory = f }
}

// WithDefaultTransport names the transport used when callers pass "".
func WithDefaultTransport(name string) Option {
	return func(m *Manager) { m.defaultTransport = name }
}

// WithDefaultBroker names the broker Broadcast publishes through. Leaving
// it unset keeps the manager single-server: broadcasts stay local.
func WithDefaultBroker(name string) Option {
	return func(m *Manager) { m.defaultBroker = name }
}

// WithChannelAuthorizer installs the predicate factory applied to private
// and presence channels when they are first created.
func WithChannelAuthorizer(f ChannelAuthorizer) Option {
	return func(m *Manager) { m.channelAuth = f }
}

// WithLogger replaces the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}
