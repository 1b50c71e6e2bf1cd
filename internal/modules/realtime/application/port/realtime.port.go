package port

import (
	"time"

	"toporia/internal/modules/realtime/domain"
)

// Transport delivers messages to locally held connections. Implementations
// own the underlying sockets or streams; a send failure during a broadcast is
// handled per connection and never aborts delivery to the rest, while a
// directed Send may return the failure to the caller.
type Transport interface {
	Send(conn *domain.Connection, msg *domain.Message) error
	Broadcast(msg *domain.Message) int
	BroadcastToChannel(channel string, msg *domain.Message) int
	Close(conn *domain.Connection, code int, reason string) error
	ConnectionCount() int
	HasConnection(id string) bool
}

// MessageHandler consumes one decoded message received from a broker
// subscription. A handler error is logged by the broker with topic context
// and does not stop consumption.
type MessageHandler func(msg *domain.Message) error

// Broker distributes messages between server processes. Publish may be
// called from anywhere; consuming is reserved for long-running worker
// processes because poll loops block.
type Broker interface {
	Publish(channel string, msg *domain.Message) error
	Subscribe(channel string, handler MessageHandler) error
	Unsubscribe(channel string) error
	SubscriberCount(channel string) (int, error)
	IsConnected() bool
	Disconnect() error
}

// Consumer is implemented by brokers that need an explicit poll loop to
// receive messages (Kafka). Push-based brokers deliver through their own
// subscription goroutines and do not implement it.
type Consumer interface {
	Consume(timeout time.Duration, batchSize int) error
	StopConsuming()
}

// Broadcaster is the narrow surface handed to components that publish
// events. BroadcastLocal skips the broker and exists for consumers relaying
// messages that already came from one.
type Broadcaster interface {
	Broadcast(channel, event string, data any) error
	BroadcastLocal(channel, event string, data any) error
}
