package broker

import (
	"fmt"
	"log/slog"

	"toporia/internal/modules/realtime/application/port"
)

// Config selects and configures the broker driver for one process.
type Config struct {
	Driver port.BrokerDriver
	Kafka  KafkaConfig
	Redis  RedisConfig
}

// New builds the configured broker. The driver set is closed: memory, redis,
// and kafka are the supported values here, anything else is a configuration
// error. BrokerNone never reaches a factory; deployments without a broker
// simply do not construct one.
func New(cfg Config, log *slog.Logger) (port.Broker, error) {
	switch cfg.Driver {
	case port.BrokerMemory:
		return NewMemoryBroker(), nil
	case port.BrokerRedis:
		return NewRedisBroker(cfg.Redis, log)
	case port.BrokerKafka:
		return NewKafkaBroker(cfg.Kafka, log)
	default:
		return nil, fmt.Errorf("broker driver %q: %w", cfg.Driver, port.ErrUnknownDriver)
	}
}
