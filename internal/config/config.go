package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"toporia/internal/modules/realtime/application/port"
)

type ServerConfig struct {
	Port string `env:"PORT" envDefault:"8080"`
}

type LoggingConfig struct {
	Level     string `env:"LOG_LEVEL" envDefault:"info"`
	Format    string `env:"LOG_FORMAT" envDefault:"text"`
	Directory string `env:"LOG_DIRECTORY" envDefault:"./logs"`
	AddSource bool   `env:"LOG_ADD_SOURCE" envDefault:"true"`
}

type SecurityConfig struct {
	JWTSecret string `env:"JWT_SECRET"`
}

type RealtimeConfig struct {
	Transport  port.TransportDriver `env:"REALTIME_TRANSPORT" envDefault:"websocket"`
	Broker     port.BrokerDriver    `env:"REALTIME_BROKER" envDefault:"none"`
	SendBuffer int                  `env:"REALTIME_SEND_BUFFER" envDefault:"64"`
}

type KafkaConfig struct {
	Brokers            []string      `env:"KAFKA_BROKERS" envSeparator:","`
	GroupID            string        `env:"KAFKA_GROUP_ID" envDefault:"realtime"`
	TopicPrefix        string        `env:"KAFKA_TOPIC_PREFIX" envDefault:"realtime"`
	Client             string        `env:"KAFKA_CLIENT" envDefault:"fast"`
	BufferSize         int           `env:"KAFKA_BUFFER_SIZE" envDefault:"100"`
	FlushInterval      time.Duration `env:"KAFKA_FLUSH_INTERVAL" envDefault:"100ms"`
	PollTimeout        time.Duration `env:"KAFKA_POLL_TIMEOUT" envDefault:"1s"`
	BatchFlushEvery    int           `env:"KAFKA_BATCH_FLUSH_EVERY" envDefault:"10"`
	BatchFlushInterval time.Duration `env:"KAFKA_BATCH_FLUSH_INTERVAL" envDefault:"100ms"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	Prefix   string `env:"REDIS_PREFIX" envDefault:"realtime:"`
}

type RelayConfig struct {
	Channels    []string      `env:"RELAY_CHANNELS" envSeparator:","`
	PollTimeout time.Duration `env:"RELAY_POLL_TIMEOUT" envDefault:"1s"`
	BatchSize   int           `env:"RELAY_BATCH_SIZE" envDefault:"100"`
}

type WorkerConfig struct {
	Channel       string        `env:"WORKER_CHANNEL"`
	BatchSize     int           `env:"WORKER_BATCH_SIZE" envDefault:"50"`
	FlushInterval time.Duration `env:"WORKER_FLUSH_INTERVAL" envDefault:"1s"`
	MaxMessages   int           `env:"WORKER_MAX_MESSAGES" envDefault:"0"`
	SummaryEvery  time.Duration `env:"WORKER_SUMMARY_EVERY" envDefault:"30s"`
}

type Config struct {
	Server   ServerConfig
	Logging  LoggingConfig
	Security SecurityConfig
	Realtime RealtimeConfig
	Kafka    KafkaConfig
	Redis    RedisConfig
	Relay    RelayConfig
	Worker   WorkerConfig
}

// Load reads configuration from the environment and validates the parts
// that would otherwise fail deep inside a factory at runtime.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if !c.Realtime.Transport.Valid() {
		return fmt.Errorf("unknown transport driver %q", c.Realtime.Transport)
	}
	if !c.Realtime.Broker.Valid() {
		return fmt.Errorf("unknown broker driver %q", c.Realtime.Broker)
	}
	if c.Realtime.Broker == port.BrokerKafka && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("broker driver kafka selected but KAFKA_BROKERS is empty")
	}
	if c.Realtime.Broker == port.BrokerRedis && c.Redis.Addr == "" {
		return fmt.Errorf("broker driver redis selected but REDIS_ADDR is empty")
	}
	return nil
}
