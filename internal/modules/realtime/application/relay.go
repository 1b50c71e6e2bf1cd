package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"toporia/internal/modules/realtime/application/port"
	"toporia/internal/modules/realtime/domain"
)

const (
	defaultRelayPollTimeout = time.Second
	defaultRelayBatchSize   = 100
)

// RelayConfig tunes the broker-to-local bridge.
type RelayConfig struct {
	// Channels the relay subscribes to on startup.
	Channels []string
	// PollTimeout bounds a single consumer poll. Push-style brokers
	// ignore it.
	PollTimeout time.Duration
	// BatchSize caps the records taken per poll. Push-style brokers
	// ignore it.
	BatchSize int
}

// Relay bridges broker traffic into local delivery. Every message it
// receives goes through BroadcastLocal, never Broadcast: the message has
// already been through the broker once, and publishing it again would
// bounce it around the cluster indefinitely.
type Relay struct {
	broadcaster port.Broadcaster
	broker      port.Broker
	cfg         RelayConfig
	log         *slog.Logger
}

// NewRelay builds a relay over the given broker. The logger may be nil.
func NewRelay(broadcaster port.Broadcaster, broker port.Broker, cfg RelayConfig, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultRelayPollTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultRelayBatchSize
	}
	return &Relay{broadcaster: broadcaster, broker: broker, cfg: cfg, log: log}
}

// Run subscribes to the configured channels and blocks until ctx ends.
// Pull-style brokers run their consume loop on the calling goroutine;
// push-style brokers deliver through their own machinery and Run just
// waits. Subscriptions are released on the way out.
func (r *Relay) Run(ctx context.Context) error {
	if len(r.cfg.Channels) == 0 {
		return fmt.Errorf("relay: %w", port.ErrNoSubscriptions)
	}

	for _, channel := range r.cfg.Channels {
		channel := channel
		handler := func(msg *domain.Message) error {
			target := msg.Channel
			if target == "" {
				target = channel
			}
			return r.broadcaster.BroadcastLocal(target, msg.Event, msg.Data)
		}
		if err := r.broker.Subscribe(channel, handler); err != nil {
			return fmt.Errorf("relay subscribe %s: %w", channel, err)
		}
		r.log.Info("relay subscribed", slog.String("channel", channel))
	}
	defer func() {
		for _, channel := range r.cfg.Channels {
			if err := r.broker.Unsubscribe(channel); err != nil {
				r.log.Warn("relay unsubscribe failed",
					slog.String("channel", channel),
					slog.Any("error", err))
			}
		}
	}()

	consumer, ok := r.broker.(port.Consumer)
	if !ok {
		<-ctx.Done()
		return nil
	}

	go func() {
		<-ctx.Done()
		consumer.StopConsuming()
	}()
	r.log.Info("relay consuming",
		slog.Int("channels", len(r.cfg.Channels)),
		slog.Int("batchSize", r.cfg.BatchSize))
	if err := consumer.Consume(r.cfg.PollTimeout, r.cfg.BatchSize); err != nil {
		return fmt.Errorf("relay consume: %w", err)
	}
	return nil
}
