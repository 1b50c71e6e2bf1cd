package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"toporia/internal/modules/realtime/application/port"
	"toporia/internal/modules/realtime/domain"
)

// RedisConfig carries the connection settings of one Redis broker instance.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces the pub/sub keys, "realtime:" by default.
	Prefix string
}

// redisEnvelope wraps the canonical message encoding with the originating
// instance id so a subscriber can skip messages it published itself.
type redisEnvelope struct {
	InstanceID string          `json:"instance_id"`
	Message    json.RawMessage `json:"message"`
}

// RedisBroker distributes messages between server processes over Redis
// pub/sub. Delivery is push-based: once subscribed, messages flow through a
// per-channel goroutine without an explicit poll loop.
type RedisBroker struct {
	client     *redis.Client
	prefix     string
	instanceID string
	log        *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	subs      map[string]*redis.PubSub
	connected bool
}

var _ port.Broker = (*RedisBroker)(nil)

// NewRedisBroker connects to Redis and verifies the connection with a ping.
func NewRedisBroker(cfg RedisConfig, log *slog.Logger) (*RedisBroker, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis broker address is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "realtime:"
	}
	if log == nil {
		log = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithCancel(context.Background())
	if err := client.Ping(ctx).Err(); err != nil {
		cancel()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisBroker{
		client:     client,
		prefix:     cfg.Prefix,
		instanceID: uuid.NewString(),
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
		subs:       map[string]*redis.PubSub{},
		connected:  true,
	}, nil
}

func (b *RedisBroker) key(channel string) string {
	return b.prefix + channel
}

// Publish wraps the message in an instance envelope and pushes it to the
// channel's key.
func (b *RedisBroker) Publish(channel string, msg *domain.Message) error {
	if !b.IsConnected() {
		return port.ErrNotConnected
	}
	raw, err := msg.Encode()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(redisEnvelope{InstanceID: b.instanceID, Message: raw})
	if err != nil {
		return fmt.Errorf("encode redis envelope: %w", err)
	}
	if err := b.client.Publish(b.ctx, b.key(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a pub/sub subscription for the channel and relays incoming
// messages to the handler. Messages published by this instance are skipped.
func (b *RedisBroker) Subscribe(channel string, handler port.MessageHandler) error {
	if !b.IsConnected() {
		return port.ErrNotConnected
	}

	b.mu.Lock()
	if _, ok := b.subs[channel]; ok {
		b.mu.Unlock()
		return nil
	}
	sub := b.client.Subscribe(b.ctx, b.key(channel))
	b.subs[channel] = sub
	b.mu.Unlock()

	// Wait for the subscription confirmation before relaying.
	if _, err := sub.Receive(b.ctx); err != nil {
		b.mu.Lock()
		delete(b.subs, channel)
		b.mu.Unlock()
		sub.Close()
		return fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	b.wg.Add(1)
	go b.listen(channel, sub, handler)
	return nil
}

func (b *RedisBroker) listen(channel string, sub *redis.PubSub, handler port.MessageHandler) {
	defer b.wg.Done()
	ch := sub.Channel()
	for {
		select {
		case raw, ok := <-ch:
			if !ok {
				return
			}
			b.relay(channel, raw, handler)
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *RedisBroker) relay(channel string, raw *redis.Message, handler port.MessageHandler) {
	var env redisEnvelope
	if err := json.Unmarshal([]byte(raw.Payload), &env); err != nil {
		b.log.Warn("redis envelope decode failed",
			slog.String("channel", channel),
			slog.Any("error", err))
		return
	}
	if env.InstanceID == b.instanceID {
		return
	}
	msg, err := domain.DecodeMessage(env.Message)
	if err != nil {
		b.log.Warn("redis message decode failed",
			slog.String("channel", channel),
			slog.Any("error", err))
		return
	}
	if err := handler(msg); err != nil {
		b.log.Warn("redis handler error",
			slog.String("channel", channel),
			slog.Any("error", err))
	}
}

// Unsubscribe closes the channel's subscription. Unknown channels are a
// no-op.
func (b *RedisBroker) Unsubscribe(channel string) error {
	b.mu.Lock()
	sub, ok := b.subs[channel]
	delete(b.subs, channel)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	return sub.Close()
}

// SubscriberCount asks Redis how many subscribers the channel's key has
// across all instances.
func (b *RedisBroker) SubscriberCount(channel string) (int, error) {
	if !b.IsConnected() {
		return 0, port.ErrNotConnected
	}
	counts, err := b.client.PubSubNumSub(b.ctx, b.key(channel)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis numsub %s: %w", channel, err)
	}
	return int(counts[b.key(channel)]), nil
}

// IsConnected reports whether the broker can publish and subscribe.
func (b *RedisBroker) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

// Disconnect closes every subscription and the client. Safe to call more
// than once.
func (b *RedisBroker) Disconnect() error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return nil
	}
	b.connected = false
	subs := b.subs
	b.subs = map[string]*redis.PubSub{}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	b.cancel()
	b.wg.Wait()
	return b.client.Close()
}
