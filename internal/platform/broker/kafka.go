package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"toporia/internal/modules/realtime/application/port"
	"toporia/internal/modules/realtime/domain"
)

// Kafka client flavors. Fast is franz-go, pure is segmentio/kafka-go.
const (
	KafkaClientFast = "fast"
	KafkaClientPure = "pure"
)

// ErrNoBrokers indicates Kafka was selected without any broker address.
var ErrNoBrokers = errors.New("at least one kafka broker address is required")

var errClientClosed = errors.New("kafka client closed")

// KafkaConfig carries the knobs of one Kafka broker instance.
type KafkaConfig struct {
	Brokers []string
	// Prefix namespaces every topic derived from a channel name.
	Prefix  string
	GroupID string
	// Client picks the underlying library shape, fast or pure.
	Client string

	// BufferSize is the producer buffer flush threshold.
	BufferSize int
	// FlushInterval bounds how long produced records may sit in the
	// buffer before the next publish forces a flush.
	FlushInterval time.Duration
	// PollTimeout bounds one consumer poll when Consume is called with a
	// non-positive timeout.
	PollTimeout time.Duration
	// BatchFlushEvery and BatchFlushInterval drive the consumer's
	// periodic partial-batch flush.
	BatchFlushEvery    int
	BatchFlushInterval time.Duration
}

func (c *KafkaConfig) normalize() {
	if c.Prefix == "" {
		c.Prefix = "realtime"
	}
	if c.GroupID == "" {
		c.GroupID = "realtime"
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 100 * time.Millisecond
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = time.Second
	}
	if c.BatchFlushEvery <= 0 {
		c.BatchFlushEvery = 10
	}
	if c.BatchFlushInterval <= 0 {
		c.BatchFlushInterval = 100 * time.Millisecond
	}
}

type bufferedRecord struct {
	topic      string
	value      []byte
	enqueuedAt time.Time
}

// KafkaBroker distributes messages between server processes through Kafka
// topics. One instance belongs to one process: the producer buffer and topic
// cache are confined to it and must not be shared across processes.
//
// Publishing buffers records and flushes them on a size-or-time window to
// amortize round-trips. Consuming is a blocking poll loop reserved for
// long-running worker processes; it stops only when StopConsuming clears the
// consuming flag.
type KafkaBroker struct {
	cfg    KafkaConfig
	driver kafkaDriver
	topics *TopicMapper
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	connected atomic.Bool
	consuming atomic.Bool

	mu        sync.Mutex
	buffer    []bufferedRecord
	lastFlush time.Time

	subsMu        sync.RWMutex
	handlers      map[string]port.MessageHandler
	channelTopics map[string]string
}

var _ port.Broker = (*KafkaBroker)(nil)
var _ port.Consumer = (*KafkaBroker)(nil)

// NewKafkaBroker builds a broker for the configured client flavor.
func NewKafkaBroker(cfg KafkaConfig, log *slog.Logger) (*KafkaBroker, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	cfg.normalize()

	ctx, cancel := context.WithCancel(context.Background())
	var (
		driver kafkaDriver
		err    error
	)
	switch cfg.Client {
	case "", KafkaClientFast:
		driver, err = newFranzDriver(cfg.Brokers, cfg.GroupID)
	case KafkaClientPure:
		driver = newSegmentioDriver(ctx, cfg.Brokers, cfg.GroupID)
	default:
		err = fmt.Errorf("kafka client flavor %q: %w", cfg.Client, port.ErrUnknownDriver)
	}
	if err != nil {
		cancel()
		return nil, err
	}
	return newKafkaBroker(cfg, driver, log, ctx, cancel), nil
}

func newKafkaBroker(cfg KafkaConfig, driver kafkaDriver, log *slog.Logger, ctx context.Context, cancel context.CancelFunc) *KafkaBroker {
	cfg.normalize()
	if log == nil {
		log = slog.Default()
	}
	b := &KafkaBroker{
		cfg:           cfg,
		driver:        driver,
		topics:        NewTopicMapper(cfg.Prefix),
		log:           log,
		ctx:           ctx,
		cancel:        cancel,
		lastFlush:     time.Now(),
		handlers:      map[string]port.MessageHandler{},
		channelTopics: map[string]string{},
	}
	b.connected.Store(true)
	return b
}

// TopicFor exposes the channel-to-topic mapping.
func (b *KafkaBroker) TopicFor(channel string) string {
	return b.topics.TopicFor(channel)
}

// Publish buffers the encoded message for the channel's topic and flushes
// the buffer once it holds BufferSize records or FlushInterval has passed
// since the last flush. A flush failure is returned to the caller; lost
// cross-server delivery is never silent.
func (b *KafkaBroker) Publish(channel string, msg *domain.Message) error {
	if !b.IsConnected() {
		return port.ErrNotConnected
	}
	raw, err := msg.Encode()
	if err != nil {
		return err
	}
	topic := b.topics.TopicFor(channel)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.buffer = append(b.buffer, bufferedRecord{topic: topic, value: raw, enqueuedAt: time.Now()})
	if len(b.buffer) >= b.cfg.BufferSize || time.Since(b.lastFlush) >= b.cfg.FlushInterval {
		return b.flushLocked()
	}
	return nil
}

// flushLocked drains the producer buffer through the driver. Callers hold
// b.mu.
func (b *KafkaBroker) flushLocked() error {
	b.lastFlush = time.Now()
	if len(b.buffer) == 0 {
		return nil
	}
	batch := make([]kafkaRecord, 0, len(b.buffer))
	for _, rec := range b.buffer {
		batch = append(batch, kafkaRecord{topic: rec.topic, value: rec.value})
	}
	b.buffer = b.buffer[:0]

	if err := b.driver.produce(b.ctx, batch); err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}
	if err := b.driver.flush(b.ctx); err != nil {
		return fmt.Errorf("kafka flush: %w", err)
	}
	return nil
}

// Subscribe registers a handler for the channel's topic and joins the topic
// on the consumer side. Messages only start flowing once Consume runs.
func (b *KafkaBroker) Subscribe(channel string, handler port.MessageHandler) error {
	if !b.IsConnected() {
		return port.ErrNotConnected
	}
	topic := b.topics.TopicFor(channel)
	if err := b.driver.addTopic(topic); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	b.subsMu.Lock()
	b.handlers[topic] = handler
	b.channelTopics[channel] = topic
	b.subsMu.Unlock()
	return nil
}

// Unsubscribe drops the channel's topic from the consumed set. Unknown
// channels are a no-op.
func (b *KafkaBroker) Unsubscribe(channel string) error {
	b.subsMu.Lock()
	topic, ok := b.channelTopics[channel]
	delete(b.channelTopics, channel)
	if ok {
		delete(b.handlers, topic)
	}
	b.subsMu.Unlock()
	if !ok {
		return nil
	}
	return b.driver.removeTopic(topic)
}

// SubscriberCount reports the locally registered subscriptions for the
// channel. Kafka has no cross-process fan-out introspection, so the count is
// 0 or 1.
func (b *KafkaBroker) SubscriberCount(channel string) (int, error) {
	b.subsMu.RLock()
	defer b.subsMu.RUnlock()
	if _, ok := b.channelTopics[channel]; ok {
		return 1, nil
	}
	return 0, nil
}

// IsConnected reports whether the broker can publish and consume.
func (b *KafkaBroker) IsConnected() bool {
	return b.connected.Load()
}

// Consume runs the blocking poll loop. Each iteration polls up to timeout,
// appends received records to an in-memory batch, and flushes the batch to
// the per-topic handlers when it reaches batchSize or on the periodic
// size-or-time window. The loop ends only when StopConsuming clears the
// consuming flag; the residual batch is flushed before returning.
func (b *KafkaBroker) Consume(timeout time.Duration, batchSize int) error {
	if !b.IsConnected() {
		return port.ErrNotConnected
	}
	if batchSize <= 0 {
		return fmt.Errorf("kafka consume: batch size must be positive, got %d", batchSize)
	}
	b.subsMu.RLock()
	active := len(b.handlers)
	b.subsMu.RUnlock()
	if active == 0 {
		return port.ErrNoSubscriptions
	}
	if timeout <= 0 {
		timeout = b.cfg.PollTimeout
	}
	if !b.consuming.CompareAndSwap(false, true) {
		return port.ErrAlreadyConsuming
	}
	defer b.consuming.Store(false)

	batch := make([]kafkaRecord, 0, batchSize)
	// Periodic-flush state is explicit and owned by this call; concurrent
	// consumers on other broker instances never share it.
	recordsSinceFlush := 0
	lastBatchFlush := time.Now()

	for b.consuming.Load() {
		want := batchSize - len(batch)
		if want <= 0 {
			want = batchSize
		}
		records, err := b.driver.poll(b.ctx, timeout, want)
		if err != nil {
			if errors.Is(err, errClientClosed) {
				break
			}
			b.log.Warn("kafka poll error", slog.Any("error", err))
		}
		batch = append(batch, records...)
		recordsSinceFlush += len(records)

		full := len(batch) >= batchSize
		periodic := len(batch) > 0 &&
			(recordsSinceFlush >= b.cfg.BatchFlushEvery || time.Since(lastBatchFlush) >= b.cfg.BatchFlushInterval)
		if full || periodic {
			b.dispatch(batch)
			batch = batch[:0]
			recordsSinceFlush = 0
			lastBatchFlush = time.Now()
		}
	}

	if len(batch) > 0 {
		b.dispatch(batch)
	}
	return nil
}

// StopConsuming clears the consuming flag. The poll loop notices after its
// current poll completes; cancellation is cooperative.
func (b *KafkaBroker) StopConsuming() {
	b.consuming.Store(false)
}

// dispatch hands each record to its topic handler. Decode failures and
// handler errors are logged with topic context and never stop the loop.
func (b *KafkaBroker) dispatch(batch []kafkaRecord) {
	for _, rec := range batch {
		b.subsMu.RLock()
		handler := b.handlers[rec.topic]
		b.subsMu.RUnlock()
		if handler == nil {
			b.log.Warn("kafka record without handler", slog.String("topic", rec.topic))
			continue
		}
		msg, err := domain.DecodeMessage(rec.value)
		if err != nil {
			b.log.Warn("kafka record decode failed",
				slog.String("topic", rec.topic),
				slog.Int("partition", rec.partition),
				slog.Int64("offset", rec.offset),
				slog.Any("error", err))
			continue
		}
		b.invoke(handler, rec, msg)
	}
}

func (b *KafkaBroker) invoke(handler port.MessageHandler, rec kafkaRecord, msg *domain.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("kafka handler panicked",
				slog.String("topic", rec.topic),
				slog.Int64("offset", rec.offset),
				slog.Any("panic", r))
		}
	}()
	if err := handler(msg); err != nil {
		b.log.Warn("kafka handler error",
			slog.String("topic", rec.topic),
			slog.Int64("offset", rec.offset),
			slog.Any("error", err))
	}
}

// Disconnect flushes the remaining producer buffer, stops consumption, and
// tears the client down. Safe to call more than once.
func (b *KafkaBroker) Disconnect() error {
	if !b.connected.CompareAndSwap(true, false) {
		return nil
	}
	b.StopConsuming()

	b.mu.Lock()
	flushErr := b.flushLocked()
	b.mu.Unlock()

	closeErr := b.driver.close()
	b.cancel()

	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
