package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// franzDriver is the fast client shape, backed by franz-go. The producer
// client is created up front; the consumer client joins its group lazily on
// the first subscribed topic.
type franzDriver struct {
	brokers []string
	groupID string

	producer *kgo.Client

	mu       sync.Mutex
	consumer *kgo.Client
	topics   []string
}

func newFranzDriver(brokers []string, groupID string) (*franzDriver, error) {
	producer, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer client: %w", err)
	}
	return &franzDriver{
		brokers:  brokers,
		groupID:  groupID,
		producer: producer,
	}, nil
}

func (d *franzDriver) produce(ctx context.Context, batch []kafkaRecord) error {
	records := make([]*kgo.Record, 0, len(batch))
	for _, rec := range batch {
		records = append(records, &kgo.Record{
			Topic: rec.topic,
			Key:   rec.key,
			Value: rec.value,
		})
	}
	if err := d.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce batch: %w", err)
	}
	return nil
}

func (d *franzDriver) flush(ctx context.Context) error {
	return d.producer.Flush(ctx)
}

func (d *franzDriver) addTopic(topic string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.consumer == nil {
		consumer, err := kgo.NewClient(
			kgo.SeedBrokers(d.brokers...),
			kgo.ConsumerGroup(d.groupID),
			kgo.ConsumeTopics(topic),
			kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		)
		if err != nil {
			return fmt.Errorf("create kafka consumer client: %w", err)
		}
		d.consumer = consumer
		d.topics = []string{topic}
		return nil
	}

	for _, existing := range d.topics {
		if existing == topic {
			return nil
		}
	}
	d.consumer.AddConsumeTopics(topic)
	d.topics = append(d.topics, topic)
	return nil
}

func (d *franzDriver) removeTopic(topic string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.consumer == nil {
		return nil
	}
	d.consumer.PurgeTopicsFromConsuming(topic)
	kept := d.topics[:0]
	for _, existing := range d.topics {
		if existing != topic {
			kept = append(kept, existing)
		}
	}
	d.topics = kept
	return nil
}

func (d *franzDriver) poll(ctx context.Context, timeout time.Duration, max int) ([]kafkaRecord, error) {
	d.mu.Lock()
	consumer := d.consumer
	d.mu.Unlock()
	if consumer == nil {
		return nil, nil
	}

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fetches := consumer.PollRecords(pollCtx, max)
	if fetches.IsClientClosed() {
		return nil, errClientClosed
	}

	var pollErr error
	for _, fetchErr := range fetches.Errors() {
		// A timed-out poll surfaces as a context error; that is the
		// normal empty-poll case, not a failure.
		if errors.Is(fetchErr.Err, context.DeadlineExceeded) || errors.Is(fetchErr.Err, context.Canceled) {
			continue
		}
		if pollErr == nil {
			pollErr = fmt.Errorf("fetch %s/%d: %w", fetchErr.Topic, fetchErr.Partition, fetchErr.Err)
		}
	}

	var records []kafkaRecord
	fetches.EachRecord(func(rec *kgo.Record) {
		records = append(records, kafkaRecord{
			topic:     rec.Topic,
			key:       rec.Key,
			value:     rec.Value,
			partition: int(rec.Partition),
			offset:    rec.Offset,
		})
	})
	// Records fetched alongside a partition error are still returned; the
	// consume loop logs the error and keeps going.
	return records, pollErr
}

func (d *franzDriver) close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.consumer != nil {
		d.consumer.Close()
		d.consumer = nil
	}
	d.producer.Close()
	return nil
}
