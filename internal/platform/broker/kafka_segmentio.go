package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// segmentioDriver is the pure client shape, backed by segmentio/kafka-go.
// One shared writer covers every topic; each consumed topic gets its own
// reader goroutine that pumps records into a shared channel for poll to
// drain.
type segmentioDriver struct {
	brokers []string
	groupID string

	writer  *kafka.Writer
	records chan kafkaRecord

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	readers map[string]*kafka.Reader
	pumps   sync.WaitGroup
}

func newSegmentioDriver(ctx context.Context, brokers []string, groupID string) *segmentioDriver {
	driverCtx, cancel := context.WithCancel(ctx)
	return &segmentioDriver{
		brokers: brokers,
		groupID: groupID,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.LeastBytes{},
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
		records: make(chan kafkaRecord, 100),
		ctx:     driverCtx,
		cancel:  cancel,
		readers: map[string]*kafka.Reader{},
	}
}

func (d *segmentioDriver) produce(ctx context.Context, batch []kafkaRecord) error {
	messages := make([]kafka.Message, 0, len(batch))
	for _, rec := range batch {
		messages = append(messages, kafka.Message{
			Topic: rec.topic,
			Key:   rec.key,
			Value: rec.value,
		})
	}
	if err := d.writer.WriteMessages(ctx, messages...); err != nil {
		return fmt.Errorf("write messages: %w", err)
	}
	return nil
}

func (d *segmentioDriver) flush(ctx context.Context) error {
	// WriteMessages is synchronous for this writer, there is nothing
	// client-buffered left to push.
	return nil
}

func (d *segmentioDriver) addTopic(topic string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.readers[topic]; ok {
		return nil
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     d.brokers,
		GroupID:     d.groupID,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.LastOffset,
	})
	d.readers[topic] = reader

	d.pumps.Add(1)
	go d.pump(reader)
	return nil
}

func (d *segmentioDriver) removeTopic(topic string) error {
	d.mu.Lock()
	reader, ok := d.readers[topic]
	delete(d.readers, topic)
	d.mu.Unlock()

	if !ok {
		return nil
	}
	return reader.Close()
}

// pump moves records from one reader into the shared channel until the
// driver shuts down or the reader is closed.
func (d *segmentioDriver) pump(reader *kafka.Reader) {
	defer d.pumps.Done()
	for {
		msg, err := reader.ReadMessage(d.ctx)
		if err != nil {
			if d.ctx.Err() != nil {
				return
			}
			// A closed reader reports io.EOF; that is shutdown, not a
			// failure.
			if errors.Is(err, io.EOF) || errors.Is(err, kafka.ErrGroupClosed) {
				return
			}
			slog.Warn("kafka read error", slog.String("topic", reader.Config().Topic), slog.Any("error", err))
			continue
		}
		rec := kafkaRecord{
			topic:     msg.Topic,
			key:       msg.Key,
			value:     msg.Value,
			partition: msg.Partition,
			offset:    msg.Offset,
		}
		select {
		case d.records <- rec:
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *segmentioDriver) poll(ctx context.Context, timeout time.Duration, max int) ([]kafkaRecord, error) {
	var out []kafkaRecord

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case rec := <-d.records:
		out = append(out, rec)
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, nil
	}

	// Something arrived; drain whatever else is immediately available up
	// to the batch limit.
	for len(out) < max {
		select {
		case rec := <-d.records:
			out = append(out, rec)
		default:
			return out, nil
		}
	}
	return out, nil
}

func (d *segmentioDriver) close() error {
	d.cancel()

	d.mu.Lock()
	readers := d.readers
	d.readers = map[string]*kafka.Reader{}
	d.mu.Unlock()

	var firstErr error
	for _, reader := range readers {
		if err := reader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.pumps.Wait()

	if err := d.writer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
