package broker

import (
	"context"
	"time"
)

// kafkaRecord is one unit exchanged with a Kafka client, on either side.
type kafkaRecord struct {
	topic     string
	key       []byte
	value     []byte
	partition int
	offset    int64
}

// kafkaDriver hides the client library behind the broker. The fast driver is
// franz-go, the pure driver is segmentio/kafka-go; the broker selects one at
// construction and its public methods never branch on library identity
// again.
type kafkaDriver interface {
	// produce writes the batch synchronously.
	produce(ctx context.Context, batch []kafkaRecord) error
	// flush forces any client-buffered records out to the cluster.
	flush(ctx context.Context) error
	// addTopic joins the topic to the consumed set, creating the consumer
	// side of the client on first use.
	addTopic(topic string) error
	// removeTopic drops the topic from the consumed set.
	removeTopic(topic string) error
	// poll returns up to max records, waiting at most timeout. An empty
	// result is not an error.
	poll(ctx context.Context, timeout time.Duration, max int) ([]kafkaRecord, error)
	close() error
}
