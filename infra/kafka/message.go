// Package kafka adapts the two Kafka clients used by the node: sarama for
// the event publisher and kafka-go for both an alternate publisher and the
// command log reader.
package kafka

import "context"

// Message is one record published or consumed.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
}

// Publisher delivers a message synchronously; a nil error means the broker
// acknowledged it.
type Publisher interface {
	Publish(ctx context.Context, m Message) error
	Close() error
}
