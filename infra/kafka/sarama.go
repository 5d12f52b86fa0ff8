package kafka

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/cockroachdb/errors"
)

type SaramaPublisher struct {
	producer sarama.SyncProducer
}

func NewSaramaPublisher(brokers []string, clientID string) (*SaramaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Version = sarama.V2_8_0_0

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "sarama producer")
	}
	return &SaramaPublisher{producer: producer}, nil
}

// NewSaramaPublisherFrom wraps an existing producer, such as a mock.
func NewSaramaPublisherFrom(p sarama.SyncProducer) *SaramaPublisher {
	return &SaramaPublisher{producer: p}
}

func (p *SaramaPublisher) Publish(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: m.Topic,
		Value: sarama.ByteEncoder(m.Value),
	}
	if len(m.Key) > 0 {
		msg.Key = sarama.ByteEncoder(m.Key)
	}
	for k, v := range m.Headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	_, _, err := p.producer.SendMessage(msg)
	return err
}

func (p *SaramaPublisher) Close() error {
	return p.producer.Close()
}
