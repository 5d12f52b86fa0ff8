package kafka

import (
	"context"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaramaPublisherSendsHeadersAndKey(t *testing.T) {
	mp := mocks.NewSyncProducer(t, nil)
	mp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
		key, err := m.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, []byte("k"), key)
		assert.Equal(t, "trades", m.Topic)
		require.Len(t, m.Headers, 1)
		assert.Equal(t, "event-id", string(m.Headers[0].Key))
		return nil
	})

	p := NewSaramaPublisherFrom(mp)
	err := p.Publish(context.Background(), Message{
		Topic:   "trades",
		Key:     []byte("k"),
		Value:   []byte(`{}`),
		Headers: map[string]string{"event-id": "x"},
	})
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestSaramaPublisherReportsFailure(t *testing.T) {
	mp := mocks.NewSyncProducer(t, nil)
	mp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewSaramaPublisherFrom(mp)
	err := p.Publish(context.Background(), Message{Topic: "trades", Value: []byte(`{}`)})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}
