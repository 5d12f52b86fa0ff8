package broadcaster

import (
	"context"
	"time"

	"go.uber.org/zap"

	"epochdex/infra/kafka"
	"epochdex/infra/outbox"
)

// Metrics is the subset of node metrics the broadcaster reports.
type Metrics interface {
	EventPublished(kind string)
	EventFailed(kind string)
}

type Config struct {
	TradeTopic    string
	TransferTopic string
	Interval      time.Duration
	BatchSize     int
}

// Broadcaster drains the outbox into Kafka. Delivery is at least once:
// a record is marked SENT before publishing and removed after the ack.
type Broadcaster struct {
	outbox    *outbox.Outbox
	publisher kafka.Publisher
	cfg       Config
	metrics   Metrics
	log       *zap.Logger
}

func New(
	ob *outbox.Outbox,
	publisher kafka.Publisher,
	cfg Config,
	metrics Metrics,
	log *zap.Logger,
) *Broadcaster {
	if cfg.Interval <= 0 {
		cfg.Interval = 250 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 512
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Broadcaster{
		outbox:    ob,
		publisher: publisher,
		cfg:       cfg,
		metrics:   metrics,
		log:       log,
	}
}

// Run publishes until ctx is done. It returns only after the last round
// has finished with the outbox.
func (b *Broadcaster) Run(ctx context.Context) {
	b.log.Info("broadcaster started", zap.Duration("interval", b.cfg.Interval))

	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.log.Info("broadcaster stopped")
			return

		case <-ticker.C:
			if _, err := b.PublishOnce(ctx); err != nil {
				b.log.Warn("outbox scan failed", zap.Error(err))
			}
		}
	}
}

// PublishOnce sends one batch of pending records and returns how many were
// acknowledged. A failed publish stops the round so order is kept.
func (b *Broadcaster) PublishOnce(ctx context.Context) (int, error) {
	var (
		acked int
		stop  bool
	)
	err := b.outbox.ScanPending(b.cfg.BatchSize, func(rec outbox.Record) error {
		if stop {
			return nil
		}
		if err := b.outbox.MarkSent(rec); err != nil {
			return err
		}

		err := b.publisher.Publish(ctx, kafka.Message{
			Topic:   b.topic(rec.Kind),
			Key:     rec.Key,
			Value:   rec.Payload,
			Headers: map[string]string{"event-id": rec.ID.String(), "kind": rec.Kind.String()},
		})
		if err != nil {
			stop = true
			parked, merr := b.outbox.MarkFailed(rec)
			if merr != nil {
				return merr
			}
			b.failed(rec, parked, err)
			return nil
		}

		if err := b.outbox.MarkAcked(rec.Seq); err != nil {
			return err
		}
		if b.metrics != nil {
			b.metrics.EventPublished(rec.Kind.String())
		}
		acked++
		return nil
	})
	return acked, err
}

func (b *Broadcaster) failed(rec outbox.Record, parked bool, err error) {
	if b.metrics != nil {
		b.metrics.EventFailed(rec.Kind.String())
	}
	fields := []zap.Field{
		zap.Uint64("seq", rec.Seq),
		zap.Stringer("kind", rec.Kind),
		zap.Uint32("retries", rec.Retries+1),
		zap.Error(err),
	}
	if parked {
		b.log.Error("event parked after retries", fields...)
		return
	}
	b.log.Warn("event publish failed", fields...)
}

func (b *Broadcaster) topic(k outbox.Kind) string {
	if k == outbox.KindTransfer {
		return b.cfg.TransferTopic
	}
	return b.cfg.TradeTopic
}

func (b *Broadcaster) Close() error {
	return b.publisher.Close()
}
