// Package ingest applies the ordered command log to the service. Every
// replica consumes the same log, so every replica executes the same
// batches at the same heights.
package ingest

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"epochdex/domain/batch"
	"epochdex/domain/matching"
	"epochdex/domain/orderbook"
	"epochdex/infra/kafka"
	"epochdex/service"
)

// Service is what the ingest loop drives.
type Service interface {
	Submit(req batch.Request) (uint64, error)
	Cancel(trader orderbook.Address, id uint64) ([]matching.Transfer, error)
	CancelAll(trader orderbook.Address, offered, wanted orderbook.AssetID) ([]matching.Transfer, error)
	ExecuteBatch(ctx context.Context, height uint64) (*matching.Result, error)
	WithdrawFees(recipient orderbook.Address) (map[orderbook.AssetID]uint64, error)
}

// Source yields log messages; Commit acknowledges one after it was applied.
type Source interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

type Ingester struct {
	svc Service
	src Source
	log *zap.Logger
}

func New(svc Service, src Source, log *zap.Logger) *Ingester {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ingester{svc: svc, src: src, log: log}
}

// Run consumes until ctx is done or a storage error makes progress unsafe.
// A message is committed only once applied; rejected commands are logged
// and committed so they are not retried forever. Storage and journal
// failures return without committing, so the command is redelivered.
func (in *Ingester) Run(ctx context.Context) error {
	in.log.Info("ingest started")
	for {
		m, err := in.src.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "fetch command")
		}
		if err := in.Apply(ctx, m.Value); err != nil {
			if errors.IsAny(err, service.ErrStorageUnavailable, batch.ErrJournal) {
				return err
			}
			in.log.Warn("command rejected",
				zap.String("topic", m.Topic),
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err),
			)
		}
		if err := in.src.Commit(ctx, m); err != nil {
			return errors.Wrap(err, "commit offset")
		}
	}
}

// Apply decodes and executes one command.
func (in *Ingester) Apply(ctx context.Context, raw []byte) error {
	c, err := Decode(raw)
	if err != nil {
		return err
	}
	switch c.Type {
	case TypeSubmit:
		req, err := c.Request()
		if err != nil {
			return err
		}
		id, err := in.svc.Submit(req)
		if err != nil {
			return err
		}
		in.log.Debug("order submitted", zap.Uint64("order_id", id))
		return nil

	case TypeCancel:
		trader, err := orderbook.ParseAddress(c.Trader)
		if err != nil {
			return bad(err, "trader")
		}
		_, err = in.svc.Cancel(trader, c.OrderID)
		return err

	case TypeCancelAll:
		trader, err := orderbook.ParseAddress(c.Trader)
		if err != nil {
			return bad(err, "trader")
		}
		offered, wanted, err := c.assets()
		if err != nil {
			return err
		}
		_, err = in.svc.CancelAll(trader, offered, wanted)
		return err

	case TypeExecute:
		_, err := in.svc.ExecuteBatch(ctx, c.Height)
		if errors.Is(err, service.ErrStaleHeight) {
			// already applied before a restart
			in.log.Info("batch already executed", zap.Uint64("height", c.Height))
			return nil
		}
		return err

	case TypeWithdraw:
		r, err := orderbook.ParseAddress(c.Recipient)
		if err != nil {
			return bad(err, "recipient")
		}
		_, err = in.svc.WithdrawFees(r)
		return err

	default:
		return errors.Mark(errors.Newf("unknown command type %q", c.Type), ErrBadCommand)
	}
}
