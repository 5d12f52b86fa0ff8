// Package epoch triggers batch execution on a fixed interval for
// single-node deployments that run without a command log.
package epoch

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"epochdex/domain/matching"
	"epochdex/service"
)

type Executor interface {
	Height() (uint64, bool)
	ExecuteBatch(ctx context.Context, height uint64) (*matching.Result, error)
}

type Ticker struct {
	svc      Executor
	interval time.Duration
	log      *zap.Logger
}

func New(svc Executor, interval time.Duration, log *zap.Logger) *Ticker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ticker{svc: svc, interval: interval, log: log}
}

// Next returns the height the next batch runs at.
func (t *Ticker) Next() uint64 {
	h, ok := t.svc.Height()
	if !ok {
		return 0
	}
	return h + 1
}

// Tick executes one batch at the next height.
func (t *Ticker) Tick(ctx context.Context) (*matching.Result, error) {
	h := t.Next()
	res, err := t.svc.ExecuteBatch(ctx, h)
	if err != nil {
		return nil, errors.Wrapf(err, "epoch %d", h)
	}
	return res, nil
}

// Run ticks until ctx is done. Storage failures are retried on the next
// tick; the failed batch stays pending.
func (t *Ticker) Run(ctx context.Context) {
	tk := time.NewTicker(t.interval)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			res, err := t.Tick(ctx)
			if err != nil {
				lvl := t.log.Error
				if errors.Is(err, service.ErrStorageUnavailable) {
					lvl = t.log.Warn
				}
				lvl("epoch failed", zap.Error(err))
				continue
			}
			if len(res.Trades) > 0 {
				t.log.Debug("epoch executed",
					zap.Uint64("height", res.Height),
					zap.Int("trades", len(res.Trades)),
				)
			}
		}
	}
}
