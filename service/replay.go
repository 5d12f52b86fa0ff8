package service

import (
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"epochdex/infra/wal"
)

// replay rebuilds the pending batch from the WAL. Records at or below the
// last executed id were committed with their batch and are skipped.
//
// It MUST run before accepting traffic.
func (s *OrderService) replay() (int, error) {
	if s.wal == nil {
		return 0, nil
	}
	restored := 0
	lastSeq, err := wal.Replay(s.wal.Dir(), func(rec *wal.Record) error {
		if rec.Type != wal.RecordSubmit || rec.Seq <= s.lastOrderID {
			return nil
		}
		o, err := rec.Order()
		if err != nil {
			return errors.Wrapf(err, "wal record %d", rec.Seq)
		}
		s.pending.Restore(o)
		restored++
		return nil
	})
	if err != nil {
		return restored, errors.Wrap(err, "replay wal")
	}

	// resume sequencing after everything the log has seen
	s.seq.Observe(lastSeq)
	if restored > 0 {
		s.log.Info("wal replay completed", zap.Uint64("last_seq", lastSeq), zap.Int("pending", restored))
	}
	return restored, nil
}
