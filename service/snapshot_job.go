package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"epochdex/snapshot"
)

// WriteSnapshot exports the committed book.
func (s *OrderService) WriteSnapshot(w *snapshot.Writer) (string, error) {
	s.mu.Lock()
	book := s.engine.Book().Clone()
	height, lastID := s.height, s.lastOrderID
	s.mu.Unlock()

	return w.Write(snapshot.FromBook(book, height, lastID))
}

// RunSnapshotJob writes a snapshot every interval until ctx is done. A
// non-positive interval returns at once.
func (s *OrderService) RunSnapshotJob(ctx context.Context, w *snapshot.Writer, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			path, err := s.WriteSnapshot(w)
			if err != nil {
				s.log.Warn("snapshot failed", zap.Error(err))
				continue
			}
			s.log.Debug("snapshot written", zap.String("path", path))
		}
	}
}
