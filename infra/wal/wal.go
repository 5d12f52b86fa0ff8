// Package wal journals accepted submissions so a crash between submission
// and batch commit loses nothing. Records are CRC-framed and appended to
// numbered segments; segments fully covered by a commit are removed.
package wal

import (
	"encoding/binary"
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"epochdex/domain/orderbook"
	"epochdex/infra/memory"
)

var frames = memory.NewBuffers(512, 64<<10)

type Config struct {
	Dir         string
	SegmentSize int64
	// Sync fsyncs every append.
	Sync bool
}

type WAL struct {
	mu      sync.Mutex
	dir     string
	segSize int64
	sync    bool
	current *segment
	log     *zap.Logger
}

// Open continues the highest existing segment or starts segment 0. A torn
// frame at the end of that segment is cut off before new records follow it.
func Open(cfg Config, log *zap.Logger) (*WAL, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create wal dir %s", cfg.Dir)
	}
	_, idx, err := segments(cfg.Dir)
	if err != nil {
		return nil, err
	}
	next := 0
	if len(idx) > 0 {
		next = idx[len(idx)-1]
	}

	seg, err := openSegment(cfg.Dir, next)
	if err != nil {
		return nil, err
	}
	removed, err := seg.trimTorn()
	if err != nil {
		_ = seg.close()
		return nil, err
	}
	if removed > 0 {
		log.Warn("wal torn tail removed", zap.Int("segment", next), zap.Int64("bytes", removed))
	}
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = 64 << 20
	}
	log.Info("wal opened", zap.String("dir", cfg.Dir), zap.Int("segment", next))

	return &WAL{
		dir:     cfg.Dir,
		segSize: cfg.SegmentSize,
		sync:    cfg.Sync,
		current: seg,
		log:     log,
	}, nil
}

func (w *WAL) Append(r *Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := uint32(len(r.Data))
	bp := frames.Get(int(headerSize + n + trailerSize))
	defer frames.Put(bp)
	buf := *bp

	frameHeader{typ: r.Type, seq: r.Seq, time: r.Time, length: n}.put(buf)
	copy(buf[headerSize:], r.Data)
	crc := checksum(buf[:headerSize], r.Data)
	binary.BigEndian.PutUint32(buf[headerSize+n:], crc)

	prev := w.current.offset
	if err := w.current.append(buf); err != nil {
		return errors.Wrapf(err, "append seq %d", r.Seq)
	}
	if w.sync {
		if err := w.current.sync(); err != nil {
			// the caller treats the record as lost, so it must not replay
			_ = w.current.truncate(prev)
			return errors.Wrapf(err, "sync seq %d", r.Seq)
		}
	}

	if w.current.offset >= w.segSize {
		return w.rotate()
	}
	return nil
}

// LogSubmit journals an accepted order before it joins the pending batch.
func (w *WAL) LogSubmit(o orderbook.Order) error {
	return w.Append(SubmitRecord(o))
}

func (w *WAL) rotate() error {
	_ = w.current.close()

	seg, err := openSegment(w.dir, w.current.index+1)
	if err != nil {
		return err
	}
	w.current = seg
	return nil
}

// TruncateBefore removes every segment whose records all have seq <= seq.
// A non-empty current segment is rotated first so it can be considered.
func (w *WAL) TruncateBefore(seq uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current.offset > 0 {
		if err := w.rotate(); err != nil {
			return err
		}
	}
	paths, idx, err := segments(w.dir)
	if err != nil {
		return err
	}

	removed := 0
	for i, path := range paths {
		if idx[i] == w.current.index {
			continue
		}
		top, err := maxSeq(path)
		if err != nil {
			w.log.Warn("wal segment unreadable", zap.String("path", path), zap.Error(err))
			continue
		}
		if top <= seq {
			if err := os.Remove(path); err != nil {
				return errors.Wrapf(err, "remove %s", path)
			}
			removed++
		}
	}
	if removed > 0 {
		w.log.Debug("wal truncated", zap.Uint64("seq", seq), zap.Int("segments", removed))
	}
	return nil
}

func (w *WAL) Dir() string { return w.dir }

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current.close()
}
