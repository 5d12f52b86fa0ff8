// Package store is the pebble-backed state of a node: resting orders,
// ledgers, outbox and meta. Everything a batch changes is written through
// one Batch and committed with a single synced write.
package store

import (
	"bytes"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("store: closed")

type Store struct {
	// db is nil once closed.
	db  atomic.Pointer[pebble.DB]
	log *zap.Logger
}

// Open opens or creates the store in dir. fs may be nil for the OS
// filesystem; tests pass vfs.NewMem().
func Open(dir string, fs vfs.FS, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	opts := &pebble.Options{}
	if fs != nil {
		opts.FS = fs
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open store %s", dir)
	}
	log.Info("store opened", zap.String("dir", dir))
	s := &Store{log: log}
	s.db.Store(db)
	return s, nil
}

func (s *Store) Close() error {
	db := s.db.Swap(nil)
	if db == nil {
		return ErrClosed
	}
	return db.Close()
}

// Get returns a copy of the value at key.
func (s *Store) Get(key []byte) ([]byte, bool, error) {
	db := s.db.Load()
	if db == nil {
		return nil, false, ErrClosed
	}
	val, closer, err := db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "get %q", key)
	}
	defer closer.Close()
	return bytes.Clone(val), true, nil
}

// Scan calls fn for every key under prefix in ascending order. Key and
// value are only valid during the call.
func (s *Store) Scan(prefix []byte, fn func(key, val []byte) error) error {
	db := s.db.Load()
	if db == nil {
		return ErrClosed
	}
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Last returns a copy of the greatest key under prefix and its value.
func (s *Store) Last(prefix []byte) (key, val []byte, ok bool, err error) {
	db := s.db.Load()
	if db == nil {
		return nil, nil, false, ErrClosed
	}
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, nil, false, err
	}
	defer iter.Close()

	if !iter.Last() {
		return nil, nil, false, iter.Error()
	}
	return bytes.Clone(iter.Key()), bytes.Clone(iter.Value()), true, nil
}

// NewBatch starts an atomic write. On a closed store every operation of
// the returned batch fails with ErrClosed.
func (s *Store) NewBatch() *Batch {
	db := s.db.Load()
	if db == nil {
		return &Batch{s: s}
	}
	return &Batch{s: s, b: db.NewBatch()}
}

// Batch collects writes that become visible together on Commit.
type Batch struct {
	s *Store
	b *pebble.Batch
}

func (b *Batch) Set(key, val []byte) error {
	if b.b == nil {
		return ErrClosed
	}
	return b.b.Set(key, val, nil)
}

func (b *Batch) Delete(key []byte) error {
	if b.b == nil {
		return ErrClosed
	}
	return b.b.Delete(key, nil)
}

// Commit writes the batch with fsync.
func (b *Batch) Commit() error {
	if b.b == nil || b.s.db.Load() == nil {
		return ErrClosed
	}
	return b.b.Commit(pebble.Sync)
}

// Close releases the batch; uncommitted writes are dropped.
func (b *Batch) Close() error {
	if b.b == nil {
		return nil
	}
	return b.b.Close()
}

// upperBound is the smallest key greater than every key with prefix.
func upperBound(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
