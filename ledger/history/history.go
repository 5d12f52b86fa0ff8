// Package history is the append-only chain of per-batch trade records.
// Every version points at the height of the one before it; nothing is ever
// rewritten or deleted.
package history

import (
	"sync"

	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"epochdex/domain/orderbook"
	"epochdex/infra/codec"
	"epochdex/infra/store"
)

var (
	ErrNonMonotonicHeight = errors.New("history: height not above latest version")
	ErrVersionNotFound    = errors.New("history: version not found")
	ErrBrokenChain        = errors.New("history: previous pointer does not descend")
)

// Version is the trades of one executed batch.
type Version struct {
	Height         uint64
	PreviousHeight uint64
	HasPrevious    bool
	Trades         []orderbook.Trade
}

const (
	fieldHeight protowire.Number = iota + 1
	fieldPrevious
	fieldHasPrevious
	fieldTrade
)

func (v Version) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldHeight, protowire.VarintType)
	b = protowire.AppendVarint(b, v.Height)
	if v.HasPrevious {
		b = protowire.AppendTag(b, fieldPrevious, protowire.VarintType)
		b = protowire.AppendVarint(b, v.PreviousHeight)
		b = protowire.AppendTag(b, fieldHasPrevious, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	for _, t := range v.Trades {
		b = protowire.AppendTag(b, fieldTrade, protowire.BytesType)
		b = protowire.AppendBytes(b, codec.AppendTrade(nil, t))
	}
	return b
}

func unmarshal(b []byte) (Version, error) {
	var v Version
	err := codec.Walk(b, func(n protowire.Number, x uint64, raw []byte) error {
		switch n {
		case fieldHeight:
			v.Height = x
		case fieldPrevious:
			v.PreviousHeight = x
		case fieldHasPrevious:
			v.HasPrevious = x != 0
		case fieldTrade:
			t, err := codec.UnmarshalTrade(raw)
			if err != nil {
				return err
			}
			v.Trades = append(v.Trades, t)
		}
		return nil
	})
	return v, err
}

// Ledger reads and appends versions. The latest height is cached and only
// advanced by Committed, after the caller's batch is durable.
type Ledger struct {
	store *store.Store

	mu     sync.Mutex
	latest uint64
	has    bool
}

func New(s *store.Store) (*Ledger, error) {
	l := &Ledger{store: s}
	key, _, ok, err := s.Last(store.PrefixHistory)
	if err != nil {
		return nil, errors.Wrap(err, "load latest version")
	}
	if ok {
		h, err := store.SuffixUint64(key)
		if err != nil {
			return nil, err
		}
		l.latest, l.has = h, true
	}
	return l, nil
}

// Stage writes the next version into b without committing it. Call
// Committed with the returned version once b is durable.
func (l *Ledger) Stage(b *store.Batch, trades []orderbook.Trade, height uint64) (Version, error) {
	l.mu.Lock()
	latest, has := l.latest, l.has
	l.mu.Unlock()

	if has && height <= latest {
		return Version{}, errors.Wrapf(ErrNonMonotonicHeight, "height %d, latest %d", height, latest)
	}
	v := Version{
		Height:         height,
		PreviousHeight: latest,
		HasPrevious:    has,
		Trades:         append([]orderbook.Trade(nil), trades...),
	}
	if err := b.Set(store.HistoryKey(height), v.marshal()); err != nil {
		return Version{}, err
	}
	return v, nil
}

// Committed advances the cached head to v.
func (l *Ledger) Committed(v Version) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.has || v.Height > l.latest {
		l.latest, l.has = v.Height, true
	}
}

// Append stages and commits a version on its own.
func (l *Ledger) Append(trades []orderbook.Trade, height uint64) (Version, error) {
	b := l.store.NewBatch()
	defer b.Close()

	v, err := l.Stage(b, trades, height)
	if err != nil {
		return Version{}, err
	}
	if err := b.Commit(); err != nil {
		return Version{}, errors.Wrap(err, "commit version")
	}
	l.Committed(v)
	return v, nil
}

// Latest returns the newest version; ok is false on an empty chain.
func (l *Ledger) Latest() (Version, bool, error) {
	l.mu.Lock()
	latest, has := l.latest, l.has
	l.mu.Unlock()
	if !has {
		return Version{}, false, nil
	}
	v, err := l.At(latest)
	return v, err == nil, err
}

func (l *Ledger) At(height uint64) (Version, error) {
	val, ok, err := l.store.Get(store.HistoryKey(height))
	if err != nil {
		return Version{}, err
	}
	if !ok {
		return Version{}, errors.Wrapf(ErrVersionNotFound, "height %d", height)
	}
	return unmarshal(val)
}

// Walk visits versions from the latest back to the first. fn returns false
// to stop early. A pointer that does not strictly descend is reported as
// ErrBrokenChain, so the walk always terminates.
func (l *Ledger) Walk(fn func(Version) bool) error {
	v, ok, err := l.Latest()
	if err != nil || !ok {
		return err
	}
	for {
		if !fn(v) || !v.HasPrevious {
			return nil
		}
		if v.PreviousHeight >= v.Height {
			return errors.Wrapf(ErrBrokenChain, "version %d points at %d", v.Height, v.PreviousHeight)
		}
		if v, err = l.At(v.PreviousHeight); err != nil {
			return err
		}
	}
}
