package store

import (
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"epochdex/domain/fixedpoint"
	"epochdex/domain/orderbook"
)

func openMem(t *testing.T) *Store {
	t.Helper()
	s, err := Open("db", vfs.NewMem(), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBatchIsAtomic(t *testing.T) {
	s := openMem(t)

	b := s.NewBatch()
	require.NoError(t, b.Set(KeyHeight, EncodeUint64(7)))
	require.NoError(t, b.Set(KeyLastOrderID, EncodeUint64(12)))

	// nothing visible before commit
	h, err := s.Uint64(KeyHeight)
	require.NoError(t, err)
	assert.Zero(t, h)

	require.NoError(t, b.Commit())
	require.NoError(t, b.Close())

	h, err = s.Uint64(KeyHeight)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), h)

	dropped := s.NewBatch()
	require.NoError(t, dropped.Set(KeyHeight, EncodeUint64(8)))
	require.NoError(t, dropped.Close())
	h, err = s.Uint64(KeyHeight)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), h)
}

func TestScanAndLast(t *testing.T) {
	s := openMem(t)
	b := s.NewBatch()
	for _, h := range []uint64{3, 1, 256, 2} {
		require.NoError(t, b.Set(HistoryKey(h), []byte{byte(h)}))
	}
	require.NoError(t, b.Set(KeyHeight, EncodeUint64(1)))
	require.NoError(t, b.Commit())

	var seen []uint64
	require.NoError(t, s.Scan(PrefixHistory, func(k, _ []byte) error {
		h, err := SuffixUint64(k)
		seen = append(seen, h)
		return err
	}))
	assert.Equal(t, []uint64{1, 2, 3, 256}, seen)

	k, _, ok, err := s.Last(PrefixHistory)
	require.NoError(t, err)
	require.True(t, ok)
	h, err := SuffixUint64(k)
	require.NoError(t, err)
	assert.Equal(t, uint64(256), h)

	_, _, ok, err = s.Last(PrefixOutbox)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBookRoundTrip(t *testing.T) {
	s := openMem(t)
	book := orderbook.NewOrderBook()
	for i, amt := range []uint64{100, 200, 300} {
		price, err := fixedpoint.ComputePrice(amt, 100)
		require.NoError(t, err)
		require.NoError(t, book.Insert(orderbook.Order{
			ID: uint64(i + 1), Offered: orderbook.AssetID{1}, Wanted: orderbook.AssetID{2},
			AmountOffered: 100, AmountWanted: amt, Remaining: 100, Price: price, PlaceOnBook: true,
		}))
	}

	b := s.NewBatch()
	require.NoError(t, StageBook(b, book, []uint64{1, 2, 3}))
	require.NoError(t, b.Commit())

	// order 2 leaves the book
	o2, _ := book.Get(2)
	_, err := book.Remove(o2.Side(), &o2.Price, 2)
	require.NoError(t, err)
	b = s.NewBatch()
	require.NoError(t, StageBook(b, book, []uint64{2}))
	require.NoError(t, b.Commit())

	loaded, err := s.LoadBook()
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Len())
	for _, side := range book.Sides() {
		assert.Equal(t, book.Orders(side), loaded.Orders(side))
	}
}

func TestUpperBound(t *testing.T) {
	assert.Equal(t, []byte("boo0"), upperBound([]byte("boo/")))
	assert.Equal(t, []byte{0x02}, upperBound([]byte{0x01, 0xff}))
	assert.Nil(t, upperBound([]byte{0xff}))
}

func TestClosedStoreReportsErrClosed(t *testing.T) {
	s, err := Open("db", vfs.NewMem(), zaptest.NewLogger(t))
	require.NoError(t, err)

	inflight := s.NewBatch()
	require.NoError(t, inflight.Set(KeyHeight, EncodeUint64(1)))
	require.NoError(t, s.Close())

	assert.ErrorIs(t, inflight.Commit(), ErrClosed)

	_, _, err = s.Get(KeyHeight)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Scan(PrefixBook, func(_, _ []byte) error { return nil }), ErrClosed)

	late := s.NewBatch()
	assert.ErrorIs(t, late.Set(KeyHeight, EncodeUint64(2)), ErrClosed)
	assert.ErrorIs(t, late.Commit(), ErrClosed)
	assert.NoError(t, late.Close())
	assert.ErrorIs(t, s.Close(), ErrClosed)
}
