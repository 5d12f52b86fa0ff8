package orderbook

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	assetA = AssetID{1}
	assetB = AssetID{2}
	alice  = Address{0xa1}
	bob    = Address{0xb0}
)

func restingOrder(id uint64, trader Address, price uint64, qty uint64) Order {
	return Order{
		ID:            id,
		Trader:        trader,
		Offered:       assetA,
		Wanted:        assetB,
		AmountOffered: qty,
		Remaining:     qty,
		Price:         *uint256.NewInt(price),
		PlaceOnBook:   true,
	}
}

func drain(c Cursor) []uint64 {
	var ids []uint64
	for o, ok := c.Next(); ok; o, ok = c.Next() {
		ids = append(ids, o.ID)
	}
	return ids
}

func TestOrientIsOrderIndependent(t *testing.T) {
	p1, d1 := Orient(assetA, assetB)
	p2, d2 := Orient(assetB, assetA)
	assert.Equal(t, p1, p2)
	assert.Equal(t, AtoB, d1)
	assert.Equal(t, BtoA, d2)
	assert.Equal(t, d1, d2.Opposite())
}

func TestAscendByPriceThenID(t *testing.T) {
	book := NewOrderBook()
	require.NoError(t, book.Insert(restingOrder(3, alice, 200, 1)))
	require.NoError(t, book.Insert(restingOrder(1, alice, 100, 1)))
	require.NoError(t, book.Insert(restingOrder(4, bob, 100, 1)))
	require.NoError(t, book.Insert(restingOrder(2, bob, 150, 1)))

	side := restingOrder(0, alice, 0, 1).Side()
	assert.Equal(t, []uint64{1, 4, 2, 3}, drain(book.Ascend(side)))
	assert.Equal(t, 4, book.Len())
}

func TestInsertRejectsDuplicatesAndEmpty(t *testing.T) {
	book := NewOrderBook()
	require.NoError(t, book.Insert(restingOrder(1, alice, 100, 5)))
	assert.True(t, errors.Is(book.Insert(restingOrder(1, alice, 100, 5)), ErrDuplicateOrder))
	assert.True(t, errors.Is(book.Insert(restingOrder(2, alice, 100, 0)), ErrEmptyOrder))
}

func TestRemoveTwiceReportsNotFound(t *testing.T) {
	book := NewOrderBook()
	o := restingOrder(7, alice, 100, 5)
	require.NoError(t, book.Insert(o))

	got, err := book.Remove(o.Side(), &o.Price, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	_, err = book.Remove(o.Side(), &o.Price, o.ID)
	assert.True(t, errors.Is(err, ErrOrderNotFound))
	assert.Empty(t, book.Sides(), "empty side is dropped")
}

func TestUpdateKeepsPosition(t *testing.T) {
	book := NewOrderBook()
	o := restingOrder(1, alice, 100, 5)
	require.NoError(t, book.Insert(o))

	o.Remaining = 2
	require.NoError(t, book.Update(o))
	got, ok := book.Get(1)
	require.True(t, ok)
	assert.Equal(t, uint64(2), got.Remaining)

	o.Remaining = 0
	assert.True(t, errors.Is(book.Update(o), ErrEmptyOrder))
	assert.True(t, errors.Is(book.Update(restingOrder(9, alice, 100, 1)), ErrOrderNotFound))
}

func TestCancelAllRemovesOnlyTrader(t *testing.T) {
	book := NewOrderBook()
	require.NoError(t, book.Insert(restingOrder(1, alice, 100, 1)))
	require.NoError(t, book.Insert(restingOrder(2, bob, 110, 1)))
	require.NoError(t, book.Insert(restingOrder(3, alice, 120, 1)))

	side := restingOrder(0, alice, 0, 1).Side()
	cancelled := book.CancelAll(side, alice)
	require.Len(t, cancelled, 2)
	assert.Equal(t, uint64(1), cancelled[0].ID)
	assert.Equal(t, uint64(3), cancelled[1].ID)
	assert.Equal(t, []uint64{2}, drain(book.Ascend(side)))

	_, ok := book.Get(1)
	assert.False(t, ok)
	assert.Nil(t, book.CancelAll(side.Opposite(), alice))
}

func TestCursorSurvivesMutationAndRestarts(t *testing.T) {
	book := NewOrderBook()
	for i := uint64(1); i <= 4; i++ {
		require.NoError(t, book.Insert(restingOrder(i, alice, 100*i, 1)))
	}
	side := restingOrder(0, alice, 0, 1).Side()
	c := book.Ascend(side)

	first, ok := c.Next()
	require.True(t, ok)
	_, err := book.Remove(side, &first.Price, first.ID)
	require.NoError(t, err)

	second, ok := c.Next()
	require.True(t, ok)
	assert.Equal(t, uint64(2), second.ID)

	c.Reset()
	assert.Equal(t, []uint64{2, 3, 4}, drain(c))
}

func TestCloneIsIsolated(t *testing.T) {
	book := NewOrderBook()
	require.NoError(t, book.Insert(restingOrder(1, alice, 100, 5)))

	clone := book.Clone()
	o, _ := clone.Get(1)
	o.Remaining = 1
	require.NoError(t, clone.Update(o))
	require.NoError(t, clone.Insert(restingOrder(2, bob, 90, 3)))

	orig, _ := book.Get(1)
	assert.Equal(t, uint64(5), orig.Remaining)
	assert.Equal(t, 1, book.Len())
	assert.Equal(t, 2, clone.Len())
}
