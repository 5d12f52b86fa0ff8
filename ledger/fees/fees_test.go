package fees

import (
	"math"
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"epochdex/domain/fixedpoint"
	"epochdex/domain/matching"
	"epochdex/domain/orderbook"
	"epochdex/infra/store"
)

var (
	broker = orderbook.Address{0x99}
	other  = orderbook.Address{0x98}
	assetA = orderbook.AssetID{0xa}
	assetB = orderbook.AssetID{0xb}
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	s, err := store.Open("db", vfs.NewMem(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s)
}

func TestWithdrawAllReturnsSummedTotal(t *testing.T) {
	l := newLedger(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Accrue(broker, assetB, 10))
	}
	require.NoError(t, l.Accrue(broker, assetA, 4))
	require.NoError(t, l.Accrue(other, assetB, 1))

	drained, err := l.WithdrawAll(broker)
	require.NoError(t, err)
	assert.Equal(t, map[orderbook.AssetID]uint64{assetB: 30, assetA: 4}, drained)

	bal, err := l.Balance(broker, assetB)
	require.NoError(t, err)
	assert.Zero(t, bal)

	again, err := l.WithdrawAll(broker)
	require.NoError(t, err)
	assert.Empty(t, again)

	bal, err = l.Balance(other, assetB)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), bal)
}

func TestWithdrawUnknownRecipientIsEmpty(t *testing.T) {
	l := newLedger(t)
	drained, err := l.WithdrawAll(broker)
	require.NoError(t, err)
	assert.NotNil(t, drained)
	assert.Empty(t, drained)
}

func TestStageDeltas(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Accrue(broker, assetA, 5))

	b := l.store.NewBatch()
	require.NoError(t, l.Stage(b, []matching.FeeDelta{
		{Recipient: broker, Asset: assetA, Amount: 7},
		{Recipient: other, Asset: assetB, Amount: 2},
	}))
	bal, err := l.Balance(broker, assetA)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), bal)

	require.NoError(t, b.Commit())
	bal, err = l.Balance(broker, assetA)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), bal)

	var n int
	require.NoError(t, l.Each(func(orderbook.Address, orderbook.AssetID, uint64) error {
		n++
		return nil
	}))
	assert.Equal(t, 2, n)
}

func TestAccrueOverflow(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Accrue(broker, assetA, math.MaxUint64))
	err := l.Accrue(broker, assetA, 1)
	assert.ErrorIs(t, err, fixedpoint.ErrOverflow)
}
