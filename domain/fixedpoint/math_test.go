package fixedpoint

import (
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputePrice(t *testing.T) {
	p, err := ComputePrice(500, 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(500_000_000_000), p.Uint64())

	p, err = ComputePrice(1000, 500)
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000_000_000_000), p.Uint64())

	// 1 * 10^12 / 3 rounds up
	p, err = ComputePrice(1, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(333_333_333_334), p.Uint64())
}

func TestComputePriceDivisionByZero(t *testing.T) {
	_, err := ComputePrice(10, 0)
	assert.True(t, errors.Is(err, ErrDivisionByZero))
}

func TestComputePriceFitsIn128Bits(t *testing.T) {
	p, err := ComputePrice(math.MaxUint64, 1)
	require.NoError(t, err)
	assert.LessOrEqual(t, p.BitLen(), 128)
}

func TestFee(t *testing.T) {
	cases := []struct {
		amount uint64
		bps    uint16
		want   uint64
	}{
		{1000, 100, 10},
		{999, 100, 9},
		{1, 5000, 0},
		{0, 100, 0},
		{1000, 0, 0},
		{math.MaxUint64, 5000, math.MaxUint64 / 2},
	}
	for _, c := range cases {
		got, err := Fee(c.amount, c.bps)
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "fee(%d, %d)", c.amount, c.bps)
	}
}

func TestCompatible(t *testing.T) {
	a, _ := ComputePrice(500, 1000)  // 0.5
	b, _ := ComputePrice(1000, 500)  // 2
	c, _ := ComputePrice(1001, 500)  // slightly above 2

	ok, err := Compatible(&a, &b)
	require.NoError(t, err)
	assert.True(t, ok, "exact reciprocal prices cross")

	ok, err = Compatible(&a, &c)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCompatibleOverflow(t *testing.T) {
	huge := new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	_, err := Compatible(huge, huge)
	assert.True(t, errors.Is(err, ErrOverflow))
}

func TestUnfillable(t *testing.T) {
	// price 0.5: one unit given receives nothing, two units receive one
	half, _ := ComputePrice(1, 2)
	assert.True(t, Unfillable(1, &half))
	assert.False(t, Unfillable(2, &half))

	two, _ := ComputePrice(2, 1)
	assert.False(t, Unfillable(1, &two))

	assert.True(t, Unfillable(0, &two))
	assert.True(t, Unfillable(5, new(uint256.Int)))
}

func TestUnfillableMatchesBruteForce(t *testing.T) {
	prices := []uint64{1, 7, 333_333_333_334, 499_999_999_999, PriceScale, 3 * PriceScale}
	for _, raw := range prices {
		price := uint256.NewInt(raw)
		for rem := uint64(1); rem <= 8; rem++ {
			fillable := false
			for give := uint64(1); give <= rem; give++ {
				r, err := Receive(give, price)
				require.NoError(t, err)
				if r >= 1 {
					fillable = true
					break
				}
			}
			assert.Equal(t, !fillable, Unfillable(rem, price), "price=%d rem=%d", raw, rem)
		}
	}
}

func TestMaxGiveAndReceive(t *testing.T) {
	two, _ := ComputePrice(1000, 500)
	give, err := MaxGive(1000, &two)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), give)

	r, err := Receive(give, &two)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), r)

	tiny := uint256.NewInt(1)
	give, err = MaxGive(math.MaxUint64, tiny)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), give, "clamped")

	_, err = MaxGive(1, new(uint256.Int))
	assert.True(t, errors.Is(err, ErrDivisionByZero))
}

func TestCheckedAdd(t *testing.T) {
	v, err := AddUint64(1, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), v)

	_, err = AddUint64(math.MaxUint64, 1)
	assert.True(t, errors.Is(err, ErrOverflow))

	_, err = SubUint64(1, 2)
	assert.True(t, errors.Is(err, ErrOverflow))
}
