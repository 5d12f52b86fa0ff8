package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"epochdex/domain/fixedpoint"
	"epochdex/domain/orderbook"
)

func TestOrderEncoding(t *testing.T) {
	price, err := fixedpoint.ComputePrice(500, 1000)
	require.NoError(t, err)
	o := orderbook.Order{
		ID:            42,
		Trader:        orderbook.Address{1, 2, 3},
		Offered:       orderbook.AssetID{0xa},
		Wanted:        orderbook.AssetID{0xb},
		AmountOffered: 1000,
		AmountWanted:  500,
		Remaining:     750,
		Price:         price,
		PlaceOnBook:   true,
		Expiry:        99,
		Integrator:    &orderbook.Integrator{Recipient: orderbook.Address{9}, FeeBps: 30},
	}

	got, err := UnmarshalOrder(MarshalOrder(o))
	require.NoError(t, err)
	assert.Equal(t, o, got)

	// stored price reproduces from the stored amounts
	again, err := fixedpoint.ComputePrice(got.AmountWanted, got.AmountOffered)
	require.NoError(t, err)
	assert.True(t, again.Eq(&got.Price))
}

func TestOrderWithoutIntegrator(t *testing.T) {
	o := orderbook.Order{ID: 7, AmountOffered: 1, AmountWanted: 1, Remaining: 1}
	got, err := UnmarshalOrder(MarshalOrder(o))
	require.NoError(t, err)
	assert.Nil(t, got.Integrator)
	assert.False(t, got.PlaceOnBook)
}

func TestUnknownFieldsAreSkipped(t *testing.T) {
	tr := orderbook.Trade{AmountGive: 5, AmountReceive: 6, TakerOrderID: 2, MakerOrderID: 1}
	b := AppendTrade(nil, tr)
	b = protowire.AppendTag(b, 99, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, 123)

	got, err := UnmarshalTrade(b)
	require.NoError(t, err)
	assert.Equal(t, tr, got)
}

func TestMalformedInput(t *testing.T) {
	_, err := UnmarshalOrder([]byte{0x0a, 0x05, 0x01})
	assert.ErrorIs(t, err, ErrMalformed)

	short := protowire.AppendTag(nil, orderTrader, protowire.BytesType)
	short = protowire.AppendBytes(short, []byte{1, 2})
	_, err = UnmarshalOrder(short)
	assert.ErrorIs(t, err, ErrMalformed)
}
