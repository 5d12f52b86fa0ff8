// Package codec is the on-disk encoding of orders and trades. Records use
// the protobuf wire format so fields can be added without a migration.
package codec

import (
	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"epochdex/domain/orderbook"
)

var ErrMalformed = errors.New("codec: malformed record")

const (
	orderID protowire.Number = iota + 1
	orderTrader
	orderOffered
	orderWanted
	orderAmountOffered
	orderAmountWanted
	orderRemaining
	orderPrice
	orderPlaceOnBook
	orderExpiry
	orderIntegratorRecipient
	orderIntegratorFeeBps
)

const (
	tradeAssetOffered protowire.Number = iota + 1
	tradeAssetWanted
	tradeAmountGive
	tradeAmountReceive
	tradeTaker
	tradeMaker
)

func appendVarint(b []byte, n protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, n, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytes(b []byte, n protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, n, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// MarshalOrder encodes o.
func MarshalOrder(o orderbook.Order) []byte {
	b := make([]byte, 0, 192)
	b = appendVarint(b, orderID, o.ID)
	b = appendBytes(b, orderTrader, o.Trader[:])
	b = appendBytes(b, orderOffered, o.Offered[:])
	b = appendBytes(b, orderWanted, o.Wanted[:])
	b = appendVarint(b, orderAmountOffered, o.AmountOffered)
	b = appendVarint(b, orderAmountWanted, o.AmountWanted)
	b = appendVarint(b, orderRemaining, o.Remaining)
	price := o.Price.Bytes32()
	b = appendBytes(b, orderPrice, price[:])
	if o.PlaceOnBook {
		b = appendVarint(b, orderPlaceOnBook, 1)
	}
	b = appendVarint(b, orderExpiry, o.Expiry)
	if in := o.Integrator; in != nil {
		b = appendBytes(b, orderIntegratorRecipient, in.Recipient[:])
		b = appendVarint(b, orderIntegratorFeeBps, uint64(in.FeeBps))
	}
	return b
}

// UnmarshalOrder decodes an order written by MarshalOrder.
func UnmarshalOrder(b []byte) (orderbook.Order, error) {
	var (
		o         orderbook.Order
		recipient orderbook.Address
		hasInt    bool
		feeBps    uint64
	)
	err := walk(b, func(n protowire.Number, v uint64, raw []byte) error {
		switch n {
		case orderID:
			o.ID = v
		case orderTrader:
			return fixed(o.Trader[:], raw)
		case orderOffered:
			return fixed(o.Offered[:], raw)
		case orderWanted:
			return fixed(o.Wanted[:], raw)
		case orderAmountOffered:
			o.AmountOffered = v
		case orderAmountWanted:
			o.AmountWanted = v
		case orderRemaining:
			o.Remaining = v
		case orderPrice:
			if len(raw) != 32 {
				return errors.Wrapf(ErrMalformed, "price is %d bytes", len(raw))
			}
			o.Price.SetBytes32(raw)
		case orderPlaceOnBook:
			o.PlaceOnBook = v != 0
		case orderExpiry:
			o.Expiry = v
		case orderIntegratorRecipient:
			hasInt = true
			return fixed(recipient[:], raw)
		case orderIntegratorFeeBps:
			feeBps = v
		}
		return nil
	})
	if err != nil {
		return orderbook.Order{}, err
	}
	if hasInt {
		if feeBps > 0xffff {
			return orderbook.Order{}, errors.Wrapf(ErrMalformed, "fee bps %d", feeBps)
		}
		o.Integrator = &orderbook.Integrator{Recipient: recipient, FeeBps: uint16(feeBps)}
	}
	return o, nil
}

// AppendTrade appends the encoding of t to b.
func AppendTrade(b []byte, t orderbook.Trade) []byte {
	b = appendBytes(b, tradeAssetOffered, t.AssetOffered[:])
	b = appendBytes(b, tradeAssetWanted, t.AssetWanted[:])
	b = appendVarint(b, tradeAmountGive, t.AmountGive)
	b = appendVarint(b, tradeAmountReceive, t.AmountReceive)
	b = appendVarint(b, tradeTaker, t.TakerOrderID)
	b = appendVarint(b, tradeMaker, t.MakerOrderID)
	return b
}

// UnmarshalTrade decodes a trade written by AppendTrade.
func UnmarshalTrade(b []byte) (orderbook.Trade, error) {
	var t orderbook.Trade
	err := walk(b, func(n protowire.Number, v uint64, raw []byte) error {
		switch n {
		case tradeAssetOffered:
			return fixed(t.AssetOffered[:], raw)
		case tradeAssetWanted:
			return fixed(t.AssetWanted[:], raw)
		case tradeAmountGive:
			t.AmountGive = v
		case tradeAmountReceive:
			t.AmountReceive = v
		case tradeTaker:
			t.TakerOrderID = v
		case tradeMaker:
			t.MakerOrderID = v
		}
		return nil
	})
	return t, err
}

// Walk calls fn for every field of a message. Varint fields carry their value
// in v, length-delimited fields in raw. Unknown wire types are skipped.
func Walk(b []byte, fn func(n protowire.Number, v uint64, raw []byte) error) error {
	return walk(b, fn)
}

func walk(b []byte, fn func(n protowire.Number, v uint64, raw []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(ErrMalformed, protowire.ParseError(n).Error())
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return errors.Wrap(ErrMalformed, protowire.ParseError(m).Error())
			}
			b = b[m:]
			if err := fn(num, v, nil); err != nil {
				return err
			}
		case protowire.BytesType:
			raw, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return errors.Wrap(ErrMalformed, protowire.ParseError(m).Error())
			}
			b = b[m:]
			if err := fn(num, 0, raw); err != nil {
				return err
			}
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return errors.Wrap(ErrMalformed, protowire.ParseError(m).Error())
			}
			b = b[m:]
		}
	}
	return nil
}

func fixed(dst, raw []byte) error {
	if len(raw) != len(dst) {
		return errors.Wrapf(ErrMalformed, "want %d bytes, got %d", len(dst), len(raw))
	}
	copy(dst, raw)
	return nil
}
