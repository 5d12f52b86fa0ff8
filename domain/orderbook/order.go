package orderbook

import (
	"bytes"
	"encoding/hex"

	"github.com/cockroachdb/errors"
	"github.com/holiman/uint256"
)

// AssetID identifies a fungible asset. Opaque to the engine.
type AssetID [32]byte

// Address identifies a trader or fee recipient. The host validates it.
type Address [32]byte

func (a AssetID) String() string { return hex.EncodeToString(a[:]) }
func (a Address) String() string { return hex.EncodeToString(a[:]) }

// ParseAssetID decodes a hex encoded asset id.
func ParseAssetID(s string) (AssetID, error) {
	var id AssetID
	err := parseFixed(id[:], s)
	return id, err
}

// ParseAddress decodes a hex encoded address.
func ParseAddress(s string) (Address, error) {
	var a Address
	err := parseFixed(a[:], s)
	return a, err
}

func parseFixed(dst []byte, s string) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return errors.Wrapf(err, "decode %q", s)
	}
	if len(b) != len(dst) {
		return errors.Newf("expected %d bytes, got %d", len(dst), len(b))
	}
	copy(dst, b)
	return nil
}

// Direction selects one side of a pair.
type Direction uint8

const (
	AtoB Direction = iota // offering Pair.A for Pair.B
	BtoA                  // offering Pair.B for Pair.A
)

func (d Direction) Opposite() Direction { return d ^ 1 }

func (d Direction) String() string {
	if d == AtoB {
		return "a->b"
	}
	return "b->a"
}

// Pair is an unordered asset pair, stored with A < B.
type Pair struct {
	A, B AssetID
}

// NewPair orders x and y. Callers reject x == y before building a pair.
func NewPair(x, y AssetID) Pair {
	if bytes.Compare(x[:], y[:]) > 0 {
		x, y = y, x
	}
	return Pair{A: x, B: y}
}

// Orient returns the pair for offered/wanted and the direction of that offer.
func Orient(offered, wanted AssetID) (Pair, Direction) {
	p := NewPair(offered, wanted)
	if p.A == offered {
		return p, AtoB
	}
	return p, BtoA
}

// Side names one price-ordered collection of the book.
type Side struct {
	Pair      Pair
	Direction Direction
}

// Integrator routes a share of what an order's owner receives to a recipient.
type Integrator struct {
	Recipient Address
	FeeBps    uint16
}

// Order is a pending or resting order. Price is immutable after creation.
type Order struct {
	ID            uint64
	Trader        Address
	Offered       AssetID
	Wanted        AssetID
	AmountOffered uint64
	AmountWanted  uint64
	Remaining     uint64
	Price         uint256.Int
	PlaceOnBook   bool
	Expiry        uint64 // 0 = never
	Integrator    *Integrator
}

// Side returns the book side this order rests on.
func (o Order) Side() Side {
	p, d := Orient(o.Offered, o.Wanted)
	return Side{Pair: p, Direction: d}
}

// CounterSide is the side holding orders that offer what o wants.
func (o Order) CounterSide() Side {
	return o.Side().Opposite()
}

// Expired reports whether o is past its expiry at height.
func (o Order) Expired(height uint64) bool {
	return o.Expiry != 0 && height >= o.Expiry
}

// FeeBps is the integrator fee of o, or zero.
func (o Order) FeeBps() uint16 {
	if o.Integrator == nil {
		return 0
	}
	return o.Integrator.FeeBps
}

// less orders entries by (price, id) ascending.
func less(a, b Order) bool {
	if c := a.Price.Cmp(&b.Price); c != 0 {
		return c < 0
	}
	return a.ID < b.ID
}

// Opposite is the other direction of the same pair.
func (s Side) Opposite() Side {
	return Side{Pair: s.Pair, Direction: s.Direction.Opposite()}
}
