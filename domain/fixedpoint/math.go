// Package fixedpoint holds the scaled-integer arithmetic shared by every
// replica. Prices are unsigned 128-bit values scaled by PriceScale, evaluated
// in 256-bit intermediates so no product can wrap.
package fixedpoint

import (
	"math"
	"math/bits"

	"github.com/cockroachdb/errors"
	"github.com/holiman/uint256"
)

const (
	PriceScale uint64 = 1_000_000_000_000
	BpsScale   uint64 = 10_000
	MaxFeeBps  uint16 = 5_000

	// priceBits bounds a stored price.
	priceBits = 128
)

var (
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")
	ErrOverflow       = errors.New("fixedpoint: arithmetic overflow")
)

var (
	scale        = uint256.NewInt(PriceScale)
	scaleSquared = new(uint256.Int).Mul(scale, scale)
	bpsScale     = uint256.NewInt(BpsScale)
)

// ComputePrice returns ceil(wanted * PriceScale / offered).
// Rounding up keeps a maker from receiving less than asked after truncation.
func ComputePrice(wanted, offered uint64) (uint256.Int, error) {
	var p uint256.Int
	if offered == 0 {
		return p, ErrDivisionByZero
	}
	num := new(uint256.Int).Mul(uint256.NewInt(wanted), scale)
	ceilDiv(&p, num, uint256.NewInt(offered))
	if p.BitLen() > priceBits {
		return uint256.Int{}, errors.Wrapf(ErrOverflow, "price for %d/%d", wanted, offered)
	}
	return p, nil
}

// Fee returns floor(amount * bps / BpsScale). Flooring never over-charges.
func Fee(amount uint64, bps uint16) (uint64, error) {
	if bps == 0 || amount == 0 {
		return 0, nil
	}
	if uint64(bps) > BpsScale {
		return 0, errors.Wrapf(ErrOverflow, "fee bps %d", bps)
	}
	hi, lo := bits.Mul64(amount, uint64(bps))
	q, _ := bits.Div64(hi, lo, BpsScale)
	return q, nil
}

// Compatible reports whether two opposite-direction prices cross:
// p1 * p2 <= PriceScale^2.
func Compatible(p1, p2 *uint256.Int) (bool, error) {
	prod, overflow := new(uint256.Int).MulOverflow(p1, p2)
	if overflow {
		return false, errors.Wrap(ErrOverflow, "price product")
	}
	return !prod.Gt(scaleSquared), nil
}

// MinGive is the smallest give at price that yields a non-zero receive,
// ceil(PriceScale / price).
func MinGive(price *uint256.Int) (uint256.Int, error) {
	var z uint256.Int
	if price.IsZero() {
		return z, ErrDivisionByZero
	}
	ceilDiv(&z, scale, price)
	return z, nil
}

// Unfillable reports whether a position of rem units at price can never
// produce a non-zero receive: the minimal give exceeds what remains.
func Unfillable(rem uint64, price *uint256.Int) bool {
	if rem == 0 {
		return true
	}
	minGive, err := MinGive(price)
	if err != nil {
		// a zero price pays nothing for any give
		return true
	}
	return minGive.Gt(uint256.NewInt(rem))
}

// MaxGive returns floor(budget * PriceScale / price), clamped to MaxUint64.
func MaxGive(budget uint64, price *uint256.Int) (uint64, error) {
	if price.IsZero() {
		return 0, ErrDivisionByZero
	}
	num := new(uint256.Int).Mul(uint256.NewInt(budget), scale)
	q := num.Div(num, price)
	if !q.IsUint64() {
		return math.MaxUint64, nil
	}
	return q.Uint64(), nil
}

// Receive returns floor(give * price / PriceScale).
func Receive(give uint64, price *uint256.Int) (uint64, error) {
	prod, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(give), price)
	if overflow {
		return 0, errors.Wrap(ErrOverflow, "receive product")
	}
	q := prod.Div(prod, scale)
	if !q.IsUint64() {
		return 0, errors.Wrapf(ErrOverflow, "receive for give %d", give)
	}
	return q.Uint64(), nil
}

// AddUint64 is checked addition.
func AddUint64(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, errors.Wrapf(ErrOverflow, "%d + %d", a, b)
	}
	return sum, nil
}

// SubUint64 is checked subtraction.
func SubUint64(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, errors.Wrapf(ErrOverflow, "%d - %d", a, b)
	}
	return diff, nil
}

func ceilDiv(z, x, y *uint256.Int) {
	var rem uint256.Int
	z.DivMod(x, y, &rem)
	if !rem.IsZero() {
		z.AddUint64(z, 1)
	}
}
