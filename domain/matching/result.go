package matching

import (
	"bytes"
	"sort"

	"epochdex/domain/orderbook"
)

// Reason explains why value leaves the engine.
type Reason uint8

const (
	FillTaker Reason = iota + 1
	FillMaker
	RefundExpired
	RefundDust
	RefundUnfilled
	RefundRejected
	RefundCancelled
)

func (r Reason) String() string {
	switch r {
	case FillTaker:
		return "fill_taker"
	case FillMaker:
		return "fill_maker"
	case RefundExpired:
		return "refund_expired"
	case RefundDust:
		return "refund_dust"
	case RefundUnfilled:
		return "refund_unfilled"
	case RefundRejected:
		return "refund_rejected"
	case RefundCancelled:
		return "refund_cancelled"
	default:
		return "unknown"
	}
}

// Refund reports whether r returns escrow rather than paying a fill.
func (r Reason) Refund() bool { return r >= RefundExpired }

// Transfer is an intent for the host: move Amount of Asset out of escrow to
// Recipient. The host executes it atomically with the book commit.
type Transfer struct {
	Asset     orderbook.AssetID
	Amount    uint64
	Recipient orderbook.Address
	OrderID   uint64
	Reason    Reason
}

// FeeDelta is the fee accrued to one (recipient, asset) during a batch.
type FeeDelta struct {
	Recipient orderbook.Address
	Asset     orderbook.AssetID
	Amount    uint64
}

type feeKey struct {
	recipient orderbook.Address
	asset     orderbook.AssetID
}

// Result is everything a batch (or a cancellation) produced. Book is the
// working book; it replaces the live book only after the caller persisted
// the rest of the result.
type Result struct {
	Height     uint64
	Book       orderbook.Book
	Trades     []orderbook.Trade
	FeeDeltas  []FeeDelta
	Transfers  []Transfer
	Placed     []uint64
	Rejected   []uint64
	Dirty      []uint64
	MaxOrderID uint64
}

func sortedDeltas(m map[feeKey]uint64) []FeeDelta {
	out := make([]FeeDelta, 0, len(m))
	for k, v := range m {
		out = append(out, FeeDelta{Recipient: k.recipient, Asset: k.asset, Amount: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].Recipient[:], out[j].Recipient[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(out[i].Asset[:], out[j].Asset[:]) < 0
	})
	return out
}

func sortedIDs(m map[uint64]struct{}) []uint64 {
	out := make([]uint64, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
