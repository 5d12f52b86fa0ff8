// Package matching clears a sealed batch against the resting book.
//
// Execute is deterministic: the same book, batch and height always produce
// the same Result, byte for byte. It never touches the live book; the caller
// persists the Result and then calls Commit.
package matching

import (
	"sort"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"epochdex/domain/orderbook"
)

var ErrNotOwner = errors.New("order belongs to another trader")

// FeeBalances reads already-committed integrator balances so accrual can be
// checked for headroom before it is staged.
type FeeBalances interface {
	Balance(recipient orderbook.Address, asset orderbook.AssetID) (uint64, error)
}

// Engine owns the live book. It is not safe for concurrent use; the service
// serializes batches and cancellations.
type Engine struct {
	book orderbook.Book
	fees FeeBalances
	log  *zap.Logger
}

func New(book orderbook.Book, fees FeeBalances, log *zap.Logger) *Engine {
	if book == nil {
		book = orderbook.NewOrderBook()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{book: book, fees: fees, log: log}
}

// Book returns the live book. Callers must not mutate it.
func (e *Engine) Book() orderbook.Book { return e.book }

// Commit installs the working book of a persisted result.
func (e *Engine) Commit(res *Result) {
	if res != nil && res.Book != nil {
		e.book = res.Book
	}
}

// Execute runs one batch at height on a copy of the live book.
// Orders are matched place-on-book first, then by descending price, then by
// ascending id. An order whose arithmetic fails is rolled back alone and
// refunded in full.
func (e *Engine) Execute(height uint64, orders []orderbook.Order) (*Result, error) {
	x := &execution{
		height: height,
		book:   e.book.Clone(),
		src:    e.fees,
		fees:   make(map[feeKey]uint64),
		base:   make(map[feeKey]uint64),
		dirty:  make(map[uint64]struct{}),
		log:    e.log,
	}

	sorted := make([]orderbook.Order, len(orders))
	copy(sorted, orders)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := &sorted[i], &sorted[j]
		if a.PlaceOnBook != b.PlaceOnBook {
			return a.PlaceOnBook
		}
		if c := a.Price.Cmp(&b.Price); c != 0 {
			return c > 0
		}
		return a.ID < b.ID
	})

	res := &Result{Height: height}
	for _, o := range sorted {
		if o.ID > res.MaxOrderID {
			res.MaxOrderID = o.ID
		}
		if err := x.process(o); err != nil {
			return nil, err
		}
	}

	res.Book = x.book
	res.Trades = x.trades
	res.Transfers = x.transfers
	res.Placed = x.placed
	res.Rejected = x.rejected
	res.FeeDeltas = sortedDeltas(x.fees)
	res.Dirty = sortedIDs(x.dirty)

	e.log.Debug("batch executed",
		zap.Uint64("height", height),
		zap.Int("orders", len(orders)),
		zap.Int("trades", len(res.Trades)),
		zap.Int("placed", len(res.Placed)),
		zap.Int("rejected", len(res.Rejected)),
	)
	return res, nil
}

// Cancel removes one resting order owned by trader and refunds its remainder.
func (e *Engine) Cancel(id uint64, trader orderbook.Address) (*Result, error) {
	o, ok := e.book.Get(id)
	if !ok {
		return nil, errors.Wrapf(orderbook.ErrOrderNotFound, "order %d", id)
	}
	if o.Trader != trader {
		return nil, errors.Wrapf(ErrNotOwner, "order %d", id)
	}
	book := e.book.Clone()
	if _, err := book.Remove(o.Side(), &o.Price, o.ID); err != nil {
		return nil, err
	}
	return &Result{
		Book:      book,
		Transfers: []Transfer{refund(o, o.Remaining, RefundCancelled)},
		Dirty:     []uint64{o.ID},
	}, nil
}

// CancelAll removes every order of trader resting on the (offered, wanted)
// side and refunds them in ascending (price, id) order.
func (e *Engine) CancelAll(trader orderbook.Address, offered, wanted orderbook.AssetID) (*Result, error) {
	p, d := orderbook.Orient(offered, wanted)
	book := e.book.Clone()
	removed := book.CancelAll(orderbook.Side{Pair: p, Direction: d}, trader)
	res := &Result{Book: book}
	for _, o := range removed {
		res.Transfers = append(res.Transfers, refund(o, o.Remaining, RefundCancelled))
		res.Dirty = append(res.Dirty, o.ID)
	}
	sort.Slice(res.Dirty, func(i, j int) bool { return res.Dirty[i] < res.Dirty[j] })
	return res, nil
}

func refund(o orderbook.Order, amount uint64, r Reason) Transfer {
	return Transfer{
		Asset:     o.Offered,
		Amount:    amount,
		Recipient: o.Trader,
		OrderID:   o.ID,
		Reason:    r,
	}
}
