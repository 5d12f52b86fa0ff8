package matching

import (
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"epochdex/domain/fixedpoint"
	"epochdex/domain/orderbook"
)

// execution is the accumulated state of one batch.
type execution struct {
	height uint64
	book   orderbook.Book
	src    FeeBalances
	log    *zap.Logger

	trades    []orderbook.Trade
	transfers []Transfer
	placed    []uint64
	rejected  []uint64
	fees      map[feeKey]uint64
	base      map[feeKey]uint64
	dirty     map[uint64]struct{}
}

// step is what a single order contributed. It is merged into the execution
// only if the order completed without an arithmetic error.
type step struct {
	book      orderbook.Book
	trades    []orderbook.Trade
	transfers []Transfer
	fees      map[feeKey]uint64
	dirty     []uint64
	placed    bool
}

func (x *execution) process(o orderbook.Order) error {
	s := &step{book: x.book.Clone(), fees: make(map[feeKey]uint64)}
	err := x.match(s, o)
	if err == nil {
		x.merge(s, o.ID)
		return nil
	}
	if !isOrderFault(err) {
		return err
	}
	x.log.Warn("order rejected",
		zap.Uint64("order_id", o.ID),
		zap.Uint64("height", x.height),
		zap.Error(err),
	)
	x.rejected = append(x.rejected, o.ID)
	x.transfers = append(x.transfers, refund(o, o.AmountOffered, RefundRejected))
	return nil
}

func isOrderFault(err error) bool {
	return errors.IsAny(err,
		fixedpoint.ErrOverflow,
		fixedpoint.ErrDivisionByZero,
		orderbook.ErrDuplicateOrder,
		orderbook.ErrEmptyOrder,
		orderbook.ErrOrderNotFound,
	)
}

func (x *execution) merge(s *step, id uint64) {
	x.book = s.book
	x.trades = append(x.trades, s.trades...)
	x.transfers = append(x.transfers, s.transfers...)
	for k, v := range s.fees {
		// headroom was checked in accrue
		x.fees[k] += v
	}
	for _, d := range s.dirty {
		x.dirty[d] = struct{}{}
	}
	if s.placed {
		x.placed = append(x.placed, id)
	}
}

// match walks the counter side best price first and fills o until it is
// exhausted, prices stop crossing, or the side is empty.
func (x *execution) match(s *step, o orderbook.Order) error {
	cur := s.book.Ascend(o.CounterSide())
	for o.Remaining > 0 {
		c, ok := cur.Next()
		if !ok {
			break
		}
		if c.Expired(x.height) {
			if err := s.drop(c, RefundExpired); err != nil {
				return err
			}
			continue
		}
		crosses, err := fixedpoint.Compatible(&o.Price, &c.Price)
		if err != nil {
			return err
		}
		if !crosses {
			break
		}

		maxGive, err := fixedpoint.MaxGive(o.Remaining, &c.Price)
		if err != nil {
			return err
		}
		give := min(c.Remaining, maxGive)
		if give == 0 {
			break
		}
		receive, err := fixedpoint.Receive(give, &c.Price)
		if err != nil {
			return err
		}
		if receive == 0 {
			if give == c.Remaining {
				if err := s.drop(c, RefundDust); err != nil {
					return err
				}
				continue
			}
			break
		}

		if err := x.fill(s, &o, &c, give, receive); err != nil {
			return err
		}
	}

	if o.Remaining == 0 {
		return nil
	}
	if o.PlaceOnBook && !o.Expired(x.height) {
		if err := s.book.Insert(o); err != nil {
			return err
		}
		s.placed = true
		s.dirty = append(s.dirty, o.ID)
		return nil
	}
	r := RefundUnfilled
	if o.Expired(x.height) {
		r = RefundExpired
	}
	s.transfers = append(s.transfers, refund(o, o.Remaining, r))
	return nil
}

// fill settles one match: c gives `give` of its offered asset, o pays
// `receive` of its offered asset, each side net of its own integrator fee.
func (x *execution) fill(s *step, o, c *orderbook.Order, give, receive uint64) error {
	takerFee, err := fixedpoint.Fee(give, o.FeeBps())
	if err != nil {
		return err
	}
	makerFee, err := fixedpoint.Fee(receive, c.FeeBps())
	if err != nil {
		return err
	}
	if takerFee > 0 {
		if err := x.accrue(s, o.Integrator.Recipient, o.Wanted, takerFee); err != nil {
			return err
		}
	}
	if makerFee > 0 {
		if err := x.accrue(s, c.Integrator.Recipient, c.Wanted, makerFee); err != nil {
			return err
		}
	}

	cRem, err := fixedpoint.SubUint64(c.Remaining, give)
	if err != nil {
		return err
	}
	oRem, err := fixedpoint.SubUint64(o.Remaining, receive)
	if err != nil {
		return err
	}

	s.trades = append(s.trades, orderbook.Trade{
		AssetOffered:  c.Offered,
		AssetWanted:   c.Wanted,
		AmountGive:    give,
		AmountReceive: receive,
		TakerOrderID:  o.ID,
		MakerOrderID:  c.ID,
	})
	if net := give - takerFee; net > 0 {
		s.transfers = append(s.transfers, Transfer{
			Asset: o.Wanted, Amount: net, Recipient: o.Trader, OrderID: o.ID, Reason: FillTaker,
		})
	}
	if net := receive - makerFee; net > 0 {
		s.transfers = append(s.transfers, Transfer{
			Asset: c.Wanted, Amount: net, Recipient: c.Trader, OrderID: c.ID, Reason: FillMaker,
		})
	}

	o.Remaining = oRem
	c.Remaining = cRem
	switch {
	case cRem == 0:
		if _, err := s.book.Remove(c.Side(), &c.Price, c.ID); err != nil {
			return err
		}
		s.dirty = append(s.dirty, c.ID)
	case fixedpoint.Unfillable(cRem, &c.Price):
		if err := s.drop(*c, RefundDust); err != nil {
			return err
		}
	default:
		if err := s.book.Update(*c); err != nil {
			return err
		}
		s.dirty = append(s.dirty, c.ID)
	}
	return nil
}

// drop removes a resting order and refunds its remainder.
func (s *step) drop(c orderbook.Order, r Reason) error {
	if _, err := s.book.Remove(c.Side(), &c.Price, c.ID); err != nil {
		return err
	}
	s.transfers = append(s.transfers, refund(c, c.Remaining, r))
	s.dirty = append(s.dirty, c.ID)
	return nil
}

// accrue books a fee after checking the committed balance plus everything
// accrued so far in the batch still fits in a uint64.
func (x *execution) accrue(s *step, recipient orderbook.Address, asset orderbook.AssetID, fee uint64) error {
	k := feeKey{recipient: recipient, asset: asset}
	base, ok := x.base[k]
	if !ok && x.src != nil {
		b, err := x.src.Balance(recipient, asset)
		if err != nil {
			return errors.Wrap(err, "read fee balance")
		}
		base = b
		x.base[k] = b
	}
	total, err := fixedpoint.AddUint64(base, x.fees[k])
	if err != nil {
		return err
	}
	if total, err = fixedpoint.AddUint64(total, s.fees[k]); err != nil {
		return err
	}
	if _, err := fixedpoint.AddUint64(total, fee); err != nil {
		return err
	}
	s.fees[k] += fee
	return nil
}
