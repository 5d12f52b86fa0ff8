// Package batch collects the orders submitted during one epoch. Nothing is
// matched at submission time; the batch is drained by the matching engine
// when the host closes the epoch.
package batch

import (
	"sync"

	"github.com/cockroachdb/errors"

	"epochdex/domain/fixedpoint"
	"epochdex/domain/orderbook"
)

var (
	// ErrValidation marks submissions rejected before they enter the batch.
	ErrValidation = errors.New("validation error")
	// ErrSealed is returned once execution of the epoch has started.
	ErrSealed = errors.New("pending batch is sealed for execution")
	// ErrJournal marks a submission lost to a journal write failure. No id
	// was consumed; the same submission may be retried.
	ErrJournal = errors.New("journal write failed")
)

// Request is an order submission. The host has already escrowed
// AmountOffered of Offered from Trader.
type Request struct {
	Trader        orderbook.Address
	Offered       orderbook.AssetID
	Wanted        orderbook.AssetID
	AmountOffered uint64
	AmountWanted  uint64
	PlaceOnBook   bool
	Expiry        uint64
	Integrator    *orderbook.Integrator
}

// IDSource tracks the last issued order id. Pending advances it only once
// an order is journaled, so a failed submission never burns an id.
type IDSource interface {
	Current() uint64
	Observe(v uint64)
}

// Journal durably records an accepted order before it becomes pending.
type Journal interface {
	LogSubmit(o orderbook.Order) error
}

// Validate checks a request without touching any state.
func Validate(req Request) error {
	switch {
	case req.AmountOffered == 0:
		return errors.Mark(errors.New("zero deposit"), ErrValidation)
	case req.AmountWanted == 0:
		return errors.Mark(errors.New("zero amount wanted"), ErrValidation)
	case req.Offered == req.Wanted:
		return errors.Mark(errors.Newf("self-trading pair %s", req.Offered), ErrValidation)
	}
	if in := req.Integrator; in != nil {
		if in.FeeBps < 1 || in.FeeBps > fixedpoint.MaxFeeBps {
			return errors.Mark(errors.Newf("integrator fee %d bps outside [1,%d]", in.FeeBps, fixedpoint.MaxFeeBps), ErrValidation)
		}
	}
	return nil
}

// NewOrder builds the order for a validated request.
func NewOrder(id uint64, req Request) (orderbook.Order, error) {
	if err := Validate(req); err != nil {
		return orderbook.Order{}, err
	}
	price, err := fixedpoint.ComputePrice(req.AmountWanted, req.AmountOffered)
	if err != nil {
		return orderbook.Order{}, errors.Mark(err, ErrValidation)
	}
	var integrator *orderbook.Integrator
	if req.Integrator != nil {
		in := *req.Integrator
		integrator = &in
	}
	return orderbook.Order{
		ID:            id,
		Trader:        req.Trader,
		Offered:       req.Offered,
		Wanted:        req.Wanted,
		AmountOffered: req.AmountOffered,
		AmountWanted:  req.AmountWanted,
		Remaining:     req.AmountOffered,
		Price:         price,
		PlaceOnBook:   req.PlaceOnBook,
		Expiry:        req.Expiry,
		Integrator:    integrator,
	}, nil
}

// Pending is the batch of the current epoch.
type Pending struct {
	mu      sync.Mutex
	ids     IDSource
	journal Journal
	orders  []orderbook.Order
	index   map[uint64]struct{}
	sealed  bool
}

// New creates an empty batch. journal may be nil.
func New(ids IDSource, journal Journal) *Pending {
	return &Pending{
		ids:     ids,
		journal: journal,
		index:   make(map[uint64]struct{}),
	}
}

// Submit validates req, assigns the next id and appends the order.
// Ids are assigned under the batch lock so submission order equals id order.
func (p *Pending) Submit(req Request) (uint64, error) {
	if err := Validate(req); err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sealed {
		return 0, ErrSealed
	}
	o, err := NewOrder(p.ids.Current()+1, req)
	if err != nil {
		return 0, err
	}
	if p.journal != nil {
		if err := p.journal.LogSubmit(o); err != nil {
			return 0, errors.Mark(errors.Wrapf(err, "journal order %d", o.ID), ErrJournal)
		}
	}
	p.ids.Observe(o.ID)
	p.append(o)
	return o.ID, nil
}

// Restore re-appends an order recovered from the journal.
func (p *Pending) Restore(o orderbook.Order) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.index[o.ID]; ok {
		return
	}
	p.append(o)
}

func (p *Pending) append(o orderbook.Order) {
	p.orders = append(p.orders, o)
	p.index[o.ID] = struct{}{}
}

// Seal closes the batch to new submissions.
func (p *Pending) Seal() {
	p.mu.Lock()
	p.sealed = true
	p.mu.Unlock()
}

// Unseal reopens the batch after a failed execution; its orders stay.
func (p *Pending) Unseal() {
	p.mu.Lock()
	p.sealed = false
	p.mu.Unlock()
}

// Clear drops every order and reopens the batch for the next epoch.
func (p *Pending) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = nil
	p.index = make(map[uint64]struct{})
	p.sealed = false
}

// Orders returns the pending orders in submission order.
func (p *Pending) Orders() []orderbook.Order {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]orderbook.Order, len(p.orders))
	copy(out, p.orders)
	return out
}

func (p *Pending) Contains(id uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.index[id]
	return ok
}

func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.orders)
}

func (p *Pending) Sealed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sealed
}
