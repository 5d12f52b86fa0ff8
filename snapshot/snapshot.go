package snapshot

import (
	"time"

	"github.com/holiman/uint256"

	"epochdex/domain/orderbook"
)

type Snapshot struct {
	Height      uint64
	LastOrderID uint64
	Created     time.Time
	Orders      []OrderEntry
}

type OrderEntry struct {
	ID            uint64
	Trader        [32]byte
	Offered       [32]byte
	Wanted        [32]byte
	AmountOffered uint64
	AmountWanted  uint64
	Remaining     uint64
	Price         [32]byte
	Expiry        uint64
	HasIntegrator bool
	Integrator    [32]byte
	FeeBps        uint16
}

// FromBook captures every resting order, side by side in book order.
func FromBook(book orderbook.Book, height, lastOrderID uint64) *Snapshot {
	s := &Snapshot{
		Height:      height,
		LastOrderID: lastOrderID,
		Created:     time.Now().UTC(),
		Orders:      make([]OrderEntry, 0, book.Len()),
	}
	for _, side := range book.Sides() {
		for _, o := range book.Orders(side) {
			e := OrderEntry{
				ID:            o.ID,
				Trader:        o.Trader,
				Offered:       o.Offered,
				Wanted:        o.Wanted,
				AmountOffered: o.AmountOffered,
				AmountWanted:  o.AmountWanted,
				Remaining:     o.Remaining,
				Price:         o.Price.Bytes32(),
				Expiry:        o.Expiry,
			}
			if o.Integrator != nil {
				e.HasIntegrator = true
				e.Integrator = o.Integrator.Recipient
				e.FeeBps = o.Integrator.FeeBps
			}
			s.Orders = append(s.Orders, e)
		}
	}
	return s
}

// Order rebuilds the resting order of e.
func (e OrderEntry) Order() orderbook.Order {
	o := orderbook.Order{
		ID:            e.ID,
		Trader:        e.Trader,
		Offered:       e.Offered,
		Wanted:        e.Wanted,
		AmountOffered: e.AmountOffered,
		AmountWanted:  e.AmountWanted,
		Remaining:     e.Remaining,
		PlaceOnBook:   true,
		Expiry:        e.Expiry,
	}
	o.Price = *new(uint256.Int).SetBytes32(e.Price[:])
	if e.HasIntegrator {
		o.Integrator = &orderbook.Integrator{Recipient: e.Integrator, FeeBps: e.FeeBps}
	}
	return o
}

// Book rebuilds a book from the snapshot.
func (s *Snapshot) Book() (*orderbook.MemBook, error) {
	book := orderbook.NewOrderBook()
	for _, e := range s.Orders {
		if err := book.Insert(e.Order()); err != nil {
			return nil, err
		}
	}
	return book, nil
}
