package orderbook

import (
	"bytes"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/holiman/uint256"
	"github.com/tidwall/btree"
)

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrDuplicateOrder = errors.New("order already resting")
	ErrEmptyOrder     = errors.New("resting order must have a non-zero remainder")
)

// Cursor walks one side in ascending (price, id) order. It re-seeks after
// the last returned entry on every Next, so the side may be mutated between
// calls. Reset restarts from the best entry.
type Cursor interface {
	Next() (Order, bool)
	Reset()
}

// Book is the store of resting orders. The matching engine is its only
// writer during a batch; cancellation is the only writer between batches.
type Book interface {
	Insert(o Order) error
	Remove(s Side, price *uint256.Int, id uint64) (Order, error)
	Update(o Order) error
	Get(id uint64) (Order, bool)
	Ascend(s Side) Cursor
	CancelAll(s Side, trader Address) []Order
	Orders(s Side) []Order
	Sides() []Side
	Len() int
	Clone() Book
}

type locator struct {
	side  Side
	price uint256.Int
}

// MemBook keeps each side in a B-tree keyed by (price, id). Clone is O(1)
// and copy-on-write, so a batch can run on a clone and be dropped on failure.
type MemBook struct {
	sides map[Side]*btree.BTreeG[Order]
	index *btree.Map[uint64, locator]
}

// NewOrderBook creates an empty book.
func NewOrderBook() *MemBook {
	return &MemBook{
		sides: make(map[Side]*btree.BTreeG[Order]),
		index: btree.NewMap[uint64, locator](32),
	}
}

func newSide() *btree.BTreeG[Order] {
	return btree.NewBTreeGOptions(less, btree.Options{NoLocks: true})
}

func (b *MemBook) Insert(o Order) error {
	if o.Remaining == 0 {
		return errors.Wrapf(ErrEmptyOrder, "order %d", o.ID)
	}
	if _, ok := b.index.Get(o.ID); ok {
		return errors.Wrapf(ErrDuplicateOrder, "order %d", o.ID)
	}
	s := o.Side()
	tree, ok := b.sides[s]
	if !ok {
		tree = newSide()
		b.sides[s] = tree
	}
	tree.Set(o)
	b.index.Set(o.ID, locator{side: s, price: o.Price})
	return nil
}

func (b *MemBook) Remove(s Side, price *uint256.Int, id uint64) (Order, error) {
	tree, ok := b.sides[s]
	if !ok {
		return Order{}, errors.Wrapf(ErrOrderNotFound, "order %d", id)
	}
	o, ok := tree.Delete(Order{ID: id, Price: *price})
	if !ok {
		return Order{}, errors.Wrapf(ErrOrderNotFound, "order %d", id)
	}
	b.index.Delete(id)
	if tree.Len() == 0 {
		delete(b.sides, s)
	}
	return o, nil
}

func (b *MemBook) Update(o Order) error {
	if o.Remaining == 0 {
		return errors.Wrapf(ErrEmptyOrder, "order %d", o.ID)
	}
	loc, ok := b.index.Get(o.ID)
	if !ok || !loc.price.Eq(&o.Price) {
		return errors.Wrapf(ErrOrderNotFound, "order %d", o.ID)
	}
	b.sides[loc.side].Set(o)
	return nil
}

func (b *MemBook) Get(id uint64) (Order, bool) {
	loc, ok := b.index.Get(id)
	if !ok {
		return Order{}, false
	}
	return b.sides[loc.side].Get(Order{ID: id, Price: loc.price})
}

func (b *MemBook) Ascend(s Side) Cursor {
	return &cursor{book: b, side: s}
}

func (b *MemBook) CancelAll(s Side, trader Address) []Order {
	tree, ok := b.sides[s]
	if !ok {
		return nil
	}
	var owned []Order
	tree.Scan(func(o Order) bool {
		if o.Trader == trader {
			owned = append(owned, o)
		}
		return true
	})
	for _, o := range owned {
		tree.Delete(o)
		b.index.Delete(o.ID)
	}
	if tree.Len() == 0 {
		delete(b.sides, s)
	}
	return owned
}

func (b *MemBook) Orders(s Side) []Order {
	tree, ok := b.sides[s]
	if !ok {
		return nil
	}
	out := make([]Order, 0, tree.Len())
	tree.Scan(func(o Order) bool {
		out = append(out, o)
		return true
	})
	return out
}

// Sides lists non-empty sides in a stable order.
func (b *MemBook) Sides() []Side {
	out := make([]Side, 0, len(b.sides))
	for s := range b.sides {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].Pair.A[:], out[j].Pair.A[:]); c != 0 {
			return c < 0
		}
		if c := bytes.Compare(out[i].Pair.B[:], out[j].Pair.B[:]); c != 0 {
			return c < 0
		}
		return out[i].Direction < out[j].Direction
	})
	return out
}

func (b *MemBook) Len() int { return b.index.Len() }

func (b *MemBook) Clone() Book {
	sides := make(map[Side]*btree.BTreeG[Order], len(b.sides))
	for s, tree := range b.sides {
		sides[s] = tree.Copy()
	}
	return &MemBook{sides: sides, index: b.index.Copy()}
}

type cursor struct {
	book    *MemBook
	side    Side
	last    Order
	started bool
}

func (c *cursor) Next() (Order, bool) {
	tree, ok := c.book.sides[c.side]
	if !ok {
		return Order{}, false
	}
	var (
		out   Order
		found bool
	)
	if !c.started {
		out, found = tree.Min()
	} else {
		tree.Ascend(c.last, func(o Order) bool {
			if o.ID == c.last.ID && o.Price.Eq(&c.last.Price) {
				return true
			}
			out, found = o, true
			return false
		})
	}
	if found {
		c.started = true
		c.last = out
	}
	return out, found
}

func (c *cursor) Reset() {
	c.started = false
	c.last = Order{}
}
