package store

import (
	"github.com/cockroachdb/errors"

	"epochdex/domain/orderbook"
	"epochdex/infra/codec"
)

// StageBook writes the book rows of the given order ids: ids still resting
// in book are written, ids gone from it are deleted.
func StageBook(b *Batch, book orderbook.Book, ids []uint64) error {
	for _, id := range ids {
		o, ok := book.Get(id)
		if !ok {
			if err := b.Delete(BookKey(id)); err != nil {
				return err
			}
			continue
		}
		if err := b.Set(BookKey(id), codec.MarshalOrder(o)); err != nil {
			return err
		}
	}
	return nil
}

// LoadBook rebuilds the resting book.
func (s *Store) LoadBook() (*orderbook.MemBook, error) {
	book := orderbook.NewOrderBook()
	err := s.Scan(PrefixBook, func(key, val []byte) error {
		o, err := codec.UnmarshalOrder(val)
		if err != nil {
			return errors.Wrapf(err, "book row %x", key)
		}
		return book.Insert(o)
	})
	if err != nil {
		return nil, err
	}
	return book, nil
}
