package store

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

var (
	PrefixBook    = []byte("book/")
	PrefixHistory = []byte("hist/v/")
	PrefixFee     = []byte("fee/")
	PrefixOutbox  = []byte("outbox/")

	KeyHeight      = []byte("meta/height")
	KeyLastOrderID = []byte("meta/last_order_id")
	KeyOutboxSeq   = []byte("meta/outbox_seq")
)

var ErrBadKey = errors.New("store: malformed key")

// BookKey addresses a resting order by id.
func BookKey(id uint64) []byte { return withUint64(PrefixBook, id) }

// HistoryKey addresses the trade history version at height. Big-endian
// heights keep versions in height order.
func HistoryKey(height uint64) []byte { return withUint64(PrefixHistory, height) }

// OutboxKey addresses an outbox record by sequence.
func OutboxKey(seq uint64) []byte { return withUint64(PrefixOutbox, seq) }

// FeeKey addresses the balance of recipient in asset.
func FeeKey(recipient, asset [32]byte) []byte {
	k := make([]byte, 0, len(PrefixFee)+64)
	k = append(k, PrefixFee...)
	k = append(k, recipient[:]...)
	return append(k, asset[:]...)
}

// FeePrefix is the prefix of every balance of recipient.
func FeePrefix(recipient [32]byte) []byte {
	k := make([]byte, 0, len(PrefixFee)+32)
	k = append(k, PrefixFee...)
	return append(k, recipient[:]...)
}

// ParseFeeKey splits a fee key into recipient and asset.
func ParseFeeKey(k []byte) (recipient, asset [32]byte, err error) {
	if len(k) != len(PrefixFee)+64 {
		return recipient, asset, errors.Wrapf(ErrBadKey, "fee key of %d bytes", len(k))
	}
	copy(recipient[:], k[len(PrefixFee):])
	copy(asset[:], k[len(PrefixFee)+32:])
	return recipient, asset, nil
}

// SuffixUint64 reads the trailing big-endian uint64 of k.
func SuffixUint64(k []byte) (uint64, error) {
	if len(k) < 8 {
		return 0, errors.Wrapf(ErrBadKey, "%q", k)
	}
	return binary.BigEndian.Uint64(k[len(k)-8:]), nil
}

// EncodeUint64 is the value encoding of counters and balances.
func EncodeUint64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

func DecodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, errors.Wrapf(ErrBadKey, "uint64 value of %d bytes", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// Uint64 reads a counter, zero when absent.
func (s *Store) Uint64(key []byte) (uint64, error) {
	val, ok, err := s.Get(key)
	if err != nil || !ok {
		return 0, err
	}
	return DecodeUint64(val)
}

func withUint64(prefix []byte, v uint64) []byte {
	k := make([]byte, 0, len(prefix)+8)
	k = append(k, prefix...)
	return binary.BigEndian.AppendUint64(k, v)
}
