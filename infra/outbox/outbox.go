// Package outbox holds events of committed batches until the broadcaster
// has delivered them. Records are staged in the same store batch as the
// state they describe, so an event exists if and only if its batch does.
package outbox

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"epochdex/infra/store"
)

// State of a record.
type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Kind selects the topic an event is published to.
type Kind uint8

const (
	KindTrade Kind = iota + 1
	KindTransfer
)

func (k Kind) String() string {
	switch k {
	case KindTrade:
		return "trade"
	case KindTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

var ErrMalformed = errors.New("outbox: malformed record")

// Event is a payload waiting to be staged.
type Event struct {
	ID      uuid.UUID
	Kind    Kind
	Key     []byte
	Payload []byte
}

type Record struct {
	Seq         uint64
	State       State
	Retries     uint32
	LastAttempt int64
	Event
}

// binary encoding:
// [state:1][retries:4][lastAttempt:8][kind:1][id:16][keyLen:4][key][payload]
const fixedLen = 1 + 4 + 8 + 1 + 16 + 4

func encodeRecord(r Record) []byte {
	buf := make([]byte, fixedLen, fixedLen+len(r.Key)+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	buf[13] = byte(r.Kind)
	copy(buf[14:30], r.ID[:])
	binary.BigEndian.PutUint32(buf[30:34], uint32(len(r.Key)))
	buf = append(buf, r.Key...)
	return append(buf, r.Payload...)
}

func decodeRecord(seq uint64, b []byte) (Record, error) {
	if len(b) < fixedLen {
		return Record{}, errors.Wrapf(ErrMalformed, "record %d is %d bytes", seq, len(b))
	}
	keyLen := int(binary.BigEndian.Uint32(b[30:34]))
	if len(b) < fixedLen+keyLen {
		return Record{}, errors.Wrapf(ErrMalformed, "record %d key overruns", seq)
	}
	r := Record{
		Seq:         seq,
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
	}
	r.Kind = Kind(b[13])
	copy(r.ID[:], b[14:30])
	r.Key = append([]byte(nil), b[fixedLen:fixedLen+keyLen]...)
	r.Payload = append([]byte(nil), b[fixedLen+keyLen:]...)
	return r, nil
}

type Outbox struct {
	store      *store.Store
	maxRetries uint32

	mu   sync.Mutex
	next uint64
}

// New opens the outbox on s. Records that fail maxRetries deliveries are
// parked as FAILED; zero means retry forever.
func New(s *store.Store, maxRetries uint32) (*Outbox, error) {
	seq, err := s.Uint64(store.KeyOutboxSeq)
	if err != nil {
		return nil, errors.Wrap(err, "load outbox seq")
	}
	return &Outbox{store: s, maxRetries: maxRetries, next: seq}, nil
}

// Stage appends events to b as NEW records. Events without an id get one
// derived from their sequence. The sequence is only advanced
// by Committed, so a dropped batch reuses it.
func (o *Outbox) Stage(b *store.Batch, events []Event) (uint64, error) {
	o.mu.Lock()
	seq := o.next
	o.mu.Unlock()

	for _, e := range events {
		seq++
		if e.ID == uuid.Nil {
			e.ID = seqEventID(seq)
		}
		if err := b.Set(store.OutboxKey(seq), encodeRecord(Record{Seq: seq, Event: e})); err != nil {
			return 0, err
		}
	}
	if len(events) > 0 {
		if err := b.Set(store.KeyOutboxSeq, store.EncodeUint64(seq)); err != nil {
			return 0, err
		}
	}
	return seq, nil
}

// Committed records that everything up to seq is durable.
func (o *Outbox) Committed(seq uint64) {
	o.mu.Lock()
	if seq > o.next {
		o.next = seq
	}
	o.mu.Unlock()
}

func (o *Outbox) Get(seq uint64) (Record, bool, error) {
	val, ok, err := o.store.Get(store.OutboxKey(seq))
	if err != nil || !ok {
		return Record{}, ok, err
	}
	r, err := decodeRecord(seq, val)
	return r, err == nil, err
}

// ScanPending visits NEW and SENT records in sequence order, at most limit
// of them when limit > 0.
func (o *Outbox) ScanPending(limit int, fn func(Record) error) error {
	n := 0
	stop := errors.New("stop")
	err := o.store.Scan(store.PrefixOutbox, func(key, val []byte) error {
		seq, err := store.SuffixUint64(key)
		if err != nil {
			return err
		}
		r, err := decodeRecord(seq, val)
		if err != nil {
			return err
		}
		if r.State != StateNew && r.State != StateSent {
			return nil
		}
		if err := fn(r); err != nil {
			return err
		}
		n++
		if limit > 0 && n >= limit {
			return stop
		}
		return nil
	})
	if err == stop {
		return nil
	}
	return err
}

// MarkSent records a delivery attempt.
func (o *Outbox) MarkSent(r Record) error {
	r.State = StateSent
	r.LastAttempt = time.Now().UnixNano()
	return o.put(r)
}

// MarkAcked removes a delivered record.
func (o *Outbox) MarkAcked(seq uint64) error {
	b := o.store.NewBatch()
	defer b.Close()
	if err := b.Delete(store.OutboxKey(seq)); err != nil {
		return err
	}
	return b.Commit()
}

// MarkFailed counts a failed attempt and parks the record once retries are
// exhausted. It reports whether the record was parked.
func (o *Outbox) MarkFailed(r Record) (bool, error) {
	r.Retries++
	r.LastAttempt = time.Now().UnixNano()
	r.State = StateSent
	parked := o.maxRetries > 0 && r.Retries >= o.maxRetries
	if parked {
		r.State = StateFailed
	}
	return parked, o.put(r)
}

// Counts returns the number of records per state.
func (o *Outbox) Counts() (map[State]int, error) {
	out := make(map[State]int)
	err := o.store.Scan(store.PrefixOutbox, func(key, val []byte) error {
		if len(val) == 0 {
			return errors.Wrapf(ErrMalformed, "empty record %x", key)
		}
		out[State(val[0])]++
		return nil
	})
	return out, err
}

func (o *Outbox) put(r Record) error {
	b := o.store.NewBatch()
	defer b.Close()
	if err := b.Set(store.OutboxKey(r.Seq), encodeRecord(r)); err != nil {
		return err
	}
	return b.Commit()
}
