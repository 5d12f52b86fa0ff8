package wal

import (
	"time"

	"epochdex/domain/orderbook"
	"epochdex/infra/codec"
)

type RecordType uint8

const (
	RecordSubmit RecordType = iota + 1
)

type Record struct {
	Type RecordType
	Seq  uint64
	Time int64
	Data []byte
}

func NewRecord(t RecordType, seq uint64, data []byte) *Record {
	return &Record{
		Type: t,
		Seq:  seq,
		Time: time.Now().UnixNano(),
		Data: data,
	}
}

// SubmitRecord journals an accepted order under its id.
func SubmitRecord(o orderbook.Order) *Record {
	return NewRecord(RecordSubmit, o.ID, codec.MarshalOrder(o))
}

// Order decodes the order carried by a submit record.
func (r *Record) Order() (orderbook.Order, error) {
	return codec.UnmarshalOrder(r.Data)
}
