package outbox

import (
	"encoding/json"
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"epochdex/domain/matching"
	"epochdex/domain/orderbook"
	"epochdex/infra/store"
)

func newOutbox(t *testing.T, maxRetries uint32) (*Outbox, *store.Store) {
	t.Helper()
	s, err := store.Open("db", vfs.NewMem(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	o, err := New(s, maxRetries)
	require.NoError(t, err)
	return o, s
}

func stage(t *testing.T, o *Outbox, s *store.Store, events ...Event) uint64 {
	t.Helper()
	b := s.NewBatch()
	defer b.Close()
	seq, err := o.Stage(b, events)
	require.NoError(t, err)
	require.NoError(t, b.Commit())
	o.Committed(seq)
	return seq
}

func pending(t *testing.T, o *Outbox) []Record {
	t.Helper()
	var out []Record
	require.NoError(t, o.ScanPending(0, func(r Record) error {
		out = append(out, r)
		return nil
	}))
	return out
}

func TestLifecycle(t *testing.T) {
	o, s := newOutbox(t, 0)
	seq := stage(t, o, s,
		Event{Kind: KindTrade, Key: []byte("k"), Payload: []byte(`{"a":1}`)},
		Event{Kind: KindTransfer, Payload: []byte(`{"b":2}`)},
	)
	assert.Equal(t, uint64(2), seq)

	recs := pending(t, o)
	require.Len(t, recs, 2)
	assert.Equal(t, KindTrade, recs[0].Kind)
	assert.Equal(t, []byte("k"), recs[0].Key)
	assert.Equal(t, seqEventID(1), recs[0].ID)

	require.NoError(t, o.MarkSent(recs[0]))
	got, ok, err := o.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StateSent, got.State)

	require.NoError(t, o.MarkAcked(1))
	_, ok, err = o.Get(1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, pending(t, o), 1)
}

func TestSequenceSurvivesReopen(t *testing.T) {
	o, s := newOutbox(t, 0)
	stage(t, o, s, Event{Kind: KindTrade}, Event{Kind: KindTrade})

	reopened, err := New(s, 0)
	require.NoError(t, err)
	seq := stage(t, reopened, s, Event{Kind: KindTrade})
	assert.Equal(t, uint64(3), seq)
}

func TestDroppedBatchLeavesNothing(t *testing.T) {
	o, s := newOutbox(t, 0)
	b := s.NewBatch()
	_, err := o.Stage(b, []Event{{Kind: KindTrade}})
	require.NoError(t, err)
	require.NoError(t, b.Close())

	assert.Empty(t, pending(t, o))
	assert.Equal(t, uint64(1), stage(t, o, s, Event{Kind: KindTrade}))
}

func TestMarkFailedParksAfterRetries(t *testing.T) {
	o, s := newOutbox(t, 2)
	stage(t, o, s, Event{Kind: KindTrade})

	r := pending(t, o)[0]
	parked, err := o.MarkFailed(r)
	require.NoError(t, err)
	assert.False(t, parked)

	r = pending(t, o)[0]
	assert.Equal(t, uint32(1), r.Retries)
	parked, err = o.MarkFailed(r)
	require.NoError(t, err)
	assert.True(t, parked)
	assert.Empty(t, pending(t, o))

	counts, err := o.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, counts[StateFailed])
}

func TestBatchEvents(t *testing.T) {
	res := &matching.Result{
		Height: 12,
		Trades: []orderbook.Trade{{
			AssetOffered: orderbook.AssetID{0xb}, AssetWanted: orderbook.AssetID{0xa},
			AmountGive: 500, AmountReceive: 1000, TakerOrderID: 2, MakerOrderID: 1,
		}},
		Transfers: []matching.Transfer{{
			Asset: orderbook.AssetID{0xb}, Amount: 500, Recipient: orderbook.Address{1},
			OrderID: 2, Reason: matching.FillTaker,
		}},
	}

	events, err := BatchEvents(res)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, BatchEventID(12, KindTrade, 0), events[0].ID)
	assert.NotEqual(t, events[0].ID, events[1].ID)

	var te TradeEvent
	require.NoError(t, json.Unmarshal(events[0].Payload, &te))
	assert.Equal(t, "2", te.Rate)
	assert.Equal(t, uint64(500), te.AmountGive)
	assert.Equal(t, events[0].ID.String(), te.ID)

	var tr TransferEvent
	require.NoError(t, json.Unmarshal(events[1].Payload, &tr))
	assert.Equal(t, "fill_taker", tr.Reason)

	again, err := BatchEvents(res)
	require.NoError(t, err)
	assert.Equal(t, events, again)
	assert.NotEqual(t, uuid.Nil, events[1].ID)
}
