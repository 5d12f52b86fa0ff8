package ingest

import (
	"context"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"epochdex/domain/batch"
	"epochdex/domain/matching"
	"epochdex/domain/orderbook"
	"epochdex/infra/kafka"
	"epochdex/infra/sequence"
	"epochdex/service"
)

type fakeService struct {
	submitted []batch.Request
	cancelled []uint64
	executed  []uint64
	withdrawn []orderbook.Address
	execErr   error
}

func (f *fakeService) Submit(r batch.Request) (uint64, error) {
	if err := batch.Validate(r); err != nil {
		return 0, err
	}
	f.submitted = append(f.submitted, r)
	return uint64(len(f.submitted)), nil
}

func (f *fakeService) Cancel(_ orderbook.Address, id uint64) ([]matching.Transfer, error) {
	f.cancelled = append(f.cancelled, id)
	return nil, nil
}

func (f *fakeService) CancelAll(orderbook.Address, orderbook.AssetID, orderbook.AssetID) ([]matching.Transfer, error) {
	return nil, nil
}

func (f *fakeService) ExecuteBatch(_ context.Context, h uint64) (*matching.Result, error) {
	if f.execErr != nil {
		return nil, f.execErr
	}
	f.executed = append(f.executed, h)
	return &matching.Result{Height: h}, nil
}

func (f *fakeService) WithdrawFees(r orderbook.Address) (map[orderbook.AssetID]uint64, error) {
	f.withdrawn = append(f.withdrawn, r)
	return nil, nil
}

type sliceSource struct {
	msgs      []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (s *sliceSource) Fetch(ctx context.Context) (kafka.Message, error) {
	if len(s.msgs) == 0 {
		s.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := s.msgs[0]
	s.msgs = s.msgs[1:]
	return m, nil
}

func (s *sliceSource) Commit(_ context.Context, m kafka.Message) error {
	s.committed = append(s.committed, m.Offset)
	return nil
}

func hex32(b byte) string {
	var v [32]byte
	v[31] = b
	return hex.EncodeToString(v[:])
}

func TestRunAppliesAndCommits(t *testing.T) {
	submit := fmt.Sprintf(`{"type":"submit","trader":%q,"offered":%q,"wanted":%q,"amount_offered":10,"amount_wanted":5,"place_on_book":true,"integrator":{"recipient":%q,"fee_bps":25}}`,
		hex32(1), hex32(0xa), hex32(0xb), hex32(9))
	msgs := []kafka.Message{
		{Offset: 0, Value: []byte(submit)},
		{Offset: 1, Value: []byte(`{"type":"execute","height":1}`)},
		{Offset: 2, Value: []byte(`not json`)},
		{Offset: 3, Value: []byte(fmt.Sprintf(`{"type":"cancel","trader":%q,"order_id":1}`, hex32(1)))},
		{Offset: 4, Value: []byte(fmt.Sprintf(`{"type":"withdraw","recipient":%q}`, hex32(9)))},
	}
	ctx, cancel := context.WithCancel(context.Background())
	src := &sliceSource{msgs: msgs, cancel: cancel}
	svc := &fakeService{}

	require.NoError(t, New(svc, src, zaptest.NewLogger(t)).Run(ctx))

	assert.Equal(t, []int64{0, 1, 2, 3, 4}, src.committed)
	require.Len(t, svc.submitted, 1)
	assert.Equal(t, uint16(25), svc.submitted[0].Integrator.FeeBps)
	assert.Equal(t, []uint64{1}, svc.executed)
	assert.Equal(t, []uint64{1}, svc.cancelled)
	assert.Len(t, svc.withdrawn, 1)
}

func TestRunStopsOnStorageError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &sliceSource{
		msgs:   []kafka.Message{{Offset: 7, Value: []byte(`{"type":"execute","height":3}`)}},
		cancel: cancel,
	}
	svc := &fakeService{execErr: errors.Mark(errors.New("disk"), service.ErrStorageUnavailable)}

	err := New(svc, src, zaptest.NewLogger(t)).Run(ctx)
	assert.True(t, errors.Is(err, service.ErrStorageUnavailable))
	assert.Empty(t, src.committed)
}

func TestApplyRejections(t *testing.T) {
	in := New(&fakeService{execErr: errors.Wrap(service.ErrStaleHeight, "h")}, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	assert.NoError(t, in.Apply(ctx, []byte(`{"type":"execute","height":1}`)))

	err := in.Apply(ctx, []byte(`{"type":"teleport"}`))
	assert.True(t, errors.Is(err, ErrBadCommand))

	err = in.Apply(ctx, []byte(`{"type":"cancel","trader":"zz"}`))
	assert.True(t, errors.Is(err, ErrBadCommand))

	bad := fmt.Sprintf(`{"type":"submit","trader":%q,"offered":%q,"wanted":%q,"amount_offered":0,"amount_wanted":5}`,
		hex32(1), hex32(0xa), hex32(0xb))
	err = in.Apply(ctx, []byte(bad))
	assert.True(t, errors.Is(err, batch.ErrValidation))
}

type flakyJournal struct {
	err error
}

func (j *flakyJournal) LogSubmit(orderbook.Order) error { return j.err }

// pendingService submits into a real pending batch.
type pendingService struct {
	fakeService
	pending *batch.Pending
}

func (p *pendingService) Submit(r batch.Request) (uint64, error) {
	return p.pending.Submit(r)
}

func TestJournalFailureIsRedelivered(t *testing.T) {
	submit := fmt.Sprintf(`{"type":"submit","trader":%q,"offered":%q,"wanted":%q,"amount_offered":10,"amount_wanted":5}`,
		hex32(1), hex32(0xa), hex32(0xb))
	msg := kafka.Message{Offset: 3, Value: []byte(submit)}

	j := &flakyJournal{err: errors.New("disk full")}
	svc := &pendingService{pending: batch.New(sequence.New(0), j)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &sliceSource{msgs: []kafka.Message{msg}, cancel: cancel}
	err := New(svc, src, zaptest.NewLogger(t)).Run(ctx)
	assert.True(t, errors.Is(err, batch.ErrJournal))
	assert.Empty(t, src.committed)
	assert.Equal(t, 0, svc.pending.Len())

	j.err = nil
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	src = &sliceSource{msgs: []kafka.Message{msg}, cancel: cancel2}
	require.NoError(t, New(svc, src, zaptest.NewLogger(t)).Run(ctx2))
	assert.Equal(t, []int64{3}, src.committed)

	orders := svc.pending.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, uint64(1), orders[0].ID)
}
