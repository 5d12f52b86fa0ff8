package service

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"epochdex/domain/batch"
	"epochdex/domain/matching"
	"epochdex/domain/orderbook"
	"epochdex/infra/metrics"
	"epochdex/infra/outbox"
	"epochdex/infra/sequence"
	"epochdex/infra/store"
	"epochdex/infra/wal"
	"epochdex/ledger/fees"
	"epochdex/ledger/history"
)

var (
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrOrderPending       = errors.New("order is still pending")
	ErrStaleHeight        = errors.New("height not above last executed batch")
)

type Deps struct {
	Store *store.Store
	// WAL may be nil, in which case pending orders do not survive a restart.
	WAL        *wal.WAL
	Metrics    *metrics.Metrics
	Log        *zap.Logger
	MaxRetries uint32
}

type OrderService struct {
	// mu serializes every mutation of the book and ledgers.
	mu sync.Mutex

	store   *store.Store
	wal     *wal.WAL
	engine  *matching.Engine
	pending *batch.Pending
	seq     *sequence.Sequencer
	history *history.Ledger
	fees    *fees.Ledger
	outbox  *outbox.Outbox
	metrics *metrics.Metrics
	log     *zap.Logger

	height      uint64
	hasHeight   bool
	lastOrderID uint64
}

// Open restores a node from its store and replays pending submissions from
// the WAL. It must finish before traffic is accepted.
func Open(d Deps) (*OrderService, error) {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	st := d.Store

	height, hasHeight, err := loadHeight(st)
	if err != nil {
		return nil, markStorage(err)
	}
	lastID, err := st.Uint64(store.KeyLastOrderID)
	if err != nil {
		return nil, markStorage(err)
	}
	book, err := st.LoadBook()
	if err != nil {
		return nil, markStorage(errors.Wrap(err, "load book"))
	}
	hist, err := history.New(st)
	if err != nil {
		return nil, markStorage(err)
	}
	ob, err := outbox.New(st, d.MaxRetries)
	if err != nil {
		return nil, markStorage(err)
	}
	fl := fees.New(st)
	seq := sequence.New(lastID)

	s := &OrderService{
		store:       st,
		wal:         d.WAL,
		engine:      matching.New(book, fl, log.Named("engine")),
		seq:         seq,
		history:     hist,
		fees:        fl,
		outbox:      ob,
		metrics:     d.Metrics,
		log:         log,
		height:      height,
		hasHeight:   hasHeight,
		lastOrderID: lastID,
	}
	var journal batch.Journal
	if d.WAL != nil {
		journal = d.WAL
	}
	s.pending = batch.New(seq, journal)

	restored, err := s.replay()
	if err != nil {
		return nil, err
	}
	log.Info("service opened",
		zap.Uint64("height", height),
		zap.Uint64("last_order_id", lastID),
		zap.Int("resting", book.Len()),
		zap.Int("pending_restored", restored),
	)
	s.gauges()
	return s, nil
}

func loadHeight(st *store.Store) (uint64, bool, error) {
	val, ok, err := st.Get(store.KeyHeight)
	if err != nil || !ok {
		return 0, false, err
	}
	h, err := store.DecodeUint64(val)
	return h, err == nil, err
}

//
// ──────────────────────────────────────────────────────────
// Commands
// ──────────────────────────────────────────────────────────
//

// Submit validates req, assigns an id and queues it for the next batch.
// No matching happens here. A journal failure is reported as
// ErrStorageUnavailable and leaves the id sequence untouched.
func (s *OrderService) Submit(req batch.Request) (uint64, error) {
	id, err := s.pending.Submit(req)
	if errors.Is(err, batch.ErrJournal) {
		return 0, markStorage(err)
	}
	if err != nil {
		return 0, err
	}
	if s.metrics != nil {
		s.metrics.PendingDepth(s.pending.Len())
	}
	return id, nil
}

// ExecuteBatch matches the pending batch at height and commits the result.
// On error nothing is visible: the book, ledgers and pending batch are as
// before the call. Every committed height appends a history version, also
// when the batch produced no trades, so the chain has no height gaps.
func (s *OrderService) ExecuteBatch(ctx context.Context, height uint64) (*matching.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasHeight && height <= s.height {
		return nil, errors.Wrapf(ErrStaleHeight, "height %d, last %d", height, s.height)
	}

	start := time.Now()
	s.pending.Seal()
	orders := s.pending.Orders()

	res, err := s.engine.Execute(height, orders)
	if err != nil {
		return nil, s.abort(height, err)
	}

	lastID := max(s.lastOrderID, res.MaxOrderID)
	b := s.store.NewBatch()
	defer b.Close()

	version, err := s.history.Stage(b, res.Trades, height)
	if err != nil {
		return nil, s.abort(height, err)
	}
	if err := s.fees.Stage(b, res.FeeDeltas); err != nil {
		return nil, s.abort(height, err)
	}
	if err := store.StageBook(b, res.Book, res.Dirty); err != nil {
		return nil, s.abort(height, err)
	}
	events, err := outbox.BatchEvents(res)
	if err != nil {
		return nil, s.abort(height, err)
	}
	outSeq, err := s.outbox.Stage(b, events)
	if err != nil {
		return nil, s.abort(height, err)
	}
	if err := b.Set(store.KeyHeight, store.EncodeUint64(height)); err != nil {
		return nil, s.abort(height, err)
	}
	if err := b.Set(store.KeyLastOrderID, store.EncodeUint64(lastID)); err != nil {
		return nil, s.abort(height, err)
	}
	if err := b.Commit(); err != nil {
		return nil, s.abort(height, err)
	}

	s.engine.Commit(res)
	s.history.Committed(version)
	s.outbox.Committed(outSeq)
	s.height, s.hasHeight = height, true
	s.lastOrderID = lastID
	s.pending.Clear()

	if s.wal != nil {
		if err := s.wal.TruncateBefore(lastID); err != nil {
			s.log.Warn("wal truncation failed", zap.Uint64("seq", lastID), zap.Error(err))
		}
	}

	took := time.Since(start)
	if s.metrics != nil {
		s.metrics.BatchCommitted(res, took, res.Book.Len())
		s.metrics.PendingDepth(s.pending.Len())
	}
	s.log.Info("batch committed",
		zap.Uint64("height", height),
		zap.Int("orders", len(orders)),
		zap.Int("trades", len(res.Trades)),
		zap.Int("transfers", len(res.Transfers)),
		zap.Int("rejected", len(res.Rejected)),
		zap.Int("resting", res.Book.Len()),
		zap.Duration("took", took),
	)
	return res, nil
}

func (s *OrderService) abort(height uint64, err error) error {
	s.pending.Unseal()
	if s.metrics != nil {
		s.metrics.BatchFailed()
	}
	s.log.Error("batch aborted", zap.Uint64("height", height), zap.Error(err))
	return markStorage(errors.Wrapf(err, "batch %d", height))
}

// Cancel removes a resting order of trader and refunds its remainder.
// Orders still in the pending batch cannot be cancelled.
func (s *OrderService) Cancel(trader orderbook.Address, id uint64) ([]matching.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending.Contains(id) {
		return nil, errors.Wrapf(ErrOrderPending, "order %d", id)
	}
	res, err := s.engine.Cancel(id, trader)
	if err != nil {
		return nil, err
	}
	if err := s.commitRefunds(res); err != nil {
		return nil, err
	}
	s.log.Info("order cancelled", zap.Uint64("order_id", id))
	return res.Transfers, nil
}

// CancelAll removes every order of trader resting on the offered→wanted
// side. An empty result is not an error.
func (s *OrderService) CancelAll(trader orderbook.Address, offered, wanted orderbook.AssetID) ([]matching.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.engine.CancelAll(trader, offered, wanted)
	if err != nil {
		return nil, err
	}
	if len(res.Dirty) == 0 {
		return nil, nil
	}
	if err := s.commitRefunds(res); err != nil {
		return nil, err
	}
	s.log.Info("orders cancelled", zap.Stringer("trader", trader), zap.Int("count", len(res.Dirty)))
	return res.Transfers, nil
}

func (s *OrderService) commitRefunds(res *matching.Result) error {
	b := s.store.NewBatch()
	defer b.Close()

	if err := store.StageBook(b, res.Book, res.Dirty); err != nil {
		return markStorage(err)
	}
	events, err := outbox.TransferEvents(res.Transfers)
	if err != nil {
		return err
	}
	outSeq, err := s.outbox.Stage(b, events)
	if err != nil {
		return markStorage(err)
	}
	if err := b.Commit(); err != nil {
		return markStorage(errors.Wrap(err, "commit cancellation"))
	}
	s.engine.Commit(res)
	s.outbox.Committed(outSeq)
	if s.metrics != nil {
		s.metrics.Transfers(res.Transfers)
		s.metrics.RestingOrders(res.Book.Len())
	}
	return nil
}

// WithdrawFees drains every balance of recipient and queues the payouts.
func (s *OrderService) WithdrawFees(recipient orderbook.Address) (map[orderbook.AssetID]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.store.NewBatch()
	defer b.Close()

	drained, err := s.fees.StageWithdraw(b, recipient)
	if err != nil {
		return nil, markStorage(err)
	}
	if len(drained) == 0 {
		return drained, nil
	}

	assets := make([]orderbook.AssetID, 0, len(drained))
	for a := range drained {
		assets = append(assets, a)
	}
	sort.Slice(assets, func(i, j int) bool { return bytes.Compare(assets[i][:], assets[j][:]) < 0 })

	events := make([]outbox.Event, 0, len(assets))
	for _, a := range assets {
		e, err := outbox.WithdrawalEvent(recipient, a, drained[a])
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	outSeq, err := s.outbox.Stage(b, events)
	if err != nil {
		return nil, markStorage(err)
	}
	if err := b.Commit(); err != nil {
		return nil, markStorage(errors.Wrap(err, "commit withdrawal"))
	}
	s.outbox.Committed(outSeq)
	s.log.Info("fees withdrawn", zap.Stringer("recipient", recipient), zap.Int("assets", len(drained)))
	return drained, nil
}

//
// ──────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────
//

// BookSnapshot returns a private copy of the live book.
func (s *OrderService) BookSnapshot() orderbook.Book {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Book().Clone()
}

// Height returns the last committed height.
func (s *OrderService) Height() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.height, s.hasHeight
}

func (s *OrderService) PendingLen() int          { return s.pending.Len() }
func (s *OrderService) History() *history.Ledger { return s.history }
func (s *OrderService) Fees() *fees.Ledger       { return s.fees }
func (s *OrderService) Outbox() *outbox.Outbox   { return s.outbox }

func (s *OrderService) gauges() {
	if s.metrics == nil {
		return
	}
	s.metrics.PendingDepth(s.pending.Len())
	s.metrics.RestingOrders(s.engine.Book().Len())
}

func markStorage(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, ErrStorageUnavailable)
}
