// Package fees holds integrator fee balances keyed by (recipient, asset).
package fees

import (
	"sync"

	"github.com/cockroachdb/errors"

	"epochdex/domain/fixedpoint"
	"epochdex/domain/matching"
	"epochdex/domain/orderbook"
	"epochdex/infra/store"
)

// Ledger reads and writes balances. Writers are serialized by the caller
// that owns the batch; mu only guards the standalone Accrue/WithdrawAll.
type Ledger struct {
	store *store.Store
	mu    sync.Mutex
}

func New(s *store.Store) *Ledger {
	return &Ledger{store: s}
}

// Balance returns the committed balance, zero when nothing accrued.
func (l *Ledger) Balance(recipient orderbook.Address, asset orderbook.AssetID) (uint64, error) {
	return l.store.Uint64(store.FeeKey(recipient, asset))
}

// Balances returns every non-zero balance of recipient.
func (l *Ledger) Balances(recipient orderbook.Address) (map[orderbook.AssetID]uint64, error) {
	out := make(map[orderbook.AssetID]uint64)
	err := l.store.Scan(store.FeePrefix(recipient), func(key, val []byte) error {
		_, asset, err := store.ParseFeeKey(key)
		if err != nil {
			return err
		}
		v, err := store.DecodeUint64(val)
		if err != nil {
			return err
		}
		out[asset] = v
		return nil
	})
	return out, err
}

// Each visits every balance in key order.
func (l *Ledger) Each(fn func(recipient orderbook.Address, asset orderbook.AssetID, amount uint64) error) error {
	return l.store.Scan(store.PrefixFee, func(key, val []byte) error {
		r, a, err := store.ParseFeeKey(key)
		if err != nil {
			return err
		}
		v, err := store.DecodeUint64(val)
		if err != nil {
			return err
		}
		return fn(r, a, v)
	})
}

// Stage adds deltas to the committed balances inside b. Repeated keys in
// deltas are summed.
func (l *Ledger) Stage(b *store.Batch, deltas []matching.FeeDelta) error {
	type key struct {
		r orderbook.Address
		a orderbook.AssetID
	}
	next := make(map[key]uint64, len(deltas))
	order := make([]key, 0, len(deltas))
	for _, d := range deltas {
		if d.Amount == 0 {
			continue
		}
		k := key{d.Recipient, d.Asset}
		cur, seen := next[k]
		if !seen {
			bal, err := l.Balance(d.Recipient, d.Asset)
			if err != nil {
				return err
			}
			cur = bal
			order = append(order, k)
		}
		sum, err := fixedpoint.AddUint64(cur, d.Amount)
		if err != nil {
			return errors.Wrapf(err, "fee balance %s/%s", d.Recipient, d.Asset)
		}
		next[k] = sum
	}
	for _, k := range order {
		if err := b.Set(store.FeeKey(k.r, k.a), store.EncodeUint64(next[k])); err != nil {
			return err
		}
	}
	return nil
}

// Accrue adds amount to one balance and commits.
func (l *Ledger) Accrue(recipient orderbook.Address, asset orderbook.AssetID, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.store.NewBatch()
	defer b.Close()
	if err := l.Stage(b, []matching.FeeDelta{{Recipient: recipient, Asset: asset, Amount: amount}}); err != nil {
		return err
	}
	return b.Commit()
}

// StageWithdraw zeroes every balance of recipient inside b and returns
// what was drained.
func (l *Ledger) StageWithdraw(b *store.Batch, recipient orderbook.Address) (map[orderbook.AssetID]uint64, error) {
	drained, err := l.Balances(recipient)
	if err != nil {
		return nil, err
	}
	for asset := range drained {
		if err := b.Delete(store.FeeKey(recipient, asset)); err != nil {
			return nil, err
		}
	}
	return drained, nil
}

// WithdrawAll atomically drains every balance of recipient. A recipient
// without fees gets an empty map.
func (l *Ledger) WithdrawAll(recipient orderbook.Address) (map[orderbook.AssetID]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.store.NewBatch()
	defer b.Close()
	drained, err := l.StageWithdraw(b, recipient)
	if err != nil {
		return nil, err
	}
	if len(drained) == 0 {
		return drained, nil
	}
	if err := b.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit withdrawal")
	}
	return drained, nil
}
