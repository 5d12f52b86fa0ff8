package ingest

import (
	"encoding/json"

	"github.com/cockroachdb/errors"

	"epochdex/domain/batch"
	"epochdex/domain/orderbook"
)

// Command types carried on the command log.
const (
	TypeSubmit    = "submit"
	TypeCancel    = "cancel"
	TypeCancelAll = "cancel_all"
	TypeExecute   = "execute"
	TypeWithdraw  = "withdraw"
)

var ErrBadCommand = errors.New("ingest: malformed command")

type Integrator struct {
	Recipient string `json:"recipient"`
	FeeBps    uint16 `json:"fee_bps"`
}

// Command is one JSON record of the command log. Addresses and asset ids
// are hex encoded.
type Command struct {
	Type          string      `json:"type"`
	Trader        string      `json:"trader,omitempty"`
	Offered       string      `json:"offered,omitempty"`
	Wanted        string      `json:"wanted,omitempty"`
	AmountOffered uint64      `json:"amount_offered,omitempty"`
	AmountWanted  uint64      `json:"amount_wanted,omitempty"`
	PlaceOnBook   bool        `json:"place_on_book,omitempty"`
	Expiry        uint64      `json:"expiry,omitempty"`
	Integrator    *Integrator `json:"integrator,omitempty"`
	OrderID       uint64      `json:"order_id,omitempty"`
	Height        uint64      `json:"height,omitempty"`
	Recipient     string      `json:"recipient,omitempty"`
}

func Decode(b []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(b, &c); err != nil {
		return Command{}, errors.Mark(errors.Wrap(err, "decode command"), ErrBadCommand)
	}
	return c, nil
}

// Request converts a submit command.
func (c Command) Request() (batch.Request, error) {
	trader, err := orderbook.ParseAddress(c.Trader)
	if err != nil {
		return batch.Request{}, bad(err, "trader")
	}
	offered, wanted, err := c.assets()
	if err != nil {
		return batch.Request{}, err
	}
	req := batch.Request{
		Trader:        trader,
		Offered:       offered,
		Wanted:        wanted,
		AmountOffered: c.AmountOffered,
		AmountWanted:  c.AmountWanted,
		PlaceOnBook:   c.PlaceOnBook,
		Expiry:        c.Expiry,
	}
	if c.Integrator != nil {
		r, err := orderbook.ParseAddress(c.Integrator.Recipient)
		if err != nil {
			return batch.Request{}, bad(err, "integrator recipient")
		}
		req.Integrator = &orderbook.Integrator{Recipient: r, FeeBps: c.Integrator.FeeBps}
	}
	return req, nil
}

func (c Command) assets() (orderbook.AssetID, orderbook.AssetID, error) {
	offered, err := orderbook.ParseAssetID(c.Offered)
	if err != nil {
		return offered, offered, bad(err, "offered")
	}
	wanted, err := orderbook.ParseAssetID(c.Wanted)
	if err != nil {
		return offered, wanted, bad(err, "wanted")
	}
	return offered, wanted, nil
}

func bad(err error, field string) error {
	return errors.Mark(errors.Wrapf(err, "field %s", field), ErrBadCommand)
}
