package outbox

import (
	"encoding/binary"
	"encoding/json"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"epochdex/domain/matching"
	"epochdex/domain/orderbook"
)

const eventVersion = 1

// namespace seeds event ids so every replica derives the same id for the
// same event.
var namespace = uuid.MustParse("5f2b8c1e-3c4d-4f8a-9b6e-2d7a1c0e9f41")

// TradeEvent is published for every trade of a committed batch.
type TradeEvent struct {
	V             int    `json:"v"`
	ID            string `json:"id"`
	Height        uint64 `json:"height"`
	Index         int    `json:"index"`
	AssetOffered  string `json:"asset_offered"`
	AssetWanted   string `json:"asset_wanted"`
	AmountGive    uint64 `json:"amount_give"`
	AmountReceive uint64 `json:"amount_receive"`
	Rate          string `json:"rate"`
	TakerOrderID  uint64 `json:"taker_order_id"`
	MakerOrderID  uint64 `json:"maker_order_id"`
}

// TransferEvent instructs custody to release escrow.
type TransferEvent struct {
	V         int    `json:"v"`
	ID        string `json:"id,omitempty"`
	Height    uint64 `json:"height,omitempty"`
	OrderID   uint64 `json:"order_id,omitempty"`
	Asset     string `json:"asset"`
	Amount    uint64 `json:"amount"`
	Recipient string `json:"recipient"`
	Reason    string `json:"reason"`
}

// ReasonFeeWithdrawal marks transfers that drain an integrator balance.
const ReasonFeeWithdrawal = "fee_withdrawal"

// BatchEventID is the id of the index-th event of kind in the batch at height.
func BatchEventID(height uint64, kind Kind, index int) uuid.UUID {
	name := make([]byte, 0, 32)
	name = append(name, "batch/"...)
	name = strconv.AppendUint(name, height, 10)
	name = append(name, '/')
	name = append(name, kind.String()...)
	name = append(name, '/')
	name = strconv.AppendInt(name, int64(index), 10)
	return uuid.NewSHA1(namespace, name)
}

// seqEventID names events that belong to no batch by their outbox sequence.
func seqEventID(seq uint64) uuid.UUID {
	return uuid.NewSHA1(namespace, binary.BigEndian.AppendUint64([]byte("seq/"), seq))
}

// Rate is receive per give, twelve decimals, for display only.
func Rate(give, receive uint64) string {
	if give == 0 {
		return "0"
	}
	return decimal.NewFromUint64(receive).DivRound(decimal.NewFromUint64(give), 12).String()
}

// BatchEvents builds the trade and transfer events of a committed batch.
func BatchEvents(res *matching.Result) ([]Event, error) {
	events := make([]Event, 0, len(res.Trades)+len(res.Transfers))
	for i, t := range res.Trades {
		id := BatchEventID(res.Height, KindTrade, i)
		payload, err := json.Marshal(TradeEvent{
			V:             eventVersion,
			ID:            id.String(),
			Height:        res.Height,
			Index:         i,
			AssetOffered:  t.AssetOffered.String(),
			AssetWanted:   t.AssetWanted.String(),
			AmountGive:    t.AmountGive,
			AmountReceive: t.AmountReceive,
			Rate:          Rate(t.AmountGive, t.AmountReceive),
			TakerOrderID:  t.TakerOrderID,
			MakerOrderID:  t.MakerOrderID,
		})
		if err != nil {
			return nil, err
		}
		events = append(events, Event{ID: id, Kind: KindTrade, Key: t.AssetOffered[:], Payload: payload})
	}
	for i, tr := range res.Transfers {
		id := BatchEventID(res.Height, KindTransfer, i)
		e, err := transferEvent(id, res.Height, tr.OrderID, tr.Asset, tr.Amount, tr.Recipient, tr.Reason.String())
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// TransferEvents builds events for transfers outside a batch, such as
// cancellations. Their ids are assigned from the outbox sequence.
func TransferEvents(transfers []matching.Transfer) ([]Event, error) {
	events := make([]Event, 0, len(transfers))
	for _, tr := range transfers {
		e, err := transferEvent(uuid.Nil, 0, tr.OrderID, tr.Asset, tr.Amount, tr.Recipient, tr.Reason.String())
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// WithdrawalEvent pays out one drained fee balance.
func WithdrawalEvent(recipient orderbook.Address, asset orderbook.AssetID, amount uint64) (Event, error) {
	return transferEvent(uuid.Nil, 0, 0, asset, amount, recipient, ReasonFeeWithdrawal)
}

func transferEvent(id uuid.UUID, height, orderID uint64, asset orderbook.AssetID, amount uint64, recipient orderbook.Address, reason string) (Event, error) {
	ev := TransferEvent{
		V:         eventVersion,
		Height:    height,
		OrderID:   orderID,
		Asset:     asset.String(),
		Amount:    amount,
		Recipient: recipient.String(),
		Reason:    reason,
	}
	if id != uuid.Nil {
		ev.ID = id.String()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return Event{}, err
	}
	return Event{ID: id, Kind: KindTransfer, Key: recipient[:], Payload: payload}, nil
}
