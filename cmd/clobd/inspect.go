package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"

	"epochdex/domain/orderbook"
	"epochdex/infra/store"
	"epochdex/ledger/fees"
	"epochdex/ledger/history"
	"epochdex/snapshot"
)

// inspect prints the resting book, the latest history versions and fee
// balances from a stopped node's store, or the book from a snapshot file.
func inspect(args []string) error {
	fs := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
	dataDir := fs.String("data-dir", "./data", "node data directory")
	snapPath := fs.String("snapshot", "", "read the book from this snapshot file instead")
	heights := fs.Int("heights", 5, "number of history versions to print")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *snapPath != "" {
		s, err := snapshot.Load(*snapPath)
		if err != nil {
			return err
		}
		book, err := s.Book()
		if err != nil {
			return err
		}
		fmt.Printf("snapshot height %d, last order %d\n", s.Height, s.LastOrderID)
		printBook(book)
		return nil
	}

	st, err := store.Open(filepath.Join(*dataDir, "store"), nil, nil)
	if err != nil {
		return errors.Wrap(err, "open store (is the node still running?)")
	}
	defer st.Close()

	book, err := st.LoadBook()
	if err != nil {
		return err
	}
	printBook(book)

	hist, err := history.New(st)
	if err != nil {
		return err
	}
	if err := printHistory(hist, *heights); err != nil {
		return err
	}
	return printFees(fees.New(st))
}

func printBook(book orderbook.Book) {
	for _, side := range book.Sides() {
		w := tablewriter.NewWriter(os.Stdout)
		w.SetHeader([]string{"ID", "trader", "offered", "wanted", "remaining", "price", "expiry"})
		for _, o := range book.Orders(side) {
			w.Append([]string{
				strconv.FormatUint(o.ID, 10),
				short(o.Trader.String()),
				strconv.FormatUint(o.AmountOffered, 10),
				strconv.FormatUint(o.AmountWanted, 10),
				strconv.FormatUint(o.Remaining, 10),
				decimal.NewFromBigInt(o.Price.ToBig(), -12).String(),
				strconv.FormatUint(o.Expiry, 10),
			})
		}
		pair := side.Pair
		w.SetCaption(true, fmt.Sprintf("%s/%s %s", short(pair.A.String()), short(pair.B.String()), side.Direction))
		w.Render()
	}
}

func printHistory(h *history.Ledger, limit int) error {
	w := tablewriter.NewWriter(os.Stdout)
	w.SetHeader([]string{"height", "previous", "taker", "maker", "give", "receive"})
	n := 0
	err := h.Walk(func(v history.Version) bool {
		prev := "-"
		if v.HasPrevious {
			prev = strconv.FormatUint(v.PreviousHeight, 10)
		}
		if len(v.Trades) == 0 {
			w.Append([]string{strconv.FormatUint(v.Height, 10), prev, "", "", "", ""})
		}
		for _, t := range v.Trades {
			w.Append([]string{
				strconv.FormatUint(v.Height, 10), prev,
				strconv.FormatUint(t.TakerOrderID, 10),
				strconv.FormatUint(t.MakerOrderID, 10),
				strconv.FormatUint(t.AmountGive, 10),
				strconv.FormatUint(t.AmountReceive, 10),
			})
		}
		n++
		return n < limit
	})
	if err != nil {
		return err
	}
	w.SetCaption(true, "history (newest first)")
	w.Render()
	return nil
}

func printFees(l *fees.Ledger) error {
	w := tablewriter.NewWriter(os.Stdout)
	w.SetHeader([]string{"recipient", "asset", "amount"})
	err := l.Each(func(r orderbook.Address, a orderbook.AssetID, amount uint64) error {
		w.Append([]string{short(r.String()), short(a.String()), strconv.FormatUint(amount, 10)})
		return nil
	})
	if err != nil {
		return err
	}
	w.SetCaption(true, "integrator fees")
	w.Render()
	return nil
}

func short(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:6] + ".." + s[len(s)-4:]
}
