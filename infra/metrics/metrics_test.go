package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"epochdex/domain/matching"
	"epochdex/domain/orderbook"
)

func TestBatchCommitted(t *testing.T) {
	m := New()
	m.BatchCommitted(&matching.Result{
		Height:   9,
		Trades:   make([]orderbook.Trade, 3),
		Rejected: []uint64{4},
		Transfers: []matching.Transfer{
			{Reason: matching.FillTaker},
			{Reason: matching.RefundDust},
			{Reason: matching.RefundDust},
		},
	}, 2*time.Millisecond, 5)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.batches))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.trades))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejected))
	assert.Equal(t, 9.0, testutil.ToFloat64(m.height))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.transfers.WithLabelValues("refund_dust")))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.EventPublished("trade")

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), `epochdex_outbox_events_total{kind="trade",result="ok"} 1`))
}
