package outbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/prediction-core/internal/risk"
	"github.com/Rajchodisetti/prediction-core/internal/signals"
	"github.com/Rajchodisetti/prediction-core/internal/storage"
)

var t0 = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testSignal(id, market string, dir signals.Direction) *signals.TradeSignal {
	return &signals.TradeSignal{
		ID:           id,
		MarketID:     market,
		OutcomeID:    "yes",
		SignalType:   signals.TypeSpreadArbitrage,
		Direction:    dir,
		EntryPrice:   d("0.40"),
		TargetPrice:  d("0.46"),
		StopLoss:     d("0.36"),
		PositionSize: d("80"),
		CreatedAt:    t0,
	}
}

func newTestOutbox(t *testing.T, window int) (*Outbox, *time.Time) {
	t.Helper()
	now := t0
	o, err := New(filepath.Join(t.TempDir(), "nested", "outbox.jsonl"), window)
	require.NoError(t, err)
	o.WithClock(func() time.Time { return now })
	return o, &now
}

func TestWriteSignalDedupe(t *testing.T) {
	o, now := newTestOutbox(t, 90)

	order, written, err := o.WriteSignal(testSignal("s1", "m1", signals.Long))
	require.NoError(t, err)
	assert.True(t, written)
	assert.Equal(t, risk.Buy, order.Side)
	assert.True(t, d("80").Equal(order.Notional))

	_, written, err = o.WriteSignal(testSignal("s2", "m1", signals.Long))
	require.NoError(t, err)
	assert.False(t, written, "same market outcome and type inside the window")

	_, written, err = o.WriteSignal(testSignal("s3", "m2", signals.Short))
	require.NoError(t, err)
	assert.True(t, written, "different market")

	*now = t0.Add(2 * time.Minute)
	_, written, err = o.WriteSignal(testSignal("s4", "m1", signals.Long))
	require.NoError(t, err)
	assert.True(t, written, "window elapsed")

	orders, err := ReadOrders(o.Path())
	require.NoError(t, err)
	require.Len(t, orders, 3)
	assert.Equal(t, []string{"s1", "s3", "s4"}, []string{orders[0].SignalID, orders[1].SignalID, orders[2].SignalID})
	assert.Equal(t, risk.Sell, orders[1].Side)
}

func TestStoreActsAsSink(t *testing.T) {
	o, _ := newTestOutbox(t, 0)
	var sink signals.SignalSink = o

	require.NoError(t, sink.Store(context.Background(), testSignal("s1", "m1", signals.Long)))
	require.NoError(t, sink.Store(context.Background(), testSignal("s2", "m1", signals.Long)))
	orders, err := ReadOrders(o.Path())
	require.NoError(t, err)
	assert.Len(t, orders, 2, "dedupe disabled")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sink.Store(ctx, testSignal("s3", "m1", signals.Long)), context.Canceled)
}

func TestFillsRoundTripAsMarketEvents(t *testing.T) {
	o, _ := newTestOutbox(t, 0)
	order, _, err := o.WriteSignal(testSignal("s1", "m1", signals.Long))
	require.NoError(t, err)

	sim := NewFillSimulator(100, 100, 50, 50, 1)
	fill, latency := sim.SimulateFill(order)
	assert.Equal(t, 100*time.Millisecond, latency)
	// 50 bps against a buy
	assert.True(t, d("0.402").Equal(fill.Price), "price %s", fill.Price)
	assert.True(t, d("199.005").Equal(fill.Shares), "shares %s", fill.Shares)
	require.NoError(t, o.WriteFill(fill))

	require.NoError(t, o.WriteStop(risk.StopLossTrigger{MarketID: "m1", OutcomeID: "yes", TimestampUTC: t0}))

	// garbage lines are skipped
	f, err := os.OpenFile(o.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	records, err := ReadFillRecords(o.Path())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, signals.TypeSpreadArbitrage, records[0].SignalType)
	gf := records[0].GeneratorFill()
	assert.Equal(t, signals.TypeSpreadArbitrage, gf.SignalType)
	assert.True(t, gf.Buy)
	assert.Equal(t, "yes", gf.OutcomeID)
	assert.True(t, gf.Shares.Equal(fill.Shares))

	events, err := ReadFills(o.Path())
	require.NoError(t, err)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, risk.EventTrade, ev.Type)
	assert.Equal(t, risk.Buy, ev.Side)
	assert.Equal(t, "m1", ev.MarketID)
	require.NoError(t, ev.Validate())
	assert.True(t, ev.Value().Round(2).Equal(d("80")), "value %s", ev.Value())
}

func TestSimulateFillSellAndClamp(t *testing.T) {
	sim := NewFillSimulator(0, 0, 100, 100, 1)
	fill, _ := sim.SimulateFill(Order{Side: risk.Sell, LimitPrice: d("0.50"), Notional: d("10"), Timestamp: t0})
	assert.True(t, d("0.495").Equal(fill.Price))

	fill, _ = sim.SimulateFill(Order{Side: risk.Buy, LimitPrice: d("0.9999"), Notional: d("10"), Timestamp: t0})
	assert.True(t, d("0.9999").Equal(fill.Price), "clamped below 1")
}

func TestReadMissingFile(t *testing.T) {
	events, err := ReadFills(filepath.Join(t.TempDir(), "none.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestExecutions(t *testing.T) {
	orders := []Order{
		{ID: "o1", SignalID: "s1", SignalType: signals.TypeSpreadArbitrage},
		{ID: "o2", SignalID: "s2", SignalType: signals.TypeMarketMaking},
		{ID: "o3", SignalID: "s3", SignalType: signals.TypeCorrelationArbitrage},
	}
	fills := []Fill{
		{OrderID: "o1", SignalID: "s1", MarketID: "m1", OutcomeID: "yes", Side: risk.Buy, Price: d("0.40"), Shares: d("100"), Timestamp: t0},
		{OrderID: "o2", SignalID: "s2", MarketID: "m2", OutcomeID: "no", Side: risk.Buy, Price: d("0.50"), Shares: d("20"), Timestamp: t0.Add(time.Minute)},
		{OrderID: "o3", SignalID: "s3", MarketID: "m3", OutcomeID: "yes", Side: risk.Buy, Price: d("0.30"), Shares: d("10"), Timestamp: t0.Add(2 * time.Minute)},
	}
	events := []risk.MarketEvent{
		{Type: risk.EventPriceTick, MarketID: "m1", OutcomeID: "yes", Price: d("0.45"), Timestamp: t0.Add(time.Hour)},
		{Type: risk.EventTrade, MarketID: "m1", OutcomeID: "yes", Side: risk.Sell, Price: d("0.46"), Size: d("100"), Timestamp: t0.Add(2 * time.Hour)},
		{Type: risk.EventMarketResolved, MarketID: "m2", WinningOutcome: "yes", Timestamp: t0.Add(3 * time.Hour)},
	}

	results := Executions(orders, fills, events)
	require.Len(t, results, 3)

	sold := results[0]
	assert.Equal(t, signals.TypeSpreadArbitrage, sold.SignalType)
	require.True(t, sold.Closed())
	assert.True(t, d("6").Equal(*sold.PnL), "pnl %s", sold.PnL)
	assert.True(t, d("0.15").Equal(*sold.PnLPct), "pct %s", sold.PnLPct)
	assert.Equal(t, 2.0, *sold.HoldingPeriodHours)
	assert.Equal(t, storage.ExitManual, sold.ExitReason)
	assert.True(t, d("40").Equal(sold.PositionSize))

	resolved := results[1]
	require.True(t, resolved.Closed())
	assert.True(t, resolved.ExitPrice.IsZero(), "losing outcome settles at zero")
	assert.True(t, d("-10").Equal(*resolved.PnL))
	assert.Equal(t, storage.ExitMarketResolved, resolved.ExitReason)

	assert.False(t, results[2].Closed())

	stats := storage.ComputeBacktestStats(t0.Add(-time.Hour), t0.Add(time.Hour), results)
	assert.Equal(t, 2, stats.TotalTrades)
	assert.True(t, d("-4").Equal(stats.TotalPnL))
}
