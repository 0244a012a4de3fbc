package outbox

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/prediction-core/internal/portfolio"
	"github.com/Rajchodisetti/prediction-core/internal/risk"
	"github.com/Rajchodisetti/prediction-core/internal/storage"
)

type openExecution struct {
	result *storage.SignalExecutionResult
	shares decimal.Decimal
}

type replayStep struct {
	at   time.Time
	fill *Fill
	ev   *risk.MarketEvent
}

// Executions pairs buy fills with the events that close them and returns one
// result per filled order, oldest first. A sell closes the oldest open
// execution on the same market outcome in full; a resolution closes every
// open execution on the market at 1 for the winner and 0 otherwise.
// Executions nothing closes stay open.
func Executions(orders []Order, fills []Fill, events []risk.MarketEvent) []*storage.SignalExecutionResult {
	byOrder := make(map[string]Order, len(orders))
	for _, o := range orders {
		byOrder[o.ID] = o
	}

	steps := make([]replayStep, 0, len(fills)+len(events))
	for i := range fills {
		steps = append(steps, replayStep{at: fills[i].Timestamp, fill: &fills[i]})
	}
	for i := range events {
		steps = append(steps, replayStep{at: events[i].Timestamp, ev: &events[i]})
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].at.Before(steps[j].at) })

	var all []*storage.SignalExecutionResult
	open := make(map[portfolio.Key][]*openExecution)

	closeOldest := func(k portfolio.Key, price decimal.Decimal, at time.Time) {
		queue := open[k]
		if len(queue) == 0 {
			return
		}
		closeExecution(queue[0], price, at, storage.ExitManual)
		open[k] = queue[1:]
	}

	for _, st := range steps {
		switch {
		case st.fill != nil:
			f := st.fill
			k := portfolio.Key{MarketID: f.MarketID, OutcomeID: f.OutcomeID}
			if f.Side == risk.Sell {
				closeOldest(k, f.Price, f.Timestamp)
				continue
			}
			res := &storage.SignalExecutionResult{
				SignalID:     f.SignalID,
				MarketID:     f.MarketID,
				OutcomeID:    f.OutcomeID,
				SignalType:   byOrder[f.OrderID].SignalType,
				ExecutedAt:   f.Timestamp,
				EntryPrice:   f.Price,
				PositionSize: f.Price.Mul(f.Shares).Round(2),
			}
			all = append(all, res)
			open[k] = append(open[k], &openExecution{result: res, shares: f.Shares})

		case st.ev.Type == risk.EventTrade && st.ev.Side == risk.Sell:
			closeOldest(portfolio.Key{MarketID: st.ev.MarketID, OutcomeID: st.ev.OutcomeID}, st.ev.Price, st.ev.Timestamp)

		case st.ev.Type == risk.EventMarketResolved:
			for k, queue := range open {
				if k.MarketID != st.ev.MarketID {
					continue
				}
				exit := decimal.Zero
				if k.OutcomeID == st.ev.WinningOutcome {
					exit = decimal.NewFromInt(1)
				}
				for _, e := range queue {
					closeExecution(e, exit, st.ev.Timestamp, storage.ExitMarketResolved)
				}
				delete(open, k)
			}
		}
	}
	return all
}

func closeExecution(e *openExecution, exit decimal.Decimal, at time.Time, reason storage.ExitReason) {
	r := e.result
	pnl := exit.Sub(r.EntryPrice).Mul(e.shares).Round(2)
	r.ExitPrice = &exit
	r.PnL = &pnl
	if r.EntryPrice.IsPositive() {
		pct := exit.Sub(r.EntryPrice).Div(r.EntryPrice).Round(4)
		r.PnLPct = &pct
	}
	hours := at.Sub(r.ExecutedAt).Hours()
	r.HoldingPeriodHours = &hours
	r.ExitReason = reason
}
