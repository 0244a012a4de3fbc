// Package portfolio is the book of record: open positions, categorized
// exposure and realized PnL history. All money is decimal.
//
// A Ledger is not safe for concurrent use; the risk manager owns it and
// serializes access.
package portfolio

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCategory is the theme of markets with no configured category
const DefaultCategory = "uncategorized"

// MaxHistory bounds the PnL history kept for metrics
const MaxHistory = 1000

// dustThreshold is the investment below which a position counts as closed
var dustThreshold = decimal.RequireFromString("0.01")

// PositionState of a ledger position
type PositionState string

const (
	StateOpen     PositionState = "open"
	StateResolved PositionState = "resolved"
)

// Key identifies a position
type Key struct {
	MarketID  string `json:"market_id"`
	OutcomeID string `json:"outcome_id"`
}

func (k Key) String() string { return k.MarketID + "/" + k.OutcomeID }

// Position is the holding in one (market, outcome)
type Position struct {
	MarketID      string          `json:"market_id"`
	OutcomeID     string          `json:"outcome_id"`
	Category      string          `json:"category"`
	Investment    decimal.Decimal `json:"investment"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	State         PositionState   `json:"state"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Key returns the position key
func (p Position) Key() Key { return Key{MarketID: p.MarketID, OutcomeID: p.OutcomeID} }

// Shares is investment / average entry price
func (p Position) Shares() decimal.Decimal {
	if !p.AvgEntryPrice.IsPositive() {
		return decimal.Zero
	}
	return p.Investment.Div(p.AvgEntryPrice)
}

// MarketValue is shares at the current price
func (p Position) MarketValue() decimal.Decimal {
	return p.Shares().Mul(p.CurrentPrice)
}

func (p *Position) markToMarket() {
	p.UnrealizedPnL = p.MarketValue().Sub(p.Investment)
}

// PnLRecord is one realization event
type PnLRecord struct {
	Timestamp           time.Time       `json:"timestamp"`
	MarketID            string          `json:"market_id"`
	OutcomeID           string          `json:"outcome_id"`
	RealizedPnL         decimal.Decimal `json:"realized_pnl"`
	PortfolioValueAfter decimal.Decimal `json:"portfolio_value_after"`
}

// Exposure is the invested total of one category
type Exposure struct {
	Category      string          `json:"category"`
	Value         decimal.Decimal `json:"value"`
	PositionCount int             `json:"position_count"`
	Percentage    float64         `json:"percentage_of_portfolio"`
}

// Ledger holds positions keyed by (market, outcome)
type Ledger struct {
	positions  map[Key]*Position
	categories map[string]string
	history    []PnLRecord
	realized   decimal.Decimal
	daily      map[string]decimal.Decimal
}

// NewLedger creates an empty ledger
func NewLedger() *Ledger {
	return &Ledger{
		positions:  make(map[Key]*Position),
		categories: make(map[string]string),
		daily:      make(map[string]decimal.Decimal),
	}
}

func dayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

// SetCategory assigns a theme to a market; existing positions are relabeled
func (l *Ledger) SetCategory(marketID, category string) {
	if category == "" {
		return
	}
	l.categories[marketID] = category
	for k, p := range l.positions {
		if k.MarketID == marketID {
			p.Category = category
		}
	}
}

// Category returns the configured theme of a market
func (l *Ledger) Category(marketID string) string {
	if c, ok := l.categories[marketID]; ok {
		return c
	}
	return DefaultCategory
}

// AddPosition buys value dollars of (market, outcome) at price, merging into
// an existing position with an investment-weighted average entry price
func (l *Ledger) AddPosition(marketID, outcomeID string, value, price decimal.Decimal, at time.Time) error {
	if !value.IsPositive() {
		return fmt.Errorf("buy value must be positive, got %s", value)
	}
	if !price.IsPositive() {
		return fmt.Errorf("buy price must be positive, got %s", price)
	}
	k := Key{MarketID: marketID, OutcomeID: outcomeID}
	p, ok := l.positions[k]
	if !ok {
		p = &Position{
			MarketID:      marketID,
			OutcomeID:     outcomeID,
			Category:      l.Category(marketID),
			Investment:    value,
			AvgEntryPrice: price,
			CurrentPrice:  price,
			State:         StateOpen,
			CreatedAt:     at,
			UpdatedAt:     at,
		}
		l.positions[k] = p
		return nil
	}

	totalValue := p.Investment.Add(value)
	totalShares := p.Shares().Add(value.Div(price))
	p.AvgEntryPrice = totalValue.Div(totalShares)
	p.Investment = totalValue
	p.CurrentPrice = price
	p.UpdatedAt = at
	p.markToMarket()
	return nil
}

// RemovePosition sells value dollars of (market, outcome) at price and
// returns the realized PnL. Selling at least the position's shares closes it.
func (l *Ledger) RemovePosition(marketID, outcomeID string, value, price decimal.Decimal, at time.Time) (decimal.Decimal, error) {
	if !value.IsPositive() {
		return decimal.Zero, fmt.Errorf("sell value must be positive, got %s", value)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("sell price must be positive, got %s", price)
	}
	k := Key{MarketID: marketID, OutcomeID: outcomeID}
	p, ok := l.positions[k]
	if !ok {
		return decimal.Zero, fmt.Errorf("no position for market %s outcome %s", marketID, outcomeID)
	}

	var pnl decimal.Decimal
	sharesSold := value.Div(price)
	if sharesSold.GreaterThanOrEqual(p.Shares()) {
		pnl = p.Shares().Mul(price).Sub(p.Investment)
		p.Investment = decimal.Zero
	} else {
		costBasis := sharesSold.Mul(p.AvgEntryPrice)
		pnl = value.Sub(costBasis)
		p.Investment = p.Investment.Sub(costBasis)
		if p.Investment.LessThanOrEqual(dustThreshold) {
			pnl = pnl.Sub(p.Investment)
			p.Investment = decimal.Zero
		}
	}
	p.CurrentPrice = price
	p.UpdatedAt = at

	if p.Investment.IsZero() {
		delete(l.positions, k)
	} else {
		p.markToMarket()
	}
	l.record(k, pnl, at)
	return pnl, nil
}

// UpdatePrice marks (market, outcome) to price; nothing is realized
func (l *Ledger) UpdatePrice(marketID, outcomeID string, price decimal.Decimal, at time.Time) bool {
	p, ok := l.positions[Key{MarketID: marketID, OutcomeID: outcomeID}]
	if !ok {
		return false
	}
	p.CurrentPrice = price
	p.UpdatedAt = at
	p.markToMarket()
	return true
}

// ResolveMarket settles every position of a market. The winning outcome
// realizes investment*(1/avg - 1); every other outcome loses its investment.
// Returns the net realized PnL.
func (l *Ledger) ResolveMarket(marketID, winningOutcomeID string, at time.Time) decimal.Decimal {
	var keys []Key
	for k := range l.positions {
		if k.MarketID == marketID {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].OutcomeID < keys[j].OutcomeID })

	net := decimal.Zero
	for _, k := range keys {
		p := l.positions[k]
		var pnl decimal.Decimal
		if k.OutcomeID == winningOutcomeID {
			pnl = p.Shares().Sub(p.Investment)
		} else {
			pnl = p.Investment.Neg()
		}
		p.State = StateResolved
		delete(l.positions, k)
		l.record(k, pnl, at)
		net = net.Add(pnl)
	}
	return net
}

func (l *Ledger) record(k Key, pnl decimal.Decimal, at time.Time) {
	l.realized = l.realized.Add(pnl)
	day := dayKey(at)
	l.daily[day] = l.daily[day].Add(pnl)
	l.history = append(l.history, PnLRecord{
		Timestamp:           at,
		MarketID:            k.MarketID,
		OutcomeID:           k.OutcomeID,
		RealizedPnL:         pnl,
		PortfolioValueAfter: l.TotalValue(),
	})
	if len(l.history) > MaxHistory {
		l.history = append([]PnLRecord(nil), l.history[len(l.history)-MaxHistory:]...)
	}
	l.pruneDaily(at)
}

// pruneDaily keeps a month of daily totals
func (l *Ledger) pruneDaily(now time.Time) {
	cutoff := dayKey(now.AddDate(0, 0, -31))
	for day := range l.daily {
		if day < cutoff {
			delete(l.daily, day)
		}
	}
}

// TotalValue is the sum of open investment
func (l *Ledger) TotalValue() decimal.Decimal {
	total := decimal.Zero
	for _, p := range l.positions {
		total = total.Add(p.Investment)
	}
	return total
}

// NumPositions returns the number of open positions
func (l *Ledger) NumPositions() int { return len(l.positions) }

// HasPosition reports whether (market, outcome) is held
func (l *Ledger) HasPosition(marketID, outcomeID string) bool {
	_, ok := l.positions[Key{MarketID: marketID, OutcomeID: outcomeID}]
	return ok
}

// Position returns a copy of one position
func (l *Ledger) Position(marketID, outcomeID string) (Position, bool) {
	p, ok := l.positions[Key{MarketID: marketID, OutcomeID: outcomeID}]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Positions returns copies of all open positions ordered by key
func (l *Ledger) Positions() []Position {
	out := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	return out
}

// MarketIDs returns the distinct markets with open positions
func (l *Ledger) MarketIDs() []string {
	seen := make(map[string]struct{})
	var out []string
	for k := range l.positions {
		if _, ok := seen[k.MarketID]; !ok {
			seen[k.MarketID] = struct{}{}
			out = append(out, k.MarketID)
		}
	}
	sort.Strings(out)
	return out
}

// ExposureByCategory sums open investment per category. The values always
// add up to TotalValue.
func (l *Ledger) ExposureByCategory() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, p := range l.positions {
		out[p.Category] = out[p.Category].Add(p.Investment)
	}
	return out
}

// CategoryPositions counts open positions per category
func (l *Ledger) CategoryPositions(category string) int {
	n := 0
	for _, p := range l.positions {
		if p.Category == category {
			n++
		}
	}
	return n
}

// Exposures returns per-category exposure sorted by value descending
func (l *Ledger) Exposures() []Exposure {
	total := l.TotalValue()
	counts := make(map[string]int)
	for _, p := range l.positions {
		counts[p.Category]++
	}
	var out []Exposure
	for cat, v := range l.ExposureByCategory() {
		e := Exposure{Category: cat, Value: v, PositionCount: counts[cat]}
		if total.IsPositive() {
			e.Percentage = v.Div(total).Mul(decimal.NewFromInt(100)).InexactFloat64()
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Value.Equal(out[j].Value) {
			return out[i].Value.GreaterThan(out[j].Value)
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// UnrealizedPnL sums mark-to-market PnL of open positions
func (l *Ledger) UnrealizedPnL() decimal.Decimal {
	total := decimal.Zero
	for _, p := range l.positions {
		total = total.Add(p.UnrealizedPnL)
	}
	return total
}

// RealizedPnL is the lifetime realized PnL
func (l *Ledger) RealizedPnL() decimal.Decimal { return l.realized }

// DailyRealizedPnL is the PnL realized on the UTC day containing day
func (l *Ledger) DailyRealizedPnL(day time.Time) decimal.Decimal {
	return l.daily[dayKey(day)]
}

// PnLHistory returns a copy of the bounded realization history, oldest first
func (l *Ledger) PnLHistory() []PnLRecord {
	out := make([]PnLRecord, len(l.history))
	copy(out, l.history)
	return out
}
