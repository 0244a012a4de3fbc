// Package outbox is the append-only JSONL hand-off between the decision core
// and the execution layer: approved signals go out as orders, fills and
// stop-loss triggers come back.
package outbox

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/prediction-core/internal/observ"
	"github.com/Rajchodisetti/prediction-core/internal/risk"
	"github.com/Rajchodisetti/prediction-core/internal/signals"
)

// Entry types
const (
	TypeOrder    = "order"
	TypeFill     = "fill"
	TypeStopLoss = "stop_loss"
)

type Order struct {
	ID             string             `json:"id"`
	SignalID       string             `json:"signal_id"`
	MarketID       string             `json:"market_id"`
	OutcomeID      string             `json:"outcome_id"`
	SignalType     signals.SignalType `json:"signal_type"`
	Side           risk.Side          `json:"side"`
	LimitPrice     decimal.Decimal    `json:"limit_price"`
	Notional       decimal.Decimal    `json:"notional"` // dollars
	Timestamp      time.Time          `json:"timestamp"`
	ExpiresAt      *time.Time         `json:"expires_at,omitempty"`
	Status         string             `json:"status"`
	IdempotencyKey string             `json:"idempotency_key"`
}

type Fill struct {
	OrderID     string             `json:"order_id"`
	SignalID    string             `json:"signal_id"`
	MarketID    string             `json:"market_id"`
	OutcomeID   string             `json:"outcome_id"`
	SignalType  signals.SignalType `json:"signal_type,omitempty"`
	Side        risk.Side          `json:"side"`
	Price       decimal.Decimal    `json:"price"`
	Shares      decimal.Decimal    `json:"shares"`
	Timestamp   time.Time          `json:"timestamp"`
	LatencyMs   int                `json:"latency_ms"`
	SlippageBps int                `json:"slippage_bps"`
}

// GeneratorFill converts a fill into the form generators book inventory from
func (f Fill) GeneratorFill() signals.Fill {
	return signals.Fill{
		SignalType: f.SignalType,
		MarketID:   f.MarketID,
		OutcomeID:  f.OutcomeID,
		Buy:        f.Side == risk.Buy,
		Shares:     f.Shares,
		Price:      f.Price,
	}
}

// MarketEvent converts a fill into the trade event the risk manager consumes
func (f Fill) MarketEvent() risk.MarketEvent {
	return risk.MarketEvent{
		Type:      risk.EventTrade,
		MarketID:  f.MarketID,
		OutcomeID: f.OutcomeID,
		Side:      f.Side,
		Price:     f.Price,
		Size:      f.Shares,
		Timestamp: f.Timestamp,
	}
}

type Entry struct {
	Type  string    `json:"type"`
	Data  any       `json:"data"`
	Event time.Time `json:"event"`
}

// rawEntry is Entry on the read path
type rawEntry struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Event time.Time       `json:"event"`
}

type Outbox struct {
	mu           sync.Mutex
	path         string
	dedupeWindow time.Duration
	now          func() time.Time
}

// New creates the outbox directory; dedupeWindowSecs 0 disables dedupe
func New(path string, dedupeWindowSecs int) (*Outbox, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return &Outbox{
		path:         path,
		dedupeWindow: time.Duration(dedupeWindowSecs) * time.Second,
		now:          time.Now,
	}, nil
}

// WithClock replaces the wall clock
func (o *Outbox) WithClock(now func() time.Time) *Outbox {
	o.now = now
	return o
}

// Path is the JSONL file backing the outbox
func (o *Outbox) Path() string { return o.path }

// OrderFromSignal maps a signal to an execution order. Longs and neutral
// quotes buy the outcome; shorts sell it.
func OrderFromSignal(s *signals.TradeSignal, now time.Time) Order {
	side := risk.Buy
	if s.Direction == signals.Short {
		side = risk.Sell
	}
	return Order{
		ID:             GenerateOrderID(),
		SignalID:       s.ID,
		MarketID:       s.MarketID,
		OutcomeID:      s.OutcomeID,
		SignalType:     s.SignalType,
		Side:           side,
		LimitPrice:     s.EntryPrice,
		Notional:       s.PositionSize,
		Timestamp:      now.UTC(),
		ExpiresAt:      s.ExpiresAt,
		Status:         "pending",
		IdempotencyKey: GenerateIdempotencyKey(s.MarketID, s.OutcomeID, s.SignalType),
	}
}

// WriteSignal appends an order for an approved signal. A signal for the same
// market, outcome and type within the dedupe window is skipped and reported
// with written false.
func (o *Outbox) WriteSignal(s *signals.TradeSignal) (Order, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	order := OrderFromSignal(s, now)
	if o.dedupeWindow > 0 {
		recent, err := o.hasRecentOrder(order.IdempotencyKey, now)
		if err != nil {
			return order, false, err
		}
		if recent {
			observ.IncCounter("outbox_dedupe_total", map[string]string{"signal_type": string(s.SignalType)})
			return order, false, nil
		}
	}
	if err := o.appendEntry(Entry{Type: TypeOrder, Data: order, Event: now.UTC()}); err != nil {
		return order, false, err
	}
	observ.IncCounter("outbox_orders_total", map[string]string{"signal_type": string(s.SignalType), "side": string(order.Side)})
	return order, true, nil
}

// Store lets the outbox act as the pipeline's signal sink
func (o *Outbox) Store(ctx context.Context, s *signals.TradeSignal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := o.WriteSignal(s)
	return err
}

func (o *Outbox) WriteFill(fill Fill) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.appendEntry(Entry{Type: TypeFill, Data: fill, Event: o.now().UTC()}); err != nil {
		return err
	}
	observ.IncCounter("outbox_fills_total", map[string]string{"side": string(fill.Side)})
	return nil
}

// WriteStop records a stop-loss trigger for the execution layer
func (o *Outbox) WriteStop(trigger risk.StopLossTrigger) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.appendEntry(Entry{Type: TypeStopLoss, Data: trigger, Event: o.now().UTC()})
}

func (o *Outbox) appendEntry(entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(o.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.WriteString(string(data) + "\n")
	return err
}

func (o *Outbox) hasRecentOrder(idempotencyKey string, now time.Time) (bool, error) {
	cutoff := now.UTC().Add(-o.dedupeWindow)
	found := false
	err := scan(o.path, func(e rawEntry) error {
		if found || e.Type != TypeOrder || e.Event.Before(cutoff) {
			return nil
		}
		var order Order
		if err := json.Unmarshal(e.Data, &order); err != nil {
			return nil
		}
		found = order.IdempotencyKey == idempotencyKey
		return nil
	})
	return found, err
}

// ReadOrders returns every order in an outbox file
func ReadOrders(path string) ([]Order, error) {
	var out []Order
	err := scan(path, func(e rawEntry) error {
		if e.Type != TypeOrder {
			return nil
		}
		var order Order
		if err := json.Unmarshal(e.Data, &order); err != nil {
			return fmt.Errorf("decode order: %w", err)
		}
		out = append(out, order)
		return nil
	})
	return out, err
}

// ReadFillRecords returns every fill in an outbox file
func ReadFillRecords(path string) ([]Fill, error) {
	var out []Fill
	err := scan(path, func(e rawEntry) error {
		if e.Type != TypeFill {
			return nil
		}
		var fill Fill
		if err := json.Unmarshal(e.Data, &fill); err != nil {
			return fmt.Errorf("decode fill: %w", err)
		}
		out = append(out, fill)
		return nil
	})
	return out, err
}

// ReadFills converts every fill in an outbox file into a trade event
func ReadFills(path string) ([]risk.MarketEvent, error) {
	fills, err := ReadFillRecords(path)
	if err != nil {
		return nil, err
	}
	out := make([]risk.MarketEvent, 0, len(fills))
	for _, f := range fills {
		out = append(out, f.MarketEvent())
	}
	return out, nil
}

// scan visits each well-formed entry; a missing file has no entries
func scan(path string, visit func(rawEntry) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e rawEntry
		if err := json.Unmarshal(line, &e); err != nil {
			observ.IncCounter("outbox_malformed_lines_total", nil)
			continue
		}
		if err := visit(e); err != nil {
			return err
		}
	}
	return scanner.Err()
}
