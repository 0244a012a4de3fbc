package signals

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/prediction-core/internal/observ"
)

// Generator turns one SignalInput into zero or one candidate signal.
// A nil signal with a nil error means "no opportunity" and covers stale or
// insufficient input. Generators must be safe for concurrent use.
type Generator interface {
	Name() string
	SignalType() SignalType
	Generate(ctx context.Context, input *SignalInput) (*TradeSignal, error)
}

// Clock returns the current time; injected so tests can pin timestamps
type Clock func() time.Time

// IDFunc returns a fresh signal id
type IDFunc func() string

func defaultID() string { return uuid.NewString() }

// Registry is an ordered set of generators. Order defines generation order,
// which is the final ranking tie-break.
type Registry struct {
	mu         sync.RWMutex
	generators []Generator
}

// NewRegistry creates a registry with the given generators in order.
// Later generators with a duplicate name are skipped.
func NewRegistry(gens ...Generator) *Registry {
	r := &Registry{}
	for _, g := range gens {
		_ = r.Register(g)
	}
	return r
}

// Register appends a generator; duplicate names are rejected
func (r *Registry) Register(g Generator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.generators {
		if existing.Name() == g.Name() {
			return fmt.Errorf("generator %q already registered", g.Name())
		}
	}
	r.generators = append(r.generators, g)
	return nil
}

// Generators returns a copy of the registered generators in order
func (r *Registry) Generators() []Generator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Generator, len(r.generators))
	copy(out, r.generators)
	return out
}

// Lookup finds a generator by name
func (r *Registry) Lookup(name string) (Generator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, g := range r.generators {
		if g.Name() == name {
			return g, true
		}
	}
	return nil, false
}

// Fill is one of our orders filled by the execution layer
type Fill struct {
	SignalType SignalType
	MarketID   string
	OutcomeID  string
	Buy        bool
	Shares     decimal.Decimal
	Price      decimal.Decimal
}

// FillRecorder is implemented by generators whose next signal depends on
// their own filled inventory
type FillRecorder interface {
	BookFill(f Fill) bool
}

// RecordFill hands a fill to the generator of the same signal type.
// It reports whether a generator booked it.
func (r *Registry) RecordFill(f Fill) bool {
	if !f.Shares.IsPositive() {
		return false
	}
	for _, g := range r.Generators() {
		if g.SignalType() != f.SignalType {
			continue
		}
		rec, ok := g.(FillRecorder)
		if !ok {
			return false
		}
		booked := rec.BookFill(f)
		if booked {
			observ.IncCounter("generator_fills_booked_total", map[string]string{"generator": g.Name()})
		}
		return booked
	}
	return false
}

// VolatilityScore maps the population standard deviation of historical
// prices onto [0, 1], treating 0.05 as fully volatile. Fewer than two
// observations score a neutral 0.5.
func VolatilityScore(history []PriceSnapshot) float64 {
	if len(history) < 2 {
		return 0.5
	}
	var sum float64
	prices := make([]float64, len(history))
	for i, p := range history {
		prices[i] = p.Price.InexactFloat64()
		sum += prices[i]
	}
	mean := sum / float64(len(prices))
	var variance float64
	for _, p := range prices {
		variance += (p - mean) * (p - mean)
	}
	variance /= float64(len(prices))
	return clamp01(math.Sqrt(variance) / 0.05)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

func dec(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// expiry returns a pointer to now+d, or nil for d <= 0
func expiry(now time.Time, d time.Duration) *time.Time {
	if d <= 0 {
		return nil
	}
	t := now.Add(d)
	return &t
}
