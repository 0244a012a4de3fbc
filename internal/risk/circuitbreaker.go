package risk

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/prediction-core/internal/observ"
)

// BreakerState represents the current circuit breaker state
type BreakerState string

const (
	StateActive  BreakerState = "active"  // trading allowed
	StateTripped BreakerState = "tripped" // every trade rejected until resume_at
	StateHalted  BreakerState = "halted"  // rejected for the rest of the UTC day
)

// BreakerEvent is one entry of the append-only breaker event log
type BreakerEvent struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	UserID    string         `json:"user_id,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

// Breaker event types
const (
	EventThresholdBreached = "threshold_breached"
	EventStateChanged      = "state_changed"
	EventManualOverride    = "manual_override"
)

// BreakerInputs are the risk readings a refresh is judged on
type BreakerInputs struct {
	DailyPnL decimal.Decimal  // realized today
	Drawdown float64          // current drawdown from peak equity, 0..1
	VaR95    *decimal.Decimal // nil until enough history
}

// BreakerStatus is a point-in-time view of the breaker
type BreakerStatus struct {
	Enabled         bool         `json:"enabled"`
	State           BreakerState `json:"state"`
	ResumeAt        *time.Time   `json:"resume_at,omitempty"`
	HaltedDay       string       `json:"halted_day,omitempty"`
	Day             string       `json:"day"`
	ViolationsToday int          `json:"violations_today"`
	MaxViolations   int          `json:"max_violations_per_day"`
	LastReason      string       `json:"last_reason,omitempty"`
	EnteredAt       time.Time    `json:"entered_at"`
}

// Blocking reports whether trades are rejected
func (s BreakerStatus) Blocking() bool {
	return s.State == StateTripped || s.State == StateHalted
}

// CircuitBreaker halts trading on loss, drawdown or VaR breaches. State is
// Active, Tripped until a cooldown elapses, or Halted until the next UTC day
// once the day's violation count reaches the maximum. Transitions are event
// sourced to an optional JSONL log and replayed on construction.
//
// Expiry is lazy: Status reports the effective state for any instant, and
// Refresh or Evaluate materialize it as events.
type CircuitBreaker struct {
	mu  sync.RWMutex
	cfg BreakerConfig
	now func() time.Time

	state      BreakerState
	enteredAt  time.Time
	resumeAt   time.Time
	day        string // UTC day the violation count belongs to
	violations int
	lastReason string

	// Event sourcing
	events      []BreakerEvent
	eventLog    string
	lastEventID int64
}

// MaxEventsInMemory bounds the replayable history kept in memory
const MaxEventsInMemory = 1000

// NewCircuitBreaker creates a breaker. When eventLogPath is set, prior events
// are loaded and replayed to rebuild state.
func NewCircuitBreaker(cfg BreakerConfig, eventLogPath string) (*CircuitBreaker, error) {
	cb := &CircuitBreaker{
		cfg:       cfg,
		now:       time.Now,
		state:     StateActive,
		enteredAt: time.Now().UTC(),
		eventLog:  eventLogPath,
	}
	if eventLogPath == "" {
		return cb, nil
	}
	if err := cb.loadEvents(); err != nil {
		observ.IncCounter("circuit_breaker_load_errors_total", nil)
		return nil, err
	}
	cb.replayEvents()
	return cb, nil
}

// WithClock replaces the wall clock
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.now = now
	return cb
}

// Config returns the breaker configuration
func (cb *CircuitBreaker) Config() BreakerConfig { return cb.cfg }

func dayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

// Status returns the effective state at now without mutating anything
func (cb *CircuitBreaker) Status(now time.Time) BreakerStatus {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.statusLocked(now)
}

// Current is Status at the breaker's clock
func (cb *CircuitBreaker) Current() BreakerStatus {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.statusLocked(cb.now())
}

func (cb *CircuitBreaker) statusLocked(now time.Time) BreakerStatus {
	st := BreakerStatus{
		Enabled:       cb.cfg.Enabled,
		State:         StateActive,
		Day:           dayKey(now),
		MaxViolations: cb.cfg.MaxViolationsPerDay,
		LastReason:    cb.lastReason,
		EnteredAt:     cb.enteredAt,
	}
	if !cb.cfg.Enabled {
		return st
	}
	state, count := cb.effective(now)
	st.State = state
	st.ViolationsToday = count
	if state != cb.state {
		st.EnteredAt = now
	}
	switch state {
	case StateTripped:
		resume := cb.resumeAt
		st.ResumeAt = &resume
	case StateHalted:
		st.HaltedDay = cb.day
	}
	return st
}

// effective applies day rollover and cooldown expiry to the stored state
func (cb *CircuitBreaker) effective(now time.Time) (BreakerState, int) {
	state, count := cb.state, cb.violations
	if cb.day != dayKey(now) {
		count = 0
		if state == StateHalted {
			state = StateActive
		}
	}
	if state == StateTripped && !now.Before(cb.resumeAt) {
		if count >= cb.cfg.MaxViolationsPerDay {
			state = StateHalted
		} else {
			state = StateActive
		}
	}
	return state, count
}

// Refresh materializes rollover and cooldown expiry at now
func (cb *CircuitBreaker) Refresh(now time.Time) BreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refreshLocked(now)
	return cb.statusLocked(now)
}

func (cb *CircuitBreaker) refreshLocked(now time.Time) {
	if !cb.cfg.Enabled {
		return
	}
	today := dayKey(now)
	if cb.day != today {
		cb.day = today
		cb.violations = 0
		if cb.state == StateHalted {
			cb.setState(StateActive, "day_rollover", now)
		}
	}
	if cb.state == StateTripped && !now.Before(cb.resumeAt) {
		if cb.violations >= cb.cfg.MaxViolationsPerDay {
			cb.setState(StateHalted, "max_violations_reached", now)
		} else {
			cb.setState(StateActive, "cooldown_expired", now)
		}
	}
}

// Evaluate refreshes the breaker and trips it when any threshold is breached.
// It returns the resulting status and the triggers that fired. An already
// tripped or halted breaker does not count further violations.
func (cb *CircuitBreaker) Evaluate(in BreakerInputs, now time.Time) (BreakerStatus, []*Violation) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.refreshLocked(now)
	if !cb.cfg.Enabled || cb.state != StateActive {
		return cb.statusLocked(now), nil
	}

	triggers := cb.triggers(in)
	if len(triggers) == 0 {
		return cb.statusLocked(now), nil
	}

	cb.violations++
	kinds := make([]string, 0, len(triggers))
	for _, t := range triggers {
		kinds = append(kinds, string(t.Kind))
	}
	reason := strings.Join(kinds, ",")
	data := map[string]any{
		"daily_pnl":  in.DailyPnL.String(),
		"drawdown":   in.Drawdown,
		"violations": cb.violations,
		"triggers":   kinds,
	}
	if in.VaR95 != nil {
		data["var_95"] = in.VaR95.String()
	}
	cb.addEvent(EventThresholdBreached, data, "", reason, now)

	// every violation trips; refreshLocked halts once the cooldown of the
	// day's last allowed violation expires
	cb.resumeAt = now.Add(time.Duration(cb.cfg.CooldownMinutes) * time.Minute)
	cb.setState(StateTripped, reason, now)
	return cb.statusLocked(now), triggers
}

func (cb *CircuitBreaker) triggers(in BreakerInputs) []*Violation {
	var out []*Violation
	if in.DailyPnL.LessThanOrEqual(cb.cfg.DailyLossLimit.Neg()) {
		out = append(out, &Violation{Kind: DailyLossExceeded, Current: in.DailyPnL, Limit: cb.cfg.DailyLossLimit})
	}
	if in.Drawdown >= cb.cfg.MaxDrawdownPercentage {
		out = append(out, &Violation{Kind: DrawdownExceeded, Ratio: in.Drawdown, RatioLimit: cb.cfg.MaxDrawdownPercentage})
	}
	if in.VaR95 != nil && in.VaR95.GreaterThanOrEqual(cb.cfg.VaR95Limit) {
		out = append(out, &Violation{Kind: VaRExceeded, Current: *in.VaR95, Limit: cb.cfg.VaR95Limit})
	}
	return out
}

// Reset is an administrative override back to Active that also clears the
// day's violation count
func (cb *CircuitBreaker) Reset(userID, reason string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	if userID == "" {
		return fmt.Errorf("reset requires a user id")
	}
	cb.addEvent(EventManualOverride, map[string]any{
		"action":     "reset",
		"prev_state": string(cb.state),
		"violations": cb.violations,
	}, userID, reason, now)

	cb.day = dayKey(now)
	cb.violations = 0
	cb.resumeAt = time.Time{}
	cb.setState(StateActive, "manual_reset", now)
	return nil
}

// setState changes the state and records the event
func (cb *CircuitBreaker) setState(newState BreakerState, reason string, now time.Time) {
	previous := cb.state
	previousAt := cb.enteredAt

	cb.state = newState
	cb.enteredAt = now
	cb.lastReason = reason
	if cb.day == "" {
		cb.day = dayKey(now)
	}

	data := map[string]any{
		"previous_state":    string(previous),
		"new_state":         string(newState),
		"day":               cb.day,
		"violations":        cb.violations,
		"state_duration_ms": now.Sub(previousAt).Milliseconds(),
	}
	if newState == StateTripped {
		data["resume_at"] = cb.resumeAt.UTC().Format(time.RFC3339Nano)
	}
	cb.addEvent(EventStateChanged, data, "", reason, now)

	if previous != newState {
		observ.Observe("circuit_breaker_state_duration_seconds", now.Sub(previousAt).Seconds(),
			map[string]string{"state": string(previous)})
	}
	observ.SetGauge("circuit_breaker_state", stateToFloat(newState), nil)
	observ.SetGauge("circuit_breaker_violations_today", float64(cb.violations), nil)
	observ.IncCounter("circuit_breaker_transitions_total", map[string]string{
		"from": string(previous),
		"to":   string(newState),
	})
	observ.Log("circuit_breaker_transition", map[string]any{
		"from":       previous,
		"to":         newState,
		"reason":     reason,
		"violations": cb.violations,
		"day":        cb.day,
	})
}

func stateToFloat(state BreakerState) float64 {
	switch state {
	case StateActive:
		return 0
	case StateTripped:
		return 1
	case StateHalted:
		return 2
	default:
		return -1
	}
}
