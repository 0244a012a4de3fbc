// Package storage persists approved signals and their execution results.
//
// Every backend implements Store. MemoryStore is the reference
// implementation; SQLiteStore is durable; Retrying wraps either with bounded
// retries for transient failures.
package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/prediction-core/internal/errs"
	"github.com/Rajchodisetti/prediction-core/internal/signals"
)

// SignalStorage persists approved trade signals. Get returns an error
// wrapping errs.ErrNotFound when the id is unknown.
type SignalStorage interface {
	Store(ctx context.Context, signal *signals.TradeSignal) error
	Get(ctx context.Context, id string) (*signals.TradeSignal, error)
	GetByMarket(ctx context.Context, marketID string) ([]*signals.TradeSignal, error)
	GetByTimeRange(ctx context.Context, start, end time.Time) ([]*signals.TradeSignal, error)
	GetByType(ctx context.Context, t signals.SignalType) ([]*signals.TradeSignal, error)
	GetAll(ctx context.Context) ([]*signals.TradeSignal, error)
	Delete(ctx context.Context, id string) (bool, error)
	Stats(ctx context.Context) (StorageStats, error)
}

// ExecutionStorage persists execution results keyed by signal id
type ExecutionStorage interface {
	StoreExecution(ctx context.Context, result *SignalExecutionResult) error
	GetExecutionBySignal(ctx context.Context, signalID string) (*SignalExecutionResult, error)
	GetExecutionsByMarket(ctx context.Context, marketID string) ([]*SignalExecutionResult, error)
	GetBacktestStats(ctx context.Context, start, end time.Time) (*BacktestStats, error)
}

// Store is a full storage backend
type Store interface {
	SignalStorage
	ExecutionStorage
	Close() error
}

// StorageStats summarizes stored signals
type StorageStats struct {
	TotalSignals     int            `json:"total_signals"`
	SignalsByType    map[string]int `json:"signals_by_type"`
	OldestSignal     *time.Time     `json:"oldest_signal,omitempty"`
	NewestSignal     *time.Time     `json:"newest_signal,omitempty"`
	StorageSizeBytes *int64         `json:"storage_size_bytes,omitempty"`
}

// ExitReason explains why a position opened from a signal was closed
type ExitReason string

const (
	ExitTargetHit      ExitReason = "target_hit"
	ExitStopLoss       ExitReason = "stop_loss"
	ExitManual         ExitReason = "manual"
	ExitSignalExpired  ExitReason = "signal_expired"
	ExitMarketResolved ExitReason = "market_resolved"
	ExitTimeout        ExitReason = "timeout"
)

// SignalExecutionResult is what happened after the execution layer acted on
// a signal. Exit fields stay nil while the position is open.
type SignalExecutionResult struct {
	SignalID           string             `json:"signal_id"`
	MarketID           string             `json:"market_id"`
	OutcomeID          string             `json:"outcome_id,omitempty"`
	SignalType         signals.SignalType `json:"signal_type"`
	ExecutedAt         time.Time          `json:"executed_at"`
	EntryPrice         decimal.Decimal    `json:"entry_price"`
	ExitPrice          *decimal.Decimal   `json:"exit_price,omitempty"`
	PositionSize       decimal.Decimal    `json:"position_size"`
	PnL                *decimal.Decimal   `json:"pnl,omitempty"`
	PnLPct             *decimal.Decimal   `json:"pnl_pct,omitempty"`
	HoldingPeriodHours *float64           `json:"holding_period_hours,omitempty"`
	ExitReason         ExitReason         `json:"exit_reason"`
}

// Closed reports whether the result has an exit price
func (r *SignalExecutionResult) Closed() bool { return r.ExitPrice != nil }

func validateExecution(r *SignalExecutionResult) error {
	if r == nil || r.SignalID == "" {
		return errs.New(errs.CategoryValidationRejected, "storage", "store_execution", "execution result needs a signal id").
			WithRetryable(false)
	}
	return nil
}

func validateSignal(s *signals.TradeSignal) error {
	if s == nil || s.ID == "" {
		return errs.New(errs.CategoryValidationRejected, "storage", "store", "signal needs an id").
			WithRetryable(false)
	}
	return nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, errs.ErrNotFound)
}

// sortSignals orders by creation time, then id
func sortSignals(out []*signals.TradeSignal) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
}

func sortExecutions(out []*SignalExecutionResult) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExecutedAt.Equal(out[j].ExecutedAt) {
			return out[i].ExecutedAt.Before(out[j].ExecutedAt)
		}
		return out[i].SignalID < out[j].SignalID
	})
}

func inRange(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}

// computeStats builds StorageStats over a signal set
func computeStats(all []*signals.TradeSignal) StorageStats {
	st := StorageStats{TotalSignals: len(all), SignalsByType: make(map[string]int)}
	for _, s := range all {
		st.SignalsByType[string(s.SignalType)]++
		created := s.CreatedAt
		if st.OldestSignal == nil || created.Before(*st.OldestSignal) {
			st.OldestSignal = &created
		}
		if st.NewestSignal == nil || created.After(*st.NewestSignal) {
			st.NewestSignal = &created
		}
	}
	return st
}
