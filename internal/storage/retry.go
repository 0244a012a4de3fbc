package storage

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/Rajchodisetti/prediction-core/internal/errs"
	"github.com/Rajchodisetti/prediction-core/internal/observ"
	"github.com/Rajchodisetti/prediction-core/internal/signals"
)

// RetryConfig bounds storage retries and paces writes
type RetryConfig struct {
	MaxAttempts     uint          `yaml:"max_attempts" json:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval" json:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval" json:"max_interval"`
	WritesPerSecond float64       `yaml:"writes_per_second" json:"writes_per_second"` // 0 = unlimited
	WriteBurst      int           `yaml:"write_burst" json:"write_burst"`
}

// DefaultRetryConfig returns the production defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
		WritesPerSecond: 200,
		WriteBurst:      50,
	}
}

// Retrying wraps a Store, retrying retryable failures with exponential
// backoff up to MaxAttempts. Only errors marked retryable are retried.
type Retrying struct {
	next    Store
	cfg     RetryConfig
	limiter *rate.Limiter
}

// NewRetrying wraps next
func NewRetrying(next Store, cfg RetryConfig) *Retrying {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	limit := rate.Inf
	if cfg.WritesPerSecond > 0 {
		limit = rate.Limit(cfg.WritesPerSecond)
	}
	burst := cfg.WriteBurst
	if burst <= 0 {
		burst = 1
	}
	return &Retrying{next: next, cfg: cfg, limiter: rate.NewLimiter(limit, burst)}
}

func (r *Retrying) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if r.cfg.InitialInterval > 0 {
		b.InitialInterval = r.cfg.InitialInterval
	}
	if r.cfg.MaxInterval > 0 {
		b.MaxInterval = r.cfg.MaxInterval
	}
	return b
}

func retry[T any](ctx context.Context, r *Retrying, op string, write bool, fn func() (T, error)) (T, error) {
	attempts := 0
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		if write {
			if err := r.limiter.Wait(ctx); err != nil {
				var zero T
				return zero, backoff.Permanent(err)
			}
		}
		v, err := fn()
		if err != nil && !errs.IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(r.backOff()), backoff.WithMaxTries(r.cfg.MaxAttempts))

	if err == nil {
		if attempts > 1 {
			observ.IncCounter("storage_retry_recovered_total", map[string]string{"op": op})
		}
		return res, nil
	}

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	if errors.Is(err, errs.ErrNotFound) {
		return res, err
	}
	observ.IncCounter("storage_failures_total", map[string]string{"op": op})
	observ.Log("storage_operation_failed", map[string]any{
		"op":       op,
		"attempts": attempts,
		"error":    err.Error(),
	})
	if errs.IsCategory(err, errs.CategoryStorageFailure) || errs.IsCategory(err, errs.CategoryValidationRejected) {
		return res, err
	}
	return res, errs.Wrap(err, errs.CategoryStorageFailure, "storage", op).WithContext("attempts", attempts)
}

type none struct{}

func (r *Retrying) Store(ctx context.Context, s *signals.TradeSignal) error {
	_, err := retry(ctx, r, "store", true, func() (none, error) { return none{}, r.next.Store(ctx, s) })
	return err
}

func (r *Retrying) Get(ctx context.Context, id string) (*signals.TradeSignal, error) {
	return retry(ctx, r, "get", false, func() (*signals.TradeSignal, error) { return r.next.Get(ctx, id) })
}

func (r *Retrying) GetByMarket(ctx context.Context, marketID string) ([]*signals.TradeSignal, error) {
	return retry(ctx, r, "get_by_market", false, func() ([]*signals.TradeSignal, error) { return r.next.GetByMarket(ctx, marketID) })
}

func (r *Retrying) GetByTimeRange(ctx context.Context, start, end time.Time) ([]*signals.TradeSignal, error) {
	return retry(ctx, r, "get_by_time_range", false, func() ([]*signals.TradeSignal, error) {
		return r.next.GetByTimeRange(ctx, start, end)
	})
}

func (r *Retrying) GetByType(ctx context.Context, t signals.SignalType) ([]*signals.TradeSignal, error) {
	return retry(ctx, r, "get_by_type", false, func() ([]*signals.TradeSignal, error) { return r.next.GetByType(ctx, t) })
}

func (r *Retrying) GetAll(ctx context.Context) ([]*signals.TradeSignal, error) {
	return retry(ctx, r, "get_all", false, func() ([]*signals.TradeSignal, error) { return r.next.GetAll(ctx) })
}

func (r *Retrying) Delete(ctx context.Context, id string) (bool, error) {
	return retry(ctx, r, "delete", true, func() (bool, error) { return r.next.Delete(ctx, id) })
}

func (r *Retrying) Stats(ctx context.Context) (StorageStats, error) {
	return retry(ctx, r, "stats", false, func() (StorageStats, error) { return r.next.Stats(ctx) })
}

func (r *Retrying) StoreExecution(ctx context.Context, res *SignalExecutionResult) error {
	_, err := retry(ctx, r, "store_execution", true, func() (none, error) { return none{}, r.next.StoreExecution(ctx, res) })
	return err
}

func (r *Retrying) GetExecutionBySignal(ctx context.Context, signalID string) (*SignalExecutionResult, error) {
	return retry(ctx, r, "get_execution", false, func() (*SignalExecutionResult, error) {
		return r.next.GetExecutionBySignal(ctx, signalID)
	})
}

func (r *Retrying) GetExecutionsByMarket(ctx context.Context, marketID string) ([]*SignalExecutionResult, error) {
	return retry(ctx, r, "get_executions_by_market", false, func() ([]*SignalExecutionResult, error) {
		return r.next.GetExecutionsByMarket(ctx, marketID)
	})
}

func (r *Retrying) GetBacktestStats(ctx context.Context, start, end time.Time) (*BacktestStats, error) {
	return retry(ctx, r, "get_backtest_stats", false, func() (*BacktestStats, error) {
		return r.next.GetBacktestStats(ctx, start, end)
	})
}

// Close closes the wrapped store
func (r *Retrying) Close() error { return r.next.Close() }
