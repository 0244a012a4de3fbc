package storage

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/Rajchodisetti/prediction-core/internal/signals"
)

// MemoryStore keeps everything in maps. Stored values are deep-copied on the
// way in and out so callers never share state with the store. CustomFields
// is copied one level deep.
type MemoryStore struct {
	mu         sync.RWMutex
	signals    map[string]signals.TradeSignal
	executions map[string]SignalExecutionResult
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		signals:    make(map[string]signals.TradeSignal),
		executions: make(map[string]SignalExecutionResult),
	}
}

func (m *MemoryStore) Store(ctx context.Context, s *signals.TradeSignal) error {
	if err := validateSignal(s); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals[s.ID] = cloneSignal(*s)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*signals.TradeSignal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.signals[id]
	if !ok {
		return nil, notFound("signal", id)
	}
	s = cloneSignal(s)
	return &s, nil
}

func (m *MemoryStore) filter(keep func(*signals.TradeSignal) bool) []*signals.TradeSignal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*signals.TradeSignal, 0)
	for _, s := range m.signals {
		s := cloneSignal(s)
		if keep(&s) {
			out = append(out, &s)
		}
	}
	sortSignals(out)
	return out
}

func (m *MemoryStore) GetByMarket(ctx context.Context, marketID string) ([]*signals.TradeSignal, error) {
	return m.filter(func(s *signals.TradeSignal) bool { return s.MarketID == marketID }), nil
}

func (m *MemoryStore) GetByTimeRange(ctx context.Context, start, end time.Time) ([]*signals.TradeSignal, error) {
	return m.filter(func(s *signals.TradeSignal) bool { return inRange(s.CreatedAt, start, end) }), nil
}

func (m *MemoryStore) GetByType(ctx context.Context, t signals.SignalType) ([]*signals.TradeSignal, error) {
	return m.filter(func(s *signals.TradeSignal) bool { return s.SignalType == t }), nil
}

func (m *MemoryStore) GetAll(ctx context.Context) ([]*signals.TradeSignal, error) {
	return m.filter(func(*signals.TradeSignal) bool { return true }), nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.signals[id]; !ok {
		return false, nil
	}
	delete(m.signals, id)
	return true, nil
}

func (m *MemoryStore) Stats(ctx context.Context) (StorageStats, error) {
	all, _ := m.GetAll(ctx)
	return computeStats(all), nil
}

func (m *MemoryStore) StoreExecution(ctx context.Context, r *SignalExecutionResult) error {
	if err := validateExecution(r); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[r.SignalID] = cloneExecution(*r)
	return nil
}

func (m *MemoryStore) GetExecutionBySignal(ctx context.Context, signalID string) (*SignalExecutionResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.executions[signalID]
	if !ok {
		return nil, notFound("execution", signalID)
	}
	r = cloneExecution(r)
	return &r, nil
}

func (m *MemoryStore) executionsWhere(keep func(*SignalExecutionResult) bool) []*SignalExecutionResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*SignalExecutionResult, 0)
	for _, r := range m.executions {
		r := cloneExecution(r)
		if keep(&r) {
			out = append(out, &r)
		}
	}
	sortExecutions(out)
	return out
}

func (m *MemoryStore) GetExecutionsByMarket(ctx context.Context, marketID string) ([]*SignalExecutionResult, error) {
	return m.executionsWhere(func(r *SignalExecutionResult) bool { return r.MarketID == marketID }), nil
}

func (m *MemoryStore) GetBacktestStats(ctx context.Context, start, end time.Time) (*BacktestStats, error) {
	all := m.executionsWhere(func(*SignalExecutionResult) bool { return true })
	return ComputeBacktestStats(start, end, all), nil
}

// Close is a no-op
func (m *MemoryStore) Close() error { return nil }

func cloneSignal(s signals.TradeSignal) signals.TradeSignal {
	s.Metadata.ResearchSources = slices.Clone(s.Metadata.ResearchSources)
	s.Metadata.CustomFields = maps.Clone(s.Metadata.CustomFields)
	s.ExpiresAt = clonePtr(s.ExpiresAt)
	return s
}

func cloneExecution(r SignalExecutionResult) SignalExecutionResult {
	r.ExitPrice = clonePtr(r.ExitPrice)
	r.PnL = clonePtr(r.PnL)
	r.PnLPct = clonePtr(r.PnLPct)
	r.HoldingPeriodHours = clonePtr(r.HoldingPeriodHours)
	return r
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
