package signals

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Rajchodisetti/prediction-core/internal/observ"
)

// Pool fans pipeline cycles out over many markets with a concurrency limit
type Pool struct {
	pipeline    *Pipeline
	concurrency int
}

// NewPool creates a pool; concurrency <= 0 means 1
func NewPool(p *Pipeline, concurrency int) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Pool{pipeline: p, concurrency: concurrency}
}

// BatchResult pairs each input's result with its persistence error, in input order
type BatchResult struct {
	Results []*Result `json:"results"`
	Errors  []error   `json:"-"`
}

// Signals flattens every approved signal in input order
func (b *BatchResult) Signals() []*TradeSignal {
	var out []*TradeSignal
	for _, r := range b.Results {
		if r != nil {
			out = append(out, r.Signals...)
		}
	}
	return out
}

// Run processes every input. One market's failures never abort the others;
// cancelling ctx stops scheduling new markets.
func (p *Pool) Run(ctx context.Context, inputs []*SignalInput) *BatchResult {
	start := time.Now()
	out := &BatchResult{
		Results: make([]*Result, len(inputs)),
		Errors:  make([]error, len(inputs)),
	}

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, in := range inputs {
		if ctx.Err() != nil {
			out.Results[i] = &Result{MarketID: in.Market.ID}
			out.Errors[i] = ctx.Err()
			continue
		}
		g.Go(func() error {
			res, err := p.pipeline.Process(ctx, in)
			out.Results[i] = res
			out.Errors[i] = err
			return nil
		})
	}
	_ = g.Wait()

	observ.SetGauge("pool_last_batch_markets", float64(len(inputs)), nil)
	observ.RecordDuration("pool_batch", time.Since(start), nil)
	return out
}
