package signals

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/prediction-core/internal/errs"
)

type fakeGenerator struct {
	name  string
	calls atomic.Int32
	fn    func(ctx context.Context, in *SignalInput) (*TradeSignal, error)
}

func (f *fakeGenerator) Name() string           { return f.name }
func (f *fakeGenerator) SignalType() SignalType { return TypeValue }
func (f *fakeGenerator) Generate(ctx context.Context, in *SignalInput) (*TradeSignal, error) {
	f.calls.Add(1)
	return f.fn(ctx, in)
}

func emitting(name string, ev, conf float64, edge string) *fakeGenerator {
	return &fakeGenerator{name: name, fn: func(_ context.Context, in *SignalInput) (*TradeSignal, error) {
		return &TradeSignal{
			ID:            name + "-" + in.Market.ID,
			MarketID:      in.Market.ID,
			SignalType:    TypeValue,
			Direction:     Long,
			ExpectedValue: decimal.NewFromFloat(ev),
			Confidence:    conf,
			Edge:          d(edge),
			PositionSize:  d("10"),
		}, nil
	}}
}

type memorySink struct {
	mu     sync.Mutex
	stored []*TradeSignal
	err    error
}

func (m *memorySink) Store(_ context.Context, s *TradeSignal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.stored = append(m.stored, s)
	return nil
}

func newTestPipeline(t *testing.T, cfg PipelineConfig, sink SignalSink, gens ...Generator) *Pipeline {
	t.Helper()
	p, err := NewPipeline(cfg, NewRegistry(gens...), NewComposite(), sink)
	require.NoError(t, err)
	return p
}

func input(id string) *SignalInput {
	return &SignalInput{Market: Market{ID: id}}
}

func TestPipeline_DisabledSkipsGenerators(t *testing.T) {
	g := emitting("g", 10, 0.9, "0.1")
	cfg := DefaultPipelineConfig()
	cfg.Enabled = false
	p := newTestPipeline(t, cfg, nil, g)

	res, err := p.Process(context.Background(), input("m1"))
	require.NoError(t, err)
	assert.Empty(t, res.Signals)
	assert.Equal(t, int32(0), g.calls.Load())
}

func TestPipeline_RanksByScoreThenEdgeThenOrder(t *testing.T) {
	sink := &memorySink{}
	p := newTestPipeline(t, DefaultPipelineConfig(), sink,
		emitting("low", 10, 0.9, "0.30"),   // 9
		emitting("tie-a", 36, 0.5, "0.10"), // 18
		emitting("tie-b", 18, 1.0, "0.20"), // 18, wider edge
		emitting("tie-c", 18, 1.0, "0.20"), // identical to tie-b, generated later
	)

	res, err := p.Process(context.Background(), input("m1"))
	require.NoError(t, err)

	ids := []string{}
	for _, s := range res.Signals {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"tie-b-m1", "tie-c-m1", "tie-a-m1", "low-m1"}, ids)
	assert.Equal(t, 4, res.Persisted)
	assert.Len(t, sink.stored, 4)
}

func TestPipeline_TruncatesToMaxSignals(t *testing.T) {
	var gens []Generator
	for i := 0; i < 12; i++ {
		gens = append(gens, emitting(fmt.Sprintf("g%02d", i), float64(10+i), 0.9, "0.1"))
	}
	p := newTestPipeline(t, DefaultPipelineConfig(), nil, gens...)

	res, err := p.Process(context.Background(), input("m1"))
	require.NoError(t, err)
	require.Len(t, res.Signals, 10)
	assert.Equal(t, "g11-m1", res.Signals[0].ID)
	assert.Equal(t, 12, res.Candidates)
}

func TestPipeline_GlobalThresholds(t *testing.T) {
	p := newTestPipeline(t, DefaultPipelineConfig(), nil,
		emitting("unsure", 10, 0.5, "0.1"),
		emitting("thin", 10, 0.9, "0.01"),
		emitting("ok", 10, 0.9, "0.1"),
	)
	res, err := p.Process(context.Background(), input("m1"))
	require.NoError(t, err)
	require.Len(t, res.Signals, 1)
	require.Len(t, res.Rejections, 2)
	assert.Equal(t, "pipeline_min_confidence", res.Rejections[0].Validator)
	assert.Equal(t, "pipeline_min_edge", res.Rejections[1].Validator)
}

func TestPipeline_ValidatorRejectionIsReported(t *testing.T) {
	p, err := NewPipeline(DefaultPipelineConfig(),
		NewRegistry(emitting("small", 2, 0.9, "0.1")),
		NewComposite(ExpectedValueValidator{MinExpectedValue: 5}), nil)
	require.NoError(t, err)

	res, err := p.Process(context.Background(), input("m1"))
	require.NoError(t, err)
	assert.Empty(t, res.Signals)
	require.Len(t, res.Rejections, 1)
	assert.Equal(t, "expected_value", res.Rejections[0].Validator)
	assert.Equal(t, "small", res.Rejections[0].Generator)
}

func TestPipeline_IsolatesGeneratorFailures(t *testing.T) {
	panicking := &fakeGenerator{name: "boom", fn: func(context.Context, *SignalInput) (*TradeSignal, error) {
		panic("nil map")
	}}
	failing := &fakeGenerator{name: "err", fn: func(context.Context, *SignalInput) (*TradeSignal, error) {
		return nil, errors.New("bad input")
	}}
	slow := &fakeGenerator{name: "slow", fn: func(ctx context.Context, _ *SignalInput) (*TradeSignal, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	cfg := DefaultPipelineConfig()
	cfg.GeneratorTimeout = 20 * time.Millisecond
	p := newTestPipeline(t, cfg, nil, panicking, failing, slow, emitting("ok", 10, 0.9, "0.1"))

	res, err := p.Process(context.Background(), input("m1"))
	require.NoError(t, err)
	require.Len(t, res.Signals, 1)
	assert.Equal(t, "ok-m1", res.Signals[0].ID)

	require.Len(t, res.GeneratorFailures, 3)
	assert.True(t, res.GeneratorFailures[0].Panicked)
	assert.Contains(t, res.GeneratorFailures[0].Error, "nil map")
	assert.Equal(t, "bad input", res.GeneratorFailures[1].Error)
	assert.True(t, res.GeneratorFailures[2].TimedOut)
}

func TestPipeline_StorageFailureKeepsSelection(t *testing.T) {
	sink := &memorySink{err: errors.New("database is locked")}
	p := newTestPipeline(t, DefaultPipelineConfig(), sink, emitting("ok", 10, 0.9, "0.1"))

	res, err := p.Process(context.Background(), input("m1"))
	require.Error(t, err)
	assert.True(t, errs.IsCategory(err, errs.CategoryStorageFailure))
	assert.True(t, errs.IsRetryable(err))
	require.NotNil(t, res)
	assert.Len(t, res.Signals, 1)
	assert.Equal(t, 0, res.Persisted)
}

func TestTee_StopsAtFirstFailure(t *testing.T) {
	primary := &memorySink{}
	secondary := &memorySink{}
	sink := Tee(primary, nil, secondary)
	p := newTestPipeline(t, DefaultPipelineConfig(), sink, emitting("ok", 10, 0.9, "0.1"))

	res, err := p.Process(context.Background(), input("m1"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Persisted)
	assert.Len(t, primary.stored, 1)
	assert.Len(t, secondary.stored, 1)

	primary.err = errors.New("disk full")
	_, err = p.Process(context.Background(), input("m2"))
	require.Error(t, err)
	assert.Len(t, secondary.stored, 1, "downstream sink skipped after a failure")
}

func TestPipelineConfig_Validate(t *testing.T) {
	cfg := DefaultPipelineConfig()
	cfg.MaxSignalsPerCycle = 0
	_, err := NewPipeline(cfg, nil, nil, nil)
	require.Error(t, err)
	assert.True(t, errs.IsFatal(err))
}

func TestPool_RunsMarketsInParallelAndKeepsOrder(t *testing.T) {
	var inFlight, peak atomic.Int32
	gen := &fakeGenerator{name: "tracked", fn: func(_ context.Context, in *SignalInput) (*TradeSignal, error) {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		if in.Market.ID == "m3" {
			panic("market specific failure")
		}
		return &TradeSignal{ID: in.Market.ID, MarketID: in.Market.ID, Confidence: 0.9, Edge: d("0.1"), ExpectedValue: d("10")}, nil
	}}
	p := newTestPipeline(t, DefaultPipelineConfig(), nil, gen)

	var inputs []*SignalInput
	for i := 0; i < 8; i++ {
		inputs = append(inputs, input(fmt.Sprintf("m%d", i)))
	}
	batch := NewPool(p, 3).Run(context.Background(), inputs)

	require.Len(t, batch.Results, 8)
	for i, r := range batch.Results {
		assert.Equal(t, fmt.Sprintf("m%d", i), r.MarketID)
	}
	assert.Len(t, batch.Results[3].GeneratorFailures, 1)
	assert.Len(t, batch.Signals(), 7)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}
