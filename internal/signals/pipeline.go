package signals

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Rajchodisetti/prediction-core/internal/errs"
	"github.com/Rajchodisetti/prediction-core/internal/observ"
)

// PipelineConfig controls one generation cycle
type PipelineConfig struct {
	Enabled            bool          `yaml:"enabled" json:"enabled"`
	MaxSignalsPerCycle int           `yaml:"max_signals_per_cycle" json:"max_signals_per_cycle"`
	MinConfidence      float64       `yaml:"min_confidence" json:"min_confidence"`
	MinEdge            float64       `yaml:"min_edge" json:"min_edge"`
	GeneratorTimeout   time.Duration `yaml:"generator_timeout" json:"generator_timeout"`
}

// DefaultPipelineConfig returns the production defaults
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Enabled:            true,
		MaxSignalsPerCycle: 10,
		MinConfidence:      0.6,
		MinEdge:            0.03,
		GeneratorTimeout:   2 * time.Second,
	}
}

// Validate checks ranges
func (c PipelineConfig) Validate() error {
	switch {
	case c.MaxSignalsPerCycle <= 0:
		return fmt.Errorf("max_signals_per_cycle must be positive, got %d", c.MaxSignalsPerCycle)
	case c.MinConfidence < 0 || c.MinConfidence > 1:
		return fmt.Errorf("min_confidence must be within [0, 1], got %v", c.MinConfidence)
	case c.MinEdge < 0 || c.MinEdge >= 1:
		return fmt.Errorf("min_edge must be within [0, 1), got %v", c.MinEdge)
	case c.GeneratorTimeout < 0:
		return fmt.Errorf("generator_timeout must not be negative, got %s", c.GeneratorTimeout)
	}
	return nil
}

// SignalSink persists approved signals. storage.SignalStorage satisfies it.
type SignalSink interface {
	Store(ctx context.Context, signal *TradeSignal) error
}

type teeSink []SignalSink

// Tee stores each signal in every sink, in order, stopping at the first
// failure so downstream sinks never see a signal the first one lost
func Tee(sinks ...SignalSink) SignalSink {
	var out teeSink
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (t teeSink) Store(ctx context.Context, signal *TradeSignal) error {
	for _, s := range t {
		if err := s.Store(ctx, signal); err != nil {
			return err
		}
	}
	return nil
}

// Rejection records why a candidate was dropped
type Rejection struct {
	SignalID  string     `json:"signal_id"`
	MarketID  string     `json:"market_id"`
	Generator string     `json:"generator"`
	Type      SignalType `json:"signal_type"`
	Validator string     `json:"validator"`
	Reason    string     `json:"reason"`
}

// GeneratorFailure records an error, panic or timeout in one generator
type GeneratorFailure struct {
	Generator string `json:"generator"`
	MarketID  string `json:"market_id"`
	Error     string `json:"error"`
	TimedOut  bool   `json:"timed_out,omitempty"`
	Panicked  bool   `json:"panicked,omitempty"`
}

// Result is the output of one pipeline cycle for one input
type Result struct {
	MarketID          string             `json:"market_id"`
	Signals           []*TradeSignal     `json:"signals"`
	Candidates        int                `json:"candidates"`
	Rejections        []Rejection        `json:"rejections,omitempty"`
	GeneratorFailures []GeneratorFailure `json:"generator_failures,omitempty"`
	Persisted         int                `json:"persisted"`
}

// Pipeline runs generators, validators, ranking and persistence for one input
type Pipeline struct {
	cfg        PipelineConfig
	registry   *Registry
	validators *Composite
	sink       SignalSink
}

// NewPipeline wires a pipeline. sink may be nil.
func NewPipeline(cfg PipelineConfig, registry *Registry, validators *Composite, sink SignalSink) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errs.Wrap(err, errs.CategoryConfiguration, "pipeline", "new")
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if validators == nil {
		validators = NewComposite()
	}
	return &Pipeline{cfg: cfg, registry: registry, validators: validators, sink: sink}, nil
}

// Config returns the pipeline configuration
func (p *Pipeline) Config() PipelineConfig { return p.cfg }

type candidate struct {
	signal    *TradeSignal
	generator string
}

// Process runs one cycle. The returned Result is always non-nil; the error
// is a STORAGE_FAILURE when persisting the selection failed, in which case
// Result.Signals still holds every selected signal.
func (p *Pipeline) Process(ctx context.Context, input *SignalInput) (*Result, error) {
	res := &Result{MarketID: input.Market.ID}
	if !p.cfg.Enabled {
		return res, nil
	}
	start := time.Now()

	var candidates []candidate
	for _, g := range p.registry.Generators() {
		if ctx.Err() != nil {
			break
		}
		sig, failure := p.runGenerator(ctx, g, input)
		if failure != nil {
			res.GeneratorFailures = append(res.GeneratorFailures, *failure)
			observ.IncCounter("generator_failures_total", map[string]string{"generator": g.Name()})
			observ.Log("generator_failed", map[string]any{
				"category":  errs.CategoryGeneratorFailure,
				"generator": g.Name(),
				"market_id": input.Market.ID,
				"error":     failure.Error,
				"timed_out": failure.TimedOut,
				"panicked":  failure.Panicked,
			})
			continue
		}
		if sig != nil {
			candidates = append(candidates, candidate{signal: sig, generator: g.Name()})
		}
	}
	res.Candidates = len(candidates)

	approved := make([]*TradeSignal, 0, len(candidates))
	for _, c := range candidates {
		if rej, ok := p.screen(c, input); !ok {
			res.Rejections = append(res.Rejections, rej)
			observ.IncCounter("signals_rejected_total", map[string]string{"validator": rej.Validator})
			continue
		}
		approved = append(approved, c.signal)
	}

	Rank(approved)
	if len(approved) > p.cfg.MaxSignalsPerCycle {
		approved = approved[:p.cfg.MaxSignalsPerCycle]
	}
	res.Signals = approved

	persistErr := p.persist(ctx, res)

	status := "ok"
	if persistErr != nil {
		status = "storage_failure"
	}
	observ.IncCounter("pipeline_cycles_total", map[string]string{"status": status})
	observ.IncCounterBy("signals_approved_total", nil, float64(len(res.Signals)))
	observ.RecordDuration("pipeline_cycle", time.Since(start), nil)
	observ.Log("pipeline_cycle_completed", map[string]any{
		"market_id":  input.Market.ID,
		"candidates": res.Candidates,
		"approved":   len(res.Signals),
		"rejected":   len(res.Rejections),
		"failures":   len(res.GeneratorFailures),
		"persisted":  res.Persisted,
		"latency_ms": time.Since(start).Milliseconds(),
	})
	return res, persistErr
}

// screen applies the global thresholds and then the validator chain
func (p *Pipeline) screen(c candidate, input *SignalInput) (Rejection, bool) {
	s := c.signal
	rej := Rejection{SignalID: s.ID, MarketID: s.MarketID, Generator: c.generator, Type: s.SignalType}
	switch {
	case s.Confidence < p.cfg.MinConfidence:
		rej.Validator = "pipeline_min_confidence"
		rej.Reason = fmt.Sprintf("confidence %.4f below pipeline minimum %v", s.Confidence, p.cfg.MinConfidence)
		return rej, false
	case s.Edge.LessThan(dec(p.cfg.MinEdge)):
		rej.Validator = "pipeline_min_edge"
		rej.Reason = fmt.Sprintf("edge %s below pipeline minimum %v", s.Edge.StringFixed(4), p.cfg.MinEdge)
		return rej, false
	}
	if err := p.validators.Validate(s, input); err != nil {
		rej.Validator = RejectingValidator(err)
		var e *errs.Error
		if errors.As(err, &e) {
			rej.Reason = e.Message
		} else {
			rej.Reason = err.Error()
		}
		return rej, false
	}
	return rej, true
}

func (p *Pipeline) persist(ctx context.Context, res *Result) error {
	if p.sink == nil {
		return nil
	}
	var failed []error
	for _, s := range res.Signals {
		if err := p.sink.Store(ctx, s); err != nil {
			failed = append(failed, fmt.Errorf("store %s: %w", s.ID, err))
			continue
		}
		res.Persisted++
	}
	if len(failed) == 0 {
		return nil
	}
	err := errs.Wrap(errors.Join(failed...), errs.CategoryStorageFailure, "pipeline", "persist").
		WithContext("market_id", res.MarketID).
		WithContext("failed", len(failed))
	observ.Log("signal_persist_failed", map[string]any{
		"market_id": res.MarketID,
		"failed":    len(failed),
		"error":     err.Error(),
	})
	return err
}

type generated struct {
	signal *TradeSignal
	err    error
	panic  any
}

// runGenerator invokes g with the configured timeout and converts errors,
// panics and timeouts into a GeneratorFailure
func (p *Pipeline) runGenerator(ctx context.Context, g Generator, input *SignalInput) (*TradeSignal, *GeneratorFailure) {
	if p.cfg.GeneratorTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.GeneratorTimeout)
		defer cancel()
	}

	done := make(chan generated, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- generated{panic: r}
			}
		}()
		sig, err := g.Generate(ctx, input)
		done <- generated{signal: sig, err: err}
	}()

	failure := &GeneratorFailure{Generator: g.Name(), MarketID: input.Market.ID}
	select {
	case out := <-done:
		switch {
		case out.panic != nil:
			failure.Panicked = true
			failure.Error = fmt.Sprintf("panic: %v", out.panic)
			return nil, failure
		case out.err != nil:
			failure.Error = out.err.Error()
			failure.TimedOut = errors.Is(out.err, context.DeadlineExceeded)
			return nil, failure
		}
		return out.signal, nil
	case <-ctx.Done():
		failure.TimedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)
		failure.Error = ctx.Err().Error()
		return nil, failure
	}
}

// Rank orders signals by EV*confidence descending, then edge descending.
// The sort is stable so equal keys keep generation order.
func Rank(signals []*TradeSignal) {
	sort.SliceStable(signals, func(i, j int) bool {
		si, sj := signals[i].RankScore(), signals[j].RankScore()
		if si != sj {
			return si > sj
		}
		return signals[i].Edge.GreaterThan(signals[j].Edge)
	})
}
