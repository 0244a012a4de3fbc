package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/prediction-core/internal/errs"
	"github.com/Rajchodisetti/prediction-core/internal/risk"
	"github.com/Rajchodisetti/prediction-core/internal/signals"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

// fakeReader serves queued messages, then blocks until ctx is done
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type recordingProcessor struct {
	mu     sync.Mutex
	events []risk.MarketEvent
	done   chan struct{}
	want   int
}

func (p *recordingProcessor) ProcessEvent(_ context.Context, ev risk.MarketEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ev.Validate(); err != nil {
		return errs.Wrap(err, errs.CategoryValidationRejected, "test", "process")
	}
	p.events = append(p.events, ev)
	if len(p.events) == p.want {
		close(p.done)
	}
	return nil
}

func TestSignalPublisher(t *testing.T) {
	w := &fakeWriter{}
	pub := NewSignalPublisher(w)
	var sink signals.SignalSink = pub

	s := &signals.TradeSignal{ID: "s1", MarketID: "m1", SignalType: signals.TypeSpreadArbitrage, EntryPrice: decimal.RequireFromString("0.4")}
	require.NoError(t, sink.Store(context.Background(), s))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "m1", string(w.msgs[0].Key))

	var decoded signals.TradeSignal
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, "s1", decoded.ID)

	w.err = errors.New("broker down")
	err := pub.Store(context.Background(), s)
	assert.True(t, errs.IsRetryable(err))
}

func TestConsumerFeedsProcessor(t *testing.T) {
	ts := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	w := &fakeWriter{}
	events := []risk.MarketEvent{
		{Type: risk.EventTrade, MarketID: "m1", OutcomeID: "yes", Side: risk.Buy, Price: decimal.RequireFromString("0.5"), Size: decimal.NewFromInt(10), Timestamp: ts},
		{Type: risk.EventPriceTick, MarketID: "m1", OutcomeID: "yes", Price: decimal.RequireFromString("0.55")},
	}
	require.NoError(t, NewEventPublisher(w).Publish(context.Background(), events...))
	require.Len(t, w.msgs, 2)

	reader := &fakeReader{}
	for i, m := range w.msgs {
		m.Offset = int64(i)
		m.Time = ts.Add(time.Minute)
		reader.queue = append(reader.queue, m)
		if i == 0 {
			reader.queue = append(reader.queue, kafka.Message{Offset: 99, Value: []byte("{broken")})
		}
	}

	proc := &recordingProcessor{done: make(chan struct{}), want: 2}
	consumer := NewConsumer(reader, NewEventHandler(proc))

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- consumer.Run(ctx) }()

	select {
	case <-proc.done:
	case <-time.After(5 * time.Second):
		t.Fatal("events were not consumed")
	}
	cancel()
	require.NoError(t, <-result)

	require.Len(t, proc.events, 2)
	assert.Equal(t, risk.EventTrade, proc.events[0].Type)
	assert.True(t, proc.events[0].Timestamp.Equal(ts))
	assert.True(t, proc.events[1].Timestamp.Equal(ts.Add(time.Minute)), "zero timestamps take the message time")

	reader.mu.Lock()
	defer reader.mu.Unlock()
	assert.ElementsMatch(t, []int64{0, 99, 1}, reader.committed, "malformed messages are committed too")
}

func TestEventHandlerRejectsGarbage(t *testing.T) {
	h := NewEventHandler(&recordingProcessor{done: make(chan struct{})})
	err := h.Handle(context.Background(), kafka.Message{Value: []byte("nope")})
	assert.True(t, errs.IsCategory(err, errs.CategoryValidationRejected))
}
