// Package bus moves approved signals and market events over Kafka
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Rajchodisetti/prediction-core/internal/errs"
	"github.com/Rajchodisetti/prediction-core/internal/observ"
	"github.com/Rajchodisetti/prediction-core/internal/risk"
	"github.com/Rajchodisetti/prediction-core/internal/signals"
)

// MessageWriter is the subset of *kafka.Writer the publishers use
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageReader is the subset of *kafka.Reader the consumer uses
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter creates a writer for one topic, partitioned by message key
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		WriteBackoffMin:        100 * time.Millisecond,
		WriteBackoffMax:        time.Second,
	}
}

// NewReader creates a consumer-group reader for one topic
func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		SessionTimeout: 10 * time.Second,
		StartOffset:    kafka.FirstOffset,
		MaxBytes:       10e6,
	})
}

// SignalPublisher sends approved signals keyed by market id so one market's
// signals stay ordered on a partition
type SignalPublisher struct {
	w MessageWriter
}

func NewSignalPublisher(w MessageWriter) *SignalPublisher { return &SignalPublisher{w: w} }

// Store publishes a signal; it makes the publisher a pipeline sink
func (p *SignalPublisher) Store(ctx context.Context, s *signals.TradeSignal) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal signal %s: %w", s.ID, err)
	}
	if err := p.w.WriteMessages(ctx, kafka.Message{Key: []byte(s.MarketID), Value: data}); err != nil {
		observ.IncCounter("bus_publish_errors_total", map[string]string{"kind": "signal"})
		return errs.Wrap(err, errs.CategoryStorageFailure, "bus", "publish_signal").WithContext("signal_id", s.ID)
	}
	observ.IncCounter("bus_published_total", map[string]string{"kind": "signal"})
	return nil
}

func (p *SignalPublisher) Close() error { return p.w.Close() }

// EventPublisher sends market events keyed by market id
type EventPublisher struct {
	w MessageWriter
}

func NewEventPublisher(w MessageWriter) *EventPublisher { return &EventPublisher{w: w} }

func (p *EventPublisher) Publish(ctx context.Context, events ...risk.MarketEvent) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event for %s: %w", ev.MarketID, err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(ev.MarketID), Value: data})
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		observ.IncCounter("bus_publish_errors_total", map[string]string{"kind": "market_event"})
		return errs.Wrap(err, errs.CategoryStorageFailure, "bus", "publish_events")
	}
	observ.IncCounterBy("bus_published_total", map[string]string{"kind": "market_event"}, float64(len(msgs)))
	return nil
}

func (p *EventPublisher) Close() error { return p.w.Close() }

// EventProcessor applies market events; *risk.Manager satisfies it
type EventProcessor interface {
	ProcessEvent(ctx context.Context, ev risk.MarketEvent) error
}

// EventHandler decodes Kafka messages into market events
type EventHandler struct {
	processor EventProcessor
}

func NewEventHandler(p EventProcessor) *EventHandler { return &EventHandler{processor: p} }

func (h *EventHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var ev risk.MarketEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return errs.Wrap(err, errs.CategoryValidationRejected, "bus", "decode_event").
			WithContext("partition", msg.Partition).
			WithContext("offset", msg.Offset)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = msg.Time
	}
	return h.processor.ProcessEvent(ctx, ev)
}

// Consumer feeds a topic of market events through a handler. Every message
// is committed once handled; failures are logged and counted, never retried.
type Consumer struct {
	reader  MessageReader
	handler *EventHandler
}

func NewConsumer(r MessageReader, h *EventHandler) *Consumer {
	return &Consumer{reader: r, handler: h}
}

// Run blocks until ctx is cancelled or the reader fails
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		start := time.Now()
		if err := c.handler.Handle(ctx, msg); err != nil {
			category, _ := errs.CategoryOf(err)
			observ.IncCounter("bus_events_failed_total", map[string]string{"category": string(category)})
			observ.Log("market_event_rejected", map[string]any{
				"partition": msg.Partition,
				"offset":    msg.Offset,
				"key":       string(msg.Key),
				"error":     err.Error(),
			})
		} else {
			observ.IncCounter("bus_events_consumed_total", nil)
		}
		observ.RecordDuration("bus_event_handle", time.Since(start), nil)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

func (c *Consumer) Close() error { return c.reader.Close() }
