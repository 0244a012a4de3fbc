package risk

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Rajchodisetti/prediction-core/internal/observ"
)

// addEvent records an event in memory and appends it to the event log
func (cb *CircuitBreaker) addEvent(eventType string, data map[string]any, userID, reason string, now time.Time) {
	cb.lastEventID++

	event := BreakerEvent{
		ID:        fmt.Sprintf("cb_%d", cb.lastEventID),
		Timestamp: now.UTC(),
		Type:      eventType,
		Data:      data,
		UserID:    userID,
		Reason:    reason,
	}

	cb.events = append(cb.events, event)
	if len(cb.events) > MaxEventsInMemory {
		cb.events = append([]BreakerEvent(nil), cb.events[len(cb.events)-MaxEventsInMemory:]...)
	}

	if err := cb.persistEvent(event); err != nil {
		observ.IncCounter("circuit_breaker_persist_errors_total", map[string]string{"event_type": eventType})
		observ.Log("circuit_breaker_persist_failed", map[string]any{
			"event_id": event.ID,
			"error":    err.Error(),
		})
	}
	observ.IncCounter("circuit_breaker_events_total", map[string]string{"event_type": eventType})
}

// persistEvent appends an event to the append-only event log
func (cb *CircuitBreaker) persistEvent(event BreakerEvent) error {
	if cb.eventLog == "" {
		return nil
	}
	if dir := filepath.Dir(cb.eventLog); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create event log directory: %w", err)
		}
	}

	file, err := os.OpenFile(cb.eventLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer file.Close()

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(file, "%s\n", eventJSON); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// loadEvents loads all events from the event log file
func (cb *CircuitBreaker) loadEvents() error {
	file, err := os.Open(cb.eventLog)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var events []BreakerEvent

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var event BreakerEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			observ.IncCounter("circuit_breaker_parse_errors_total", nil)
			observ.Log("circuit_breaker_event_malformed", map[string]any{"line": lineNum, "error": err.Error()})
			continue
		}
		events = append(events, event)

		if id, err := strconv.ParseInt(strings.TrimPrefix(event.ID, "cb_"), 10, 64); err == nil && id > cb.lastEventID {
			cb.lastEventID = id
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading event log: %w", err)
	}

	if len(events) > MaxEventsInMemory {
		events = events[len(events)-MaxEventsInMemory:]
	}
	cb.events = events
	observ.SetGauge("circuit_breaker_events_loaded", float64(len(events)), nil)
	return nil
}

// replayEvents rebuilds breaker state from the loaded events
func (cb *CircuitBreaker) replayEvents() {
	if len(cb.events) == 0 {
		return
	}
	for _, event := range cb.events {
		if err := cb.applyEvent(event); err != nil {
			observ.IncCounter("circuit_breaker_replay_errors_total", map[string]string{"event_type": event.Type})
		}
	}
	observ.Log("circuit_breaker_replayed", map[string]any{
		"events":     len(cb.events),
		"state":      cb.state,
		"violations": cb.violations,
		"day":        cb.day,
	})
}

// applyEvent applies a single event without emitting new ones
func (cb *CircuitBreaker) applyEvent(event BreakerEvent) error {
	switch event.Type {
	case EventStateChanged:
		return cb.applyStateChangedEvent(event)
	case EventThresholdBreached, EventManualOverride:
		// state changes follow as their own events
		return nil
	default:
		return fmt.Errorf("unknown event type: %s", event.Type)
	}
}

func (cb *CircuitBreaker) applyStateChangedEvent(event BreakerEvent) error {
	newState, ok := event.Data["new_state"].(string)
	if !ok {
		return fmt.Errorf("missing or invalid new_state in event %s", event.ID)
	}
	cb.state = BreakerState(newState)
	cb.enteredAt = event.Timestamp
	cb.lastReason = event.Reason

	if day, ok := event.Data["day"].(string); ok {
		cb.day = day
	}
	// JSON numbers decode as float64
	if n, ok := event.Data["violations"].(float64); ok {
		cb.violations = int(n)
	}
	cb.resumeAt = time.Time{}
	if s, ok := event.Data["resume_at"].(string); ok {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("invalid resume_at in event %s: %w", event.ID, err)
		}
		cb.resumeAt = t
	}
	return nil
}

// EventHistory returns the most recent events, optionally filtered by type
func (cb *CircuitBreaker) EventHistory(maxEvents int, eventTypes ...string) []BreakerEvent {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	filtered := cb.events
	if len(eventTypes) > 0 {
		typeMap := make(map[string]bool, len(eventTypes))
		for _, t := range eventTypes {
			typeMap[t] = true
		}
		filtered = nil
		for _, event := range cb.events {
			if typeMap[event.Type] {
				filtered = append(filtered, event)
			}
		}
	}

	if maxEvents > 0 && maxEvents < len(filtered) {
		filtered = filtered[len(filtered)-maxEvents:]
	}
	result := make([]BreakerEvent, len(filtered))
	copy(result, filtered)
	return result
}
