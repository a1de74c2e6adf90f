// Package activity is the append-only audit trail of the orchestrator:
// every tick, decision, tool action, and error lands here with a
// correlation id linking an LLM call to the actions it caused.
package activity

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/orchard-sh/orchard/internal/bus"
	"github.com/orchard-sh/orchard/internal/store"
)

// EventActivity is published on the bus for every recorded entry.
const EventActivity = "activity"

// Service writes activity entries and wraps orchestrator actions with
// start/complete/error records.
type Service struct {
	store  *store.ProjectStore
	events bus.Publisher
}

// New builds the service. events may be nil.
func New(st *store.ProjectStore, events bus.Publisher) *Service {
	return &Service{store: st, events: events}
}

// Log records one entry. Details is marshalled to JSON; a nil details logs
// an empty document.
func (s *Service) Log(entryType, category, summary string, details any, correlationID string) {
	var detailsJSON string
	if details != nil {
		raw, err := json.Marshal(details)
		if err != nil {
			slog.Warn("marshal activity details", "error", err)
		} else {
			detailsJSON = string(raw)
		}
	}

	entry := store.ActivityEntry{
		Timestamp:     time.Now(),
		Type:          entryType,
		Category:      category,
		Summary:       summary,
		Details:       detailsJSON,
		CorrelationID: correlationID,
	}
	id, err := s.store.AppendActivity(entry)
	if err != nil {
		slog.Error("append activity", "error", err, "summary", summary)
		return
	}
	entry.ID = id
	if s.events != nil {
		s.events.Publish(bus.Event{Name: EventActivity, Payload: entry})
	}
}

// Error records an error entry.
func (s *Service) Error(category, summary string, err error, correlationID string) {
	s.Log(store.ActivityError, category, summary, map[string]string{"error": err.Error()}, correlationID)
}

// Action wraps one orchestrator tool execution with pre/post/error entries
// sharing the correlation id. The returned error is fn's own.
func (s *Service) Action(correlationID, name string, params any, fn func() (any, error)) error {
	s.Log(store.ActivityAction, store.CategoryOrchestrator, name+": start", params, correlationID)
	start := time.Now()

	result, err := fn()
	duration := time.Since(start)

	if err != nil {
		s.Log(store.ActivityError, store.CategoryOrchestrator, name+": failed",
			map[string]any{"error": err.Error(), "durationMs": duration.Milliseconds()},
			correlationID)
		return err
	}
	s.Log(store.ActivityAction, store.CategoryOrchestrator, name+": complete",
		map[string]any{"result": result, "durationMs": duration.Milliseconds()},
		correlationID)
	return nil
}

// Recent returns the latest entries, newest first.
func (s *Service) Recent(limit int) ([]store.ActivityEntry, error) {
	return s.store.ListActivity(store.ActivityFilter{Limit: limit})
}

// ForCorrelation returns every entry sharing a correlation id.
func (s *Service) ForCorrelation(correlationID string) ([]store.ActivityEntry, error) {
	return s.store.ListActivity(store.ActivityFilter{CorrelationID: correlationID})
}
