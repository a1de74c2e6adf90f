// Package monitor watches PTY output for lifecycle signals: completion
// phrases, questions, errors, rate limits, and ready prompts. Matches are
// debounced per session and pattern type, persisted, and published on the
// event bus.
package monitor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orchard-sh/orchard/internal/bus"
	"github.com/orchard-sh/orchard/internal/store"
)

// cooldown suppresses duplicate detections of the same pattern type on the
// same session.
const cooldown = 5 * time.Second

// bufferLimit bounds the per-session rolling buffer.
const bufferLimit = 4096

// EventPattern is published for every detection; EventPatternPrefix+type is
// published alongside it for type-specific subscribers.
const (
	EventPattern       = "pattern"
	EventPatternPrefix = "pattern:"
)

// Recorder persists detections. *store.ProjectStore satisfies it.
type Recorder interface {
	InsertDetectedPattern(p store.DetectedPattern) error
}

type watched struct {
	worktreeID string
	buffer     string
}

// Monitor detects patterns in the output of explicitly monitored sessions.
type Monitor struct {
	events    bus.Publisher
	records   Recorder
	projectID string
	now       func() time.Time

	mu        sync.Mutex
	sessions  map[string]*watched
	lastFired map[string]time.Time // sessionID + ":" + type
}

// New builds a monitor. records may be nil to skip persistence.
func New(events bus.Publisher, records Recorder, projectID string) *Monitor {
	return &Monitor{
		events:    events,
		records:   records,
		projectID: projectID,
		now:       time.Now,
		sessions:  make(map[string]*watched),
		lastFired: make(map[string]time.Time),
	}
}

// Start begins watching a session's output.
func (m *Monitor) Start(sessionID, worktreeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		m.sessions[sessionID] = &watched{worktreeID: worktreeID}
	}
}

// Stop drops a session and its cooldown state.
func (m *Monitor) Stop(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	for key := range m.lastFired {
		if len(key) > len(sessionID) && key[:len(sessionID)] == sessionID && key[len(sessionID)] == ':' {
			delete(m.lastFired, key)
		}
	}
}

// Observe feeds one output chunk from a session. Unmonitored sessions are
// ignored.
func (m *Monitor) Observe(sessionID, data string) {
	clean := stripANSI(data)

	m.mu.Lock()
	w, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	w.buffer += clean
	if len(w.buffer) > bufferLimit {
		w.buffer = w.buffer[len(w.buffer)-bufferLimit:]
	}

	// Match the rolling buffer, not just this chunk, so patterns split
	// across PTY reads are still caught.
	patternType := match(w.buffer)
	if patternType == "" {
		m.mu.Unlock()
		return
	}
	content := tail(w.buffer, 500)
	// The matched text is consumed so one occurrence fires at most once.
	w.buffer = ""

	key := sessionID + ":" + patternType
	now := m.now()
	if last, seen := m.lastFired[key]; seen && now.Sub(last) < cooldown {
		m.mu.Unlock()
		return
	}
	m.lastFired[key] = now
	worktreeID := w.worktreeID
	m.mu.Unlock()

	p := store.DetectedPattern{
		ID:         uuid.NewString(),
		Type:       patternType,
		SessionID:  sessionID,
		WorktreeID: worktreeID,
		ProjectID:  m.projectID,
		Timestamp:  now,
		Content:    content,
	}
	slog.Info("pattern detected", "type", patternType, "session", sessionID, "worktree", worktreeID)
	if m.records != nil {
		if err := m.records.InsertDetectedPattern(p); err != nil {
			slog.Warn("persist detected pattern", "error", err)
		}
	}
	m.events.Publish(bus.Event{Name: EventPattern, Payload: p})
	m.events.Publish(bus.Event{Name: EventPatternPrefix + patternType, Payload: p})
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
