package daemon

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orchard-sh/orchard/pkg/protocol"
)

// DefaultMaxSessions caps concurrent PTY sessions per daemon.
const DefaultMaxSessions = 20

const (
	defaultCols = 120
	defaultRows = 30
)

// initialCommandDelay gives the shell time to print its prompt before the
// bootstrap command is typed in.
const initialCommandDelay = 100 * time.Millisecond

// Manager owns the PTY session table.
type Manager struct {
	maxSessions int
	spawn       spawnFunc

	// onData observes raw output per session for pattern detection.
	onData func(sessionID, worktreeID, data string)

	mu       sync.Mutex
	sessions map[string]*session
}

// NewManager builds a session manager. maxSessions ≤ 0 selects the default.
func NewManager(maxSessions int) *Manager {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Manager{
		maxSessions: maxSessions,
		spawn:       spawnShell,
		sessions:    make(map[string]*session),
	}
}

// SetOutputObserver installs a hook that sees every output chunk. Must be
// called before sessions are created.
func (m *Manager) SetOutputObserver(fn func(sessionID, worktreeID, data string)) {
	m.onData = fn
}

// Create spawns a shell session for a worktree. When the session table is
// full the oldest session is destroyed to make room. If initialCommand is
// set it is typed into the shell shortly after spawn.
func (m *Manager) Create(worktreeID, cwd, initialCommand string) (*protocol.SessionInfo, error) {
	m.mu.Lock()
	if len(m.sessions) >= m.maxSessions {
		if oldest := m.oldestLocked(); oldest != nil {
			slog.Warn("session limit reached, evicting oldest",
				"session", oldest.id, "worktree", oldest.worktreeID)
			m.destroyLocked(oldest)
		}
	}
	m.mu.Unlock()

	sp, err := m.spawn(cwd, defaultCols, defaultRows)
	if err != nil {
		return nil, fmt.Errorf("spawn shell: %w", err)
	}

	id := uuid.NewString()
	s := newSession(id, worktreeID, cwd, sp.pt, sp.kill)

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	onData := func(data string) {
		if m.onData != nil {
			m.onData(id, worktreeID, data)
		}
	}
	go s.readLoop(onData, func() {
		code := sp.wait()
		m.remove(id)
		s.close(code)
		slog.Info("session exited", "session", id, "worktree", worktreeID, "exit_code", code)
	})

	if initialCommand != "" {
		time.AfterFunc(initialCommandDelay, func() {
			s.write(initialCommand + "\r")
		})
	}

	info := s.info()
	slog.Info("session created", "session", id, "worktree", worktreeID, "cwd", cwd)
	return &info, nil
}

// Destroy kills the session's process group and removes the record.
// Subscribers receive terminal:exit with code -1.
func (m *Manager) Destroy(sessionID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		m.destroyLocked(s)
	}
	m.mu.Unlock()
	return ok
}

// destroyLocked kills and evicts a session. Caller holds m.mu.
func (m *Manager) destroyLocked(s *session) {
	delete(m.sessions, s.id)
	if s.kill != nil {
		s.kill()
	}
	go s.close(-1)
}

func (m *Manager) oldestLocked() *session {
	var oldest *session
	for _, s := range m.sessions {
		if oldest == nil || s.createdAt.Before(oldest.createdAt) {
			oldest = s
		}
	}
	return oldest
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

func (m *Manager) get(id string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// Write types data into a session. Unknown ids return false.
func (m *Manager) Write(sessionID, data string) bool {
	s := m.get(sessionID)
	return s != nil && s.write(data)
}

// Resize changes the terminal dimensions. Unknown ids return false.
func (m *Manager) Resize(sessionID string, cols, rows int) bool {
	s := m.get(sessionID)
	return s != nil && s.resize(cols, rows)
}

// Ack lowers a session's unacked chunk count.
func (m *Manager) Ack(sessionID string, count int) {
	if s := m.get(sessionID); s != nil {
		s.ack(count)
	}
}

// Subscribe attaches sub to a session and returns the scrollback snapshot.
func (m *Manager) Subscribe(sessionID string, sub subscriber) ([]string, bool) {
	s := m.get(sessionID)
	if s == nil {
		return nil, false
	}
	s.subscribe(sub)
	return s.snapshotScrollback(), true
}

// Unsubscribe detaches sub from a session.
func (m *Manager) Unsubscribe(sessionID string, sub subscriber) {
	if s := m.get(sessionID); s != nil {
		s.unsubscribe(sub)
	}
}

// DropSubscriber removes a subscriber from every session, for connection
// teardown.
func (m *Manager) DropSubscriber(sub subscriber) {
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		s.unsubscribe(sub)
	}
}

// List returns the live sessions sorted oldest first.
func (m *Manager) List() []protocol.SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]protocol.SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Get returns a session's public info.
func (m *Manager) Get(sessionID string) (*protocol.SessionInfo, bool) {
	s := m.get(sessionID)
	if s == nil {
		return nil, false
	}
	info := s.info()
	return &info, true
}

// HasSessionForWorktree reports whether any live session belongs to the
// worktree.
func (m *Manager) HasSessionForWorktree(worktreeID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.worktreeID == worktreeID {
			return true
		}
	}
	return false
}

// Shutdown destroys every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*session)
	m.mu.Unlock()

	for _, s := range sessions {
		if s.kill != nil {
			s.kill()
		}
		s.close(-1)
	}
}
