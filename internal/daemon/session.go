package daemon

import (
	"io"
	"strings"
	"sync"
	"time"

	"github.com/orchard-sh/orchard/pkg/protocol"
)

// Flow control bounds. The read side pauses once more than pauseThreshold
// chunks are in flight and resumes when acks bring the count under
// resumeThreshold.
const (
	pauseThreshold  = 100
	resumeThreshold = 50
	scrollbackLimit = 10000
)

// ptyHandle is the terminal side of a spawned process. The real
// implementation wraps the pty master file; tests substitute pipes.
type ptyHandle interface {
	io.ReadWriteCloser
	Resize(cols, rows int) error
}

// subscriber receives frames for one session. Connections implement it.
type subscriber interface {
	deliver(f *protocol.Frame)
}

// session is one live PTY subprocess and its observer set.
type session struct {
	id         string
	worktreeID string
	cwd        string
	createdAt  time.Time

	pt   ptyHandle
	kill func()

	mu          sync.Mutex
	cond        *sync.Cond
	paused      bool
	closed      bool
	unacked     int
	seq         int64
	scrollback  []string
	partial     string
	subscribers map[subscriber]struct{}
}

func newSession(id, worktreeID, cwd string, pt ptyHandle, kill func()) *session {
	s := &session{
		id:          id,
		worktreeID:  worktreeID,
		cwd:         cwd,
		createdAt:   time.Now(),
		pt:          pt,
		kill:        kill,
		subscribers: make(map[subscriber]struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *session) info() protocol.SessionInfo {
	return protocol.SessionInfo{
		ID:         s.id,
		WorktreeID: s.worktreeID,
		Cwd:        s.cwd,
		CreatedAt:  s.createdAt,
	}
}

// readLoop pumps PTY output into emit until the process exits or the
// session is closed. It blocks while flow control has the session paused.
func (s *session) readLoop(onData func(string), onExit func()) {
	buf := make([]byte, 32*1024)
	for {
		s.mu.Lock()
		for s.paused && !s.closed {
			s.cond.Wait()
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}

		n, err := s.pt.Read(buf)
		if n > 0 {
			data := string(buf[:n])
			s.emit(data)
			if onData != nil {
				onData(data)
			}
		}
		if err != nil {
			onExit()
			return
		}
	}
}

// emit sends one terminal:data frame to every subscriber, bumps the
// sequence number, records scrollback, and advances flow control.
func (s *session) emit(data string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.seq++
	s.unacked++
	if s.unacked > pauseThreshold {
		s.paused = true
	}
	s.appendScrollback(data)
	frame := &protocol.Frame{
		Type:      protocol.EventTerminalData,
		SessionID: s.id,
		Data:      data,
		Seq:       s.seq,
	}
	subs := make([]subscriber, 0, len(s.subscribers))
	for sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(frame)
	}
}

// appendScrollback splits data on newlines, carrying an unterminated tail
// into the next chunk, and trims to the most recent scrollbackLimit lines.
// Caller holds s.mu.
func (s *session) appendScrollback(data string) {
	s.partial += data
	for {
		line, rest, ok := strings.Cut(s.partial, "\n")
		if !ok {
			break
		}
		s.scrollback = append(s.scrollback, line)
		s.partial = rest
	}
	if len(s.scrollback) > scrollbackLimit {
		s.scrollback = s.scrollback[len(s.scrollback)-scrollbackLimit:]
	}
}

// snapshotScrollback returns the buffered lines plus any partial tail.
func (s *session) snapshotScrollback() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.scrollback), len(s.scrollback)+1)
	copy(out, s.scrollback)
	if s.partial != "" {
		out = append(out, s.partial)
	}
	return out
}

// ack lowers the in-flight count, floored at zero, and resumes a paused
// session once the count drops under the resume threshold.
func (s *session) ack(count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unacked -= count
	if s.unacked < 0 {
		s.unacked = 0
	}
	if s.paused && s.unacked < resumeThreshold {
		s.paused = false
		s.cond.Broadcast()
	}
}

func (s *session) subscribe(sub subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.subscribers[sub] = struct{}{}
	}
}

func (s *session) unsubscribe(sub subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, sub)
}

// close tears the session down and notifies subscribers of the exit code.
// Safe to call more than once.
func (s *session) close(exitCode int) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cond.Broadcast()
	subs := make([]subscriber, 0, len(s.subscribers))
	for sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.subscribers = make(map[subscriber]struct{})
	s.mu.Unlock()

	s.pt.Close()
	frame := &protocol.Frame{
		Type:      protocol.EventTerminalExit,
		SessionID: s.id,
		ExitCode:  &exitCode,
	}
	for _, sub := range subs {
		sub.deliver(frame)
	}
}

func (s *session) write(data string) bool {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return false
	}
	_, err := s.pt.Write([]byte(data))
	return err == nil
}

func (s *session) resize(cols, rows int) bool {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return false
	}
	return s.pt.Resize(cols, rows) == nil
}
