// Package daemon implements the terminal session daemon: it owns PTY
// subprocesses and serves them to WebSocket clients with subscriber
// fan-out, flow control, and bounded scrollback.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/orchard-sh/orchard/internal/config"
	"github.com/orchard-sh/orchard/pkg/protocol"
)

// Server exposes the session manager over WebSocket.
type Server struct {
	cfg      config.DaemonConfig
	sessions *Manager
	upgrader websocket.Upgrader
	limiter  *rate.Limiter

	mu    sync.RWMutex
	conns map[*conn]struct{}

	httpServer *http.Server
}

// NewServer builds a daemon server around an existing session manager.
func NewServer(cfg config.DaemonConfig, sessions *Manager) *Server {
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		conns:    make(map[*conn]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// Local control plane; browsers never talk to the daemon directly.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 10
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return s
}

// Sessions returns the underlying session manager.
func (s *Server) Sessions() *Manager { return s.sessions }

// Start listens until ctx is cancelled, then drains connections and kills
// every session.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	slog.Info("daemon starting", "addr", addr, "max_sessions", s.sessions.maxSessions)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
		s.sessions.Shutdown()
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("daemon server: %w", err)
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	c := newConn(ws, s)
	s.register(c)
	defer func() {
		s.unregister(c)
		s.sessions.DropSubscriber(c)
		ws.Close()
	}()
	c.run()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","protocol":%d,"sessions":%d}`,
		protocol.ProtocolVersion, len(s.sessions.List()))
}

func (s *Server) register(c *conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) unregister(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// Broadcast pushes an unsolicited event frame to every connected client.
func (s *Server) Broadcast(f *protocol.Frame) {
	s.mu.RLock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()
	for _, c := range conns {
		c.deliver(f)
	}
}

// dispatch routes one request frame from a client.
func (s *Server) dispatch(c *conn, f *protocol.Frame) {
	switch f.Type {
	case protocol.MethodSessionCreate:
		cwd := f.Cwd
		if cwd == "" {
			cwd = f.ProjectPath
		}
		info, err := s.sessions.Create(f.WorktreeID, cwd, f.InitialCommand)
		if err != nil {
			c.deliver(&protocol.Frame{
				Type:      protocol.ReplySessionError,
				RequestID: f.RequestID,
				Error:     err.Error(),
			})
			return
		}
		c.deliver(&protocol.Frame{
			Type:      protocol.ReplySessionCreated,
			RequestID: f.RequestID,
			Session:   info,
		})

	case protocol.MethodSessionDestroy:
		s.sessions.Destroy(f.SessionID)
		c.deliver(&protocol.Frame{
			Type:      protocol.ReplySessionDestroyed,
			RequestID: f.RequestID,
			SessionID: f.SessionID,
		})

	case protocol.MethodSessionList:
		c.deliver(&protocol.Frame{
			Type:      protocol.ReplySessionList,
			RequestID: f.RequestID,
			Sessions:  s.sessions.List(),
		})

	case protocol.MethodSessionGet:
		info, ok := s.sessions.Get(f.SessionID)
		if !ok {
			c.deliver(&protocol.Frame{
				Type:      protocol.ReplySessionError,
				RequestID: f.RequestID,
				Error:     "session not found: " + f.SessionID,
			})
			return
		}
		c.deliver(&protocol.Frame{
			Type:      protocol.ReplySessionInfo,
			RequestID: f.RequestID,
			Session:   info,
		})

	case protocol.MethodTerminalSubscribe:
		scrollback, ok := s.sessions.Subscribe(f.SessionID, c)
		if !ok {
			c.deliver(&protocol.Frame{
				Type:      protocol.ReplySessionError,
				RequestID: f.RequestID,
				Error:     "session not found: " + f.SessionID,
			})
			return
		}
		c.deliver(&protocol.Frame{
			Type:       protocol.EventTerminalScrollback,
			RequestID:  f.RequestID,
			SessionID:  f.SessionID,
			Scrollback: scrollback,
		})

	case protocol.MethodTerminalUnsubscribe:
		s.sessions.Unsubscribe(f.SessionID, c)

	case protocol.MethodTerminalInput:
		// Unknown session is not an error; the write is simply dropped.
		s.sessions.Write(f.SessionID, f.Data)

	case protocol.MethodTerminalResize:
		s.sessions.Resize(f.SessionID, f.Cols, f.Rows)

	case protocol.MethodTerminalAck:
		s.sessions.Ack(f.SessionID, f.Count)

	default:
		slog.Warn("unknown frame type from client", "type", f.Type)
	}
}
