package daemon

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/orchard-sh/orchard/pkg/protocol"
)

// Agent tools run inside worktrees as separate processes and cannot reach
// the daemon directly. They drop one-shot signal files into a shared
// directory; the watcher converts each file into a broadcast agent:* event
// and deletes it.

// Signal is the on-disk shape of one agent notification.
type Signal struct {
	Type       string `json:"type"`
	SessionID  string `json:"sessionId,omitempty"`
	WorktreeID string `json:"worktreeId"`
}

// Signal types written by the agent tool server.
const (
	SignalTaskComplete     = "task-complete"
	SignalRateLimited      = "rate-limited"
	SignalRateLimitCleared = "rate-limit-cleared"
	SignalReady            = "ready"
)

// SignalWatcher tails a signals directory.
type SignalWatcher struct {
	dir       string
	broadcast func(*protocol.Frame)
}

// NewSignalWatcher builds a watcher that forwards signals through
// broadcast.
func NewSignalWatcher(dir string, broadcast func(*protocol.Frame)) *SignalWatcher {
	return &SignalWatcher{dir: dir, broadcast: broadcast}
}

// Run watches until the channel from fsnotify closes or done is closed.
// Signals already on disk at startup are drained first.
func (w *SignalWatcher) Run(done <-chan struct{}) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(w.dir); err != nil {
		return err
	}

	w.drain()

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write) {
				w.consume(ev.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("signal watcher error", "error", err)
		case <-done:
			return nil
		}
	}
}

// drain consumes signals written while no watcher was running.
func (w *SignalWatcher) drain() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.consume(filepath.Join(w.dir, e.Name()))
		}
	}
}

func (w *SignalWatcher) consume(path string) {
	if !strings.HasSuffix(path, ".json") {
		return
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return
	}
	defer os.Remove(path)

	var sig Signal
	if err := json.Unmarshal(raw, &sig); err != nil {
		slog.Warn("malformed signal file", "path", path, "error", err)
		return
	}

	frame, ok := signalFrame(sig)
	if !ok {
		slog.Warn("unknown signal type", "type", sig.Type)
		return
	}
	slog.Info("agent signal", "type", sig.Type, "worktree", sig.WorktreeID)
	w.broadcast(frame)
}

func signalFrame(sig Signal) (*protocol.Frame, bool) {
	switch sig.Type {
	case SignalTaskComplete:
		return &protocol.Frame{
			Type:       protocol.EventAgentTaskComplete,
			SessionID:  sig.SessionID,
			WorktreeID: sig.WorktreeID,
		}, true
	case SignalRateLimited:
		return &protocol.Frame{
			Type:      protocol.EventAgentRateLimited,
			RateLimit: &protocol.RateLimitInfo{SessionID: sig.SessionID, WorktreeID: sig.WorktreeID},
		}, true
	case SignalRateLimitCleared:
		return &protocol.Frame{
			Type:      protocol.EventAgentRateLimitCleared,
			RateLimit: &protocol.RateLimitInfo{SessionID: sig.SessionID, WorktreeID: sig.WorktreeID},
		}, true
	case SignalReady:
		return &protocol.Frame{
			Type:       protocol.EventAgentReady,
			SessionID:  sig.SessionID,
			WorktreeID: sig.WorktreeID,
		}, true
	}
	return nil, false
}

// WriteSignal drops a signal file for the watcher. Used by the agent tool
// server process.
func WriteSignal(dir string, sig Signal) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, ".tmp-"+sig.Type)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	// Rename is atomic, so the watcher never sees a half-written file.
	final := filepath.Join(dir, sig.Type+"-"+uuid.NewString()+".json")
	return os.Rename(tmp, final)
}
