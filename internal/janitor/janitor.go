// Package janitor runs the retention sweeps on a cron schedule: terminated
// agent sessions, handled terminal patterns, and stale signal files.
package janitor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"github.com/orchard-sh/orchard/internal/registry"
	"github.com/orchard-sh/orchard/internal/store"
)

// DefaultSchedule sweeps hourly.
const DefaultSchedule = "0 * * * *"

// patternRetention keeps detected patterns for a day.
const patternRetention = 24 * time.Hour

// signalRetention bounds how long an unconsumed signal file can sit on disk.
const signalRetention = 24 * time.Hour

// Janitor owns the sweeps.
type Janitor struct {
	schedule   string
	gron       *gronx.Gronx
	store      *store.ProjectStore
	sessions   *registry.Registry
	signalsDir string
	now        func() time.Time
}

// New builds a janitor. An empty schedule uses DefaultSchedule.
func New(schedule string, st *store.ProjectStore, sessions *registry.Registry, signalsDir string) *Janitor {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Janitor{
		schedule:   schedule,
		gron:       gronx.New(),
		store:      st,
		sessions:   sessions,
		signalsDir: signalsDir,
		now:        time.Now,
	}
}

// Run checks the schedule once a minute and sweeps when due.
func (j *Janitor) Run(ctx context.Context) error {
	if !j.gron.IsValid(j.schedule) {
		slog.Warn("invalid janitor schedule, using default", "schedule", j.schedule)
		j.schedule = DefaultSchedule
	}
	slog.Info("janitor started", "schedule", j.schedule)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			due, err := j.gron.IsDue(j.schedule, j.now())
			if err != nil || !due {
				continue
			}
			j.Sweep()
		}
	}
}

// Sweep runs every retention pass once.
func (j *Janitor) Sweep() {
	if n, err := j.sessions.PruneTerminated(); err != nil {
		slog.Warn("prune terminated sessions", "error", err)
	} else if n > 0 {
		slog.Info("pruned terminated sessions", "count", n)
	}

	if n, err := j.store.PrunePatterns(j.now().Add(-patternRetention)); err != nil {
		slog.Warn("prune detected patterns", "error", err)
	} else if n > 0 {
		slog.Info("pruned detected patterns", "count", n)
	}

	if n := j.pruneSignals(); n > 0 {
		slog.Info("pruned stale signal files", "count", n)
	}
}

// pruneSignals removes signal files nothing consumed, e.g. those written
// while no daemon was running.
func (j *Janitor) pruneSignals() int {
	entries, err := os.ReadDir(j.signalsDir)
	if err != nil {
		return 0
	}
	cutoff := j.now().Add(-signalRetention)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(j.signalsDir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed
}
