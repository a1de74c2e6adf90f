package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/orchard-sh/orchard/internal/activity"
	"github.com/orchard-sh/orchard/internal/bus"
	"github.com/orchard-sh/orchard/internal/config"
	"github.com/orchard-sh/orchard/internal/conflicts"
	"github.com/orchard-sh/orchard/internal/daemon"
	"github.com/orchard-sh/orchard/internal/daemonclient"
	"github.com/orchard-sh/orchard/internal/executor"
	"github.com/orchard-sh/orchard/internal/gitx"
	"github.com/orchard-sh/orchard/internal/janitor"
	"github.com/orchard-sh/orchard/internal/mergequeue"
	"github.com/orchard-sh/orchard/internal/monitor"
	"github.com/orchard-sh/orchard/internal/orchestrator"
	"github.com/orchard-sh/orchard/internal/providers"
	"github.com/orchard-sh/orchard/internal/registry"
	"github.com/orchard-sh/orchard/internal/store"
	"github.com/orchard-sh/orchard/internal/tracing"
	"github.com/orchard-sh/orchard/internal/worktree"
	"github.com/orchard-sh/orchard/pkg/protocol"
)

func serveCmd() *cobra.Command {
	var noDaemon bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control plane (and embedded terminal daemon)",
		Run: func(cmd *cobra.Command, args []string) {
			runServe(noDaemon)
		},
	}
	cmd.Flags().BoolVar(&noDaemon, "no-daemon", false, "connect to an already-running daemon instead of embedding one")
	return cmd
}

func runServe(noDaemon bool) {
	setupLogging(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	git := gitx.NewClient()
	cwd, err := os.Getwd()
	if err != nil {
		slog.Error("resolve working directory", "error", err)
		os.Exit(1)
	}
	root, err := git.RepoRoot(ctx, cwd)
	if err != nil {
		slog.Error("orchard must run inside a git repository", "error", err)
		os.Exit(1)
	}

	cfgPath := resolveConfigPath()
	if cfgPath == "" {
		cfgPath = config.ProjectConfigPath(root)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("trace export disabled", "error", err)
	} else {
		defer shutdownTracing(context.Background())
	}

	projects, err := store.OpenRegistry(config.RegistryDBPath())
	if err != nil {
		slog.Error("open registry database", "error", err)
		os.Exit(1)
	}
	defer projects.Close()

	project, err := projects.GetProjectByPath(root)
	if err != nil {
		slog.Error("project not registered; run `orchard init` first", "path", root)
		os.Exit(1)
	}
	// Refreshes opened_at.
	if err := projects.RegisterProject(*project); err != nil {
		slog.Warn("refresh project registration", "error", err)
	}

	st, err := store.OpenProject(config.ProjectDBPath(root), project.ID)
	if err != nil {
		slog.Error("open project database", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	events := bus.New()
	signalsDir := filepath.Join(config.OrchardHome(), "signals")

	g, ctx := errgroup.WithContext(ctx)

	if !noDaemon {
		terminals := daemon.NewManager(cfg.Daemon.MaxSessions)
		srv := daemon.NewServer(cfg.Daemon, terminals)
		g.Go(func() error { return srv.Start(ctx) })
		watcher := daemon.NewSignalWatcher(signalsDir, srv.Broadcast)
		g.Go(func() error { return watcher.Run(ctx.Done()) })
	}

	client := daemonclient.New(cfg.Daemon.URL(), events)
	defer client.Close()

	sessions := registry.New(st, client, events, project.Path)
	g.Go(func() error {
		sessions.Run(ctx)
		return nil
	})

	prober := worktree.SessionProberFunc(func(worktreeID string) bool {
		s, err := sessions.Get(worktreeID)
		return err == nil && s.Status == store.SessionActive
	})
	worktrees := worktree.NewManager(git, st, *project, prober)
	if _, err := worktrees.Load(ctx); err != nil {
		slog.Warn("initial worktree scan failed", "error", err)
	}

	queue := mergequeue.New(st, git, *project, worktrees.DefaultBranch)
	runner := executor.New(st, git, queue, *project, cfg.Snapshot().AgentCommand, worktrees.DefaultBranch)
	if resumable, err := runner.RecoverInterrupted(ctx); err != nil {
		slog.Warn("recover interrupted print sessions", "error", err)
	} else {
		for _, s := range resumable {
			slog.Info("print session interrupted by restart", "session", s.ID, "worktree", s.WorktreeID)
		}
	}

	act := activity.New(st, events)

	mon := monitor.New(events, st, project.ID)
	g.Go(func() error {
		superviseTerminals(ctx, client, events, sessions, mon)
		return nil
	})

	tracker := conflicts.New(git)
	g.Go(func() error {
		watchConflicts(ctx, tracker, worktrees, act)
		return nil
	})

	if provider, perr := providers.FromConfig(cfg.Snapshot().Provider, cfg.Providers); perr != nil {
		slog.Warn("orchestrator disabled", "error", perr)
	} else {
		orch := orchestrator.New(cfg, provider, st, worktrees, runner, queue, sessions, client, act)
		g.Go(func() error { return orch.Run(ctx) })
		g.Go(func() error { return config.Watch(ctx, cfgPath, orch.UpdateConfig) })
	}

	if cfg.Janitor.Schedule != "" {
		jan := janitor.New(cfg.Janitor.Schedule, st, sessions, signalsDir)
		g.Go(func() error { return jan.Run(ctx) })
	}

	slog.Info("orchard serving",
		"version", Version,
		"project", project.Name,
		"daemon", cfg.Daemon.URL(),
		"embedded_daemon", !noDaemon,
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("serve failed", "error", err)
		os.Exit(1)
	}
}

// resyncInterval paces the terminal-subscription sweep; daemon reconnects
// trigger an immediate one.
const resyncInterval = 15 * time.Second

// superviseTerminals keeps the pattern monitor attached to every active
// agent session: it subscribes to the session's terminal stream, feeds the
// output to the monitor, and detaches when the session goes away.
func superviseTerminals(ctx context.Context, client *daemonclient.Client, events *bus.Bus, sessions *registry.Registry, mon *monitor.Monitor) {
	connected, cancelSub := events.Subscribe(daemonclient.EventDaemonConnected)
	defer cancelSub()

	watched := make(map[string]func())
	defer func() {
		for id, detach := range watched {
			detach()
			mon.Stop(id)
		}
	}()

	sync := func() {
		active, err := sessions.List(store.SessionActive)
		if err != nil {
			slog.Warn("list sessions for monitoring", "error", err)
			return
		}
		current := make(map[string]bool, len(active))
		for _, s := range active {
			current[s.ID] = true
			if _, ok := watched[s.ID]; ok {
				continue
			}
			frames, detach := client.SubscribeTerminal(s.ID)
			mon.Start(s.ID, s.WorktreeID)
			watched[s.ID] = detach
			go consumeTerminal(s.ID, frames, mon, client.Ack)
		}
		for id, detach := range watched {
			if !current[id] {
				detach()
				mon.Stop(id)
				delete(watched, id)
			}
		}
	}

	sync()
	ticker := time.NewTicker(resyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-connected:
			sync()
		case <-ticker.C:
			sync()
		}
	}
}

// consumeTerminal feeds a session's output frames to the monitor. Every
// data frame is acked so the daemon's flow control never pauses the
// stream waiting on us.
func consumeTerminal(sessionID string, frames <-chan *protocol.Frame, mon *monitor.Monitor, ack func(sessionID string, count int) error) {
	for f := range frames {
		if f.Type != protocol.EventTerminalData {
			continue
		}
		mon.Observe(sessionID, f.Data)
		if err := ack(sessionID, 1); err != nil {
			slog.Debug("ack terminal chunk", "session", sessionID, "error", err)
		}
	}
}

// conflictScanInterval paces the overlap sweep.
const conflictScanInterval = 30 * time.Second

// watchConflicts periodically flags files modified in more than one
// worktree. Each overlap is reported once until its membership changes.
func watchConflicts(ctx context.Context, tracker *conflicts.Tracker, worktrees *worktree.Manager, act *activity.Service) {
	ticker := time.NewTicker(conflictScanInterval)
	defer ticker.Stop()

	seen := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		list, err := worktrees.List()
		if err != nil {
			slog.Warn("list worktrees for overlap check", "error", err)
			continue
		}
		current := make(map[string]bool)
		for _, o := range tracker.Overlaps(ctx, list) {
			key := o.FilePath + "|" + strings.Join(o.Worktrees, ",")
			current[key] = true
			if seen[key] {
				continue
			}
			slog.Warn("file modified in multiple worktrees", "file", o.FilePath, "worktrees", o.Worktrees)
			act.Log(store.ActivityEvent, store.CategoryWorktree, "edit overlap on "+o.FilePath, o, "")
		}
		seen = current
	}
}
