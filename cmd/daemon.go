package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/orchard-sh/orchard/internal/config"
	"github.com/orchard-sh/orchard/internal/daemon"
)

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the terminal daemon standalone",
		Long: "Runs the PTY daemon on its own, for setups where the control plane connects " +
			"with --no-daemon. Sessions survive control-plane restarts as long as the daemon stays up.",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(os.Stdout)

			cfgPath := resolveConfigPath()
			if cfgPath == "" {
				cfgPath = filepath.Join(config.OrchardHome(), "config.json")
			}
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			terminals := daemon.NewManager(cfg.Daemon.MaxSessions)
			srv := daemon.NewServer(cfg.Daemon, terminals)
			watcher := daemon.NewSignalWatcher(filepath.Join(config.OrchardHome(), "signals"), srv.Broadcast)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Start(ctx) })
			g.Go(func() error { return watcher.Run(ctx.Done()) })
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
