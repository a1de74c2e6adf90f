package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/orchard-sh/orchard/internal/agenttools"
	"github.com/orchard-sh/orchard/internal/config"
	"github.com/orchard-sh/orchard/internal/store"
)

func mcpServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "mcp-serve",
		Short:  "Serve agent tools over stdio",
		Long:   "Runs the MCP tool server a coding agent connects to. Spawned by the agent via the worktree's .mcp.json; not meant to be run by hand.",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout is the MCP transport.
			setupLogging(os.Stderr)

			worktreeID := os.Getenv("WORKTREE_ID")
			if worktreeID == "" {
				return fmt.Errorf("WORKTREE_ID is not set; run the agent through an orchard worktree")
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, err := openProjectForWorktree(worktreeID)
			if err != nil {
				return err
			}
			defer st.Close()

			signalsDir := filepath.Join(config.OrchardHome(), "signals")
			return agenttools.New(st, worktreeID, signalsDir, Version).Serve(ctx)
		},
	}
}

// openProjectForWorktree finds the registered project owning the worktree.
// The tool server runs with the worktree as cwd, so the project path cannot
// be derived from the filesystem alone.
func openProjectForWorktree(worktreeID string) (*store.ProjectStore, error) {
	projects, err := store.OpenRegistry(config.RegistryDBPath())
	if err != nil {
		return nil, fmt.Errorf("open registry database: %w", err)
	}
	list, err := projects.ListProjects()
	projects.Close()
	if err != nil {
		return nil, err
	}

	for _, p := range list {
		st, err := store.OpenProject(config.ProjectDBPath(p.Path), p.ID)
		if err != nil {
			continue
		}
		if _, err := st.GetWorktree(worktreeID); err == nil {
			return st, nil
		}
		st.Close()
	}
	return nil, fmt.Errorf("no registered project owns worktree %s", worktreeID)
}
