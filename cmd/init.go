package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/orchard-sh/orchard/internal/config"
	"github.com/orchard-sh/orchard/internal/gitx"
	"github.com/orchard-sh/orchard/internal/store"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Register the current repository as an orchard project",
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	setupLogging(os.Stdout)
	ctx := cmd.Context()

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	root, err := gitx.NewClient().RepoRoot(ctx, cwd)
	if err != nil {
		return fmt.Errorf("orchard init must run inside a git repository: %w", err)
	}

	name := filepath.Base(root)
	providerName := "anthropic"
	agentCommand := "claude"
	enabled := true

	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Project name").
			Value(&name),
		huh.NewSelect[string]().
			Title("LLM provider").
			Options(
				huh.NewOption("Anthropic", "anthropic"),
				huh.NewOption("OpenAI", "openai"),
			).
			Value(&providerName),
		huh.NewInput().
			Title("Agent command").
			Description("Binary spawned for coding agents").
			Value(&agentCommand),
		huh.NewConfirm().
			Title("Enable the orchestrator loop?").
			Value(&enabled),
	))
	if err := form.Run(); err != nil {
		return err
	}

	projects, err := store.OpenRegistry(config.RegistryDBPath())
	if err != nil {
		return fmt.Errorf("open registry database: %w", err)
	}
	defer projects.Close()

	project, err := projects.GetProjectByPath(root)
	switch {
	case errors.Is(err, store.ErrNotFound):
		project = &store.Project{ID: uuid.NewString(), Path: root, Name: name}
	case err != nil:
		return err
	default:
		project.Name = name
	}
	if err := projects.RegisterProject(*project); err != nil {
		return err
	}

	// Opening migrates the project database, so first serve starts clean.
	st, err := store.OpenProject(config.ProjectDBPath(root), project.ID)
	if err != nil {
		return fmt.Errorf("create project database: %w", err)
	}
	st.Close()

	cfg := config.Default()
	cfg.Orchestrator.Provider = providerName
	cfg.Orchestrator.AgentCommand = agentCommand
	cfg.Orchestrator.Enabled = enabled
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	cfgPath := config.ProjectConfigPath(root)
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(cfgPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write project config: %w", err)
	}

	fmt.Printf("Project %q registered (%s).\n", project.Name, root)
	fmt.Printf("Config written to %s. API keys are read from the environment only.\n", cfgPath)
	fmt.Println("Start the control plane with: orchard serve")
	return nil
}
