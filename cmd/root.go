package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/orchard-sh/orchard/pkg/protocol"
)

// Version is set at build time via -ldflags "-X github.com/orchard-sh/orchard/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "orchard",
	Short: "Orchard — multi-agent coding orchestrator",
	Long: "Orchard coordinates a fleet of coding agents working in git worktrees of one repository: " +
		"a terminal daemon owns their PTYs, an executor runs one-shot print sessions, and an LLM " +
		"tick loop creates worktrees, assigns tasks, and merges finished branches.",
	Run: func(cmd *cobra.Command, args []string) {
		runServe(false)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .orchard/config.json or $ORCHARD_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(daemonCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(mcpServeCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("orchard %s (protocol %d)\n", Version, protocol.ProtocolVersion)
		},
	}
}

// resolveConfigPath returns the explicitly requested config path, or "" when
// the caller should fall back to the project-local default.
func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return os.Getenv("ORCHARD_CONFIG")
}

func setupLogging(w io.Writer) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	})))
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
