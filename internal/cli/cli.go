// Package cli wires the turtle engine's command surface. The scheduler
// invokes `turtle check`; everything else is operator tooling.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/turtle/config"
)

// RootConfig carries global flag values into subcommands.
type RootConfig struct {
	ConfigPath string
	LogLevel   string
}

// Load resolves the engine configuration from the --config flag, falling
// back to defaults plus environment secrets.
func (rc *RootConfig) Load() (*config.Config, error) {
	if rc.ConfigPath != "" {
		return config.LoadFromFile(rc.ConfigPath)
	}
	return config.FromEnv()
}

// Logger builds the run logger at the configured level.
func (rc *RootConfig) Logger() *slog.Logger {
	var level slog.Level
	switch rc.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func NewRootCmd() *cobra.Command {
	rc := &RootConfig{}

	cmd := &cobra.Command{
		Use:           "turtle",
		Short:         "Turtle position & portfolio risk engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&rc.ConfigPath, "config", "", "Path to config file (optional)")
	cmd.PersistentFlags().StringVar(&rc.LogLevel, "log-level", "info", "Log level: debug|info|warn|error")

	cmd.AddCommand(
		newCheckCmd(rc),
		newPositionsCmd(rc),
	)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("turtle (dev)")
		},
	})

	return cmd
}

// Execute runs the CLI. A completed check run exits 0 even when positions
// were skipped; only run-wide aborts exit non-zero.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
