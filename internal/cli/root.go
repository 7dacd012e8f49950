// Package cli implements the lens command line.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tjfontaine/a2a-lens/internal/pkg/config"
)

var rootCmd = &cobra.Command{
	Use:   "lens",
	Short: "Correlate A2A agent traffic into interactions and tool-call lifecycles",
	Long: `lens reads the event log captured from an A2A agent mesh and materializes
conversations, interactions and tool-call lifecycles from it.

Examples:
  lens serve                        # HTTP API, NATS ingest and periodic sweep
  lens import ./captures            # Load captured message files
  lens recompute gdk-task-1         # Rebuild one scope
  lens recompute --dry-run a2a_subtask_3  # Print a scope without writing it`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var (
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, _ []string) error {
	// Load .env file if it exists
	_ = godotenv.Load()

	var err error
	cfg, err = config.LoadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	level, err := parseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger = slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
