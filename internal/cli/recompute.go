package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/a2a-lens/internal/materialize"
	"github.com/tjfontaine/a2a-lens/internal/storage"
)

var recomputeCmd = &cobra.Command{
	Use:   "recompute [task-id]",
	Short: "Rebuild derived views from the event log",
	Long: `Recompute rebuilds the scope containing task-id, every scope of a session,
or, with no arguments, the whole log. The result is printed as JSON.

Examples:
  lens recompute                       # Every scope and conversation
  lens recompute gdk-task-1            # The scope of one task
  lens recompute --session web-1       # Every scope touching a session
  lens recompute --dry-run gdk-task-1  # Compute without writing`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRecompute,
}

var (
	recomputeDryRun  bool
	recomputeSession string
)

func init() {
	rootCmd.AddCommand(recomputeCmd)

	recomputeCmd.Flags().BoolVar(&recomputeDryRun, "dry-run", false, "Print the scope without writing derived views (requires task-id)")
	recomputeCmd.Flags().StringVar(&recomputeSession, "session", "", "Recompute every scope holding events of this session")
}

func runRecompute(cmd *cobra.Command, args []string) error {
	if recomputeDryRun && len(args) == 0 {
		return fmt.Errorf("--dry-run requires a task id")
	}
	if recomputeSession != "" && len(args) > 0 {
		return fmt.Errorf("--session and task-id are mutually exclusive")
	}

	store, err := storage.Open(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	m, err := newMaterializer(cfg, store, logger)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	switch {
	case recomputeSession != "":
		snaps, err := m.RecomputeSession(ctx, recomputeSession)
		if err != nil {
			return err
		}
		return writeJSON(out, snaps)
	case len(args) == 1 && recomputeDryRun:
		snap, err := m.Compute(ctx, args[0])
		if err != nil {
			return err
		}
		return writeJSON(out, snap)
	case len(args) == 1:
		snap, err := m.Recompute(ctx, args[0], materialize.TriggerManual)
		if err != nil {
			return err
		}
		return writeJSON(out, snap)
	default:
		sum, err := m.RecomputeAll(ctx, materialize.TriggerManual)
		if werr := writeJSON(out, sum); werr != nil {
			return werr
		}
		return err
	}
}
