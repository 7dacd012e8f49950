package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/a2a-lens/internal/adapters/events/direct"
	"github.com/tjfontaine/a2a-lens/internal/codec/a2a"
	"github.com/tjfontaine/a2a-lens/internal/core/domain"
	"github.com/tjfontaine/a2a-lens/internal/core/ports"
	"github.com/tjfontaine/a2a-lens/internal/materialize"
	"github.com/tjfontaine/a2a-lens/internal/pkg/config"
	"github.com/tjfontaine/a2a-lens/internal/pkg/topic"
	"github.com/tjfontaine/a2a-lens/internal/storage"
)

var importCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Load captured message files into the event log",
	Long: `Import walks dir for captured bus messages (*.json), appends every decodable
message to the event log and then recomputes all derived views.

Examples:
  lens import ./captures
  lens import ./captures --no-recompute`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var importNoRecompute bool

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().BoolVar(&importNoRecompute, "no-recompute", false, "Only append events; skip materialization")
}

// ImportResult summarizes one import run.
type ImportResult struct {
	Files     int                     `json:"files"`
	Stored    int                     `json:"stored"`
	Filtered  int                     `json:"filtered"`
	Malformed int                     `json:"malformed"`
	Summary   *materialize.RunSummary `json:"summary,omitempty"`
}

func runImport(cmd *cobra.Command, args []string) error {
	store, err := storage.Open(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	res, err := importDir(cmd.Context(), cfg, store, args[0], !importNoRecompute)
	if res != nil {
		if werr := writeJSON(cmd.OutOrStdout(), res); werr != nil {
			return werr
		}
	}
	return err
}

func importDir(ctx context.Context, c *config.Config, store ports.Store, dir string, recompute bool) (*ImportResult, error) {
	files, err := a2a.MessageFiles(dir)
	if err != nil {
		return nil, err
	}

	filter, err := topic.NewFilter(c.Ingest.FilterTopics)
	if err != nil {
		return nil, fmt.Errorf("ingest.filter_topics: %w", err)
	}
	publisher, err := direct.NewPublisher(store,
		direct.WithTopicFilter(filter),
		direct.WithSource("import"),
		direct.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	defer publisher.Close()

	res := &ImportResult{Files: len(files)}
	for _, path := range files {
		ev, err := a2a.DecodeFile(path)
		if err != nil {
			if errors.Is(err, domain.ErrMalformedEvent) {
				res.Malformed++
				logger.Warn("skipping malformed message file",
					slog.String("path", path),
					slog.String("error", err.Error()))
				continue
			}
			return res, err
		}
		if publisher.Filtered(ev.Topic) {
			res.Filtered++
			continue
		}
		if err := publisher.Publish(ctx, ev); err != nil {
			return res, err
		}
		res.Stored++
	}
	logger.Info("import finished",
		slog.Int("files", res.Files),
		slog.Int("stored", res.Stored),
		slog.Int("filtered", res.Filtered),
		slog.Int("malformed", res.Malformed))

	if !recompute {
		return res, nil
	}
	m, err := newMaterializer(c, store, logger)
	if err != nil {
		return res, err
	}
	res.Summary, err = m.RecomputeAll(ctx, materialize.TriggerManual)
	return res, err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
