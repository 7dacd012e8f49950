package cli

import (
	"fmt"
	"log/slog"

	"github.com/tjfontaine/a2a-lens/internal/core/ports"
	"github.com/tjfontaine/a2a-lens/internal/correlate"
	"github.com/tjfontaine/a2a-lens/internal/interaction"
	"github.com/tjfontaine/a2a-lens/internal/materialize"
	"github.com/tjfontaine/a2a-lens/internal/pkg/config"
	"github.com/tjfontaine/a2a-lens/internal/pkg/topic"
	"github.com/tjfontaine/a2a-lens/internal/tokens"
)

func correlationRules(c config.CorrelationConfig) correlate.Rules {
	return correlate.Rules{
		TopLevelPrefix:   c.TopLevelPrefix,
		SubtaskPrefix:    c.SubtaskPrefix,
		DelegationPrefix: c.DelegationPrefix,
		SuccessMarkers:   c.SuccessMarkers,
		ErrorMarkers:     c.ErrorMarkers,
		MaxParentDepth:   c.MaxParentDepth,
	}
}

func interactionRules(c config.CorrelationConfig) (interaction.Rules, error) {
	final, err := topic.Compile(c.FinalReplyTopic)
	if err != nil {
		return interaction.Rules{}, fmt.Errorf("correlation.final_reply_topic: %w", err)
	}
	return interaction.Rules{
		Orchestrator: c.Orchestrator,
		FinalReply:   final,
		QueryNoise:   c.QueryNoise,
		TokenModel:   c.TokenModel,
	}, nil
}

// newMaterializer wires the correlator, resolver and materializer for store.
func newMaterializer(c *config.Config, store ports.Store, logger *slog.Logger) (*materialize.Materializer, error) {
	rules := correlationRules(c.Correlation)
	irules, err := interactionRules(c.Correlation)
	if err != nil {
		return nil, err
	}

	interval, err := config.Duration(c.Materialize.Interval, 0)
	if err != nil {
		return nil, fmt.Errorf("materialize.interval: %w", err)
	}
	retry, err := config.Duration(c.Materialize.RetryMaxElapsed, 0)
	if err != nil {
		return nil, fmt.Errorf("materialize.retry_max_elapsed: %w", err)
	}

	correlator := correlate.New(rules, correlate.WithLogger(logger))
	resolver := interaction.NewResolver(irules, rules,
		interaction.WithTokenCounter(tokens.NewDefaultRegistry()),
		interaction.WithLogger(logger))

	return materialize.New(store, correlator, resolver,
		materialize.WithLogger(logger),
		materialize.WithWorkers(c.Materialize.Workers),
		materialize.WithQueueSize(c.Materialize.QueueSize),
		materialize.WithInterval(interval),
		materialize.WithRetryMaxElapsed(retry),
	), nil
}
