// Package direct provides an event publisher that writes straight to the
// event store.
package direct

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tjfontaine/a2a-lens/internal/codec/a2a"
	"github.com/tjfontaine/a2a-lens/internal/core/domain"
	"github.com/tjfontaine/a2a-lens/internal/core/ports"
	"github.com/tjfontaine/a2a-lens/internal/metrics"
	"github.com/tjfontaine/a2a-lens/internal/pkg/topic"
)

// Publisher implements ports.EventPublisher by appending to the store and
// then scheduling the event's task for recomputation.
type Publisher struct {
	store     ports.EventStore
	scheduler ports.ScopeScheduler
	filter    *topic.Filter
	source    string
	logger    *slog.Logger
}

var _ ports.EventPublisher = (*Publisher)(nil)

// Option configures a Publisher.
type Option func(*Publisher)

// WithScheduler schedules a recompute for the task of every stored event.
func WithScheduler(s ports.ScopeScheduler) Option {
	return func(p *Publisher) {
		p.scheduler = s
	}
}

// WithTopicFilter skips events whose topic matches f.
func WithTopicFilter(f *topic.Filter) Option {
	return func(p *Publisher) {
		p.filter = f
	}
}

// WithSource labels the ingest metrics of this publisher.
func WithSource(source string) Option {
	return func(p *Publisher) {
		p.source = source
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher creates a new direct event publisher.
func NewPublisher(store ports.EventStore, opts ...Option) (*Publisher, error) {
	if store == nil {
		return nil, fmt.Errorf("event store required")
	}
	p := &Publisher{store: store, source: "direct", logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Filtered reports whether messages on topic are skipped.
func (p *Publisher) Filtered(t string) bool {
	return p.filter != nil && p.filter.Match(t)
}

// Publish stores ev unless its topic is filtered. A failed enqueue is only
// logged: the event is already durable and the next sweep picks it up.
func (p *Publisher) Publish(ctx context.Context, ev *domain.Event) error {
	if ev == nil {
		return fmt.Errorf("%w: nil event", domain.ErrMalformedEvent)
	}
	if p.Filtered(ev.Topic) {
		metrics.RecordIngest(p.source, metrics.OutcomeFiltered)
		return nil
	}
	if err := p.store.AppendEvent(ctx, ev); err != nil {
		metrics.RecordIngest(p.source, metrics.OutcomeFailed)
		return fmt.Errorf("failed to append event %s: %w", ev.EventID, err)
	}
	metrics.RecordIngest(p.source, metrics.OutcomeStored)

	if p.scheduler != nil && ev.TaskID != "" {
		if err := p.scheduler.Enqueue(ctx, ev.TaskID); err != nil {
			p.logger.Warn("failed to schedule recompute",
				slog.String("task_id", ev.TaskID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// PublishRaw decodes a captured bus message and publishes it.
func (p *Publisher) PublishRaw(ctx context.Context, data []byte) (*domain.Event, error) {
	ev, err := a2a.Decode(data)
	if err != nil {
		metrics.RecordIngest(p.source, metrics.OutcomeMalformed)
		return nil, err
	}
	if err := p.Publish(ctx, ev); err != nil {
		return ev, err
	}
	return ev, nil
}

// Close is a no-op for direct publisher.
func (p *Publisher) Close() error {
	return nil
}
