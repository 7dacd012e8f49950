package ports

import (
	"context"

	"github.com/tjfontaine/a2a-lens/internal/core/domain"
	"github.com/tjfontaine/a2a-lens/internal/pkg/config"
)

// ConfigProvider loads and manages configuration.
type ConfigProvider interface {
	Load(ctx context.Context) (*config.Config, error)
	Watch(ctx context.Context, onChange func(*config.Config)) error
	Close() error
}

// EventPublisher accepts decoded events into the log.
// Implementations: direct (append to the store and schedule a recompute).
type EventPublisher interface {
	Publish(ctx context.Context, ev *domain.Event) error
	Close() error
}

// ScopeScheduler queues a task for recomputation.
type ScopeScheduler interface {
	Enqueue(ctx context.Context, taskID string) error
}
