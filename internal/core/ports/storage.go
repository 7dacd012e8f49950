package ports

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/tjfontaine/a2a-lens/internal/core/domain"
)

// EventFilter selects events from the log.
//
// TaskIDs and ParentTaskIDs are alternatives: an event matches when its
// task id is in TaskIDs or its parent task id is in ParentTaskIDs. The
// remaining fields narrow that set further. Zero values do not filter.
type EventFilter struct {
	TaskIDs       []string
	ParentTaskIDs []string
	SessionIDs    []string
	Since         time.Time
	Until         time.Time
	// Match is evaluated in-process after the store-side filter.
	Match func(*domain.Event) bool
}

// Matches reports whether ev satisfies the filter.
func (f EventFilter) Matches(ev *domain.Event) bool {
	if len(f.TaskIDs) > 0 || len(f.ParentTaskIDs) > 0 {
		byTask := slices.Contains(f.TaskIDs, ev.TaskID)
		byParent := ev.ParentTaskID != "" && slices.Contains(f.ParentTaskIDs, ev.ParentTaskID)
		if !byTask && !byParent {
			return false
		}
	}
	if len(f.SessionIDs) > 0 && !slices.Contains(f.SessionIDs, ev.SessionID) {
		return false
	}
	if !f.Since.IsZero() && ev.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && ev.Timestamp.After(f.Until) {
		return false
	}
	if f.Match != nil && !f.Match(ev) {
		return false
	}
	return true
}

// EventStore is the append-only event log.
type EventStore interface {
	// AppendEvent stores an event. Appending an event id that already exists is a no-op.
	AppendEvent(ctx context.Context, ev *domain.Event) error

	// ScanEvents returns matching events ordered by timestamp, then event id.
	ScanEvents(ctx context.Context, filter EventFilter) ([]*domain.Event, error)

	// ListTasks returns every distinct task id with the parent task id its events carry.
	ListTasks(ctx context.Context) ([]domain.TaskRef, error)

	// ListSessionIDs returns every distinct session id.
	ListSessionIDs(ctx context.Context) ([]string, error)

	Close() error
}

// DerivedStore persists the records recomputed from the event log.
type DerivedStore interface {
	// ReplaceScope atomically swaps every interaction and lifecycle of the
	// snapshot's scope for the snapshot's contents.
	ReplaceScope(ctx context.Context, snap *domain.Snapshot) error

	UpsertConversation(ctx context.Context, conv *domain.Conversation) error
	GetConversation(ctx context.Context, sessionID string) (*domain.Conversation, error)
	// ListConversationsByUser returns conversations ordered by start time.
	ListConversationsByUser(ctx context.Context, userID string) ([]*domain.Conversation, error)

	GetInteraction(ctx context.Context, interactionID string) (*domain.Interaction, error)
	// ListInteractionsBySession returns interactions ordered by start time.
	ListInteractionsBySession(ctx context.Context, sessionID string) ([]*domain.Interaction, error)

	GetLifecycle(ctx context.Context, toolCallID string) (*domain.ToolCallLifecycle, error)
	// ListLifecyclesByInteraction returns lifecycles ordered by invocation
	// time, with lifecycles that were never invoked last.
	ListLifecyclesByInteraction(ctx context.Context, interactionID string) ([]*domain.ToolCallLifecycle, error)
}

// Store is a storage backend holding both the event log and derived records.
type Store interface {
	EventStore
	DerivedStore
}

// CompareByInvocation orders lifecycles by invocation time with never-invoked
// lifecycles last, then by tool call id.
func CompareByInvocation(a, b *domain.ToolCallLifecycle) int {
	switch {
	case a.InvocationTimestamp == nil && b.InvocationTimestamp != nil:
		return 1
	case a.InvocationTimestamp != nil && b.InvocationTimestamp == nil:
		return -1
	case a.InvocationTimestamp != nil:
		if c := a.InvocationTimestamp.Compare(*b.InvocationTimestamp); c != 0 {
			return c
		}
	}
	return cmp.Compare(a.ToolCallID, b.ToolCallID)
}
