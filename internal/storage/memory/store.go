// Package memory provides an in-process Store used by tests and the
// default "memory" storage type.
package memory

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/tjfontaine/a2a-lens/internal/core/domain"
	"github.com/tjfontaine/a2a-lens/internal/core/ports"
)

// Store is an in-memory implementation of ports.Store.
type Store struct {
	mu            sync.RWMutex
	events        map[string]*domain.Event
	conversations map[string]*domain.Conversation
	interactions  map[string]*domain.Interaction
	lifecycles    map[string]*domain.ToolCallLifecycle
}

var _ ports.Store = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		events:        make(map[string]*domain.Event),
		conversations: make(map[string]*domain.Conversation),
		interactions:  make(map[string]*domain.Interaction),
		lifecycles:    make(map[string]*domain.ToolCallLifecycle),
	}
}

func (s *Store) AppendEvent(ctx context.Context, ev *domain.Event) error {
	if ev == nil || ev.EventID == "" {
		return fmt.Errorf("event id is required: %w", domain.ErrMalformedEvent)
	}
	cp, err := clone(ev)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[ev.EventID]; exists {
		return nil
	}
	s.events[ev.EventID] = cp
	return nil
}

func (s *Store) ScanEvents(ctx context.Context, filter ports.EventFilter) ([]*domain.Event, error) {
	s.mu.RLock()
	var out []*domain.Event
	for _, ev := range s.events {
		if filter.Matches(ev) {
			out = append(out, ev)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *domain.Event) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.EventID, b.EventID)
	})
	// Hand out copies; stored events never change.
	for i, ev := range out {
		cp, err := clone(ev)
		if err != nil {
			return nil, err
		}
		out[i] = cp
	}
	return out, nil
}

func (s *Store) ListTasks(ctx context.Context) ([]domain.TaskRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	parents := make(map[string]string)
	for _, ev := range s.events {
		if ev.TaskID == "" {
			continue
		}
		parent := ev.ParentTaskID
		if parent == ev.TaskID {
			parent = ""
		}
		// Smallest non-empty parent wins, matching the SQL store.
		if p, seen := parents[ev.TaskID]; !seen || (parent != "" && (p == "" || parent < p)) {
			parents[ev.TaskID] = parent
		}
	}
	refs := make([]domain.TaskRef, 0, len(parents))
	for id, parent := range parents {
		refs = append(refs, domain.TaskRef{TaskID: id, ParentTaskID: parent})
	}
	slices.SortFunc(refs, func(a, b domain.TaskRef) int { return cmp.Compare(a.TaskID, b.TaskID) })
	return refs, nil
}

func (s *Store) ListSessionIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var ids []string
	for _, ev := range s.events {
		if ev.SessionID == "" || seen[ev.SessionID] {
			continue
		}
		seen[ev.SessionID] = true
		ids = append(ids, ev.SessionID)
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *Store) ReplaceScope(ctx context.Context, snap *domain.Snapshot) error {
	if snap == nil || snap.RootTaskID == "" {
		return fmt.Errorf("snapshot has no root task: %w", domain.ErrInvalidScope)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Build the replacement set before taking the lock so a failure leaves
	// the previous records untouched.
	var interaction *domain.Interaction
	if snap.Interaction != nil {
		cp := *snap.Interaction
		cp.DelegatedAgents = slices.Clone(cp.DelegatedAgents)
		interaction = &cp
	}
	lifecycles := make([]*domain.ToolCallLifecycle, 0, len(snap.Lifecycles))
	for i := range snap.Lifecycles {
		cp := snap.Lifecycles[i]
		lifecycles = append(lifecycles, &cp)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, lc := range s.lifecycles {
		if inScope(lc, snap) {
			delete(s.lifecycles, id)
		}
	}
	delete(s.interactions, snap.RootTaskID)
	if interaction != nil {
		s.interactions[interaction.InteractionID] = interaction
	}
	for _, lc := range lifecycles {
		s.lifecycles[lc.ToolCallID] = lc
	}
	return nil
}

func inScope(lc *domain.ToolCallLifecycle, snap *domain.Snapshot) bool {
	if lc.InteractionID != nil && *lc.InteractionID == snap.RootTaskID {
		return true
	}
	return slices.Contains(snap.TaskIDs, lc.TaskID)
}

func (s *Store) UpsertConversation(ctx context.Context, conv *domain.Conversation) error {
	if conv == nil || conv.SessionID == "" {
		return fmt.Errorf("conversation has no session id: %w", domain.ErrInvalidScope)
	}
	cp := *conv
	s.mu.Lock()
	s.conversations[conv.SessionID] = &cp
	s.mu.Unlock()
	return nil
}

func (s *Store) GetConversation(ctx context.Context, sessionID string) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, exists := s.conversations[sessionID]
	if !exists {
		return nil, fmt.Errorf("conversation %s: %w", sessionID, domain.ErrNotFound)
	}
	cp := *conv
	return &cp, nil
}

func (s *Store) ListConversationsByUser(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	s.mu.RLock()
	var out []*domain.Conversation
	for _, conv := range s.conversations {
		if conv.UserID == userID {
			cp := *conv
			out = append(out, &cp)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *domain.Conversation) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.SessionID, b.SessionID)
	})
	return out, nil
}

func (s *Store) GetInteraction(ctx context.Context, interactionID string) (*domain.Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, exists := s.interactions[interactionID]
	if !exists {
		return nil, fmt.Errorf("interaction %s: %w", interactionID, domain.ErrNotFound)
	}
	cp := *it
	return &cp, nil
}

func (s *Store) ListInteractionsBySession(ctx context.Context, sessionID string) ([]*domain.Interaction, error) {
	s.mu.RLock()
	var out []*domain.Interaction
	for _, it := range s.interactions {
		if it.SessionID == sessionID {
			cp := *it
			out = append(out, &cp)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *domain.Interaction) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.InteractionID, b.InteractionID)
	})
	return out, nil
}

func (s *Store) GetLifecycle(ctx context.Context, toolCallID string) (*domain.ToolCallLifecycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lc, exists := s.lifecycles[toolCallID]
	if !exists {
		return nil, fmt.Errorf("tool call %s: %w", toolCallID, domain.ErrNotFound)
	}
	cp := *lc
	return &cp, nil
}

func (s *Store) ListLifecyclesByInteraction(ctx context.Context, interactionID string) ([]*domain.ToolCallLifecycle, error) {
	s.mu.RLock()
	var out []*domain.ToolCallLifecycle
	for _, lc := range s.lifecycles {
		if lc.InteractionID != nil && *lc.InteractionID == interactionID {
			cp := *lc
			out = append(out, &cp)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, ports.CompareByInvocation)
	return out, nil
}

func (s *Store) Close() error {
	return nil
}

func clone(ev *domain.Event) (*domain.Event, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to copy event %s: %w", ev.EventID, err)
	}
	var cp domain.Event
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to copy event %s: %w", ev.EventID, err)
	}
	return &cp, nil
}
