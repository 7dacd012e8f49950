// Package conversation rolls the events of a session up into a Conversation.
package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/tjfontaine/a2a-lens/internal/core/domain"
	"github.com/tjfontaine/a2a-lens/internal/core/ports"
)

// Aggregate builds the Conversation for sessionID from its events, in any
// order. Events of other sessions are ignored. It returns nil for an empty scope.
func Aggregate(sessionID string, events []*domain.Event) *domain.Conversation {
	var conv *domain.Conversation
	var profileAt time.Time
	var profileID string

	for _, ev := range events {
		if ev == nil || ev.SessionID != sessionID {
			continue
		}
		if conv == nil {
			conv = &domain.Conversation{
				SessionID: sessionID,
				StartedAt: ev.Timestamp,
				EndedAt:   ev.Timestamp,
			}
		}
		conv.TotalMessages++
		if ev.Timestamp.Before(conv.StartedAt) {
			conv.StartedAt = ev.Timestamp
		}
		if ev.Timestamp.After(conv.EndedAt) {
			conv.EndedAt = ev.Timestamp
		}
		conv.TokenUsage.Add(ev.TokenUsage)

		// Earliest profile wins; equal timestamps fall back to event id.
		if ev.UserProfile.IsZero() {
			continue
		}
		if conv.UserProfile == nil || ev.Timestamp.Before(profileAt) ||
			(ev.Timestamp.Equal(profileAt) && ev.EventID < profileID) {
			p := *ev.UserProfile
			conv.UserProfile = &p
			conv.UserID = p.ID
			profileAt = ev.Timestamp
			profileID = ev.EventID
		}
	}
	return conv
}

// Refresh recomputes and persists the conversation for sessionID. The
// write ignores ctx's cancellation and is bounded by timeout instead.
func Refresh(ctx context.Context, store ports.Store, sessionID string, timeout time.Duration) (*domain.Conversation, error) {
	events, err := store.ScanEvents(ctx, ports.EventFilter{SessionIDs: []string{sessionID}})
	if err != nil {
		return nil, fmt.Errorf("failed to scan session %s: %w", sessionID, err)
	}
	conv := Aggregate(sessionID, events)
	if conv == nil {
		return nil, nil
	}

	persistCtx, cancel := persistenceContext(ctx, timeout)
	defer cancel()
	if err := store.UpsertConversation(persistCtx, conv); err != nil {
		return nil, fmt.Errorf("failed to store conversation %s: %w", sessionID, err)
	}
	return conv, nil
}

func persistenceContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if timeout <= 0 {
		return context.WithCancel(base)
	}
	return context.WithTimeout(base, timeout)
}
