package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tjfontaine/a2a-lens/internal/core/domain"
	"github.com/tjfontaine/a2a-lens/internal/storage/memory"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return base.Add(time.Duration(sec) * time.Second) }

func TestAggregate(t *testing.T) {
	events := []*domain.Event{
		{EventID: "e3", SessionID: "s1", Timestamp: at(9), TokenUsage: &domain.TokenUsage{TotalTokens: 100, InputTokens: 70, OutputTokens: 30}},
		{EventID: "e2", SessionID: "s1", Timestamp: at(2), UserProfile: &domain.UserProfile{ID: "u-late", Name: "Late"}},
		{EventID: "e1b", SessionID: "s1", Timestamp: at(1), UserProfile: &domain.UserProfile{ID: "u-tie-b"}},
		{EventID: "e1a", SessionID: "s1", Timestamp: at(1), UserProfile: &domain.UserProfile{ID: "u-tie-a"}},
		{EventID: "e0", SessionID: "s1", Timestamp: at(0), UserProfile: &domain.UserProfile{}},
		{EventID: "x1", SessionID: "s2", Timestamp: at(-5), TokenUsage: &domain.TokenUsage{TotalTokens: 999}},
		nil,
		{EventID: "e4", SessionID: "s1", Timestamp: at(12), TokenUsage: &domain.TokenUsage{TotalTokens: 50, InputTokens: 40, OutputTokens: 10, CachedTokens: 5}},
	}

	conv := Aggregate("s1", events)
	if conv == nil {
		t.Fatal("Aggregate() = nil")
	}
	if conv.SessionID != "s1" || conv.TotalMessages != 6 {
		t.Errorf("SessionID/TotalMessages = %s/%d, want s1/6", conv.SessionID, conv.TotalMessages)
	}
	if !conv.StartedAt.Equal(at(0)) || !conv.EndedAt.Equal(at(12)) {
		t.Errorf("span = %v..%v", conv.StartedAt, conv.EndedAt)
	}
	// A zero profile is skipped; the earliest tie goes to the smaller event id.
	if conv.UserID != "u-tie-a" || conv.UserProfile == nil || conv.UserProfile.ID != "u-tie-a" {
		t.Errorf("UserID = %q, UserProfile = %+v", conv.UserID, conv.UserProfile)
	}
	want := domain.TokenUsage{TotalTokens: 150, InputTokens: 110, OutputTokens: 40, CachedTokens: 5}
	if conv.TokenUsage != want {
		t.Errorf("TokenUsage = %+v, want %+v", conv.TokenUsage, want)
	}
}

func TestAggregate_OrderIndependent(t *testing.T) {
	events := []*domain.Event{
		{EventID: "a", SessionID: "s1", Timestamp: at(3), UserProfile: &domain.UserProfile{ID: "u-2"}},
		{EventID: "b", SessionID: "s1", Timestamp: at(1), UserProfile: &domain.UserProfile{ID: "u-1"}},
		{EventID: "c", SessionID: "s1", Timestamp: at(5)},
	}
	reversed := []*domain.Event{events[2], events[1], events[0]}

	first, second := Aggregate("s1", events), Aggregate("s1", reversed)
	if first.UserID != "u-1" || second.UserID != "u-1" {
		t.Errorf("UserID = %q / %q, want u-1", first.UserID, second.UserID)
	}
	if !first.StartedAt.Equal(second.StartedAt) || !first.EndedAt.Equal(second.EndedAt) {
		t.Error("span depends on input order")
	}
}

func TestAggregate_Empty(t *testing.T) {
	tests := []struct {
		name   string
		events []*domain.Event
	}{
		{"no events", nil},
		{"other session only", []*domain.Event{{EventID: "x", SessionID: "s2", Timestamp: at(0)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Aggregate("s1", tt.events); got != nil {
				t.Errorf("Aggregate() = %+v, want nil", got)
			}
		})
	}
}

func TestRefresh(t *testing.T) {
	store := memory.New()
	defer store.Close()
	ctx := context.Background()

	for _, ev := range []*domain.Event{
		{EventID: "e1", SessionID: "s1", TaskID: "gdk-task-1", Timestamp: at(1), Kind: domain.KindMessage,
			Payload: &domain.MessagePayload{Text: "hi"}, UserProfile: &domain.UserProfile{ID: "u-1"}},
		{EventID: "e2", SessionID: "s1", TaskID: "gdk-task-1", Timestamp: at(4), Kind: domain.KindMessage,
			Payload: &domain.MessagePayload{Text: "hello"}},
		{EventID: "e3", SessionID: "s2", TaskID: "gdk-task-2", Timestamp: at(2), Kind: domain.KindMessage},
	} {
		if err := store.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
	}

	conv, err := Refresh(ctx, store, "s1", time.Second)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if conv == nil || conv.TotalMessages != 2 {
		t.Fatalf("Refresh() = %+v", conv)
	}

	stored, err := store.GetConversation(ctx, "s1")
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if stored.UserID != "u-1" || !stored.EndedAt.Equal(at(4)) {
		t.Errorf("stored = %+v", stored)
	}
	byUser, err := store.ListConversationsByUser(ctx, "u-1")
	if err != nil {
		t.Fatalf("ListConversationsByUser() error = %v", err)
	}
	if len(byUser) != 1 || byUser[0].SessionID != "s1" {
		t.Errorf("ListConversationsByUser() = %+v", byUser)
	}
}

func TestRefresh_EmptySession(t *testing.T) {
	store := memory.New()
	defer store.Close()

	conv, err := Refresh(context.Background(), store, "missing", time.Second)
	if err != nil || conv != nil {
		t.Fatalf("Refresh() = %+v, %v; want nil, nil", conv, err)
	}
	if _, err := store.GetConversation(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetConversation() error = %v, want ErrNotFound", err)
	}
}

func TestRefresh_CancelledCallerStillPersists(t *testing.T) {
	store := memory.New()
	defer store.Close()

	ev := &domain.Event{EventID: "e1", SessionID: "s1", TaskID: "gdk-task-1", Timestamp: at(0), Kind: domain.KindMessage}
	if err := store.AppendEvent(context.Background(), ev); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Refresh(ctx, store, "s1", time.Second); err != nil {
		// The memory store's scan does not observe ctx, so the refresh completes.
		t.Fatalf("Refresh() error = %v", err)
	}
	if _, err := store.GetConversation(context.Background(), "s1"); err != nil {
		t.Errorf("GetConversation() error = %v", err)
	}
}
