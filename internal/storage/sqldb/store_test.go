package sqldb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tjfontaine/a2a-lens/internal/core/domain"
	"github.com/tjfontaine/a2a-lens/internal/core/ports"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return base.Add(time.Duration(sec) * time.Second) }

func strPtr(s string) *string { return &s }

func timePtr(sec int) *time.Time {
	ts := at(sec)
	return &ts
}

func newTestStore(t *testing.T, name string) *Store {
	t.Helper()
	store, err := NewSQLite("file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLDBStore_AppendAndScan(t *testing.T) {
	store := newTestStore(t, "events1")
	ctx := context.Background()

	events := []*domain.Event{
		{EventID: "e3", SessionID: "s1", TaskID: "gdk-task-1", Timestamp: at(3), Kind: domain.KindToolResult,
			Payload: &domain.ToolResultPayload{ToolCallID: "c1", Status: "success"}},
		{EventID: "e1", SessionID: "s1", TaskID: "gdk-task-1", Timestamp: at(1), Role: domain.RoleUser,
			Kind: domain.KindMessage, Payload: &domain.MessagePayload{Text: "hi"},
			UserProfile: &domain.UserProfile{ID: "u-1"}},
		{EventID: "e2", SessionID: "s1", TaskID: "a2a_subtask_1", ParentTaskID: "gdk-task-1", Timestamp: at(1),
			Kind: domain.KindStatusUpdate, Payload: &domain.StatusUpdatePayload{Text: "thinking"}},
		{EventID: "e4", SessionID: "s2", TaskID: "gdk-task-2", Timestamp: at(4), Kind: domain.KindMessage},
	}
	for _, ev := range events {
		if err := store.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
	}
	if err := store.AppendEvent(ctx, events[0]); err != nil {
		t.Fatalf("AppendEvent() duplicate error = %v", err)
	}

	tests := []struct {
		name   string
		filter ports.EventFilter
		want   []string
	}{
		{"all", ports.EventFilter{}, []string{"e1", "e2", "e3", "e4"}},
		{"task or parent", ports.EventFilter{TaskIDs: []string{"gdk-task-1"}, ParentTaskIDs: []string{"gdk-task-1"}}, []string{"e1", "e2", "e3"}},
		{"task only", ports.EventFilter{TaskIDs: []string{"gdk-task-1"}}, []string{"e1", "e3"}},
		{"parent only", ports.EventFilter{ParentTaskIDs: []string{"gdk-task-1"}}, []string{"e2"}},
		{"session", ports.EventFilter{SessionIDs: []string{"s2"}}, []string{"e4"}},
		{"time window", ports.EventFilter{Since: at(2), Until: at(3)}, []string{"e3"}},
		{"predicate", ports.EventFilter{Match: func(ev *domain.Event) bool { return ev.Role == domain.RoleUser }}, []string{"e1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ScanEvents(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ScanEvents() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ScanEvents() returned %d events, want %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].EventID != id {
					t.Errorf("event[%d] = %s, want %s", i, got[i].EventID, id)
				}
			}
		})
	}

	got, _ := store.ScanEvents(ctx, ports.EventFilter{TaskIDs: []string{"gdk-task-1"}})
	if got[0].UserProfile == nil || got[0].UserProfile.ID != "u-1" {
		t.Errorf("UserProfile not round-tripped: %+v", got[0].UserProfile)
	}
	if p, ok := got[1].Payload.(*domain.ToolResultPayload); !ok || p.Status != "success" {
		t.Errorf("payload = %#v", got[1].Payload)
	}
	if !got[0].Timestamp.Equal(at(1)) {
		t.Errorf("Timestamp = %v, want %v", got[0].Timestamp, at(1))
	}

	tasks, err := store.ListTasks(ctx)
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("ListTasks() = %+v", tasks)
	}
	if tasks[0] != (domain.TaskRef{TaskID: "a2a_subtask_1", ParentTaskID: "gdk-task-1"}) {
		t.Errorf("tasks[0] = %+v", tasks[0])
	}
	if tasks[1] != (domain.TaskRef{TaskID: "gdk-task-1"}) {
		t.Errorf("tasks[1] = %+v", tasks[1])
	}

	sessions, err := store.ListSessionIDs(ctx)
	if err != nil {
		t.Fatalf("ListSessionIDs() error = %v", err)
	}
	if len(sessions) != 2 || sessions[0] != "s1" || sessions[1] != "s2" {
		t.Errorf("ListSessionIDs() = %v", sessions)
	}
}

func TestSQLDBStore_ReplaceScope(t *testing.T) {
	store := newTestStore(t, "scope1")
	ctx := context.Background()

	dur := 3 * time.Second
	first := &domain.Snapshot{
		RootTaskID: "gdk-task-1",
		TaskIDs:    []string{"a2a_subtask_1", "gdk-task-1"},
		Interaction: &domain.Interaction{
			InteractionID: "gdk-task-1", SessionID: "s1", StartedAt: at(0),
			ResponseState: domain.ResponseInProgress,
		},
		Lifecycles: []domain.ToolCallLifecycle{
			{ToolCallID: "never-invoked", TaskID: "gdk-task-1", InteractionID: strPtr("gdk-task-1"), SuccessStatus: domain.SuccessUnknown},
			{ToolCallID: "second", TaskID: "a2a_subtask_1", InteractionID: strPtr("gdk-task-1"), InvocationTimestamp: timePtr(4)},
			{ToolCallID: "first", TaskID: "gdk-task-1", InteractionID: strPtr("gdk-task-1"), InvocationTimestamp: timePtr(2),
				Duration: &dur, SuccessStatus: domain.SuccessTrue},
			{ToolCallID: "orphan", TaskID: "a2a_subtask_1", InteractionUnresolved: true},
		},
	}
	if err := store.ReplaceScope(ctx, first); err != nil {
		t.Fatalf("ReplaceScope() error = %v", err)
	}

	lcs, err := store.ListLifecyclesByInteraction(ctx, "gdk-task-1")
	if err != nil {
		t.Fatalf("ListLifecyclesByInteraction() error = %v", err)
	}
	order := make([]string, len(lcs))
	for i, lc := range lcs {
		order[i] = lc.ToolCallID
	}
	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "never-invoked" {
		t.Fatalf("lifecycle order = %v, want [first second never-invoked]", order)
	}
	if lcs[0].Duration == nil || *lcs[0].Duration != dur || lcs[0].SuccessStatus != domain.SuccessTrue {
		t.Errorf("lifecycle not round-tripped: %+v", lcs[0])
	}

	orphan, err := store.GetLifecycle(ctx, "orphan")
	if err != nil {
		t.Fatalf("GetLifecycle() error = %v", err)
	}
	if orphan.InteractionID != nil || !orphan.InteractionUnresolved {
		t.Errorf("orphan = %+v, want unresolved with nil interaction", orphan)
	}

	it, err := store.GetInteraction(ctx, "gdk-task-1")
	if err != nil {
		t.Fatalf("GetInteraction() error = %v", err)
	}
	if it.ResponseState != domain.ResponseInProgress {
		t.Errorf("ResponseState = %v", it.ResponseState)
	}

	// A recompute with fewer calls removes the stale ones, including the
	// unresolved lifecycle owned by a scope task.
	completed := at(9)
	second := &domain.Snapshot{
		RootTaskID: "gdk-task-1",
		TaskIDs:    []string{"a2a_subtask_1", "gdk-task-1"},
		Interaction: &domain.Interaction{
			InteractionID: "gdk-task-1", SessionID: "s1", StartedAt: at(0),
			CompletedAt: &completed, ResponseState: domain.ResponseCompleted,
		},
		Lifecycles: []domain.ToolCallLifecycle{
			{ToolCallID: "first", TaskID: "gdk-task-1", InteractionID: strPtr("gdk-task-1"), InvocationTimestamp: timePtr(2)},
		},
	}
	if err := store.ReplaceScope(ctx, second); err != nil {
		t.Fatalf("ReplaceScope() error = %v", err)
	}
	for _, id := range []string{"second", "never-invoked", "orphan"} {
		if _, err := store.GetLifecycle(ctx, id); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("GetLifecycle(%s) error = %v, want ErrNotFound", id, err)
		}
	}
	interactions, err := store.ListInteractionsBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("ListInteractionsBySession() error = %v", err)
	}
	if len(interactions) != 1 || interactions[0].ResponseState != domain.ResponseCompleted {
		t.Errorf("ListInteractionsBySession() = %+v", interactions)
	}
}

func TestSQLDBStore_ReplaceScopeRejectsEmptyRoot(t *testing.T) {
	store := newTestStore(t, "scope2")
	err := store.ReplaceScope(context.Background(), &domain.Snapshot{})
	if !errors.Is(err, domain.ErrInvalidScope) {
		t.Errorf("ReplaceScope() error = %v, want ErrInvalidScope", err)
	}
}

func TestSQLDBStore_Conversations(t *testing.T) {
	store := newTestStore(t, "conv1")
	ctx := context.Background()

	convs := []*domain.Conversation{
		{SessionID: "s-late", UserID: "u-1", StartedAt: at(60), TotalMessages: 2},
		{SessionID: "s-early", UserID: "u-1", StartedAt: at(10), TotalMessages: 5},
		{SessionID: "s-other", UserID: "u-2", StartedAt: at(0)},
	}
	for _, c := range convs {
		if err := store.UpsertConversation(ctx, c); err != nil {
			t.Fatalf("UpsertConversation() error = %v", err)
		}
	}
	updated := *convs[0]
	updated.TotalMessages = 7
	if err := store.UpsertConversation(ctx, &updated); err != nil {
		t.Fatalf("UpsertConversation() update error = %v", err)
	}

	got, err := store.ListConversationsByUser(ctx, "u-1")
	if err != nil {
		t.Fatalf("ListConversationsByUser() error = %v", err)
	}
	if len(got) != 2 || got[0].SessionID != "s-early" || got[1].SessionID != "s-late" {
		t.Fatalf("ListConversationsByUser() = %+v", got)
	}
	if got[1].TotalMessages != 7 {
		t.Errorf("TotalMessages = %d, want 7 after upsert", got[1].TotalMessages)
	}

	if _, err := store.GetConversation(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetConversation() error = %v, want ErrNotFound", err)
	}
}

func TestSQLDBStore_DialectAccessor(t *testing.T) {
	store := newTestStore(t, "accessor1")

	if d := store.Dialect(); d.Name() != "sqlite" {
		t.Errorf("Dialect name = %v, want sqlite", d.Name())
	}
	if store.DB() == nil {
		t.Error("DB() returned nil")
	}
}

func TestNew_UnsupportedDriver(t *testing.T) {
	_, err := New(Config{Driver: "unsupported", DSN: "test"})
	if err == nil {
		t.Error("Expected error for unsupported driver")
	}
}

func TestNew_DriverNotLinked(t *testing.T) {
	_, err := New(Config{Driver: "postgres", DSN: "postgres://localhost/lens"})
	if err == nil || !strings.Contains(err.Error(), "not linked") {
		t.Errorf("New() error = %v, want driver not linked", err)
	}
}

func TestNew_PrivateMemoryDatabase(t *testing.T) {
	store, err := New(Config{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.AppendEvent(ctx, &domain.Event{EventID: "e1", SessionID: "s1", TaskID: "gdk-task-1", Timestamp: at(1)}); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}

	// Concurrent readers must all see the schema and the row.
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := store.ScanEvents(ctx, ports.EventFilter{})
			if err == nil && len(got) != 1 {
				err = fmt.Errorf("ScanEvents() returned %d events, want 1", len(got))
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Error(err)
		}
	}
}

func TestSQLDBStore_ListTasksConflictingParents(t *testing.T) {
	store := newTestStore(t, "parents1")
	ctx := context.Background()

	for _, ev := range []*domain.Event{
		{EventID: "e1", SessionID: "s1", TaskID: "a2a_subtask_1", ParentTaskID: "gdk-task-2", Timestamp: at(1)},
		{EventID: "e2", SessionID: "s1", TaskID: "a2a_subtask_1", ParentTaskID: "gdk-task-1", Timestamp: at(2)},
		{EventID: "e3", SessionID: "s1", TaskID: "a2a_subtask_2", ParentTaskID: "a2a_subtask_2", Timestamp: at(1)},
		{EventID: "e4", SessionID: "s1", TaskID: "a2a_subtask_2", ParentTaskID: "gdk-task-9", Timestamp: at(2)},
	} {
		if err := store.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
	}

	tasks, err := store.ListTasks(ctx)
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	want := []domain.TaskRef{
		{TaskID: "a2a_subtask_1", ParentTaskID: "gdk-task-1"},
		{TaskID: "a2a_subtask_2", ParentTaskID: "gdk-task-9"},
	}
	if len(tasks) != len(want) {
		t.Fatalf("ListTasks() = %+v", tasks)
	}
	for i := range want {
		if tasks[i] != want[i] {
			t.Errorf("tasks[%d] = %+v, want %+v", i, tasks[i], want[i])
		}
	}
}
