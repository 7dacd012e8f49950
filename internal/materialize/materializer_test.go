package materialize

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/tjfontaine/a2a-lens/internal/core/domain"
	"github.com/tjfontaine/a2a-lens/internal/core/ports"
	"github.com/tjfontaine/a2a-lens/internal/correlate"
	"github.com/tjfontaine/a2a-lens/internal/interaction"
	"github.com/tjfontaine/a2a-lens/internal/storage/memory"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return t0.Add(time.Duration(sec) * time.Second)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ev(id, session, task, parent, agent string, sec int, role domain.Role, p domain.Payload) *domain.Event {
	return &domain.Event{
		EventID: id, SessionID: session, TaskID: task, ParentTaskID: parent, AgentName: agent,
		Role: role, Timestamp: at(sec), Kind: p.Kind(), Payload: p,
	}
}

// scenario: one interaction delegating to WeatherAgent, which delegates
// again, plus an orphan subtask in another session.
func scenario() []*domain.Event {
	reply := ev("f1", "s1", "gdk-task-1", "", "OrchestratorAgent", 9, domain.RoleAgent, &domain.MessagePayload{Text: "Sunny, 24C."})
	reply.Topic = "acme/a2a/v1/gateway/response/gw-1/gdk-task-1"
	reply.TokenUsage = &domain.TokenUsage{TotalTokens: 120, InputTokens: 100, OutputTokens: 20}

	return []*domain.Event{
		ev("u1", "s1", "gdk-task-1", "", "OrchestratorAgent", 1, domain.RoleUser, &domain.MessagePayload{Text: "What's the weather?"}),
		ev("d1", "s1", "gdk-task-1", "", "OrchestratorAgent", 2, domain.RoleAgent, &domain.LLMResponsePayload{
			FunctionCalls: []domain.FunctionCall{{ID: "call-1", Name: "peer_WeatherAgent"}},
		}),
		ev("i1", "s1", "a2a_subtask_1", "gdk-task-1", "WeatherAgent", 3, domain.RoleAgent, &domain.ToolInvocationStartPayload{ToolCallID: "call-w", ToolName: "forecast"}),
		ev("i2", "s1", "a2a_subtask_2", "a2a_subtask_1", "GeoAgent", 4, domain.RoleAgent, &domain.ToolInvocationStartPayload{ToolCallID: "call-n", ToolName: "geocode"}),
		ev("r1", "s1", "a2a_subtask_1", "gdk-task-1", "WeatherAgent", 5, domain.RoleAgent, &domain.ToolResultPayload{ToolCallID: "call-w", ToolName: "forecast", Status: "success"}),
		ev("r2", "s1", "gdk-task-1", "", "OrchestratorAgent", 7, domain.RoleAgent, &domain.ToolResultPayload{ToolCallID: "call-1", ToolName: "peer_WeatherAgent", Status: "success", DelegatedAgent: "WeatherAgent"}),
		reply,
		ev("o1", "s2", "a2a_subtask_9", "", "MapsAgent", 8, domain.RoleAgent, &domain.ToolInvocationStartPayload{ToolCallID: "call-o", ToolName: "route"}),
	}
}

func newTestMaterializer(t *testing.T, store ports.Store, opts ...Option) *Materializer {
	t.Helper()
	rules := correlate.DefaultRules()
	opts = append([]Option{WithLogger(quietLogger()), WithRetryMaxElapsed(0)}, opts...)
	return New(store,
		correlate.New(rules, correlate.WithLogger(quietLogger())),
		interaction.NewResolver(interaction.DefaultRules(), rules, interaction.WithLogger(quietLogger())),
		opts...)
}

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()
	t.Cleanup(func() { store.Close() })
	for _, e := range scenario() {
		if err := store.AppendEvent(context.Background(), e); err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
	}
	return store
}

func TestCompute_GathersNestedSubtasks(t *testing.T) {
	store := seededStore(t)
	m := newTestMaterializer(t, store)

	snap, err := m.Compute(context.Background(), "a2a_subtask_2")
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if snap.RootTaskID != "gdk-task-1" {
		t.Fatalf("RootTaskID = %s, want gdk-task-1", snap.RootTaskID)
	}
	wantTasks := []string{"a2a_subtask_1", "a2a_subtask_2", "gdk-task-1"}
	if len(snap.TaskIDs) != len(wantTasks) {
		t.Fatalf("TaskIDs = %v, want %v", snap.TaskIDs, wantTasks)
	}
	for i, id := range wantTasks {
		if snap.TaskIDs[i] != id {
			t.Errorf("TaskIDs[%d] = %s, want %s", i, snap.TaskIDs[i], id)
		}
	}
	if snap.EventCount != 7 || len(snap.Lifecycles) != 3 {
		t.Errorf("EventCount = %d, lifecycles = %d; want 7, 3", snap.EventCount, len(snap.Lifecycles))
	}
	for _, lc := range snap.Lifecycles {
		if lc.InteractionID == nil || *lc.InteractionID != "gdk-task-1" {
			t.Errorf("lifecycle %s InteractionID = %v", lc.ToolCallID, lc.InteractionID)
		}
	}
	if snap.Interaction == nil || snap.Interaction.ResponseState != domain.ResponseCompleted {
		t.Fatalf("Interaction = %+v", snap.Interaction)
	}

	// Compute does not write.
	if _, err := store.GetInteraction(context.Background(), "gdk-task-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetInteraction() error = %v, want ErrNotFound", err)
	}
}

func TestRecompute_Idempotent(t *testing.T) {
	store := seededStore(t)
	m := newTestMaterializer(t, store)
	ctx := context.Background()

	dump := func() []byte {
		t.Helper()
		lcs, err := store.ListLifecyclesByInteraction(ctx, "gdk-task-1")
		if err != nil {
			t.Fatalf("ListLifecyclesByInteraction() error = %v", err)
		}
		it, err := store.GetInteraction(ctx, "gdk-task-1")
		if err != nil {
			t.Fatalf("GetInteraction() error = %v", err)
		}
		out, err := json.Marshal(struct {
			I *domain.Interaction
			L []*domain.ToolCallLifecycle
		}{it, lcs})
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		return out
	}

	if _, err := m.Recompute(ctx, "gdk-task-1", TriggerManual); err != nil {
		t.Fatalf("Recompute() error = %v", err)
	}
	first := dump()
	if _, err := m.Recompute(ctx, "a2a_subtask_1", TriggerManual); err != nil {
		t.Fatalf("Recompute() error = %v", err)
	}
	if second := dump(); string(first) != string(second) {
		t.Errorf("recompute not idempotent:\n%s\n%s", first, second)
	}

	conv, err := store.GetConversation(ctx, "s1")
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if conv.TotalMessages != 7 {
		t.Errorf("TotalMessages = %d, want 7", conv.TotalMessages)
	}
}

func TestRecompute_OrphanScope(t *testing.T) {
	store := seededStore(t)
	m := newTestMaterializer(t, store)
	ctx := context.Background()

	snap, err := m.Recompute(ctx, "a2a_subtask_9", TriggerManual)
	if err != nil {
		t.Fatalf("Recompute() error = %v", err)
	}
	if snap.RootTaskID != "a2a_subtask_9" || snap.Interaction != nil {
		t.Errorf("snapshot = %+v", snap)
	}
	lc, err := store.GetLifecycle(ctx, "call-o")
	if err != nil {
		t.Fatalf("GetLifecycle() error = %v", err)
	}
	if lc.InteractionID != nil || !lc.InteractionUnresolved {
		t.Errorf("lifecycle = %+v, want unresolved", lc)
	}
}

func TestRecompute_EmptyTask(t *testing.T) {
	m := newTestMaterializer(t, memory.New())
	if _, err := m.Recompute(context.Background(), "", TriggerManual); !errors.Is(err, domain.ErrInvalidScope) {
		t.Errorf("Recompute() error = %v, want ErrInvalidScope", err)
	}
}

func TestRecomputeAll(t *testing.T) {
	store := seededStore(t)
	m := newTestMaterializer(t, store, WithWorkers(2))

	sum, err := m.RecomputeAll(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("RecomputeAll() error = %v", err)
	}
	if sum.RunID == "" {
		t.Error("RunID is empty")
	}
	if sum.Scopes != 2 || sum.Failed != 0 || sum.Interactions != 1 {
		t.Errorf("scopes/failed/interactions = %d/%d/%d, want 2/0/1", sum.Scopes, sum.Failed, sum.Interactions)
	}
	if sum.Lifecycles != 4 || sum.Unresolved != 1 || sum.Conversations != 2 {
		t.Errorf("lifecycles/unresolved/conversations = %d/%d/%d, want 4/1/2", sum.Lifecycles, sum.Unresolved, sum.Conversations)
	}

	interactions, err := store.ListInteractionsBySession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("ListInteractionsBySession() error = %v", err)
	}
	if len(interactions) != 1 || interactions[0].NumSubtasks != 2 {
		t.Errorf("interactions = %+v", interactions)
	}
}

type failingStore struct {
	ports.Store
	failRoot string
}

func (s *failingStore) ReplaceScope(ctx context.Context, snap *domain.Snapshot) error {
	if snap.RootTaskID == s.failRoot {
		return errors.New("disk full")
	}
	return s.Store.ReplaceScope(ctx, snap)
}

func TestRecomputeAll_IsolatesScopeFailures(t *testing.T) {
	store := &failingStore{Store: seededStore(t), failRoot: "gdk-task-1"}
	m := newTestMaterializer(t, store)

	sum, err := m.RecomputeAll(context.Background(), TriggerManual)
	if err == nil {
		t.Fatal("RecomputeAll() error = nil, want scope failure")
	}
	var se *domain.ScopeError
	if !errors.As(err, &se) || se.Scope != "gdk-task-1" {
		t.Errorf("error = %v, want ScopeError for gdk-task-1", err)
	}
	if sum.Failed != 1 {
		t.Errorf("Failed = %d, want 1", sum.Failed)
	}
	if _, err := store.GetLifecycle(context.Background(), "call-o"); err != nil {
		t.Errorf("other scope not written: %v", err)
	}
}

func TestRecomputeSession(t *testing.T) {
	store := seededStore(t)
	m := newTestMaterializer(t, store)

	snaps, err := m.RecomputeSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("RecomputeSession() error = %v", err)
	}
	if len(snaps) != 1 || snaps[0].RootTaskID != "gdk-task-1" {
		t.Fatalf("snapshots = %+v", snaps)
	}
	if _, err := store.GetLifecycle(context.Background(), "call-o"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("other session recomputed: %v", err)
	}
}

func TestRecompute_ConflictingParentsAgreeOnRoot(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()
	for _, e := range []*domain.Event{
		ev("x1", "s1", "a2a_subtask_7", "gdk-task-2", "MapsAgent", 3, domain.RoleAgent, &domain.ToolInvocationStartPayload{ToolCallID: "call-z", ToolName: "route"}),
		ev("x2", "s1", "a2a_subtask_7", "gdk-task-1", "MapsAgent", 4, domain.RoleAgent, &domain.StatusUpdatePayload{Text: "routing"}),
		ev("x3", "s3", "gdk-task-2", "", "OrchestratorAgent", 1, domain.RoleUser, &domain.MessagePayload{Text: "Directions?"}),
	} {
		if err := store.AppendEvent(ctx, e); err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
	}
	m := newTestMaterializer(t, store)

	snap, err := m.Recompute(ctx, "a2a_subtask_7", TriggerManual)
	if err != nil {
		t.Fatalf("Recompute() error = %v", err)
	}
	if snap.RootTaskID != "gdk-task-1" {
		t.Fatalf("RootTaskID = %s, want gdk-task-1", snap.RootTaskID)
	}
	lc, err := store.GetLifecycle(ctx, "call-z")
	if err != nil {
		t.Fatalf("GetLifecycle() error = %v", err)
	}
	if lc.InteractionID == nil || *lc.InteractionID != snap.RootTaskID {
		t.Errorf("InteractionID = %v, want %s", lc.InteractionID, snap.RootTaskID)
	}
}
