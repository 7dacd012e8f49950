// Package materialize recomputes the derived views (interactions, tool-call
// lifecycles and conversations) from the event log.
//
// Every recompute is total for its scope: the events of one top-level task
// and all of its subtasks are read, correlated from scratch and swapped in
// atomically, so running it twice over the same log yields the same records.
package materialize

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tjfontaine/a2a-lens/internal/conversation"
	"github.com/tjfontaine/a2a-lens/internal/core/domain"
	"github.com/tjfontaine/a2a-lens/internal/core/ports"
	"github.com/tjfontaine/a2a-lens/internal/correlate"
	"github.com/tjfontaine/a2a-lens/internal/interaction"
	"github.com/tjfontaine/a2a-lens/internal/metrics"
)

// Recompute triggers, used as metric labels.
const (
	TriggerEvent  = "event"
	TriggerManual = "manual"
	TriggerSweep  = "sweep"
)

const (
	defaultPersistTimeout = 10 * time.Second

	// maxRootMoves bounds how often one recompute follows its scope to a new
	// root when late parent metadata re-roots it.
	maxRootMoves = 3
)

// Materializer recomputes scopes on demand, from its queue, and on a
// periodic sweep of the whole log.
type Materializer struct {
	store      ports.Store
	correlator *correlate.Correlator
	resolver   *interaction.Resolver
	rules      correlate.Rules
	logger     *slog.Logger
	tracer     trace.Tracer

	workers         int
	retryMaxElapsed time.Duration
	persistTimeout  time.Duration

	queue      chan string
	done       chan struct{}
	intervalCh chan time.Duration
	interval   time.Duration

	mu      sync.Mutex
	pending map[string]bool
	closed  bool

	// locks holds one entry per scope root or session being written. epoch
	// counts Enqueue calls, i.e. appends the graph may not reflect yet.
	locks *scopeLocks
	epoch atomic.Uint64
}

var _ ports.ScopeScheduler = (*Materializer)(nil)

// Option configures a Materializer.
type Option func(*Materializer)

// WithWorkers bounds the number of scopes recomputed concurrently.
func WithWorkers(n int) Option {
	return func(m *Materializer) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithQueueSize sets the capacity of the scope request queue.
func WithQueueSize(n int) Option {
	return func(m *Materializer) {
		if n > 0 {
			m.queue = make(chan string, n)
		}
	}
}

// WithInterval sets the period of the full-log sweep; zero disables it.
func WithInterval(d time.Duration) Option {
	return func(m *Materializer) {
		m.interval = d
	}
}

// WithRetryMaxElapsed bounds the retries of one scope's store operations.
func WithRetryMaxElapsed(d time.Duration) Option {
	return func(m *Materializer) {
		m.retryMaxElapsed = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Materializer) {
		m.logger = logger
	}
}

// New creates a Materializer.
func New(store ports.Store, correlator *correlate.Correlator, resolver *interaction.Resolver, opts ...Option) *Materializer {
	m := &Materializer{
		store:           store,
		correlator:      correlator,
		resolver:        resolver,
		rules:           correlator.Rules(),
		logger:          slog.Default(),
		tracer:          otel.Tracer("github.com/tjfontaine/a2a-lens/internal/materialize"),
		workers:         runtime.GOMAXPROCS(0),
		retryMaxElapsed: 30 * time.Second,
		persistTimeout:  defaultPersistTimeout,
		queue:           make(chan string, 256),
		done:            make(chan struct{}),
		intervalCh:      make(chan time.Duration, 1),
		pending:         make(map[string]bool),
		locks:           newScopeLocks(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Compute builds the snapshot of the scope containing taskID without
// writing anything. A task whose parent chain never reaches a top-level task
// forms its own scope, rooted at the highest ancestor found, with no
// interaction.
func (m *Materializer) Compute(ctx context.Context, taskID string) (*domain.Snapshot, error) {
	if taskID == "" {
		return nil, fmt.Errorf("empty task id: %w", domain.ErrInvalidScope)
	}
	g, err := m.loadGraph(ctx)
	if err != nil {
		return nil, err
	}
	root, resolved := g.scopeRoot(taskID)
	return m.computeScope(ctx, g, root, resolved)
}

// loadGraph lists the known tasks and assigns them to scopes.
func (m *Materializer) loadGraph(ctx context.Context) (*taskGraph, error) {
	epoch := m.epoch.Load()
	refs, err := retry(ctx, m.retryMaxElapsed, func() ([]domain.TaskRef, error) {
		return m.store.ListTasks(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	g := newTaskGraph(refs, m.rules)
	g.epoch = epoch
	return g, nil
}

func (m *Materializer) computeScope(ctx context.Context, g *taskGraph, root string, resolved bool) (*domain.Snapshot, error) {
	taskIDs := g.scope(root)
	events, err := m.store.ScanEvents(ctx, ports.EventFilter{TaskIDs: taskIDs})
	if err != nil {
		return nil, fmt.Errorf("failed to scan scope %s: %w", root, err)
	}

	res := m.correlator.Correlate(events)
	snap := &domain.Snapshot{
		RootTaskID:   root,
		TaskIDs:      taskIDs,
		Lifecycles:   res.Lifecycles,
		EventCount:   len(events),
		SessionIDs:   sessionIDs(events),
		DroppedCount: res.Dropped,
	}
	if resolved {
		snap.Interaction = m.resolver.Resolve(root, events, res.Lifecycles)
	}
	return snap, nil
}

// Recompute computes the scope containing taskID and replaces its stored
// records, then refreshes the conversations of the sessions it touches.
// Store failures are retried with exponential backoff.
func (m *Materializer) Recompute(ctx context.Context, taskID, trigger string) (*domain.Snapshot, error) {
	snap, _, err := m.recompute(ctx, taskID, trigger, false)
	return snap, err
}

// recompute backs Recompute. With coalesce set, it returns ran=false and
// does nothing when another recompute of the same scope is already waiting
// to start.
func (m *Materializer) recompute(ctx context.Context, taskID, trigger string, coalesce bool) (snap *domain.Snapshot, ran bool, err error) {
	if taskID == "" {
		return nil, false, fmt.Errorf("empty task id: %w", domain.ErrInvalidScope)
	}
	g, err := m.loadGraph(ctx)
	if err != nil {
		return nil, false, err
	}
	root, resolved := g.scopeRoot(taskID)

	snap, ran, err = m.serialized(ctx, g, root, resolved, trigger, coalesce)
	if err != nil || !ran {
		return nil, ran, err
	}
	for _, sid := range snap.SessionIDs {
		if _, err := m.refreshConversation(ctx, sid); err != nil {
			return snap, true, fmt.Errorf("scope %s: %w", snap.RootTaskID, err)
		}
	}
	return snap, true, nil
}

func (m *Materializer) recomputeScope(ctx context.Context, g *taskGraph, root string, resolved bool, trigger string) (*domain.Snapshot, error) {
	snap, _, err := m.serialized(ctx, g, root, resolved, trigger, false)
	return snap, err
}

// serialized recomputes root while holding its scope lock, so scans and
// writes of one scope never interleave and the last write comes from the
// last scan. A graph built before events were enqueued is reloaded under the
// lock; when that re-roots the scope, the new root is recomputed instead.
func (m *Materializer) serialized(ctx context.Context, g *taskGraph, root string, resolved bool, trigger string, coalesce bool) (*domain.Snapshot, bool, error) {
	for range maxRootMoves {
		release, ok, err := m.locks.acquire(ctx, "scope/"+root, coalesce)
		if err != nil || !ok {
			return nil, false, err
		}
		if g.epoch != m.epoch.Load() {
			if g, err = m.loadGraph(ctx); err != nil {
				release()
				return nil, false, err
			}
			var moved string
			if moved, resolved = g.scopeRoot(root); moved != root {
				release()
				m.logger.Debug("scope re-rooted", slog.String("from", root), slog.String("to", moved))
				root = moved
				continue
			}
		}
		snap, err := m.writeScope(ctx, g, root, resolved, trigger)
		release()
		return snap, true, err
	}
	return nil, false, fmt.Errorf("scope %s re-rooted %d times", root, maxRootMoves)
}

// refreshConversation rebuilds one session's conversation under its lock.
func (m *Materializer) refreshConversation(ctx context.Context, sessionID string) (*domain.Conversation, error) {
	release, _, err := m.locks.acquire(ctx, "session/"+sessionID, false)
	if err != nil {
		return nil, err
	}
	defer release()
	return conversation.Refresh(ctx, m.store, sessionID, m.persistTimeout)
}

func (m *Materializer) writeScope(ctx context.Context, g *taskGraph, root string, resolved bool, trigger string) (snap *domain.Snapshot, err error) {
	ctx, span := m.tracer.Start(ctx, "materialize.scope", trace.WithAttributes(
		attribute.String("scope.root", root),
		attribute.Bool("scope.resolved", resolved),
		attribute.String("trigger", trigger),
	))
	start := time.Now()
	defer func() {
		lifecycles, unresolved, dropped := 0, 0, 0
		if snap != nil {
			lifecycles, dropped = len(snap.Lifecycles), snap.DroppedCount
			for _, lc := range snap.Lifecycles {
				if lc.InteractionUnresolved {
					unresolved++
				}
			}
			span.SetAttributes(
				attribute.Int("scope.events", snap.EventCount),
				attribute.Int("scope.lifecycles", lifecycles),
			)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		metrics.RecordRecompute(trigger, err, time.Since(start).Seconds(), lifecycles, unresolved, dropped)
	}()

	snap, err = retry(ctx, m.retryMaxElapsed, func() (*domain.Snapshot, error) {
		return m.computeScope(ctx, g, root, resolved)
	})
	if err != nil {
		return nil, err
	}
	if _, err = retry(ctx, m.retryMaxElapsed, func() (struct{}, error) {
		return struct{}{}, m.store.ReplaceScope(ctx, snap)
	}); err != nil {
		return nil, fmt.Errorf("failed to replace scope %s: %w", root, err)
	}

	m.logger.Debug("scope recomputed",
		slog.String("root", root),
		slog.String("trigger", trigger),
		slog.Int("events", snap.EventCount),
		slog.Int("lifecycles", len(snap.Lifecycles)),
		slog.Duration("elapsed", time.Since(start)))
	return snap, nil
}

// RunSummary reports a full-log recompute.
type RunSummary struct {
	RunID         string        `json:"run_id"`
	Scopes        int           `json:"scopes"`
	Failed        int           `json:"failed"`
	Interactions  int           `json:"interactions"`
	Lifecycles    int           `json:"lifecycles"`
	Unresolved    int           `json:"unresolved"`
	Dropped       int           `json:"dropped_fragments"`
	Conversations int           `json:"conversations"`
	Elapsed       time.Duration `json:"elapsed_ns"`
}

// RecomputeAll recomputes every scope in the log and every conversation.
// One scope's failure never stops the others; all failures are returned
// joined, each as a *domain.ScopeError.
func (m *Materializer) RecomputeAll(ctx context.Context, trigger string) (*RunSummary, error) {
	start := time.Now()
	sum := &RunSummary{RunID: uuid.NewString()}

	g, err := m.loadGraph(ctx)
	if err != nil {
		return sum, err
	}
	roots := g.roots()
	sum.Scopes = len(roots)

	var (
		mu   sync.Mutex
		errs []error
	)
	var eg errgroup.Group
	eg.SetLimit(m.workers)
	for _, r := range roots {
		eg.Go(func() error {
			snap, err := m.recomputeScope(ctx, g, r.id, r.resolved, trigger)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				sum.Failed++
				errs = append(errs, &domain.ScopeError{Scope: r.id, Err: err})
				return nil
			}
			if snap.Interaction != nil {
				sum.Interactions++
			}
			sum.Lifecycles += len(snap.Lifecycles)
			sum.Dropped += snap.DroppedCount
			for _, lc := range snap.Lifecycles {
				if lc.InteractionUnresolved {
					sum.Unresolved++
				}
			}
			return nil
		})
	}
	_ = eg.Wait()

	sessions, err := retry(ctx, m.retryMaxElapsed, func() ([]string, error) {
		return m.store.ListSessionIDs(ctx)
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to list sessions: %w", err))
	}
	for _, sid := range sessions {
		conv, err := m.refreshConversation(ctx, sid)
		if err != nil {
			errs = append(errs, &domain.ScopeError{Scope: "session " + sid, Err: err})
			continue
		}
		if conv != nil {
			sum.Conversations++
		}
	}

	sum.Elapsed = time.Since(start)
	slices.SortFunc(errs, func(a, b error) int { return cmp.Compare(a.Error(), b.Error()) })
	m.logger.Info("full recompute finished",
		slog.String("run_id", sum.RunID),
		slog.String("trigger", trigger),
		slog.Int("scopes", sum.Scopes),
		slog.Int("failed", sum.Failed),
		slog.Int("lifecycles", sum.Lifecycles),
		slog.Duration("elapsed", sum.Elapsed))
	return sum, errors.Join(errs...)
}

// RecomputeSession recomputes every scope holding events of sessionID.
func (m *Materializer) RecomputeSession(ctx context.Context, sessionID string) ([]*domain.Snapshot, error) {
	events, err := retry(ctx, m.retryMaxElapsed, func() ([]*domain.Event, error) {
		return m.store.ScanEvents(ctx, ports.EventFilter{SessionIDs: []string{sessionID}})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan session %s: %w", sessionID, err)
	}
	g, err := m.loadGraph(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var snaps []*domain.Snapshot
	var errs []error
	for _, ev := range events {
		root, resolved := g.scopeRoot(ev.TaskID)
		if root == "" || seen[root] {
			continue
		}
		seen[root] = true
		snap, err := m.recomputeScope(ctx, g, root, resolved, TriggerManual)
		if err != nil {
			errs = append(errs, &domain.ScopeError{Scope: root, Err: err})
			continue
		}
		snaps = append(snaps, snap)
	}
	if _, err := m.refreshConversation(ctx, sessionID); err != nil {
		errs = append(errs, err)
	}
	return snaps, errors.Join(errs...)
}

func sessionIDs(events []*domain.Event) []string {
	var ids []string
	for _, ev := range events {
		if ev.SessionID != "" && !slices.Contains(ids, ev.SessionID) {
			ids = append(ids, ev.SessionID)
		}
	}
	slices.Sort(ids)
	return ids
}

// retry runs op with exponential backoff until it succeeds, ctx ends, or
// maxElapsed passes. Invalid-scope errors are not retried, and a
// non-positive maxElapsed runs op once.
func retry[T any](ctx context.Context, maxElapsed time.Duration, op func() (T, error)) (T, error) {
	if maxElapsed <= 0 {
		return op()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = maxElapsed
	return backoff.RetryWithData(func() (T, error) {
		v, err := op()
		if err != nil && (errors.Is(err, domain.ErrInvalidScope) || ctx.Err() != nil) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithContext(b, ctx))
}
