package materialize

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tjfontaine/a2a-lens/internal/core/domain"
	"github.com/tjfontaine/a2a-lens/internal/metrics"
)

// Enqueue requests a recompute of the scope containing taskID. A task that
// is already waiting is not queued twice. Enqueue blocks while the queue is
// full and fails with domain.ErrQueueClosed once Run has returned.
func (m *Materializer) Enqueue(ctx context.Context, taskID string) error {
	if taskID == "" {
		return domain.ErrInvalidScope
	}
	// Graphs listed before this point may miss the task's newest events.
	m.epoch.Add(1)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.ErrQueueClosed
	}
	if m.pending[taskID] {
		m.mu.Unlock()
		return nil
	}
	m.pending[taskID] = true
	m.mu.Unlock()
	metrics.QueueDepth.Inc()

	select {
	case m.queue <- taskID:
		return nil
	case <-ctx.Done():
		m.release(taskID)
		return ctx.Err()
	case <-m.done:
		m.release(taskID)
		return domain.ErrQueueClosed
	}
}

func (m *Materializer) release(taskID string) {
	m.mu.Lock()
	delete(m.pending, taskID)
	m.mu.Unlock()
	metrics.QueueDepth.Dec()
}

// SetInterval changes the sweep period of a running (or future) Run; zero
// disables the sweep.
func (m *Materializer) SetInterval(d time.Duration) {
	for {
		select {
		case m.intervalCh <- d:
			return
		default:
		}
		// Replace a setting that Run has not picked up yet.
		select {
		case <-m.intervalCh:
		default:
		}
	}
}

// Run drains the queue with the configured number of workers and sweeps the
// whole log on the configured interval until ctx is cancelled.
func (m *Materializer) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for range m.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.work(ctx)
		}()
	}

	var ticker *time.Ticker
	var tick <-chan time.Time
	reset := func(d time.Duration) {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
		if d > 0 {
			ticker = time.NewTicker(d)
			tick = ticker.C
		}
		m.logger.Info("materializer sweep interval", slog.Duration("interval", d))
	}
	reset(m.interval)

	for {
		select {
		case <-ctx.Done():
			if ticker != nil {
				ticker.Stop()
			}
			m.mu.Lock()
			m.closed = true
			m.mu.Unlock()
			close(m.done)
			wg.Wait()
			return nil
		case d := <-m.intervalCh:
			reset(d)
		case <-tick:
			if _, err := m.RecomputeAll(ctx, TriggerSweep); err != nil {
				m.logger.Error("sweep finished with errors", slog.String("error", err.Error()))
			}
		}
	}
}

func (m *Materializer) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case taskID := <-m.queue:
			// Released before recomputing so events arriving meanwhile requeue
			// the task. A request finding its scope already queued is dropped.
			m.release(taskID)
			if _, _, err := m.recompute(ctx, taskID, TriggerEvent, true); err != nil && ctx.Err() == nil {
				m.logger.Error("scope recompute failed",
					slog.String("task_id", taskID),
					slog.String("error", err.Error()))
			}
		}
	}
}
