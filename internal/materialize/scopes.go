package materialize

import (
	"context"
	"sync"
)

// scopeLocks serializes work on one key (a scope root or a session) while
// letting different keys proceed in parallel. Entries exist only while held
// or awaited.
type scopeLocks struct {
	mu    sync.Mutex
	locks map[string]*scopeLock
}

type scopeLock struct {
	sem     chan struct{}
	refs    int
	waiting int
}

func newScopeLocks() *scopeLocks {
	return &scopeLocks{locks: make(map[string]*scopeLock)}
}

// acquire blocks until key is free or ctx ends. With coalesce set, it
// returns ok=false without waiting when another caller is already queued for
// key: that caller starts after this request and covers it.
func (l *scopeLocks) acquire(ctx context.Context, key string, coalesce bool) (release func(), ok bool, err error) {
	l.mu.Lock()
	s, found := l.locks[key]
	if !found {
		s = &scopeLock{sem: make(chan struct{}, 1)}
		l.locks[key] = s
	}
	if coalesce && s.waiting > 0 {
		l.mu.Unlock()
		return nil, false, nil
	}
	s.refs++
	s.waiting++
	l.mu.Unlock()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		l.mu.Lock()
		s.waiting--
		l.drop(key, s)
		l.mu.Unlock()
		return nil, false, ctx.Err()
	}

	l.mu.Lock()
	s.waiting--
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.sem
			l.mu.Lock()
			l.drop(key, s)
			l.mu.Unlock()
		})
	}, true, nil
}

// drop releases one reference; l.mu must be held.
func (l *scopeLocks) drop(key string, s *scopeLock) {
	s.refs--
	if s.refs == 0 {
		delete(l.locks, key)
	}
}

// queued reports how many callers are waiting for key.
func (l *scopeLocks) queued(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.locks[key]; ok {
		return s.waiting
	}
	return 0
}
