package seal

import (
	"context"
	"sync"
)

// ScopeLocker serializes work per scope key. Different keys never contend.
// Idle keys are released so the map does not grow with every scope seen.
type ScopeLocker struct {
	mu    sync.Mutex
	locks map[string]*scopeLock
}

type scopeLock struct {
	sem  chan struct{}
	refs int
}

func NewScopeLocker() *ScopeLocker {
	return &ScopeLocker{locks: make(map[string]*scopeLock)}
}

// Lock blocks until key is free or ctx is done. The returned func releases it.
func (l *ScopeLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	sl, ok := l.locks[key]
	if !ok {
		sl = &scopeLock{sem: make(chan struct{}, 1)}
		l.locks[key] = sl
	}
	sl.refs++
	l.mu.Unlock()

	select {
	case sl.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-sl.sem
				l.release(key, sl)
			})
		}, nil
	case <-ctx.Done():
		l.release(key, sl)
		return nil, ctx.Err()
	}
}

func (l *ScopeLocker) release(key string, sl *scopeLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sl.refs--
	if sl.refs == 0 {
		delete(l.locks, key)
	}
}

// held returns the number of keys currently tracked.
func (l *ScopeLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
