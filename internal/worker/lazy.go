package worker

import "sync"

// Source supplies the pool jobs are submitted to. Both *Pool and *Lazy
// implement it.
type Source interface {
	Get() *Pool
}

// Lazy holds one pool that is created on first use. The composition root owns
// the Lazy and hands it (or the pool) to whoever needs it.
type Lazy struct {
	mu    sync.Mutex
	pool  *Pool
	build func() *Pool
}

// NewLazy creates a holder that calls build at most once.
func NewLazy(build func() *Pool) *Lazy {
	return &Lazy{build: build}
}

// Get returns the pool, creating it if absent. Concurrent first callers all
// receive the same instance.
func (l *Lazy) Get() *Pool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pool == nil {
		l.pool = l.build()
	}
	return l.pool
}

// Loaded returns the pool if it was created.
func (l *Lazy) Loaded() (*Pool, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pool, l.pool != nil
}
