// Package lock provides named in-process mutual exclusion keyed by
// (namespace, key). Tokens are released explicitly; owners defer Release.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/atmx/wallet-engine/internal/metrics"
)

// DefaultBackoff is the retry interval used by Acquire.
const DefaultBackoff = 50 * time.Millisecond

type entry struct {
	namespace string
	key       string
}

// Coordinator is a registry of held locks. Not reentrant: a holder that
// acquires the same name again waits forever (or until its context ends).
type Coordinator struct {
	mu      sync.Mutex
	held    map[entry]struct{}
	backoff time.Duration
}

// NewCoordinator creates a coordinator that polls every backoff while
// waiting. A non-positive backoff selects DefaultBackoff.
func NewCoordinator(backoff time.Duration) *Coordinator {
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	return &Coordinator{
		held:    make(map[entry]struct{}),
		backoff: backoff,
	}
}

// Token proves ownership of one lock. Release is idempotent.
type Token struct {
	c    *Coordinator
	e    entry
	once sync.Once
}

// Release frees the lock. Calling it more than once is a no-op.
func (t *Token) Release() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		t.c.mu.Lock()
		delete(t.c.held, t.e)
		t.c.mu.Unlock()
	})
}

// Namespace returns the namespace the token was acquired in.
func (t *Token) Namespace() string { return t.e.namespace }

// Key returns the locked key.
func (t *Token) Key() string { return t.e.key }

// TryAcquire takes the lock if it is free.
func (c *Coordinator) TryAcquire(namespace, key string) (*Token, bool) {
	e := entry{namespace: namespace, key: key}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, busy := c.held[e]; busy {
		return nil, false
	}
	c.held[e] = struct{}{}
	return &Token{c: c, e: e}, true
}

// Acquire blocks until the lock is taken or ctx is done. There is no
// fairness among waiters.
func (c *Coordinator) Acquire(ctx context.Context, namespace, key string) (*Token, error) {
	start := time.Now()
	defer func() {
		metrics.LockWait.WithLabelValues(namespace).Observe(time.Since(start).Seconds())
	}()

	for {
		if tok, ok := c.TryAcquire(namespace, key); ok {
			return tok, nil
		}
		timer := time.NewTimer(c.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Held reports whether (namespace, key) is currently locked.
func (c *Coordinator) Held(namespace, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.held[entry{namespace: namespace, key: key}]
	return ok
}
