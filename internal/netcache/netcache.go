// Package netcache provides a TTL-cached boolean for slow status checks
// (connectivity probes, sharing state queries). A value older than its TTL
// is never returned; the underlying check is re-run instead.
package netcache

import (
	"context"
	"sync"
	"time"
)

// CheckFunc performs the underlying status check.
type CheckFunc func(ctx context.Context) (bool, error)

// Bool caches the result of a boolean check for a fixed TTL.
type Bool struct {
	ttl   time.Duration
	check CheckFunc
	now   func() time.Time

	mu        sync.Mutex
	value     bool
	computed  time.Time
	populated bool
}

// NewBool creates a cache around check with the given TTL.
func NewBool(ttl time.Duration, check CheckFunc) *Bool {
	return &Bool{ttl: ttl, check: check, now: time.Now}
}

// Get returns the cached value when it is still fresh, otherwise re-runs
// the check and caches the result. With bypass set the cache is ignored
// and the check always runs; the result is still cached.
func (b *Bool) Get(ctx context.Context, bypass bool) (bool, error) {
	b.mu.Lock()
	if !bypass && b.populated && b.now().Sub(b.computed) < b.ttl {
		v := b.value
		b.mu.Unlock()
		return v, nil
	}
	b.mu.Unlock()

	v, err := b.check(ctx)
	if err != nil {
		return false, err
	}

	b.mu.Lock()
	b.value = v
	b.computed = b.now()
	b.populated = true
	b.mu.Unlock()
	return v, nil
}

// Invalidate forces the next Get to re-run the check.
func (b *Bool) Invalidate() {
	b.mu.Lock()
	b.populated = false
	b.mu.Unlock()
}

// SetClock overrides the time source, for tests.
func (b *Bool) SetClock(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}
