package gate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// CachedResolver memoizes a ProfileResolver per subject for a fixed TTL.
// A role changed in the users table takes effect within one TTL, or at once
// after Invalidate. Concurrent misses for one subject share a single lookup.
type CachedResolver[U comparable] struct {
	inner   ProfileResolver[U]
	ttl     time.Duration
	now     func() time.Time
	flights singleflight.Group

	mu      sync.RWMutex
	entries map[U]cached
}

type cached struct {
	profile Profile
	until   time.Time
}

func NewCachedResolver[U comparable](inner ProfileResolver[U], ttl time.Duration) *CachedResolver[U] {
	return &CachedResolver[U]{
		inner:   inner,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[U]cached),
	}
}

func (r *CachedResolver[U]) lookup(user U) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[user]
	if !ok || !r.now().Before(e.until) {
		return nil, false
	}
	return e.profile, true
}

// Resolve returns the cached profile of user, fetching it on a miss.
// Subjects without a profile are not cached.
func (r *CachedResolver[U]) Resolve(ctx context.Context, user U) (Profile, error) {
	if p, ok := r.lookup(user); ok {
		return p, nil
	}
	v, err, _ := r.flights.Do(fmt.Sprintf("%v", user), func() (any, error) {
		if p, ok := r.lookup(user); ok {
			return p, nil
		}
		p, err := r.inner.Resolve(ctx, user)
		if err != nil || p == nil {
			return nil, err
		}
		r.mu.Lock()
		r.entries[user] = cached{profile: p, until: r.now().Add(r.ttl)}
		r.mu.Unlock()
		return p, nil
	})
	if err != nil || v == nil {
		return nil, err
	}
	return v.(Profile), nil
}

// Invalidate drops the cached profile of user.
func (r *CachedResolver[U]) Invalidate(user U) {
	r.mu.Lock()
	delete(r.entries, user)
	r.mu.Unlock()
}

// InvalidateAll drops every cached profile.
func (r *CachedResolver[U]) InvalidateAll() {
	r.mu.Lock()
	clear(r.entries)
	r.mu.Unlock()
}

// Len reports how many subjects are cached, expired entries included.
func (r *CachedResolver[U]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
