// Package cache memoizes provider lookups in bounded LRU caches.
package cache

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultSize is the number of entries kept per cache
const DefaultSize = 32

// Stats reports cache effectiveness
type Stats struct {
	Name   string `json:"name"`
	Hits   int64  `json:"hits"`
	Misses int64  `json:"misses"`
	Len    int    `json:"len"`
	Size   int    `json:"size"`
}

// Memo caches the results of a loader keyed by K. Hits are returned as
// stored, without re-validation. Failed loads are not stored.
type Memo[K comparable, V any] struct {
	name   string
	size   int
	lru    *lru.Cache[K, V]
	group  *singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a Memo
type Option func(*options)

type options struct {
	singleFlight bool
}

// WithSingleFlight collapses concurrent misses for one key into a single load
func WithSingleFlight(enabled bool) Option {
	return func(o *options) {
		o.singleFlight = enabled
	}
}

// New creates a memo holding at most size entries
func New[K comparable, V any](name string, size int, opts ...Option) (*Memo[K, V], error) {
	if size <= 0 {
		size = DefaultSize
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	c, err := lru.New[K, V](size)
	if err != nil {
		return nil, fmt.Errorf("creating %s cache: %w", name, err)
	}

	m := &Memo[K, V]{name: name, size: size, lru: c}
	if o.singleFlight {
		m.group = &singleflight.Group{}
	}
	return m, nil
}

// Get returns the cached value for key or loads, stores and returns it
func (m *Memo[K, V]) Get(ctx context.Context, key K, load func(context.Context) (V, error)) (V, error) {
	if v, ok := m.lru.Get(key); ok {
		m.hits.Add(1)
		return v, nil
	}
	m.misses.Add(1)

	if m.group == nil {
		return m.load(ctx, key, load)
	}

	// the shared load must outlive any one caller; each caller still
	// stops waiting when its own context ends
	flight := m.group.DoChan(fmt.Sprint(key), func() (interface{}, error) {
		// another caller may have filled the entry while we queued
		if v, ok := m.lru.Get(key); ok {
			return v, nil
		}
		return m.load(context.WithoutCancel(ctx), key, load)
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-flight:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

func (m *Memo[K, V]) load(ctx context.Context, key K, load func(context.Context) (V, error)) (V, error) {
	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	m.lru.Add(key, v)
	return v, nil
}

// Stats returns hit and miss counters and the current occupancy
func (m *Memo[K, V]) Stats() Stats {
	return Stats{
		Name:   m.name,
		Hits:   m.hits.Load(),
		Misses: m.misses.Load(),
		Len:    m.lru.Len(),
		Size:   m.size,
	}
}

// Purge drops every entry
func (m *Memo[K, V]) Purge() {
	m.lru.Purge()
}
