// Package store holds the in-memory repositories for the signaling
// coordinator. Every read returns a copy, so callers never observe an
// aggregate while another goroutine is mutating it; updates replace the
// whole aggregate.
package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/samber/lo"
)

var (
	ErrDuplicateKey = errors.New("duplicate key")
	ErrNotFound     = errors.New("not found")
)

// Keyed is a concurrency-safe map of aggregates keyed by their primary id.
// Values are cloned on the way in and on the way out.
type Keyed[T any] struct {
	kind  string
	key   func(T) string
	clone func(T) T

	mu    sync.RWMutex
	items map[string]T
	// order preserves insertion order so listings are stable.
	order []string
}

func NewKeyed[T any](kind string, key func(T) string, clone func(T) T) *Keyed[T] {
	return &Keyed[T]{
		kind:  kind,
		key:   key,
		clone: clone,
		items: make(map[string]T),
	}
}

func (k *Keyed[T]) Add(v T) error {
	id := k.key(v)
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.items[id]; ok {
		return fmt.Errorf("%s %q: %w", k.kind, id, ErrDuplicateKey)
	}
	k.items[id] = k.clone(v)
	k.order = append(k.order, id)
	return nil
}

// Get returns a copy of the aggregate stored under id.
func (k *Keyed[T]) Get(id string) (T, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	v, ok := k.items[id]
	if !ok {
		var zero T
		return zero, false
	}
	return k.clone(v), true
}

func (k *Keyed[T]) Update(v T) error {
	id := k.key(v)
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.items[id]; !ok {
		return fmt.Errorf("%s %q: %w", k.kind, id, ErrNotFound)
	}
	k.items[id] = k.clone(v)
	return nil
}

// Upsert adds v or replaces the aggregate already stored under its id.
func (k *Keyed[T]) Upsert(v T) {
	id := k.key(v)
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.items[id]; !ok {
		k.order = append(k.order, id)
	}
	k.items[id] = k.clone(v)
}

func (k *Keyed[T]) Delete(id string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.items[id]; !ok {
		return false
	}
	delete(k.items, id)
	k.order = lo.Without(k.order, id)
	return true
}

// All returns copies of every aggregate in insertion order.
func (k *Keyed[T]) All() []T {
	return k.Filter(func(T) bool { return true })
}

// Filter returns copies of the aggregates matching pred, in insertion order.
// pred sees the stored value and must not retain or mutate it.
func (k *Keyed[T]) Filter(pred func(T) bool) []T {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]T, 0)
	for _, id := range k.order {
		v := k.items[id]
		if pred(v) {
			out = append(out, k.clone(v))
		}
	}
	return out
}

// Find returns a copy of the first aggregate, in insertion order, matching
// pred.
func (k *Keyed[T]) Find(pred func(T) bool) (T, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	for _, id := range k.order {
		if v := k.items[id]; pred(v) {
			return k.clone(v), true
		}
	}
	var zero T
	return zero, false
}

func (k *Keyed[T]) Count(pred func(T) bool) int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return lo.CountBy(lo.Values(k.items), pred)
}

func (k *Keyed[T]) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.items)
}
