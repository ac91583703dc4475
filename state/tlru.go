package state

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Table is a bounded store combining per-entry expiry with least-recently-used eviction.
// Expired entries are swept lazily whenever the table is consulted. It is not safe for
// concurrent use, tables are owned by the dispatch loop.
type Table[V any] struct {
	lru   *simplelru.LRU[string, *TableEntry[V]]
	size  int
	clock clock.Clock
}

type TableEntry[V any] struct {
	Key    string
	Value  V
	Expiry time.Time
	// Count is the number of outstanding responses, only meaningful for the PIT
	Count int
}

func NewTable[V any](size int, clk clock.Clock) *Table[V] {
	if size < 1 {
		size = 1
	}
	if clk == nil {
		clk = clock.New()
	}
	lru, err := simplelru.NewLRU[string, *TableEntry[V]](size, nil)
	if err != nil {
		panic(err)
	}
	return &Table[V]{
		lru:   lru,
		size:  size,
		clock: clk,
	}
}

func (t *Table[V]) sweep() {
	now := t.clock.Now()
	for _, key := range t.lru.Keys() {
		e, ok := t.lru.Peek(key)
		if ok && now.After(e.Expiry) {
			t.lru.Remove(key)
		}
	}
}

// Contains reports whether key holds an unexpired entry. It does not affect recency.
func (t *Table[V]) Contains(key string) bool {
	t.sweep()
	return t.lru.Contains(key)
}

// Get returns the value and expiry of key and marks it as most recently used.
func (t *Table[V]) Get(key string) (V, time.Time, bool) {
	t.sweep()
	e, ok := t.lru.Get(key)
	if !ok {
		var zero V
		return zero, time.Time{}, false
	}
	return e.Value, e.Expiry, true
}

// Add inserts value under key with the given absolute expiry and outstanding count.
// Nothing happens if the expiry has already passed, or if key is present with a later
// expiry than the one given. A new key inserted into a full table evicts the least
// recently used entry.
func (t *Table[V]) Add(key string, value V, expiry time.Time, count int) bool {
	now := t.clock.Now()
	if now.After(expiry) {
		return false
	}
	t.sweep()
	if old, ok := t.lru.Peek(key); ok {
		if expiry.Before(old.Expiry) {
			return false
		}
		old.Value = value
		old.Expiry = expiry
		old.Count = count
		return true
	}
	if t.lru.Len() >= t.size {
		t.lru.RemoveOldest()
	}
	t.lru.Add(key, &TableEntry[V]{
		Key:    key,
		Value:  value,
		Expiry: expiry,
		Count:  count,
	})
	return true
}

// RemoveCount decrements the outstanding count of key, deleting the entry once it
// reaches zero. It returns the value and the remaining count, ok is false if key is absent.
func (t *Table[V]) RemoveCount(key string) (value V, remaining int, ok bool) {
	t.sweep()
	e, ok := t.lru.Peek(key)
	if !ok {
		return value, -1, false
	}
	if e.Count <= 1 {
		t.lru.Remove(key)
		return e.Value, 0, true
	}
	e.Count--
	return e.Value, e.Count, true
}

// Remove deletes key regardless of its outstanding count.
func (t *Table[V]) Remove(key string) (V, bool) {
	t.sweep()
	e, ok := t.lru.Peek(key)
	if !ok {
		var zero V
		return zero, false
	}
	t.lru.Remove(key)
	return e.Value, true
}

func (t *Table[V]) Len() int {
	t.sweep()
	return t.lru.Len()
}

// Entries returns a copy of all live entries, least recently used first.
func (t *Table[V]) Entries() []TableEntry[V] {
	t.sweep()
	out := make([]TableEntry[V], 0, t.lru.Len())
	for _, key := range t.lru.Keys() {
		if e, ok := t.lru.Peek(key); ok {
			out = append(out, *e)
		}
	}
	return out
}
