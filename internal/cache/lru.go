package cache

import (
	"container/list"
	"time"
)

type lruEntry[V any] struct {
	key       string
	value     V
	err       error
	expiresAt time.Time
}

// lru is a capacity-bounded map with least-recently-used eviction. Callers
// hold the cache mutex.
type lru[V any] struct {
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

func newLRU[V any](capacity int) *lru[V] {
	return &lru[V]{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

// get returns a live entry and marks it recently used. Expired entries are
// removed.
func (l *lru[V]) get(key string, now time.Time) (*lruEntry[V], bool) {
	el, ok := l.items[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*lruEntry[V])
	if !now.Before(entry.expiresAt) {
		l.ll.Remove(el)
		delete(l.items, key)
		return nil, false
	}
	l.ll.MoveToFront(el)
	return entry, true
}

// add stores the entry and reports how many entries were evicted.
func (l *lru[V]) add(entry *lruEntry[V]) int {
	if el, ok := l.items[entry.key]; ok {
		el.Value = entry
		l.ll.MoveToFront(el)
		return 0
	}
	l.items[entry.key] = l.ll.PushFront(entry)
	evicted := 0
	for l.capacity > 0 && l.ll.Len() > l.capacity {
		oldest := l.ll.Back()
		l.ll.Remove(oldest)
		delete(l.items, oldest.Value.(*lruEntry[V]).key)
		evicted++
	}
	return evicted
}

func (l *lru[V]) remove(key string) {
	if el, ok := l.items[key]; ok {
		l.ll.Remove(el)
		delete(l.items, key)
	}
}

func (l *lru[V]) len() int {
	return l.ll.Len()
}
