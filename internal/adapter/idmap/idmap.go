// Package idmap interns protocol-native message references (string ids,
// chat/message pairs) into the int64 ids the bot works with.
package idmap

import (
	"container/list"
	"sync"
)

// DefaultSize bounds maps created with a non-positive size.
const DefaultSize = 4096

// Map assigns increasing int64 ids to keys and keeps a value per id. Once
// full, the oldest entry is evicted. Ids are never reused.
type Map[T any] struct {
	mu    sync.Mutex
	max   int
	next  int64
	byID  map[int64]*list.Element
	byKey map[string]int64
	order *list.List // front = oldest
}

type entry[T any] struct {
	id  int64
	key string
	val T
}

// New creates a Map holding at most size entries.
func New[T any](size int) *Map[T] {
	if size <= 0 {
		size = DefaultSize
	}
	return &Map[T]{
		max:   size,
		byID:  make(map[int64]*list.Element),
		byKey: make(map[string]int64),
		order: list.New(),
	}
}

// Put stores val under key and returns its id. A known key keeps its id and
// gets the new value.
func (m *Map[T]) Put(key string, val T) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byKey[key]; ok {
		m.byID[id].Value.(*entry[T]).val = val
		return id
	}

	m.next++
	e := &entry[T]{id: m.next, key: key, val: val}
	m.byID[e.id] = m.order.PushBack(e)
	m.byKey[key] = e.id

	for m.order.Len() > m.max {
		m.remove(m.order.Front())
	}
	return e.id
}

// Get returns the value stored for id.
func (m *Map[T]) Get(id int64) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.byID[id]
	if !ok {
		var zero T
		return zero, false
	}
	return el.Value.(*entry[T]).val, true
}

// Lookup returns the id assigned to key.
func (m *Map[T]) Lookup(key string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byKey[key]
	return id, ok
}

// Delete forgets id. Unknown ids are ignored.
func (m *Map[T]) Delete(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.byID[id]; ok {
		m.remove(el)
	}
}

// Len returns the number of live entries.
func (m *Map[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

func (m *Map[T]) remove(el *list.Element) {
	e := m.order.Remove(el).(*entry[T])
	delete(m.byID, e.id)
	delete(m.byKey, e.key)
}
