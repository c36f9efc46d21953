package utils

import (
	"fmt"
	"sync"
)

// KeyedMutex hands out one lock per key. Entries are dropped once nobody
// holds or waits on them.
type KeyedMutex[K comparable] struct {
	edit         sync.Mutex
	queueLengths map[K]int
	mutexes      map[K]*sync.Mutex
}

func NewKeyedMutex[K comparable]() *KeyedMutex[K] {
	return &KeyedMutex[K]{
		queueLengths: make(map[K]int),
		mutexes:      make(map[K]*sync.Mutex),
	}
}

func (m *KeyedMutex[K]) Lock(key K) {
	m.edit.Lock()

	if m.mutexes[key] == nil {
		m.mutexes[key] = &sync.Mutex{}
		m.queueLengths[key] = 0
	}

	m.queueLengths[key]++
	mu := m.mutexes[key]
	m.edit.Unlock()

	mu.Lock()
}

func (m *KeyedMutex[K]) Unlock(key K) error {
	m.edit.Lock()
	defer m.edit.Unlock()

	if m.mutexes[key] == nil {
		return fmt.Errorf("key %v not found", key)
	}

	m.mutexes[key].Unlock()
	m.queueLengths[key]--

	if m.queueLengths[key] == 0 {
		delete(m.mutexes, key)
		delete(m.queueLengths, key)
	}

	return nil
}
