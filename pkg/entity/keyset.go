package entity

import (
	"slices"
	"sync"
)

// KeySet is an insertion-ordered set of bound device keys.
// It is safe for concurrent use.
type KeySet struct {
	mu   sync.RWMutex
	keys []string
}

// NewKeySet returns a set holding keys, duplicates dropped.
func NewKeySet(keys ...string) *KeySet {
	s := &KeySet{}
	s.Add(keys...)
	return s
}

// Add inserts keys not already present.
func (s *KeySet) Add(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		if k == "" || slices.Contains(s.keys, k) {
			continue
		}
		s.keys = append(s.keys, k)
	}
}

// Remove deletes keys if present.
func (s *KeySet) Remove(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = slices.DeleteFunc(s.keys, func(k string) bool {
		return slices.Contains(keys, k)
	})
}

// Contains reports whether key is in the set.
func (s *KeySet) Contains(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.keys, key)
}

// Keys returns a copy of the keys in insertion order.
func (s *KeySet) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.keys)
}

// Len returns the number of keys.
func (s *KeySet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}
