package cache

import (
	"encoding/json"
	"sync"
)

// Set is an insertion-ordered set of string keys bounded to a fixed capacity.
// When an insert pushes it past capacity the oldest keys are evicted first.
// Re-adding a key that is already present leaves its position unchanged.
type Set struct {
	mu       sync.RWMutex
	keys     []string
	index    map[string]struct{}
	capacity int
}

// New returns an empty Set holding at most capacity keys. A capacity of zero
// or less means unbounded.
func New(capacity int) *Set {
	return &Set{
		index:    make(map[string]struct{}),
		capacity: capacity,
	}
}

// FromSlice builds a Set from keys in insertion order, dropping empty and
// duplicate keys and applying the capacity.
func FromSlice(capacity int, keys []string) *Set {
	s := New(capacity)
	for _, k := range keys {
		s.add(k)
	}
	s.mu.Lock()
	s.trim()
	s.mu.Unlock()
	return s
}

// Add inserts key and evicts from the front if the set is over capacity.
// It reports whether the key was newly added.
func (s *Set) Add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := s.add(key)
	s.trim()
	return added
}

// Has reports whether key is present.
func (s *Set) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.index[key]
	return exists
}

// Len returns the number of keys held.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// Cap returns the configured capacity.
func (s *Set) Cap() int {
	return s.capacity
}

// Keys returns a copy of the keys, oldest first.
func (s *Set) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Clone returns an independent copy of the set.
func (s *Set) Clone() *Set {
	if s == nil {
		return nil
	}
	return FromSlice(s.capacity, s.Keys())
}

// Trim re-applies the capacity. Useful when the capacity of a loaded set is
// enforced again right before it is written out.
func (s *Set) Trim() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trim()
}

func (s *Set) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"size":     len(s.keys),
		"capacity": s.capacity,
	}
}

// MarshalJSON encodes the set as a JSON array, oldest first.
func (s *Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Keys())
}

// UnmarshalJSON decodes a JSON array of strings, keeping the current capacity.
func (s *Set) UnmarshalJSON(data []byte) error {
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys = nil
	s.index = make(map[string]struct{}, len(keys))
	for _, k := range keys {
		s.add(k)
	}
	s.trim()
	return nil
}

// add must be called with mu held.
func (s *Set) add(key string) bool {
	if key == "" {
		return false
	}
	if s.index == nil {
		s.index = make(map[string]struct{})
	}
	if _, exists := s.index[key]; exists {
		return false
	}
	s.index[key] = struct{}{}
	s.keys = append(s.keys, key)
	return true
}

// trim must be called with mu held.
func (s *Set) trim() {
	if s.capacity <= 0 || len(s.keys) <= s.capacity {
		return
	}

	drop := len(s.keys) - s.capacity
	for _, k := range s.keys[:drop] {
		delete(s.index, k)
	}
	s.keys = append([]string(nil), s.keys[drop:]...)
}
