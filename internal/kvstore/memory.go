package kvstore

import (
	"bytes"
	"context"
	"sync"
	"time"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is an in-memory Store implementation. Expired entries are dropped
// lazily on read; there is no background sweep.
type MemoryStore struct {
	mu   sync.Mutex
	kv   map[string]entry
	sets map[string]map[string]time.Time // member -> expiry of the owning set
	nowF func() time.Time
}

// NewMemoryStore returns a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		kv:   make(map[string]entry),
		sets: make(map[string]map[string]time.Time),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// Put stores value under key until ttl elapses.
func (s *MemoryStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	s.kv[key] = entry{value: v, expiresAt: s.nowF().Add(ttl)}
	return nil
}

// Get returns the value for key if present and not expired.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.kv[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	if !e.expiresAt.After(s.nowF()) {
		delete(s.kv, key)
		return nil, ErrKeyNotFound
	}
	v := make([]byte, len(e.value))
	copy(v, e.value)
	return v, nil
}

// Delete removes key.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kv, key)
	return nil
}

// CompareAndReplace swaps the value under key when it still equals expected.
func (s *MemoryStore) CompareAndReplace(ctx context.Context, key string, expected, replacement []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.kv[key]
	if !ok || !e.expiresAt.After(s.nowF()) {
		delete(s.kv, key)
		return false, nil
	}
	if !bytes.Equal(e.value, expected) {
		return false, nil
	}
	v := make([]byte, len(replacement))
	copy(v, replacement)
	s.kv[key] = entry{value: v, expiresAt: s.nowF().Add(ttl)}
	return true, nil
}

// AddToSet adds member under key and pushes out the whole set's expiry.
func (s *MemoryStore) AddToSet(ctx context.Context, key, member string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]time.Time)
		s.sets[key] = set
	}
	exp := s.nowF().Add(ttl)
	for m := range set {
		set[m] = exp
	}
	set[member] = exp
	return nil
}

// RemoveFromSet removes member from the set under key.
func (s *MemoryStore) RemoveFromSet(ctx context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.sets[key]; ok {
		delete(set, member)
		if len(set) == 0 {
			delete(s.sets, key)
		}
	}
	return nil
}

// SetMembers returns the unexpired members of the set under key.
func (s *MemoryStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		return nil, nil
	}
	now := s.nowF()
	var members []string
	for m, exp := range set {
		if exp.After(now) {
			members = append(members, m)
		} else {
			delete(set, m)
		}
	}
	if len(set) == 0 {
		delete(s.sets, key)
	}
	return members, nil
}
