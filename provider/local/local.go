// Package local is an in-process provider.Provider and provider.HashStore.
// It suits single-process deployments and tests; nothing survives a restart.
package local

import (
	"context"
	"sync"
	"time"

	pr "github.com/unkn0wn-root/taskcache/provider"
)

type entry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

// Store keeps values and hashes in maps guarded by one mutex, which also makes
// Rename atomic with respect to HSet.
type Store struct {
	mu     sync.Mutex
	kv     map[string]entry
	hashes map[string]map[string][]byte
	now    func() time.Time
}

var (
	_ pr.Provider  = (*Store)(nil)
	_ pr.HashStore = (*Store)(nil)
)

func New() *Store {
	return &Store{
		kv:     make(map[string]entry),
		hashes: make(map[string]map[string][]byte),
		now:    time.Now,
	}
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.kv[key]
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && s.now().After(e.exp) {
		delete(s.kv, key)
		return nil, false, nil
	}
	return clone(e.v), true, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	var exp time.Time
	if ttl > 0 {
		exp = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.kv[key] = entry{v: clone(value), exp: exp}
	s.mu.Unlock()
	return true, nil
}

func (s *Store) Del(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.kv, key)
	s.mu.Unlock()
	return nil
}

func (s *Store) HSet(_ context.Context, key, field string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string][]byte)
		s.hashes[key] = h
	}
	h[field] = clone(value)
	return nil
}

func (s *Store) HExists(_ context.Context, key, field string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.hashes[key][field]
	return ok, nil
}

func (s *Store) HDel(_ context.Context, key, field string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[key]
	if !ok {
		return nil
	}
	delete(h, field)
	if len(h) == 0 {
		delete(s.hashes, key) // redis drops empty hashes too
	}
	return nil
}

func (s *Store) HGetAll(_ context.Context, key string) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.hashes[key]
	out := make(map[string][]byte, len(h))
	for f, v := range h {
		out[f] = clone(v)
	}
	return out, nil
}

func (s *Store) Rename(_ context.Context, src, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[src]
	if !ok {
		return pr.ErrNoSuchKey
	}
	delete(s.hashes, src)
	s.hashes[dst] = h
	return nil
}

func (s *Store) DelHash(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.hashes, key)
	s.mu.Unlock()
	return nil
}

// HashKeys lists hash keys currently held. Intended for tests and debugging.
func (s *Store) HashKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.hashes))
	for k := range s.hashes {
		out = append(out, k)
	}
	return out
}

func (s *Store) Close(context.Context) error { return nil }

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
