package genstore

import (
	"context"
	"sync"
	"time"
)

type localGenEntry struct {
	Gen       uint64
	UpdatedAt time.Time
}

// LocalGenStore keeps drain generations in-process (default).
// An optional cleanup loop prunes long-inactive entries. A pruned key resumes
// above the highest generation ever pruned, so a drain key retained by an
// aborted flush is never reused.
type LocalGenStore struct {
	mu     sync.RWMutex
	gens   map[string]localGenEntry
	floor  uint64 // highest pruned generation
	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

var _ GenStore = (*LocalGenStore)(nil)

func NewLocalGenStore(cleanupInterval, retention time.Duration) *LocalGenStore {
	s := &LocalGenStore{
		gens: make(map[string]localGenEntry),
	}
	if cleanupInterval > 0 && retention > 0 {
		s.ticker = time.NewTicker(cleanupInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.Cleanup(retention)
				case <-s.stopCh:
					return
				}
			}
		}()
	}
	return s
}

func (s *LocalGenStore) Bump(_ context.Context, k string) (uint64, error) {
	now := time.Now()
	s.mu.Lock()
	e, ok := s.gens[k]
	if !ok {
		e.Gen = s.floor
	}
	e.Gen++
	e.UpdatedAt = now
	s.gens[k] = e
	s.mu.Unlock()
	return e.Gen, nil
}

func (s *LocalGenStore) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-retention)

	s.mu.Lock()
	for k, e := range s.gens {
		if !e.UpdatedAt.IsZero() && e.UpdatedAt.Before(cutoff) {
			s.floor = max(s.floor, e.Gen)
			delete(s.gens, k)
		}
	}
	s.mu.Unlock()
}

// Close stops the cleanup loop. Safe to call more than once.
func (s *LocalGenStore) Close(_ context.Context) error {
	s.once.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
			if s.ticker != nil {
				s.ticker.Stop() // stop ticker before waiting
			}
			s.wg.Wait()
		}
	})
	return nil
}
