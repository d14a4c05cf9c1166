// Package memory is an in-process docstore used by tests and examples.
package memory

import (
	"context"
	"sync"

	"github.com/unkn0wn-root/taskcache/docstore"
)

type Store struct {
	mu   sync.Mutex
	cols map[string]*Collection
}

var _ docstore.Store = (*Store)(nil)

func New() *Store {
	return &Store{cols: make(map[string]*Collection)}
}

func (s *Store) Collection(_ context.Context, name string) (docstore.Collection, error) {
	return s.C(name), nil
}

// C returns the concrete collection, creating it when missing.
func (s *Store) C(name string) *Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cols[name]
	if !ok {
		c = &Collection{name: name, docs: make(map[string]docstore.Document)}
		s.cols[name] = c
	}
	return c
}

func (s *Store) Close(context.Context) error { return nil }

// Collection counts writes so callers can assert how much reached the store.
type Collection struct {
	name string

	mu         sync.Mutex
	docs       map[string]docstore.Document
	writes     int
	bulkCalls  int
	failBulk   error
	failUpsert error
}

var _ docstore.Collection = (*Collection)(nil)

func (c *Collection) Name() string { return c.name }

func (c *Collection) FindOne(_ context.Context, f docstore.Filter) (docstore.Document, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.docs[f.UID]
	if !ok || !f.Matches(d) {
		return docstore.Document{}, false, nil
	}
	return copyDoc(d), true, nil
}

func (c *Collection) Upsert(_ context.Context, doc docstore.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failUpsert != nil {
		return c.failUpsert
	}
	c.put(doc)
	return nil
}

func (c *Collection) BulkUpsert(_ context.Context, docs []docstore.Document) (docstore.BulkResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bulkCalls++
	if c.failBulk != nil {
		return docstore.BulkResult{}, c.failBulk
	}
	var res docstore.BulkResult
	for _, d := range docs {
		if c.put(d) {
			res.Upserted++
		}
	}
	return res, nil
}

func (c *Collection) put(d docstore.Document) bool {
	if old, ok := c.docs[d.UID]; ok && docstore.Stale(old, d) {
		return false
	}
	c.docs[d.UID] = copyDoc(d)
	c.writes++
	return true
}

// Get returns the stored document regardless of scope.
func (c *Collection) Get(uid string) (docstore.Document, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.docs[uid]
	return copyDoc(d), ok
}

// Writes is the number of documents written so far.
func (c *Collection) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

// BulkCalls is the number of BulkUpsert calls so far.
func (c *Collection) BulkCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bulkCalls
}

// FailWith makes subsequent Upsert and BulkUpsert calls return err (nil resets).
func (c *Collection) FailWith(err error) {
	c.mu.Lock()
	c.failBulk, c.failUpsert = err, err
	c.mu.Unlock()
}

func copyDoc(d docstore.Document) docstore.Document {
	d.Body = append([]byte(nil), d.Body...)
	return d
}
