// Package docstore defines the durable system of record consumed by taskcache.
//
// A Collection holds one entity type. Documents are keyed by uid and written
// with full-replace upserts, so replaying a drain is harmless.
package docstore

import (
	"context"
	"time"
)

// Document is one stored entity. Body is the codec-encoded entity; the other
// fields are projections used for lookups.
type Document struct {
	UID          string
	UserID       string
	BusinessName string
	Deleted      bool
	TaskStatus   string
	Body         []byte
	UpdatedAt    time.Time
}

// Filter selects a document by uid within an owner/tenant scope.
type Filter struct {
	UID string
	// UserID restricts to one owner; empty matches any owner.
	UserID string
	// BusinessName is always compared, empty included.
	BusinessName   string
	IncludeDeleted bool
}

// Matches reports whether d satisfies f.
func (f Filter) Matches(d Document) bool {
	if d.UID != f.UID || d.BusinessName != f.BusinessName {
		return false
	}
	if f.UserID != "" && d.UserID != f.UserID {
		return false
	}
	return f.IncludeDeleted || !d.Deleted
}

type BulkResult struct {
	Upserted int // documents written; stale ones are not counted
}

// Collection writes are conditional on UpdatedAt: a document never replaces
// a stored one with a later UpdatedAt. Equal times replace.
type Collection interface {
	Name() string
	FindOne(ctx context.Context, f Filter) (Document, bool, error)
	// Upsert replaces the document with the same uid, inserting when absent.
	Upsert(ctx context.Context, doc Document) error
	// BulkUpsert applies every upsert in one round of work (one transaction
	// for SQL stores). Either all documents are written or none.
	BulkUpsert(ctx context.Context, docs []Document) (BulkResult, error)
}

// Stale reports whether incoming is older than stored and must be dropped.
func Stale(stored, incoming Document) bool {
	return stored.UpdatedAt.After(incoming.UpdatedAt)
}

type Store interface {
	Collection(ctx context.Context, name string) (Collection, error)
	Close(ctx context.Context) error
}
