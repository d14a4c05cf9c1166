package taskcache

import (
	"time"

	"github.com/google/uuid"
)

// Entity is a persisted record addressable by uid and scoped by owner and tenant.
type Entity interface {
	EntityUID() string
	OwnerID() string
	TenantID() string
	Deleted() bool
}

// Base carries the fields every stored entity has. Embed it by value.
type Base struct {
	UID          uuid.UUID      `json:"uid" msgpack:"uid" cbor:"uid"`
	UserID       uuid.UUID      `json:"user_id" msgpack:"user_id" cbor:"user_id"`
	BusinessName string         `json:"business_name" msgpack:"business_name" cbor:"business_name"`
	MetaData     map[string]any `json:"meta_data,omitempty" msgpack:"meta_data,omitempty" cbor:"meta_data,omitempty"`
	CreatedAt    time.Time      `json:"created_at" msgpack:"created_at" cbor:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" msgpack:"updated_at" cbor:"updated_at"`
	IsDeleted    bool           `json:"is_deleted" msgpack:"is_deleted" cbor:"is_deleted"`
}

// NewBase returns a Base with a fresh random uid.
func NewBase(userID uuid.UUID, businessName string) Base {
	now := time.Now()
	return Base{
		UID:          uuid.New(),
		UserID:       userID,
		BusinessName: businessName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (b *Base) EntityUID() string { return b.UID.String() }

func (b *Base) OwnerID() string {
	if b.UserID == uuid.Nil {
		return ""
	}
	return b.UserID.String()
}

func (b *Base) TenantID() string { return b.BusinessName }
func (b *Base) Deleted() bool    { return b.IsDeleted }

// Meta returns the metadata map, creating it on first use.
func (b *Base) Meta() map[string]any {
	if b.MetaData == nil {
		b.MetaData = make(map[string]any)
	}
	return b.MetaData
}

func (b *Base) touch(now time.Time) {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
}

// toucher is satisfied by entities embedding Base.
type toucher interface{ touch(time.Time) }
