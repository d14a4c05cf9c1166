package main

import (
	"github.com/google/uuid"

	"github.com/unkn0wn-root/taskcache"
	"github.com/unkn0wn-root/taskcache/codec"
)

// rawEntity is a staged entity of any type, decoded as a plain map. The
// daemon only needs the uid and scope fields to build documents.
type rawEntity map[string]any

var _ taskcache.Entity = rawEntity(nil)

func (e rawEntity) EntityUID() string { return idString(e["uid"]) }
func (e rawEntity) OwnerID() string   { return idString(e["user_id"]) }

func (e rawEntity) TenantID() string {
	s, _ := e["business_name"].(string)
	return s
}

func (e rawEntity) Deleted() bool {
	b, _ := e["is_deleted"].(bool)
	return b
}

// Task exposes task_status so terminal entries keep their status projection.
func (e rawEntity) Task() *taskcache.TaskState {
	s, ok := e["task_status"].(string)
	if !ok {
		return nil
	}
	return &taskcache.TaskState{Status: taskcache.Status(s)}
}

// idString accepts the string form (JSON) and the 16-byte form (msgpack, cbor).
func idString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		if id, err := uuid.FromBytes(x); err == nil {
			if id == uuid.Nil {
				return ""
			}
			return id.String()
		}
	case []any:
		if len(x) == 16 {
			var b [16]byte
			for i, n := range x {
				u, ok := toByte(n)
				if !ok {
					return ""
				}
				b[i] = u
			}
			if uuid.UUID(b) == uuid.Nil {
				return ""
			}
			return uuid.UUID(b).String()
		}
	}
	return ""
}

func toByte(v any) (byte, bool) {
	switch n := v.(type) {
	case int8:
		return byte(n), true
	case int16:
		return byte(n), true
	case int32:
		return byte(n), true
	case int64:
		return byte(n), true
	case uint8:
		return n, true
	case uint16:
		return byte(n), true
	case uint32:
		return byte(n), true
	case uint64:
		return byte(n), true
	}
	return 0, false
}

// codecFor returns the named codec, size-limited when maxDecode > 0.
func codecFor(name string, maxDecode int) (codec.Codec[rawEntity], error) {
	var inner codec.Codec[rawEntity]
	switch name {
	case "msgpack":
		inner = codec.Msgpack[rawEntity]{}
	case "cbor":
		cb, err := codec.NewCBOR[rawEntity](false)
		if err != nil {
			return nil, err
		}
		inner = cb
	default:
		inner = codec.JSON[rawEntity]{}
	}
	if maxDecode > 0 {
		return codec.Limit[rawEntity]{Inner: inner, MaxDecode: maxDecode}, nil
	}
	return inner, nil
}
