package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version    byte = 1
	KindCache  byte = 1 // fast-read snapshot key
	KindStaged byte = 2 // staged-write hash entry

	hdrLen = 4 + 1 + 1 + 1 + 8 + 4
)

var (
	ErrCorrupt = errors.New("taskcache: corrupt snapshot frame")
	magic4     = [...]byte{'T', 'C', 'S', 'N'}
)

// Snapshot is a decoded frame. Payload aliases the input buffer.
type Snapshot struct {
	Kind    byte
	Codec   byte
	SavedAt time.Time
	Payload []byte
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// EncodeSnapshot frames an encoded entity:
//
//	magic(4) | ver(1) | kind(1) | codec(1) | savedAt(i64 be, unix nanos) | vlen(u32 be) | payload(vlen)
func EncodeSnapshot(kind, codecID byte, savedAt time.Time, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(hdrLen + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kind)
	buf.WriteByte(codecID)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], uint64(savedAt.UnixNano()))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// DecodeSnapshot validates the frame strictly: trailing bytes are corruption.
func DecodeSnapshot(b []byte) (Snapshot, error) {
	if len(b) < hdrLen || !hasMagic(b) || b[4] != version {
		return Snapshot{}, ErrCorrupt
	}
	kind := b[5]
	if kind != KindCache && kind != KindStaged {
		return Snapshot{}, ErrCorrupt
	}
	off := 7
	nanos := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off { // overflow-safe, exact length
		return Snapshot{}, ErrCorrupt
	}

	return Snapshot{
		Kind:    kind,
		Codec:   b[6],
		SavedAt: time.Unix(0, nanos),
		Payload: b[off : off+vlen],
	}, nil
}
