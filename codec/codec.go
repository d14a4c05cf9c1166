// Package codec converts entity snapshots to and from bytes.
//
// Every codec reports a one-byte ID that taskcache writes into the snapshot
// frame. A reader whose codec ID differs from the frame's treats the entry as
// foreign and self-heals, so switching codecs on a live cache is safe.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
	ID() byte
}

// Reserved codec IDs. Custom codecs should use values >= 64.
const (
	IDBytes    byte = 1
	IDString   byte = 2
	IDJSON     byte = 3
	IDCBOR     byte = 4
	IDMsgpack  byte = 5
	IDProtobuf byte = 6
)
