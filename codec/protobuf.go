package codec

import "google.golang.org/protobuf/proto"

// Protobuf encodes proto messages. Entities generated from .proto files can be
// cached with it directly.
type Protobuf[T proto.Message] struct {
	new func() T // constructor for a concrete message (e.g., func() *jobpb.Job { return &jobpb.Job{} })
}

func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	return Protobuf[T]{new: ctor}
}

func (c Protobuf[T]) Encode(v T) ([]byte, error) {
	return proto.Marshal(v)
}
func (c Protobuf[T]) Decode(b []byte) (T, error) {
	m := c.new()
	err := proto.Unmarshal(b, m)
	return m, err
}
func (Protobuf[T]) ID() byte { return IDProtobuf }
