package codec

import "encoding/json"

// JSON encodes with encoding/json. Snapshots written with JSON are also what the
// webhook body is built from, so JSON is the usual choice.
type JSON[V any] struct{}

var _ Codec[struct{}] = JSON[struct{}]{}

func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }
func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	err := json.Unmarshal(b, &v)
	return v, err
}
func (JSON[V]) ID() byte { return IDJSON }
