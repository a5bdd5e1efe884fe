package codec

import (
	jsoniter "github.com/json-iterator/go"
)

// jsonAPI is configured compatible with encoding/json: map keys sort, and
// number formatting matches the standard library, so two equal values always
// produce the same bytes regardless of field insertion order in the caller's
// own code.
var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

type jsonCodec[T any] struct{}

// JSON returns a Codec[T] for guests whose Input/Output aren't bare strings.
// Backed by json-iterator/go rather than encoding/json purely for
// consistency with the rest of this module's dependency stack; the wire
// format and determinism guarantees are the standard library's.
func JSON[T any]() Codec[T] {
	return jsonCodec[T]{}
}

func (jsonCodec[T]) Encode(v T) ([]byte, error) {
	return jsonAPI.Marshal(v)
}

func (jsonCodec[T]) Decode(b []byte) (T, error) {
	var v T
	err := jsonAPI.Unmarshal(b, &v)
	return v, err
}
