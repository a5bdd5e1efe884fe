// Package codec implements the boundary-crossing value serialization: a
// binary encoding of whatever Input/Output types a host and guest agree on,
// carrying no framing of its own (each value's length travels as the len
// half of the ABI's (ptr, len) pair), deterministic in the sense
// that equal logical values always serialize to equal byte sequences. There
// is no schema negotiation — a mismatched schema is a programming error
// that surfaces as a decode failure at first use.
package codec

// Codec converts values of T to and from the bytes that cross the host<->
// guest boundary. Both ends of a wasmbox instance must agree on the same
// Codec for a given Input/Output type; the codec itself never negotiates.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(b []byte) (T, error)
}
