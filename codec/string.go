package codec

// stringCodec is the simplest codec a guest can use: the wire bytes
// are just the UTF-8 bytes of the string, so Encode/Decode never fail.
type stringCodec struct{}

// String returns the Codec[string] that treats a message's bytes as its
// UTF-8 encoding directly, with no framing of its own.
func String() Codec[string] {
	return stringCodec{}
}

func (stringCodec) Encode(v string) ([]byte, error) {
	return []byte(v), nil
}

func (stringCodec) Decode(b []byte) (string, error) {
	return string(b), nil
}
