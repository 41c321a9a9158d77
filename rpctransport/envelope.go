package rpctransport

import "encoding/base64"

// RawValue carries an opaque byte payload (block data, compressed metadata)
// through the otherwise text-structured (JSON) RPC protocol -- the same job
// the original XML-RPC transport gave its <base64> values (see
// original_source/libukai/ukai_rpc.py's encode/decode pair).
type RawValue string

// Encode wraps an opaque byte slice for transport.
func Encode(b []byte) RawValue {
	return RawValue(base64.StdEncoding.EncodeToString(b))
}

// Decode reverses Encode.
func Decode(v RawValue) ([]byte, error) {
	return base64.StdEncoding.DecodeString(string(v))
}
