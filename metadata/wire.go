package metadata

import (
	"bytes"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// marshalRecord renders a record as the self-describing JSON tree spec §4.2
// calls for. This is what gets persisted to the backend, uncompressed --
// compression is specific to the broadcast path (see compressForBroadcast),
// not to the backend, which is free to compress or not on its own terms.
func marshalRecord(r *record) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "metadata: marshal record")
	}
	return b, nil
}

func unmarshalRecord(b []byte) (*record, error) {
	var r record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, errors.Wrap(err, "metadata: unmarshal record")
	}
	return &r, nil
}

// compressForBroadcast lz4-compresses an already-marshaled record, ready to
// be wrapped in the RPC transport's opaque-bytes envelope -- spec §4.2's
// "compressed-and-enveloped serialization".
func compressForBroadcast(plain []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(plain); err != nil {
		return nil, errors.Wrap(err, "metadata: compress record")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "metadata: close lz4 writer")
	}
	return buf.Bytes(), nil
}

// decompressBroadcast reverses compressForBroadcast. A receiving peer calls
// this (then unmarshalRecord) to reconstruct an identical record from a
// proxy_update_metadata payload.
func decompressBroadcast(compressed []byte) ([]byte, error) {
	zr := lz4.NewReader(bytes.NewReader(compressed))
	plain, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.Wrap(err, "metadata: decompress record")
	}
	return plain, nil
}
