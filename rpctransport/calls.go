package rpctransport

import (
	"encoding/json"

	"github.com/keiichishima/ukai/cmn"
)

// The following typed wrappers are the node-storage and peer-hypervisor RPC
// methods spec §6 enumerates. They exist so that blockio and metadata never
// hand-assemble the wire params themselves.

// ReadBlock calls the node-storage "read" method.
func (t *Transport) ReadBlock(server string, port int, name string, blockSize, blkIdx, offset, length int) ([]byte, error) {
	raw, err := t.Call(server, port, "read", name, blockSize, blkIdx, offset, length)
	if err != nil {
		return nil, err
	}
	var enveloped RawValue
	if err := json.Unmarshal(raw, &enveloped); err != nil {
		return nil, cmn.NewTransportError("read %s block %d: decode envelope: %v", name, blkIdx, err)
	}
	return Decode(enveloped)
}

// WriteBlock calls the node-storage "write" method, returning the number of
// bytes the peer reports having written.
func (t *Transport) WriteBlock(server string, port int, name string, blockSize, blkIdx, offset int, data []byte) (int, error) {
	raw, err := t.Call(server, port, "write", name, blockSize, blkIdx, offset, Encode(data))
	if err != nil {
		return 0, err
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, cmn.NewTransportError("write %s block %d: decode result: %v", name, blkIdx, err)
	}
	return n, nil
}

// AllocateDataspace calls the node-storage "allocate_dataspace" method.
func (t *Transport) AllocateDataspace(server string, port int, name string, blockSize, blkIdx int) error {
	_, err := t.Call(server, port, "allocate_dataspace", name, blockSize, blkIdx)
	return err
}

// ProxyUpdateMetadata calls the peer-hypervisor "proxy_update_metadata"
// method with the compressed, enveloped image record.
func (t *Transport) ProxyUpdateMetadata(server string, port int, name string, payload []byte) error {
	_, err := t.Call(server, port, "proxy_update_metadata", name, Encode(payload))
	return err
}
