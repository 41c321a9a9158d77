package metadata

import "github.com/keiichishima/ukai/cmn"

// Replica is one storage node's copy of a block, and its synchronization
// state relative to the block's other replicas.
type Replica struct {
	Node   string         `json:"node"`
	Status cmn.SyncStatus `json:"sync_status"`
}

// blockEntry is the ordered replica list for one block. It is represented
// as a slice, not a map, so that replica-selection scans (spec §4.4.2's
// "scan replicas in iteration order, prefer local, else keep the last
// non-local in-sync replica") are reproducible from one call to the next --
// a Go map's iteration order is randomized by design, which would make
// spec §8's idempotence/determinism properties flaky by construction.
type blockEntry []Replica

func (be blockEntry) indexOf(node string) int {
	for i := range be {
		if be[i].Node == node {
			return i
		}
	}
	return -1
}

// HypervisorState is a peer hypervisor's metadata-sync status.
type HypervisorState struct {
	SyncStatus cmn.SyncStatus `json:"sync_status"`
}

// record is the wire/on-disk shape of one image's metadata, matching
// spec §3's data model.
type record struct {
	Name        string                      `json:"name"`
	Size        int64                       `json:"size"`
	UsedSize    int64                       `json:"used_size"`
	BlockSize   int64                       `json:"block_size"`
	Blocks      []blockEntry                `json:"blocks"`
	Hypervisors map[string]*HypervisorState `json:"hypervisors"`
}

