// Package metadata implements the in-memory authoritative description of
// one virtual-disk image -- its placement, per-replica sync state, and the
// set of participating hypervisors -- with the block-range locking,
// persistence and broadcast behavior spec §4.2 describes.
package metadata

import (
	"sync"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/keiichishima/ukai/cmn"
	"github.com/keiichishima/ukai/kvstore"
	"github.com/keiichishima/ukai/locality"
	"github.com/keiichishima/ukai/rpctransport"
	"github.com/keiichishima/ukai/stats"
)

// Deps bundles the collaborators a Store needs: the persistence backend,
// the RPC transport used to fan metadata out to peer hypervisors, the
// locality oracle used to skip broadcasting to itself, and the
// configuration that names the core_port peers listen on. Observer is
// optional; a nil Observer is replaced by stats.Noop{}.
type Deps struct {
	Config    *cmn.Config
	Backend   kvstore.Backend
	Transport *rpctransport.Transport
	Oracle    *locality.Oracle
	Observer  stats.Observer
}

func (d Deps) observer() stats.Observer {
	if d.Observer == nil {
		return stats.Noop{}
	}
	return d.Observer
}

// Store owns one image's metadata record. Each running host owns exactly
// one in-memory Store per image it has opened; peer hosts hold shadow
// copies refreshed by broadcast (spec §3's "Ownership").
type Store struct {
	deps Deps

	// hvMtx guards the hypervisor set and the record's scalar fields
	// (UsedSize). Block contents are guarded by bt's per-block locks, not
	// by hvMtx -- the two are deliberately independent so that a
	// hypervisor-set mutation never blocks on in-flight block I/O.
	hvMtx sync.Mutex
	rec   *record
	bt    *blockTable
}

// Create produces the initial record described by spec §3: size/block_size
// blocks, each with exactly one replica (initialLocation) marked IN_SYNC,
// and a hypervisor set containing initialHypervisor marked IN_SYNC. The
// record is then persisted and broadcast (a no-op broadcast here, since a
// freshly created image has no other hypervisor yet to notify).
func Create(deps Deps, name string, size, blockSize int64, initialLocation, initialHypervisor string) (*Store, error) {
	if size <= 0 {
		return nil, cmn.NewInvalidGeometry("size must be positive, got %d", size)
	}
	if blockSize <= 0 {
		return nil, cmn.NewInvalidGeometry("block_size must be positive, got %d", blockSize)
	}
	if size%blockSize != 0 {
		return nil, cmn.NewInvalidGeometry("size %d is not a multiple of block_size %d", size, blockSize)
	}

	nblocks := int(size / blockSize)
	blocks := make([]blockEntry, nblocks)
	for i := range blocks {
		blocks[i] = blockEntry{{Node: initialLocation, Status: cmn.InSync}}
	}

	rec := &record{
		Name:      name,
		Size:      size,
		UsedSize:  size,
		BlockSize: blockSize,
		Blocks:    blocks,
		Hypervisors: map[string]*HypervisorState{
			initialHypervisor: {SyncStatus: cmn.InSync},
		},
	}

	s := &Store{
		deps: deps,
		rec:  rec,
		bt:   newBlockTable(blocks),
	}

	if err := s.Flush(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads an existing record from the persistence backend.
func Load(deps Deps, name string) (*Store, error) {
	raw, err := deps.Backend.GetMetadata(name)
	if err != nil {
		return nil, err
	}
	rec, err := unmarshalRecord(raw)
	if err != nil {
		return nil, cmn.NewPersistenceFailure("load %s: %v", name, err)
	}
	return &Store{
		deps: deps,
		rec:  rec,
		bt:   newBlockTable(rec.Blocks),
	}, nil
}

// Delete removes an image's metadata from the persistence backend. Per
// spec §4.2, broadcast is not required: peers discover the deletion via a
// failed lookup on their next access.
func Delete(backend kvstore.Backend, name string) error {
	return backend.DeleteMetadata(name)
}

// -- basic accessors --

func (s *Store) Name() string       { return s.rec.Name }
func (s *Store) Size() int64        { return s.rec.Size }
func (s *Store) BlockSize() int64   { return s.rec.BlockSize }
func (s *Store) NBlocks() int       { return s.bt.Len() }

func (s *Store) UsedSize() int64 {
	s.hvMtx.Lock()
	defer s.hvMtx.Unlock()
	return s.rec.UsedSize
}

func (s *Store) SetUsedSize(n int64) {
	s.hvMtx.Lock()
	defer s.hvMtx.Unlock()
	s.rec.UsedSize = n
}

// Hypervisors returns a snapshot of the current hypervisor set.
func (s *Store) Hypervisors() map[string]cmn.SyncStatus {
	s.hvMtx.Lock()
	defer s.hvMtx.Unlock()
	out := make(map[string]cmn.SyncStatus, len(s.rec.Hypervisors))
	for hv, st := range s.rec.Hypervisors {
		out[hv] = st.SyncStatus
	}
	return out
}

// Replicas returns a snapshot of block blkIdx's replica list, in scan
// order. It takes no block lock itself: callers that need a consistent view
// should wrap the call in Acquire/Release.
func (s *Store) Replicas(blkIdx int) ([]Replica, error) {
	if blkIdx < 0 || blkIdx >= s.bt.Len() {
		return nil, cmn.NewInvalidGeometry("block index %d out of range", blkIdx)
	}
	out := make([]Replica, len(s.bt.blocks[blkIdx]))
	copy(out, s.bt.blocks[blkIdx])
	return out, nil
}

// -- locking --

// Acquire locks all per-block locks in [start, end] in ascending order.
// end == -1 means "through the last block". Release is the caller's
// responsibility on every exit path.
func (s *Store) Acquire(start, end int) error {
	start, end, err := s.bt.resolveRange(start, end)
	if err != nil {
		return err
	}
	s.bt.lockRange(start, end)
	return nil
}

// Release unlocks a range previously locked with Acquire. The range must
// match exactly; this is not re-entrant.
func (s *Store) Release(start, end int) error {
	start, end, err := s.bt.resolveRange(start, end)
	if err != nil {
		return err
	}
	s.bt.unlockRange(start, end)
	return nil
}

// -- sync status --

func (s *Store) SetSyncStatus(blkIdx int, node string, status cmn.SyncStatus) error {
	if blkIdx < 0 || blkIdx >= s.bt.Len() {
		return cmn.NewInvalidGeometry("block index %d out of range", blkIdx)
	}
	entry := s.bt.blocks[blkIdx]
	i := entry.indexOf(node)
	if i < 0 {
		return cmn.NewNotFound("node %s not a replica of block %d", node, blkIdx)
	}
	entry[i].Status = status
	return nil
}

func (s *Store) GetSyncStatus(blkIdx int, node string) (cmn.SyncStatus, error) {
	if blkIdx < 0 || blkIdx >= s.bt.Len() {
		return 0, cmn.NewInvalidGeometry("block index %d out of range", blkIdx)
	}
	entry := s.bt.blocks[blkIdx]
	i := entry.indexOf(node)
	if i < 0 {
		return 0, cmn.NewNotFound("node %s not a replica of block %d", node, blkIdx)
	}
	return entry[i].Status, nil
}

// -- location (replica) management --

// AddLocation inserts node into every block in [start, end] that doesn't
// already have it, with the given initial status (default OUT_OF_SYNC, per
// spec §4.2) if none is supplied.
func (s *Store) AddLocation(node string, start, end int, status ...cmn.SyncStatus) error {
	st := cmn.OutOfSync
	if len(status) > 0 {
		st = status[0]
	}

	start, end, err := s.bt.resolveRange(start, end)
	if err != nil {
		return err
	}

	s.bt.lockRange(start, end)
	for i := start; i <= end; i++ {
		if s.bt.blocks[i].indexOf(node) < 0 {
			s.bt.blocks[i] = append(s.bt.blocks[i], Replica{Node: node, Status: st})
		}
	}
	s.bt.unlockRange(start, end)

	return s.Flush()
}

// RemoveLocation deletes node from every block in [start, end], unless
// doing so would leave the block with no IN_SYNC replica -- that block's
// removal is skipped and a diagnostic emitted (spec §3's invariant, §4.2).
func (s *Store) RemoveLocation(node string, start, end int) error {
	start, end, err := s.bt.resolveRange(start, end)
	if err != nil {
		return err
	}

	s.bt.lockRange(start, end)
	for i := start; i <= end; i++ {
		entry := s.bt.blocks[i]
		idx := entry.indexOf(node)
		if idx < 0 {
			continue
		}
		hasOtherInSync := false
		for j, r := range entry {
			if j == idx {
				continue
			}
			if r.Status == cmn.InSync {
				hasOtherInSync = true
				break
			}
		}
		if !hasOtherInSync {
			glog.Warningf("metadata: block %d of %s has no other IN_SYNC replica, skipping removal of %s", i, s.rec.Name, node)
			continue
		}
		s.bt.blocks[i] = append(entry[:idx], entry[idx+1:]...)
	}
	s.bt.unlockRange(start, end)

	return s.Flush()
}

// -- hypervisor management --

func (s *Store) AddHypervisor(hv string) error {
	s.hvMtx.Lock()
	if _, ok := s.rec.Hypervisors[hv]; !ok {
		s.rec.Hypervisors[hv] = &HypervisorState{SyncStatus: cmn.OutOfSync}
	}
	s.hvMtx.Unlock()
	return s.Flush()
}

func (s *Store) RemoveHypervisor(hv string) error {
	s.hvMtx.Lock()
	delete(s.rec.Hypervisors, hv)
	s.hvMtx.Unlock()
	return s.Flush()
}

// -- flush --

// Flush is the atomic publish spec §4.2 describes: persist the full record,
// then fan it out to every peer hypervisor that isn't the local node.
// Flush takes the entire block-lock range for the duration (it is not
// re-entrant: callers must not already hold a subset). Flush itself never
// fails due to a broadcast failure -- only a persistence failure is
// returned; per-peer RPC failures are absorbed into that peer's sync
// status.
func (s *Store) Flush() error {
	if err := s.Acquire(0, -1); err != nil {
		return err
	}
	defer s.Release(0, -1)

	s.hvMtx.Lock()
	plain, err := marshalRecord(s.rec)
	s.hvMtx.Unlock()
	if err != nil {
		return cmn.NewPersistenceFailure("marshal %s: %v", s.rec.Name, err)
	}
	if err := s.deps.Backend.PutMetadata(s.rec.Name, plain); err != nil {
		return cmn.NewPersistenceFailure("persist %s: %v", s.rec.Name, err)
	}

	s.broadcast(plain)
	return nil
}

// broadcast fans the just-persisted record out to every peer hypervisor.
// The recipient list comes from Backend.GetReaders, not directly from the
// in-memory hypervisor map, matching spec §6: the backend is the decision
// point for "who reads this image", the same way ukai_metadata.py's
// flush() asks ukai_db_client.get_readers(self.name) rather than trusting
// its own in-process state.
func (s *Store) broadcast(plain []byte) {
	if s.deps.Transport == nil || s.deps.Oracle == nil {
		// No transport/oracle wired (e.g. a standalone, single-host test
		// harness): nothing to fan out to.
		return
	}

	readers, err := s.deps.Backend.GetReaders(s.rec.Name)
	if err != nil {
		glog.Errorf("metadata: get readers for %s: %v", s.rec.Name, err)
		return
	}

	compressed, err := compressForBroadcast(plain)
	if err != nil {
		glog.Errorf("metadata: compress %s for broadcast: %v", s.rec.Name, err)
		return
	}

	peers := make([]string, 0, len(readers))
	for _, hv := range readers {
		if s.deps.Oracle.IsLocal(hv) {
			continue
		}
		peers = append(peers, hv)
	}

	for _, hv := range peers {
		s.hvMtx.Lock()
		if st, ok := s.rec.Hypervisors[hv]; ok {
			st.SyncStatus = cmn.InSync
		}
		s.hvMtx.Unlock()

		err := s.deps.Transport.ProxyUpdateMetadata(hv, s.deps.Config.CorePort, s.rec.Name, compressed)
		if err != nil {
			glog.Warningf("metadata: failed to update metadata at %s for %s (you cannot migrate a virtual machine there): %v", hv, s.rec.Name, err)
			s.hvMtx.Lock()
			if st, ok := s.rec.Hypervisors[hv]; ok {
				st.SyncStatus = cmn.OutOfSync
			}
			s.hvMtx.Unlock()
		}
	}
}

// ApplyRemoteUpdate reconstructs a record from the compressed bytes carried
// by a proxy_update_metadata call and returns a new Store holding it. A host
// receiving a broadcast (the shadow-copy side of spec §3's "Ownership")
// calls this instead of Create/Load.
func ApplyRemoteUpdate(deps Deps, compressed []byte) (*Store, error) {
	plain, err := decompressBroadcast(compressed)
	if err != nil {
		return nil, errors.Wrap(err, "metadata: apply remote update")
	}
	rec, err := unmarshalRecord(plain)
	if err != nil {
		return nil, errors.Wrap(err, "metadata: apply remote update")
	}
	return &Store{
		deps: deps,
		rec:  rec,
		bt:   newBlockTable(rec.Blocks),
	}, nil
}
