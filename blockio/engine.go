// Package blockio implements the data-plane half of a virtual disk: it
// splits a logical (offset, length) byte range into per-block pieces,
// dispatches each piece to the right replica (local file or remote RPC),
// and drives replica synchronization -- spec §5's Block I/O Engine.
package blockio

import (
	"github.com/golang/glog"

	"github.com/keiichishima/ukai/cmn"
	"github.com/keiichishima/ukai/locality"
	"github.com/keiichishima/ukai/metadata"
	"github.com/keiichishima/ukai/rpctransport"
	"github.com/keiichishima/ukai/stats"
)

// Deps bundles an Engine's collaborators.
type Deps struct {
	Config    *cmn.Config
	Transport *rpctransport.Transport
	Oracle    *locality.Oracle
	Observer  stats.Observer
}

// observer returns d.Observer only when the config has block_stats enabled;
// otherwise every event is discarded, regardless of what's wired in.
func (d Deps) observer() stats.Observer {
	if d.Observer == nil || d.Config == nil || !d.Config.BlockStats {
		return stats.Noop{}
	}
	return d.Observer
}

// Engine serves reads and writes for one open image, backed by a
// metadata.Store that tracks where its blocks' replicas live.
type Engine struct {
	deps  Deps
	name  string
	store *metadata.Store
}

// New binds an Engine to an already-created or already-loaded image.
func New(deps Deps, name string, store *metadata.Store) *Engine {
	return &Engine{deps: deps, name: name, store: store}
}

// Read assembles length bytes starting at offset by gathering pieces and
// reading each from whichever replica is best positioned to serve it
// (spec §5: prefer a local in-sync replica, fall back to a remote one).
func (e *Engine) Read(offset, length int64) ([]byte, error) {
	pieces, err := GatherPieces(e.store.BlockSize(), offset, length)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, length)
	for _, p := range pieces {
		if err := e.store.Acquire(p.BlockIdx, p.BlockIdx); err != nil {
			return nil, err
		}
		chunk, err := e.readPiece(p)
		e.store.Release(p.BlockIdx, p.BlockIdx)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
		e.deps.observer().BlockRead(e.name, p.BlockIdx, len(chunk))
	}
	return out, nil
}

func (e *Engine) readPiece(p Piece) ([]byte, error) {
	reps, err := e.store.Replicas(p.BlockIdx)
	if err != nil {
		return nil, err
	}
	src, ok := selectReadSource(reps, e.deps.Oracle)
	if !ok {
		return nil, cmn.NewReplicaUnavailable("image %s block %d has no readable replica", e.name, p.BlockIdx)
	}
	if e.deps.Oracle != nil && e.deps.Oracle.IsLocal(src.Node) {
		return readLocal(e.deps.Config, e.name, p.BlockIdx, p.Offset, p.Length)
	}
	return e.deps.Transport.ReadBlock(src.Node, e.deps.Config.ProxyPort, e.name, int(e.store.BlockSize()), p.BlockIdx, int(p.Offset), int(p.Length))
}

// selectReadSource scans reps in order and returns the last IN_SYNC
// replica seen, preferring a local one over a remote one -- spec §5's
// "prefer local, else keep the last non-local in-sync replica" rule, kept
// deterministic by blockEntry's ordered-slice representation.
func selectReadSource(reps []metadata.Replica, oracle *locality.Oracle) (metadata.Replica, bool) {
	var best metadata.Replica
	found := false
	for _, r := range reps {
		if r.Status != cmn.InSync {
			continue
		}
		if oracle != nil && oracle.IsLocal(r.Node) {
			return r, true
		}
		best = r
		found = true
	}
	return best, found
}

// Write stores data at offset. Per block touched, it first synchronizes
// the block's replicas (so a write never lands only on a stale copy) and
// then writes the new data to every current replica -- the write-after-
// synchronize sequence is deliberate: a block that was just brought into
// sync is immediately written to again here, which looks redundant but
// guarantees every replica, including ones synchronize_block just caught
// up, ends up holding the new data.
func (e *Engine) Write(data []byte, offset int64) (int, error) {
	pieces, err := GatherPieces(e.store.BlockSize(), offset, int64(len(data)))
	if err != nil {
		return 0, err
	}

	written := 0
	pos := int64(0)
	for _, p := range pieces {
		chunk := data[pos : pos+p.Length]
		pos += p.Length

		if err := e.store.Acquire(p.BlockIdx, p.BlockIdx); err != nil {
			return written, err
		}
		n, err := e.writePieceLocked(p, chunk)
		e.store.Release(p.BlockIdx, p.BlockIdx)
		if err != nil {
			return written, err
		}
		written += n
		e.deps.observer().BlockWrite(e.name, p.BlockIdx, n)
	}
	if err := e.store.Flush(); err != nil {
		return written, err
	}
	return written, nil
}

func (e *Engine) writePieceLocked(p Piece, chunk []byte) (int, error) {
	if err := e.synchronizeBlockLocked(p.BlockIdx); err != nil {
		return 0, err
	}

	reps, err := e.store.Replicas(p.BlockIdx)
	if err != nil {
		return 0, err
	}

	n := 0
	wroteAny := false
	for _, r := range reps {
		var werr error
		if e.deps.Oracle != nil && e.deps.Oracle.IsLocal(r.Node) {
			n, werr = writeLocal(e.deps.Config, e.name, p.BlockIdx, p.Offset, chunk)
		} else {
			n, werr = e.deps.Transport.WriteBlock(r.Node, e.deps.Config.ProxyPort, e.name, int(e.store.BlockSize()), p.BlockIdx, int(p.Offset), chunk)
		}
		if werr != nil {
			glog.Warningf("blockio: write %s block %d to %s failed, marking OUT_OF_SYNC: %v", e.name, p.BlockIdx, r.Node, werr)
			e.store.SetSyncStatus(p.BlockIdx, r.Node, cmn.OutOfSync)
			continue
		}
		wroteAny = true
	}
	if !wroteAny {
		return 0, cmn.NewReplicaUnavailable("image %s block %d: write failed on every replica", e.name, p.BlockIdx)
	}
	return n, nil
}

// SynchronizeBlock brings every OUT_OF_SYNC replica of blkIdx up to date
// from the best available source, per spec §5.
func (e *Engine) SynchronizeBlock(blkIdx int) error {
	if err := e.store.Acquire(blkIdx, blkIdx); err != nil {
		return err
	}
	err := e.synchronizeBlockLocked(blkIdx)
	e.store.Release(blkIdx, blkIdx)
	if err != nil {
		return err
	}
	return e.store.Flush()
}

// synchronizeBlockLocked assumes the caller already holds blkIdx's lock.
func (e *Engine) synchronizeBlockLocked(blkIdx int) error {
	reps, err := e.store.Replicas(blkIdx)
	if err != nil {
		return err
	}

	var stale []metadata.Replica
	for _, r := range reps {
		if r.Status == cmn.OutOfSync {
			stale = append(stale, r)
		}
	}
	if len(stale) == 0 {
		return nil
	}

	src, ok := selectReadSource(reps, e.deps.Oracle)
	if !ok {
		return cmn.NewReplicaUnavailable("image %s block %d has no IN_SYNC source to synchronize from", e.name, blkIdx)
	}

	blockSize := e.store.BlockSize()
	data, err := e.readFrom(src, blkIdx, 0, blockSize)
	if err != nil {
		return err
	}

	for _, r := range stale {
		if err := e.AllocateDataspace(r.Node, blkIdx); err != nil {
			glog.Warningf("blockio: allocate %s block %d on %s failed: %v", e.name, blkIdx, r.Node, err)
			continue
		}
		if err := e.writeTo(r, blkIdx, 0, data); err != nil {
			glog.Warningf("blockio: synchronize %s block %d to %s failed: %v", e.name, blkIdx, r.Node, err)
			continue
		}
		e.store.SetSyncStatus(blkIdx, r.Node, cmn.InSync)
		e.deps.observer().BlockSynced(e.name, blkIdx)
	}
	return nil
}

func (e *Engine) readFrom(r metadata.Replica, blkIdx int, offset, length int64) ([]byte, error) {
	if e.deps.Oracle != nil && e.deps.Oracle.IsLocal(r.Node) {
		return readLocal(e.deps.Config, e.name, blkIdx, offset, length)
	}
	return e.deps.Transport.ReadBlock(r.Node, e.deps.Config.ProxyPort, e.name, int(e.store.BlockSize()), blkIdx, int(offset), int(length))
}

func (e *Engine) writeTo(r metadata.Replica, blkIdx int, offset int64, data []byte) error {
	if e.deps.Oracle != nil && e.deps.Oracle.IsLocal(r.Node) {
		_, err := writeLocal(e.deps.Config, e.name, blkIdx, offset, data)
		return err
	}
	_, err := e.deps.Transport.WriteBlock(r.Node, e.deps.Config.ProxyPort, e.name, int(e.store.BlockSize()), blkIdx, int(offset), data)
	return err
}

// AllocateDataspace creates blkIdx's backing storage at node: a local
// sparse file if node is this host, otherwise a remote
// allocate_dataspace RPC.
func (e *Engine) AllocateDataspace(node string, blkIdx int) error {
	if e.deps.Oracle != nil && e.deps.Oracle.IsLocal(node) {
		return allocateLocal(e.deps.Config, e.name, blkIdx, e.store.BlockSize())
	}
	return e.deps.Transport.AllocateDataspace(node, e.deps.Config.ProxyPort, e.name, int(e.store.BlockSize()), blkIdx)
}
