package metadata

import (
	"sync"

	"github.com/keiichishima/ukai/cmn"
)

// blockTable couples the block-replica slice to its per-block lock array so
// the two can never diverge in length -- see spec §9 ("Lock array / block
// array coupling"). The source mutates its blocks list independently of its
// lock list on add_location, leaving the lock array sized once at
// construction; this type makes that impossible by construction: the only
// way to obtain a blockTable is newBlockTable, and nothing in this package
// appends to or truncates blocks or locks afterward -- an image's block
// count is fixed for its lifetime (spec has no resize operation; thin
// provisioning is an explicit Non-goal).
type blockTable struct {
	blocks []blockEntry
	locks  []sync.Mutex
}

func newBlockTable(blocks []blockEntry) *blockTable {
	return &blockTable{
		blocks: blocks,
		locks:  make([]sync.Mutex, len(blocks)),
	}
}

func (bt *blockTable) Len() int {
	cmn.Assert(len(bt.blocks) == len(bt.locks))
	return len(bt.blocks)
}

// resolveRange validates and normalizes [start, end] the way spec §4.2
// describes: end == -1 means "through the last block".
func (bt *blockTable) resolveRange(start, end int) (int, int, error) {
	n := bt.Len()
	if end == -1 {
		end = n - 1
	}
	if start < 0 || end < start || end >= n {
		return 0, 0, cmn.NewInvalidGeometry("block range [%d,%d] invalid for %d blocks", start, end, n)
	}
	return start, end, nil
}

// lockRange acquires locks [start, end] in ascending order -- acquiring
// always in ascending order prevents deadlock with any other caller that
// respects the same order (spec §4.2, §5).
func (bt *blockTable) lockRange(start, end int) {
	for i := start; i <= end; i++ {
		bt.locks[i].Lock()
	}
}

// unlockRange releases locks [start, end]. Release order does not matter
// (spec §5: "release in any order").
func (bt *blockTable) unlockRange(start, end int) {
	for i := start; i <= end; i++ {
		bt.locks[i].Unlock()
	}
}

func (bt *blockTable) lockOne(i int) {
	bt.locks[i].Lock()
}

func (bt *blockTable) unlockOne(i int) {
	bt.locks[i].Unlock()
}
