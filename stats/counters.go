package stats

import "sync/atomic"

// Counters is a minimal atomic-counter Observer: total reads, writes and
// syncs, plus bytes moved. It keeps no per-image or per-block breakdown --
// that belongs to the external accounting system spec §1 calls out as an
// explicit Non-goal; this is meant for standalone runs and tests only.
type Counters struct {
	reads      int64
	writes     int64
	syncs      int64
	readBytes  int64
	writeBytes int64
}

func NewCounters() *Counters {
	return &Counters{}
}

func (c *Counters) BlockRead(_ string, _ int, n int) {
	atomic.AddInt64(&c.reads, 1)
	atomic.AddInt64(&c.readBytes, int64(n))
}

func (c *Counters) BlockWrite(_ string, _ int, n int) {
	atomic.AddInt64(&c.writes, 1)
	atomic.AddInt64(&c.writeBytes, int64(n))
}

func (c *Counters) BlockSynced(_ string, _ int) {
	atomic.AddInt64(&c.syncs, 1)
}

func (c *Counters) Reads() int64      { return atomic.LoadInt64(&c.reads) }
func (c *Counters) Writes() int64     { return atomic.LoadInt64(&c.writes) }
func (c *Counters) Syncs() int64      { return atomic.LoadInt64(&c.syncs) }
func (c *Counters) ReadBytes() int64  { return atomic.LoadInt64(&c.readBytes) }
func (c *Counters) WriteBytes() int64 { return atomic.LoadInt64(&c.writeBytes) }
