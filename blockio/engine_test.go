package blockio

import (
	"os"
	"testing"
	"time"

	"github.com/keiichishima/ukai/cmn"
	"github.com/keiichishima/ukai/kvstore"
	"github.com/keiichishima/ukai/locality"
	"github.com/keiichishima/ukai/metadata"
	"github.com/keiichishima/ukai/rpctransport"
	"github.com/keiichishima/ukai/stats"
)

func newTestEngine(t *testing.T, size, blockSize int64) (*Engine, *metadata.Store) {
	t.Helper()
	oracle, err := locality.New()
	if err != nil {
		t.Fatalf("locality.New: %v", err)
	}

	cfg := &cmn.Config{
		ImageRoot:       t.TempDir(),
		BlocknameFormat: "block%d",
		CorePort:        7001,
		ProxyPort:       7002,
	}
	mdeps := metadata.Deps{Config: cfg, Backend: kvstore.NewMemory(), Oracle: oracle}
	store, err := metadata.Create(mdeps, "disk0", size, blockSize, "127.0.0.1", "127.0.0.1")
	if err != nil {
		t.Fatalf("metadata.Create: %v", err)
	}

	deps := Deps{
		Config:    cfg,
		Transport: rpctransport.New(100 * time.Millisecond),
		Oracle:    oracle,
	}
	return New(deps, "disk0", store), store
}

func TestEngineWriteReadRoundTripAcrossBlocks(t *testing.T) {
	e, _ := newTestEngine(t, 300, 100)

	payload := []byte("Hello World!")
	n, err := e.Write(payload, 95)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("wrote %d bytes, want %d", n, len(payload))
	}

	got, err := e.Read(95, int64(len(payload)))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q want %q", got, payload)
	}
}

func TestEngineReadWithinSingleBlock(t *testing.T) {
	e, _ := newTestEngine(t, 200, 100)

	if _, err := e.Write([]byte("abcdef"), 10); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := e.Read(12, 3)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "cde" {
		t.Fatalf("got %q want %q", got, "cde")
	}
}

func TestEngineAllocateDataspaceCreatesSparseFile(t *testing.T) {
	e, _ := newTestEngine(t, 100, 100)

	if err := e.AllocateDataspace("127.0.0.1", 0); err != nil {
		t.Fatalf("AllocateDataspace: %v", err)
	}
	path := e.deps.Config.BlockPath("disk0", 0)
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if fi.Size() != 100 {
		t.Fatalf("got size %d want 100", fi.Size())
	}
}

func TestEngineSynchronizeBlockToleratesUnreachableReplica(t *testing.T) {
	e, store := newTestEngine(t, 100, 100)

	// the local source replica needs a full block on disk to copy from
	if err := e.AllocateDataspace("127.0.0.1", 0); err != nil {
		t.Fatalf("AllocateDataspace: %v", err)
	}
	if err := store.AddLocation("203.0.113.5", 0, -1); err != nil {
		t.Fatalf("AddLocation: %v", err)
	}
	status, err := store.GetSyncStatus(0, "203.0.113.5")
	if err != nil || status != cmn.OutOfSync {
		t.Fatalf("expected new replica OUT_OF_SYNC, got %v err=%v", status, err)
	}

	if err := e.SynchronizeBlock(0); err != nil {
		t.Fatalf("SynchronizeBlock: %v", err)
	}

	status, err = store.GetSyncStatus(0, "203.0.113.5")
	if err != nil {
		t.Fatalf("GetSyncStatus: %v", err)
	}
	if status != cmn.OutOfSync {
		t.Fatalf("expected unreachable replica to remain OUT_OF_SYNC, got %v", status)
	}
}

func TestEngineReportsToObserver(t *testing.T) {
	oracle, err := locality.New()
	if err != nil {
		t.Fatalf("locality.New: %v", err)
	}
	cfg := &cmn.Config{
		ImageRoot:       t.TempDir(),
		BlocknameFormat: "block%d",
		CorePort:        7001,
		ProxyPort:       7002,
		BlockStats:      true,
	}
	mdeps := metadata.Deps{Config: cfg, Backend: kvstore.NewMemory(), Oracle: oracle}
	store, err := metadata.Create(mdeps, "disk0", 100, 100, "127.0.0.1", "127.0.0.1")
	if err != nil {
		t.Fatalf("metadata.Create: %v", err)
	}

	counters := stats.NewCounters()
	e := New(Deps{
		Config:    cfg,
		Transport: rpctransport.New(100 * time.Millisecond),
		Oracle:    oracle,
		Observer:  counters,
	}, "disk0", store)

	if _, err := e.Write([]byte("hello"), 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := e.Read(0, 5); err != nil {
		t.Fatalf("Read: %v", err)
	}

	if counters.Writes() != 1 || counters.WriteBytes() != 5 {
		t.Fatalf("got writes=%d writeBytes=%d, want 1,5", counters.Writes(), counters.WriteBytes())
	}
	if counters.Reads() != 1 || counters.ReadBytes() != 5 {
		t.Fatalf("got reads=%d readBytes=%d, want 1,5", counters.Reads(), counters.ReadBytes())
	}
}

func TestEngineWriteReadAfterReAddingExistingLocation(t *testing.T) {
	e, store := newTestEngine(t, 100, 100)

	if err := store.AddLocation("127.0.0.1", 0, -1, cmn.InSync); err != nil {
		t.Fatalf("AddLocation: %v", err)
	}
	if _, err := e.Write([]byte("data"), 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := e.Read(0, 4)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "data" {
		t.Fatalf("got %q want %q", got, "data")
	}
}
