package metadata

import (
	"testing"
	"time"

	"github.com/keiichishima/ukai/cmn"
	"github.com/keiichishima/ukai/kvstore"
	"github.com/keiichishima/ukai/locality"
	"github.com/keiichishima/ukai/rpctransport"
)

func liveDeps(t *testing.T) Deps {
	t.Helper()
	oracle, err := locality.New()
	if err != nil {
		t.Fatalf("locality.New: %v", err)
	}
	return Deps{
		Config:    &cmn.Config{ImageRoot: "/images", BlocknameFormat: "block%d", CorePort: 1, ProxyPort: 2},
		Backend:   kvstore.NewMemory(),
		Transport: rpctransport.New(100 * time.Millisecond),
		Oracle:    oracle,
	}
}

// TestFlushToleratesUnreachablePeer exercises spec §4.2's broadcast-failure
// tolerance: a Flush to a peer hypervisor that can't be reached never fails
// the overall call, and leaves that peer's status OUT_OF_SYNC rather than
// incorrectly claiming it is caught up.
func TestFlushToleratesUnreachablePeer(t *testing.T) {
	deps := liveDeps(t)
	s, err := Create(deps, "disk0", 100, 100, "127.0.0.1", "127.0.0.1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.AddHypervisor("203.0.113.9"); err != nil {
		t.Fatalf("AddHypervisor: %v", err)
	}

	hvs := s.Hypervisors()
	if hvs["203.0.113.9"] != cmn.OutOfSync {
		t.Fatalf("expected unreachable peer OUT_OF_SYNC after failed broadcast, got %v", hvs["203.0.113.9"])
	}
	if hvs["127.0.0.1"] != cmn.InSync {
		t.Fatalf("expected local hypervisor to remain IN_SYNC (never broadcast to itself), got %v", hvs["127.0.0.1"])
	}
}
