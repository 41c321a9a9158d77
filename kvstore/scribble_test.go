package kvstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/keiichishima/ukai/cmn"
)

func TestScribblePutGetDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := NewScribble(dir)
	if err != nil {
		t.Fatalf("NewScribble: %v", err)
	}

	rec := []byte(`{"name":"disk0","hypervisors":{"10.0.0.1":{"sync_status":"IN_SYNC"}}}`)
	if err := s.PutMetadata("disk0", rec); err != nil {
		t.Fatalf("PutMetadata: %v", err)
	}

	if _, err := os.Stat(filepath.Join(collectionPath(dir), "disk0.json")); err != nil {
		t.Fatalf("expected on-disk record: %v", err)
	}

	// fresh instance, forcing a read through the driver rather than the cache
	s2, err := NewScribble(dir)
	if err != nil {
		t.Fatalf("NewScribble (reopen): %v", err)
	}
	got, err := s2.GetMetadata("disk0")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if string(got) != string(rec) {
		t.Fatalf("round-trip mismatch: got %s want %s", got, rec)
	}

	if err := s2.DeleteMetadata("disk0"); err != nil {
		t.Fatalf("DeleteMetadata: %v", err)
	}
	if _, err := s2.GetMetadata("disk0"); !cmn.IsKind(err, cmn.ErrNotFound) {
		t.Fatalf("expected NotFound after delete, got %v", err)
	}
}
