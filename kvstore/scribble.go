package kvstore

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/sdomino/scribble"

	"github.com/keiichishima/ukai/cmn"
)

// metadataCollection is the scribble "collection" (sub-directory) every
// image record is written under, matching spec §4.2's bucket="metadata".
const metadataCollection = "metadata"

// Scribble is a file-backed Backend: one JSON document per image under
// metaRoot/metadata/<name>.json, written through github.com/sdomino/scribble.
// The shape -- a driver plus a small in-process read cache guarded by one
// mutex -- is the teacher's own downloader/db.go persistence pattern,
// retargeted from downloader job state to image metadata records.
type Scribble struct {
	mtx    sync.RWMutex
	driver *scribble.Driver
	cache  map[string][]byte
}

// NewScribble opens (creating if necessary) a scribble database rooted at
// metaRoot.
func NewScribble(metaRoot string) (*Scribble, error) {
	driver, err := scribble.New(metaRoot, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "kvstore: open scribble db at %s", metaRoot)
	}
	return &Scribble{
		driver: driver,
		cache:  make(map[string][]byte),
	}, nil
}

// scribbleDoc is the envelope scribble (de)serializes; the raw record bytes
// are embedded as a JSON string field rather than written as the document's
// own JSON tree, so that Store's own marshaling (and any future wire-format
// change on its side) stays entirely decoupled from the backend's.
type scribbleDoc struct {
	Raw string `json:"raw"`
}

func (s *Scribble) PutMetadata(name string, record []byte) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if err := s.driver.Write(metadataCollection, name, scribbleDoc{Raw: string(record)}); err != nil {
		return cmn.NewPersistenceFailure("scribble write %s: %v", name, err)
	}
	cp := make([]byte, len(record))
	copy(cp, record)
	s.cache[name] = cp
	return nil
}

func (s *Scribble) GetMetadata(name string) ([]byte, error) {
	s.mtx.RLock()
	cached, ok := s.cache[name]
	s.mtx.RUnlock()
	if ok {
		cp := make([]byte, len(cached))
		copy(cp, cached)
		return cp, nil
	}

	var doc scribbleDoc
	if err := s.driver.Read(metadataCollection, name, &doc); err != nil {
		if os.IsNotExist(err) {
			return nil, cmn.NewNotFound("no metadata for image %q", name)
		}
		return nil, cmn.NewPersistenceFailure("scribble read %s: %v", name, err)
	}

	s.mtx.Lock()
	s.cache[name] = []byte(doc.Raw)
	s.mtx.Unlock()
	return []byte(doc.Raw), nil
}

func (s *Scribble) DeleteMetadata(name string) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	delete(s.cache, name)
	if err := s.driver.Delete(metadataCollection, name); err != nil && !os.IsNotExist(err) {
		return cmn.NewPersistenceFailure("scribble delete %s: %v", name, err)
	}
	return nil
}

func (s *Scribble) GetReaders(name string) ([]string, error) {
	rec, err := s.GetMetadata(name)
	if err != nil {
		return nil, err
	}
	return readersFromRecord(rec)
}

// collectionPath exists only so tests can assert the on-disk layout without
// reaching into the scribble driver's internals.
func collectionPath(metaRoot string) string {
	return filepath.Join(metaRoot, metadataCollection)
}
