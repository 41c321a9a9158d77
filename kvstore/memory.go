package kvstore

import (
	"sync"

	"github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/keiichishima/ukai/cmn"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Memory is an in-memory Backend, used by the test suite and by any
// embedding that doesn't need durability across process restarts.
type Memory struct {
	mtx     sync.RWMutex
	records map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string][]byte)}
}

func (m *Memory) PutMetadata(name string, record []byte) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	cp := make([]byte, len(record))
	copy(cp, record)
	m.records[name] = cp
	return nil
}

func (m *Memory) GetMetadata(name string) ([]byte, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	rec, ok := m.records[name]
	if !ok {
		return nil, cmn.NewNotFound("no metadata for image %q", name)
	}
	cp := make([]byte, len(rec))
	copy(cp, rec)
	return cp, nil
}

func (m *Memory) DeleteMetadata(name string) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	delete(m.records, name)
	return nil
}

// GetReaders derives the reader list from the last persisted record's
// "hypervisors" field, rather than keeping a second source of truth.
func (m *Memory) GetReaders(name string) ([]string, error) {
	rec, err := m.GetMetadata(name)
	if err != nil {
		return nil, err
	}
	return readersFromRecord(rec)
}

func readersFromRecord(rec []byte) ([]string, error) {
	var partial struct {
		Hypervisors map[string]interface{} `json:"hypervisors"`
	}
	if err := json.Unmarshal(rec, &partial); err != nil {
		return nil, errors.Wrap(err, "kvstore: decode hypervisor set")
	}
	readers := make([]string, 0, len(partial.Hypervisors))
	for hv := range partial.Hypervisors {
		readers = append(readers, hv)
	}
	return readers, nil
}
