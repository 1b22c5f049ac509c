package store

import (
	"sync"

	"golang.org/x/xerrors"
)

// ErrNotFound is returned by Get for unknown record ids.
var ErrNotFound = xerrors.New("record not found")

// Record is one uploaded document as the server keeps it: the encoded
// secure index, the escrowed key (U, V), the encrypted payload and the
// uploader's signature over all of it.
type Record struct {
	ID        uint64
	Owner     string
	Index     [][]byte
	U         []byte
	V         []byte
	Payload   []byte
	Signature []byte
}

// Store is an append-only record log.
type Store interface {
	// Append assigns the next id to r and stores it.
	Append(r *Record) (uint64, error)
	Get(id uint64) (*Record, error)
	// ForEach visits records in id order until f returns an error.
	ForEach(f func(*Record) error) error
	Len() (int, error)
	Close() error
}

// MemStore keeps records in memory.
type MemStore struct {
	mu      sync.RWMutex
	records []*Record
}

func NewMemStore() *MemStore {
	return &MemStore{}
}

func (m *MemStore) Append(r *Record) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *r
	c.ID = uint64(len(m.records)) + 1
	m.records = append(m.records, &c)
	return c.ID, nil
}

func (m *MemStore) Get(id uint64) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id == 0 || id > uint64(len(m.records)) {
		return nil, xerrors.Errorf("record %d: %w", id, ErrNotFound)
	}
	c := *m.records[id-1]
	return &c, nil
}

// ForEach works on a snapshot, so f may call back into the store.
func (m *MemStore) ForEach(f func(*Record) error) error {
	m.mu.RLock()
	snap := make([]*Record, len(m.records))
	copy(snap, m.records)
	m.mu.RUnlock()
	for _, r := range snap {
		c := *r
		if err := f(&c); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemStore) Len() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

func (m *MemStore) Close() error {
	return nil
}
