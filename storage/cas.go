// Package storage holds the content-addressable stores that keep shard
// ciphertext. Every store keys objects by the CIDv1 (raw, sha2-256) of the
// bytes, so a shard ID is also its storage address.
package storage

import (
	"sync"

	"github.com/ipfs/go-cid"

	"xdao.co/channels/cidutil"
)

// CAS is a content-addressable store.
//
// Put is idempotent and returns the CID of the bytes written. Objects never
// change once written. Get returns ErrNotFound for absent CIDs and
// ErrInvalidCID for undefined ones.
type CAS interface {
	Put(data []byte) (cid.Cid, error)
	Get(id cid.Cid) ([]byte, error)
	Has(id cid.Cid) bool
}

// Memory is a CAS held in process memory. The zero value is ready to use.
type Memory struct {
	mu      sync.RWMutex
	objects map[cid.Cid][]byte
}

var _ CAS = (*Memory)(nil)

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Put(data []byte) (cid.Cid, error) {
	id, err := cidutil.Sum(data)
	if err != nil {
		return cid.Undef, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.objects[id]; ok {
		if string(existing) != string(data) {
			return cid.Undef, ErrImmutable
		}
		return id, nil
	}
	if m.objects == nil {
		m.objects = make(map[cid.Cid][]byte)
	}
	m.objects[id] = append([]byte(nil), data...)
	return id, nil
}

func (m *Memory) Get(id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, ErrInvalidCID
	}
	m.mu.RLock()
	data, ok := m.objects[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) Has(id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[id]
	return ok
}

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
