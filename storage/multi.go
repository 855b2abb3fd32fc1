package storage

import (
	"github.com/ipfs/go-cid"
)

// Tiered reads from a fixed, ordered list of stores and writes only to the
// first. The directory double uses it to read a shard from the primary and
// fall back to replicas; shard retrieval uses it to put a local cache in
// front of the network.
type Tiered []CAS

var _ CAS = Tiered(nil)

func (t Tiered) Put(data []byte) (cid.Cid, error) {
	if len(t) == 0 {
		return cid.Undef, ErrNoBackends
	}
	return t[0].Put(data)
}

// Get returns the first hit. A store failing with anything other than
// ErrNotFound stops the walk.
func (t Tiered) Get(id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, ErrInvalidCID
	}
	for _, cas := range t {
		data, err := cas.Get(id)
		switch {
		case err == nil:
			return data, nil
		case IsNotFound(err):
			continue
		default:
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func (t Tiered) Has(id cid.Cid) bool {
	for _, cas := range t {
		if cas.Has(id) {
			return true
		}
	}
	return false
}
