package storage

import (
	"fmt"

	"github.com/ipfs/go-cid"

	"xdao.co/channels/cidutil"
)

// Replica is a store with a stable name used in durability reports.
type Replica struct {
	Name string
	CAS  CAS
}

// ReplicaSet writes every object to all replicas. An object is durable once
// every replica holds it.
type ReplicaSet []Replica

var _ CAS = ReplicaSet(nil)

// PutAll writes data to each replica in order and stops at the first
// failure. It returns the names of the replicas that accepted the write.
func (rs ReplicaSet) PutAll(data []byte) (cid.Cid, []string, error) {
	want, err := cidutil.Sum(data)
	if err != nil {
		return cid.Undef, nil, err
	}
	if len(rs) == 0 {
		return cid.Undef, nil, ErrNoBackends
	}
	written := make([]string, 0, len(rs))
	for _, r := range rs {
		if r.CAS == nil {
			return cid.Undef, written, fmt.Errorf("storage: replica %q has no store", r.Name)
		}
		got, err := r.CAS.Put(data)
		if err != nil {
			return cid.Undef, written, fmt.Errorf("storage: replica %q: %w", r.Name, err)
		}
		if !got.Equals(want) {
			return cid.Undef, written, fmt.Errorf("storage: replica %q: %w", r.Name, ErrCIDMismatch)
		}
		written = append(written, r.Name)
	}
	return want, written, nil
}

func (rs ReplicaSet) Put(data []byte) (cid.Cid, error) {
	id, _, err := rs.PutAll(data)
	return id, err
}

func (rs ReplicaSet) Get(id cid.Cid) ([]byte, error) {
	tiers := make(Tiered, 0, len(rs))
	for _, r := range rs {
		if r.CAS != nil {
			tiers = append(tiers, r.CAS)
		}
	}
	return tiers.Get(id)
}

// Has reports whether any replica holds id.
func (rs ReplicaSet) Has(id cid.Cid) bool {
	for _, r := range rs {
		if r.CAS != nil && r.CAS.Has(id) {
			return true
		}
	}
	return false
}

// Missing returns the names of replicas that do not hold id.
func (rs ReplicaSet) Missing(id cid.Cid) []string {
	var missing []string
	for _, r := range rs {
		if r.CAS == nil || !r.CAS.Has(id) {
			missing = append(missing, r.Name)
		}
	}
	return missing
}

// Durable reports whether every replica holds id. An empty set is never
// durable.
func (rs ReplicaSet) Durable(id cid.Cid) bool {
	return len(rs) > 0 && len(rs.Missing(id)) == 0
}
