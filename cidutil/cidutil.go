package cidutil

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Sum returns the CIDv1 (raw multicodec, sha2-256 multihash) of data.
// Shard IDs and CAS keys are always derived this way.
func Sum(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// String is Sum for callers that only need the text form. It returns "" if
// the multihash cannot be computed, which does not happen for sha2-256.
func String(data []byte) string {
	id, err := Sum(data)
	if err != nil {
		return ""
	}
	return id.String()
}

// Parse decodes s and rejects CIDs that do not follow the raw/sha2-256
// contract.
func Parse(s string) (cid.Cid, error) {
	id, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, err
	}
	if !id.Defined() {
		return cid.Undef, fmt.Errorf("cidutil: undefined cid")
	}
	prefix := id.Prefix()
	if prefix.Version != 1 || prefix.Codec != cid.Raw || prefix.MhType != multihash.SHA2_256 {
		return cid.Undef, fmt.Errorf("cidutil: %s is not a CIDv1 raw sha2-256", s)
	}
	return id, nil
}

// Matches reports whether data hashes to id.
func Matches(id cid.Cid, data []byte) bool {
	if !id.Defined() {
		return false
	}
	got, err := Sum(data)
	if err != nil {
		return false
	}
	return got.Equals(id)
}
