package identity

import (
	"fmt"

	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
)

// Handle is the stable public address of a channel.
type Handle string

func deriveHandle(pub PublicKey) Handle {
	buf := make([]byte, 0, len(pub.Scheme)+1+len(pub.Bytes))
	buf = append(buf, pub.Scheme...)
	buf = append(buf, 0)
	buf = append(buf, pub.Bytes...)
	mh, err := multihash.Sum(buf, multihash.SHA2_256, -1)
	if err != nil {
		// sha2-256 with default length cannot fail.
		panic("identity: multihash: " + err.Error())
	}
	s, err := multibase.Encode(multibase.Base32, mh)
	if err != nil {
		panic("identity: multibase: " + err.Error())
	}
	return Handle(s)
}

func (h Handle) String() string { return string(h) }

// ParseHandle validates the text form of a handle.
func ParseHandle(s string) (Handle, error) {
	h := Handle(s)
	if _, err := h.Digest(); err != nil {
		return "", err
	}
	return h, nil
}

// Digest returns the raw sha2-256 digest behind the handle.
func (h Handle) Digest() ([]byte, error) {
	_, data, err := multibase.Decode(string(h))
	if err != nil {
		return nil, fmt.Errorf("identity: handle %q: %w", string(h), err)
	}
	dm, err := multihash.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("identity: handle %q: %w", string(h), err)
	}
	if dm.Code != multihash.SHA2_256 {
		return nil, fmt.Errorf("identity: handle %q: unexpected hash function %s", string(h), dm.Name)
	}
	return dm.Digest, nil
}

// PagePrefix returns the first n characters of the base32 digest. The
// multihash header is skipped because it is identical for every handle.
// n <= 0 or n beyond the digest length returns the whole digest.
func (h Handle) PagePrefix(n int) string {
	digest, err := h.Digest()
	if err != nil {
		return ""
	}
	s, err := multibase.Encode(multibase.Base32, digest)
	if err != nil {
		return ""
	}
	s = s[1:]
	if n <= 0 || n > len(s) {
		return s
	}
	return s[:n]
}
