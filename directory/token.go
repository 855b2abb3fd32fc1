package directory

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"

	"github.com/multiformats/go-multibase"

	"xdao.co/channels/identity"
)

// TokenPrefix starts every storage token hash.
const TokenPrefix = "LM2r"

// StorageToken is a single-use bearer credential. A token funds at most one
// successful create or fund call; the service enforces that.
type StorageToken struct {
	Hash          string
	Used          bool
	Size          uint64
	MotherChannel identity.Handle
}

// NewTokenHash returns a fresh token hash with entropy from r, or from
// crypto/rand when r is nil.
func NewTokenHash(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, 32)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("directory: token entropy: %w", err)
	}
	enc, err := multibase.Encode(multibase.Base58BTC, buf)
	if err != nil {
		return "", err
	}
	// Drop the multibase prefix; the token prefix identifies the format.
	return TokenPrefix + enc[1:], nil
}

// ParseToken accepts a token hash as typed by a user. It only checks the
// shape; whether the token is valid or spent is up to the service.
func ParseToken(s string) (StorageToken, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, TokenPrefix) || len(s) == len(TokenPrefix) {
		return StorageToken{}, fmt.Errorf("directory: storage token must start with %q", TokenPrefix)
	}
	return StorageToken{Hash: s}, nil
}

func (t StorageToken) String() string { return t.Hash }
