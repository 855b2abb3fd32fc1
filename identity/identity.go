package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"golang.org/x/crypto/sha3"
)

// Scheme names a signature scheme.
type Scheme string

const (
	Ed25519    Scheme = "ed25519"
	Dilithium3 Scheme = "dilithium3"
)

// SeedSize is the seed length for every scheme.
const SeedSize = 32

// ParseScheme accepts the scheme names used in key text and flags.
func ParseScheme(s string) (Scheme, error) {
	switch Scheme(strings.ToLower(strings.TrimSpace(s))) {
	case "", Ed25519:
		return Ed25519, nil
	case Dilithium3:
		return Dilithium3, nil
	default:
		return "", fmt.Errorf("identity: unsupported scheme %q", s)
	}
}

// PublicKey is the scheme-tagged public half of an identity.
type PublicKey struct {
	Scheme Scheme `json:"scheme"`
	Bytes  []byte `json:"bytes"`
}

// Principal is anything that can be addressed as a channel: a private
// Identity on the client side or a verified public key on the server side.
type Principal interface {
	Handle() Handle
	PublicKey() PublicKey
}

// Identity is a private channel identity. It is immutable once created.
type Identity struct {
	scheme Scheme
	seed   []byte
	ed     ed25519.PrivateKey
	pq     *mode3.PrivateKey
	pub    PublicKey
	handle Handle
}

// Generate creates a fresh identity, reading the seed from rand.
func Generate(scheme Scheme, rand io.Reader) (*Identity, error) {
	seed := make([]byte, SeedSize)
	if _, err := io.ReadFull(rand, seed); err != nil {
		return nil, fmt.Errorf("identity: read seed: %w", err)
	}
	return FromSeed(scheme, seed)
}

// FromSeed derives the identity for seed under scheme.
func FromSeed(scheme Scheme, seed []byte) (*Identity, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("identity: seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	id := &Identity{scheme: scheme, seed: append([]byte(nil), seed...)}
	switch scheme {
	case Ed25519:
		id.ed = ed25519.NewKeyFromSeed(seed)
		id.pub = PublicKey{Scheme: Ed25519, Bytes: append([]byte(nil), id.ed.Public().(ed25519.PublicKey)...)}
	case Dilithium3:
		var s [mode3.SeedSize]byte
		copy(s[:], seed)
		pk, sk := mode3.NewKeyFromSeed(&s)
		id.pq = sk
		id.pub = PublicKey{Scheme: Dilithium3, Bytes: pk.Bytes()}
	default:
		return nil, fmt.Errorf("identity: unsupported scheme %q", scheme)
	}
	id.handle = deriveHandle(id.pub)
	return id, nil
}

// Parse reads a private key in text form.
func Parse(text string) (*Identity, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("identity: empty private key")
	}
	scheme := Ed25519
	if i := strings.IndexByte(text, ':'); i >= 0 {
		s, err := ParseScheme(text[:i])
		if err != nil {
			return nil, err
		}
		scheme = s
		text = text[i+1:]
	}
	seed, err := ParseSeedHex(text)
	if err != nil {
		return nil, err
	}
	return FromSeed(scheme, seed)
}

// ParseSeedHex decodes a hex seed, tolerating a 0x prefix.
func ParseSeedHex(seedHex string) ([]byte, error) {
	seedHex = strings.TrimPrefix(strings.TrimSpace(seedHex), "0x")
	data, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("identity: seed is not hex: %w", err)
	}
	if len(data) != SeedSize {
		return nil, fmt.Errorf("identity: expected seed length of %d bytes, got %d", SeedSize, len(data))
	}
	return data, nil
}

func (id *Identity) Scheme() Scheme       { return id.scheme }
func (id *Identity) Handle() Handle       { return id.handle }
func (id *Identity) PublicKey() PublicKey { return id.pub }

// PrivateKeyText returns the key in the text form accepted by Parse.
func (id *Identity) PrivateKeyText() string {
	return string(id.scheme) + ":" + hex.EncodeToString(id.seed)
}

// String returns the handle; it never exposes key material.
func (id *Identity) String() string { return string(id.handle) }

// Sign signs msg. Ed25519 signs sha256(msg); Dilithium3 signs sha3-256(msg).
func (id *Identity) Sign(msg []byte) ([]byte, error) {
	switch id.scheme {
	case Ed25519:
		digest := sha256.Sum256(msg)
		return ed25519.Sign(id.ed, digest[:]), nil
	case Dilithium3:
		digest := sha3.Sum256(msg)
		sig := make([]byte, mode3.SignatureSize)
		mode3.SignTo(id.pq, digest[:], sig)
		return sig, nil
	default:
		return nil, fmt.Errorf("identity: unsupported scheme %q", id.scheme)
	}
}

// Verify checks sig over msg against pub.
func Verify(pub PublicKey, msg, sig []byte) bool {
	switch pub.Scheme {
	case Ed25519:
		if len(pub.Bytes) != ed25519.PublicKeySize {
			return false
		}
		digest := sha256.Sum256(msg)
		return ed25519.Verify(ed25519.PublicKey(pub.Bytes), digest[:], sig)
	case Dilithium3:
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(pub.Bytes); err != nil {
			return false
		}
		digest := sha3.Sum256(msg)
		return mode3.Verify(&pk, digest[:], sig)
	default:
		return false
	}
}

type verified struct {
	pub    PublicKey
	handle Handle
}

func (v verified) Handle() Handle       { return v.handle }
func (v verified) PublicKey() PublicKey { return v.pub }

// Verified returns a public-only principal for pub. Servers use it after
// checking a request signature.
func Verified(pub PublicKey) Principal {
	return verified{pub: pub, handle: deriveHandle(pub)}
}

// Signer is a principal that can sign requests on its own behalf.
type Signer interface {
	Principal
	Sign(msg []byte) ([]byte, error)
}

var _ Signer = (*Identity)(nil)
