package identity

import (
	"bytes"
	"crypto/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type deterministicReader struct{ b byte }

func (r *deterministicReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = r.b
		r.b++
	}
	return len(p), nil
}

func TestFromSeedDeterministic(t *testing.T) {
	for _, scheme := range []Scheme{Ed25519, Dilithium3} {
		a, err := Generate(scheme, &deterministicReader{})
		if err != nil {
			t.Fatalf("%s: Generate: %v", scheme, err)
		}
		b, err := Generate(scheme, &deterministicReader{})
		if err != nil {
			t.Fatalf("%s: Generate: %v", scheme, err)
		}
		if a.Handle() != b.Handle() {
			t.Fatalf("%s: expected same seed to give same handle", scheme)
		}
		if !bytes.Equal(a.PublicKey().Bytes, b.PublicKey().Bytes) {
			t.Fatalf("%s: expected same public key", scheme)
		}
	}
}

func TestSchemesGiveDifferentHandles(t *testing.T) {
	seed := bytes.Repeat([]byte{0x42}, SeedSize)
	ed, err := FromSeed(Ed25519, seed)
	if err != nil {
		t.Fatalf("FromSeed: %v", err)
	}
	pq, err := FromSeed(Dilithium3, seed)
	if err != nil {
		t.Fatalf("FromSeed: %v", err)
	}
	if ed.Handle() == pq.Handle() {
		t.Fatalf("expected scheme to be part of the handle")
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, scheme := range []Scheme{Ed25519, Dilithium3} {
		id, err := Generate(scheme, rand.Reader)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		text := id.PrivateKeyText()
		if !strings.HasPrefix(text, string(scheme)+":") {
			t.Fatalf("unexpected key text prefix: %q", text)
		}
		back, err := Parse(text)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if back.Handle() != id.Handle() {
			t.Fatalf("%s: handle changed across Parse", scheme)
		}
	}
}

func TestParseBareHexIsEd25519(t *testing.T) {
	id, err := Parse(strings.Repeat("ab", SeedSize))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if id.Scheme() != Ed25519 {
		t.Fatalf("expected ed25519, got %s", id.Scheme())
	}
	if _, err := Parse("rsa:" + strings.Repeat("ab", SeedSize)); err == nil {
		t.Fatalf("expected unsupported scheme error")
	}
	if _, err := Parse("abcd"); err == nil {
		t.Fatalf("expected short seed error")
	}
}

func TestSignVerify(t *testing.T) {
	for _, scheme := range []Scheme{Ed25519, Dilithium3} {
		id, err := Generate(scheme, &deterministicReader{b: 7})
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		msg := []byte("fund channel")
		sig, err := id.Sign(msg)
		if err != nil {
			t.Fatalf("%s: Sign: %v", scheme, err)
		}
		if !Verify(id.PublicKey(), msg, sig) {
			t.Fatalf("%s: signature did not verify", scheme)
		}
		if Verify(id.PublicKey(), []byte("fund another channel"), sig) {
			t.Fatalf("%s: signature verified for a different message", scheme)
		}
		if Verified(id.PublicKey()).Handle() != id.Handle() {
			t.Fatalf("%s: verified principal handle mismatch", scheme)
		}
	}
}

func TestHandlePagePrefix(t *testing.T) {
	a, _ := Generate(Ed25519, &deterministicReader{b: 1})
	b, _ := Generate(Ed25519, &deterministicReader{b: 2})
	pa, pb := a.Handle().PagePrefix(8), b.Handle().PagePrefix(8)
	if len(pa) != 8 || len(pb) != 8 {
		t.Fatalf("unexpected prefix lengths %q %q", pa, pb)
	}
	if pa == pb {
		t.Fatalf("expected different channels to get different prefixes")
	}
	if _, err := ParseHandle(string(a.Handle())); err != nil {
		t.Fatalf("ParseHandle: %v", err)
	}
	if _, err := ParseHandle("nonsense"); err == nil {
		t.Fatalf("expected invalid handle error")
	}
}

func TestKeyStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	ks, err := OpenKeyStore(dir)
	if err != nil {
		t.Fatalf("OpenKeyStore: %v", err)
	}
	id, _ := Generate(Ed25519, rand.Reader)
	path, err := ks.Save("budget", id, false)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 key file, got %v", info.Mode().Perm())
	}
	if _, err := ks.Save("budget", id, false); err == nil {
		t.Fatalf("expected refusal to overwrite without overwrite flag")
	}
	got, err := ks.Resolve("@budget")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Handle() != id.Handle() {
		t.Fatalf("stored key handle mismatch")
	}
	names, err := ks.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 1 || names[0] != "budget" {
		t.Fatalf("unexpected names: %v", names)
	}
	if _, err := ks.Save("bad/name", id, false); err == nil {
		t.Fatalf("expected invalid name error")
	}
}
