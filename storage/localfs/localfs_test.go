package localfs

import (
	"os"
	"path/filepath"
	"testing"

	"xdao.co/channels/cidutil"
	"xdao.co/channels/storage"
	"xdao.co/channels/storage/testkit"
)

func TestStoreConformance(t *testing.T) {
	testkit.RunCASConformance(t, func(t *testing.T) storage.CAS {
		t.Helper()
		s, err := Open(t.TempDir())
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		return s
	})
}

func TestStoreDetectsCorruption(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	orig := []byte("ciphertext")
	id, err := s.Put(orig)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	path := s.path(id)
	if err := os.Chmod(path, 0o600); err != nil {
		t.Fatalf("Chmod: %v", err)
	}
	if err := os.WriteFile(path, []byte("tampered"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := s.Get(id); err != storage.ErrCIDMismatch {
		t.Fatalf("Get after tamper: got %v want %v", err, storage.ErrCIDMismatch)
	}
	if _, err := s.Put(orig); err != storage.ErrImmutable {
		t.Fatalf("Put after tamper: got %v want %v", err, storage.ErrImmutable)
	}
	if _, err := s.Get(id); !storage.IsCorrupt(err) {
		t.Fatalf("IsCorrupt(%v) = false", err)
	}
	if !cidutil.Matches(id, orig) {
		t.Fatalf("id no longer matches original bytes")
	}
}

func TestOpenRequiresRoot(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatalf("expected error for empty root")
	}
	dir := filepath.Join(t.TempDir(), "nested", "cache")
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Root() != dir {
		t.Fatalf("Root = %q, want %q", s.Root(), dir)
	}
}
