// Package localfs is a CAS on the local filesystem. The shard client uses it
// as a read-through cache for retrieved ciphertext.
package localfs

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ipfs/go-cid"

	"xdao.co/channels/cidutil"
	"xdao.co/channels/storage"
)

// Store keeps one read-only file per object under root, fanned out into
// subdirectories by the last two characters of the CID.
type Store struct {
	root string
}

var _ storage.CAS = (*Store)(nil)

// Open returns a store rooted at root, creating the directory if needed.
func Open(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("localfs: root directory is required")
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, err
	}
	return &Store{root: root}, nil
}

// Root returns the directory the store lives in.
func (s *Store) Root() string { return s.root }

// Put writes data through a temporary file and renames it into place so a
// reader never sees a partial object.
func (s *Store) Put(data []byte) (cid.Cid, error) {
	id, err := cidutil.Sum(data)
	if err != nil {
		return cid.Undef, err
	}
	path := s.path(id)
	if existing, err := os.ReadFile(path); err == nil {
		if !bytes.Equal(existing, data) {
			return cid.Undef, storage.ErrImmutable
		}
		return id, nil
	} else if !os.IsNotExist(err) {
		return cid.Undef, err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return cid.Undef, err
	}
	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return cid.Undef, err
	}
	tmpName := tmp.Name()
	cleanup := func(err error) (cid.Cid, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return cid.Undef, err
	}
	if _, err := tmp.Write(data); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		return cleanup(err)
	}
	if err := os.Chmod(tmpName, 0o400); err != nil {
		return cleanup(err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return cid.Undef, fmt.Errorf("localfs: store %s: %w", id, err)
	}
	return id, nil
}

// Get verifies the bytes on disk against id before returning them.
func (s *Store) Get(id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	if !cidutil.Matches(id, data) {
		return nil, storage.ErrCIDMismatch
	}
	return data, nil
}

func (s *Store) Has(id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	info, err := os.Stat(s.path(id))
	return err == nil && info.Mode().IsRegular()
}

func (s *Store) path(id cid.Cid) string {
	name := id.String()
	if len(name) < 2 {
		return filepath.Join(s.root, name)
	}
	return filepath.Join(s.root, name[len(name)-2:], name)
}
