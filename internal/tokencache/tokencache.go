// Package tokencache remembers the last storage token issued per server so
// a later "channel create" can pick it up without retyping it.
package tokencache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"xdao.co/channels/internal/codec"
)

type entry struct {
	Token string `cbor:"token"`
}

type file struct {
	Version int              `cbor:"version"`
	Servers map[string]entry `cbor:"servers"`
}

const fileVersion = 1

// Cache is a CBOR file keyed by server URL. It is safe for concurrent use
// within one process.
type Cache struct {
	path string
	mu   sync.Mutex
}

func Open(path string) *Cache { return &Cache{path: path} }

func (c *Cache) Path() string { return c.path }

func (c *Cache) load() (file, error) {
	f := file{Version: fileVersion, Servers: map[string]entry{}}
	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return f, fmt.Errorf("tokencache: %w", err)
	}
	if err := codec.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("tokencache: decode %s: %w", c.path, err)
	}
	if f.Version != fileVersion {
		return f, fmt.Errorf("tokencache: unsupported version %d", f.Version)
	}
	if f.Servers == nil {
		f.Servers = map[string]entry{}
	}
	return f, nil
}

func (c *Cache) store(f file) error {
	data, err := codec.Marshal(f)
	if err != nil {
		return fmt.Errorf("tokencache: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("tokencache: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".tokens-*")
	if err != nil {
		return fmt.Errorf("tokencache: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokencache: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("tokencache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokencache: %w", err)
	}
	return os.Rename(tmp.Name(), c.path)
}

// Get returns the cached token hash for server.
func (c *Cache) Get(server string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := c.load()
	if err != nil {
		return "", false, err
	}
	e, ok := f.Servers[server]
	return e.Token, ok, nil
}

func (c *Cache) Put(server, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := c.load()
	if err != nil {
		return err
	}
	f.Servers[server] = entry{Token: token}
	return c.store(f)
}

// Delete forgets server. Deleting an absent entry is not an error.
func (c *Cache) Delete(server string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := c.load()
	if err != nil {
		return err
	}
	if _, ok := f.Servers[server]; !ok {
		return nil
	}
	delete(f.Servers, server)
	return c.store(f)
}
