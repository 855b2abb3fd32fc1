package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// KeyStore keeps named private keys on the local filesystem, one file per
// key holding the key text. Files are 0600 and the directory 0700.
type KeyStore struct {
	Directory string
}

// DefaultKeyDirectory is ~/.xdao/keys.
func DefaultKeyDirectory() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".xdao", "keys"), nil
}

// OpenKeyStore returns a store rooted at directory, or at
// DefaultKeyDirectory when directory is empty. Nothing is created until the
// first Save.
func OpenKeyStore(directory string) (*KeyStore, error) {
	if directory == "" {
		var err error
		directory, err = DefaultKeyDirectory()
		if err != nil {
			return nil, err
		}
	}
	return &KeyStore{Directory: directory}, nil
}

// CheckKeyName accepts [A-Za-z0-9_-]+.
func CheckKeyName(name string) error {
	if name == "" {
		return errors.New("identity: key name cannot be empty")
	}
	for _, char := range name {
		if (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '-' || char == '_' {
			continue
		}
		return fmt.Errorf("identity: invalid character %q in key name", char)
	}
	return nil
}

func (ks *KeyStore) path(name string) string {
	return filepath.Join(ks.Directory, name+".key")
}

// Save writes id under name. Without overwrite an existing key is an error.
func (ks *KeyStore) Save(name string, id *Identity, overwrite bool) (string, error) {
	if err := CheckKeyName(name); err != nil {
		return "", err
	}
	if err := os.MkdirAll(ks.Directory, 0o700); err != nil {
		return "", err
	}
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	filePath := ks.path(name)
	file, err := os.OpenFile(filePath, flags, 0o600)
	if err != nil {
		return "", err
	}
	defer file.Close()
	if _, err := file.WriteString(id.PrivateKeyText() + "\n"); err != nil {
		return "", err
	}
	return filePath, file.Close()
}

// Load reads the key stored under name.
func (ks *KeyStore) Load(name string) (*Identity, error) {
	if err := CheckKeyName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(ks.path(name))
	if err != nil {
		return nil, err
	}
	return Parse(string(data))
}

// Resolve accepts either key text or "@name" for a stored key.
func (ks *KeyStore) Resolve(ref string) (*Identity, error) {
	ref = strings.TrimSpace(ref)
	if name, ok := strings.CutPrefix(ref, "@"); ok {
		return ks.Load(name)
	}
	return Parse(ref)
}

// List returns stored key names, sorted.
func (ks *KeyStore) List() ([]string, error) {
	entries, err := os.ReadDir(ks.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".key") {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".key"))
	}
	sort.Strings(names)
	return names, nil
}
