package storage

import "errors"

// Sentinel failures shared by every CAS. Wrap them with %w so callers can
// test with errors.Is.
var (
	ErrNotFound    = errors.New("storage: no object for cid")
	ErrInvalidCID  = errors.New("storage: undefined cid")
	ErrCIDMismatch = errors.New("storage: bytes do not hash to cid")
	// ErrImmutable is returned when a store already holds different bytes
	// under the same CID, which means the store itself is corrupt.
	ErrImmutable  = errors.New("storage: stored object differs from put")
	ErrNoBackends = errors.New("storage: no backends configured")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsCorrupt reports failures that mean stored bytes cannot be trusted.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCIDMismatch) || errors.Is(err, ErrImmutable)
}
