package shard

import (
	"fmt"
	"net/url"

	"github.com/multiformats/go-multibase"
)

// Version of the handle layout.
const Version = "3"

// Handle identifies a stored shard. ID and Key alone are enough to
// retrieve it; the rest is operational metadata.
type Handle struct {
	Version       string
	ID            string
	Key           string
	StorageServer string
	Size          int
	Verification  *Verification
}

// MinimalHandle is the smallest projection that still allows retrieval.
type MinimalHandle struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// OperationalHandle keeps what bookkeeping needs on top of MinimalHandle.
type OperationalHandle struct {
	Version       string        `json:"version"`
	ID            string        `json:"id"`
	Key           string        `json:"key"`
	Verification  *Verification `json:"verification"`
	StorageServer string        `json:"storageServer"`
}

func (h *Handle) Minimal() MinimalHandle {
	return MinimalHandle{ID: h.ID, Key: h.Key}
}

func (h *Handle) Operational() OperationalHandle {
	return OperationalHandle{
		Version:       h.Version,
		ID:            h.ID,
		Key:           h.Key,
		Verification:  h.Verification,
		StorageServer: h.StorageServer,
	}
}

func encodeKey(key []byte) string {
	s, err := multibase.Encode(multibase.Base64url, key)
	if err != nil {
		panic("shard: multibase: " + err.Error())
	}
	return s
}

func decodeKey(s string) ([]byte, error) {
	_, key, err := multibase.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("shard: key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("shard: key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

// Magnet renders a magnet link for h, taking the verification receipt from
// its resolved verification.
func Magnet(h *Handle, storageServer string) string {
	if storageServer == "" {
		storageServer = h.StorageServer
	}
	verification := ""
	if h.Verification != nil {
		if o, err := h.Verification.Result(); err == nil {
			verification = o.Verification
		}
	}
	q := "xt=urn:os384:" + h.ID +
		"&key=" + url.QueryEscape(h.Key) +
		"&verification=" + url.QueryEscape(verification) +
		"&xs=" + url.QueryEscape(storageServer)
	return "magnet:?" + q
}

// FileMetadataKind is the event kind for file metadata (NIP-94).
const FileMetadataKind = 1063

// Event is an unsigned nostr event announcing a shard.
type Event struct {
	Kind int        `json:"kind"`
	Tags [][]string `json:"tags"`
}

// NIP94 builds the file metadata event for a stored shard.
func NIP94(h *Handle, contentType string, size int, storageServer string) Event {
	return Event{
		Kind: FileMetadataKind,
		Tags: [][]string{
			{"m", contentType},
			{"size", fmt.Sprint(size)},
			{"magnet", Magnet(h, storageServer)},
		},
	}
}
