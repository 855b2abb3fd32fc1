package grpcdir

import (
	"xdao.co/channels/directory"
	"xdao.co/channels/identity"
	"xdao.co/channels/internal/codec"
)

// envelope wraps every request. For signed methods Signature covers the
// CBOR encoding of the envelope with Signature cleared.
type envelope struct {
	Op        string              `cbor:"op"`
	Payload   []byte              `cbor:"payload"`
	Signer    *identity.PublicKey `cbor:"signer,omitempty"`
	RequestID string              `cbor:"request_id"`
	Signature []byte              `cbor:"signature,omitempty"`
}

func (e envelope) signingBytes() ([]byte, error) {
	e.Signature = nil
	return codec.Marshal(e)
}

type createRequest struct {
	Token directory.StorageToken `cbor:"token"`
}

type fundToTargetRequest struct {
	Target identity.Handle `cbor:"target"`
	Quota  uint64          `cbor:"quota"`
}

type issueTokenRequest struct {
	Size uint64 `cbor:"size"`
}

type shardIDRequest struct {
	ID string `cbor:"id"`
}

type shardBytes struct {
	Data []byte `cbor:"data"`
}

type storageServerReply struct {
	URL string `cbor:"url"`
}
