// Package identity provides the channel identities used by the directory
// client.
//
// An Identity is a keypair derived from a 32-byte seed under one of two
// signature schemes (Ed25519, the default, or Dilithium3). Its Handle is the
// multibase base32 form of a sha2-256 multihash over the scheme tag and the
// public key, so the handle is fully determined by the key and needs no
// registry.
//
// Private keys travel as text: "<scheme>:<64 hex chars>". A bare hex seed is
// read as Ed25519.
//
// KeyStore is a small filesystem-backed store of named private keys. It is a
// local convenience and not part of the directory protocol.
package identity
