// Package signer is a typed client to the sealed signer: the out-of-process
// component holding the keys needed to unseal IPNS private keys and produce
// signed records. The coordinator never parses sealed_key; it only shuttles
// opaque bytes across this client.
package signer

import (
	"errors"
)

// PublicKeyLength is the exact length of an uncompressed secp256k1 public key.
const PublicKeyLength = 65

// uncompressedPrefix is the SEC1 prefix byte for an uncompressed public key.
const uncompressedPrefix = 0x04

// ErrInvalidKeyFormat is returned when the signer's public key is the wrong
// shape: not 65 bytes, or not prefixed with 0x04.
var ErrInvalidKeyFormat = errors.New("signer: invalid public key format")

// ErrTimeout wraps a signer call that exceeded its deadline.
type ErrTimeout struct {
	URL string
}

func (e *ErrTimeout) Error() string {
	return "signer: timed out calling " + e.URL
}

// ErrUnreachable wraps any transport-level failure talking to the signer.
type ErrUnreachable struct {
	URL string
	Err error
}

func (e *ErrUnreachable) Error() string {
	return "signer unreachable: " + e.Err.Error()
}

func (e *ErrUnreachable) Unwrap() error { return e.Err }

// ValidatePublicKey enforces the signer's public-key wire contract: exactly
// 65 bytes, first byte 0x04 (uncompressed SEC1 prefix).
func ValidatePublicKey(key []byte) error {
	if len(key) != PublicKeyLength {
		return ErrInvalidKeyFormat
	}
	if key[0] != uncompressedPrefix {
		return ErrInvalidKeyFormat
	}
	return nil
}

// HealthStatus is the response of GET /health.
type HealthStatus struct {
	Healthy bool `json:"healthy"`
	Epoch   int  `json:"epoch"`
}

// BatchEntry is one enrollment's signing request, built fresh for every
// sign_batch call so it always carries the coordinator's current view of the
// epoch state. EncryptedIPNSKey is the raw sealed_key bytes; the client
// base64-encodes it onto the wire.
type BatchEntry struct {
	EncryptedIPNSKey []byte
	KeyEpoch         int
	IPNSName         string
	LatestCID        string
	SequenceNumber   string
	CurrentEpoch     int
	PreviousEpoch    *int
}

// BatchResult is one element of the signer's /republish response. Success
// results carry SignedRecord/NewSequenceNumber; failures carry Error. The
// signer may return fewer results than entries were sent; the scheduler
// treats missing trailing results as failures.
type BatchResult struct {
	IPNSName              string `json:"ipnsName"`
	Success               bool   `json:"success"`
	SignedRecord          string `json:"signedRecord,omitempty"`          // base64
	NewSequenceNumber     string `json:"newSequenceNumber,omitempty"`     // decimal string
	UpgradedEncryptedKey  string `json:"upgradedEncryptedKey,omitempty"`  // base64
	UpgradedKeyEpoch      *int   `json:"upgradedKeyEpoch,omitempty"`
	Error                 string `json:"error,omitempty"`
}
