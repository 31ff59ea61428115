// SPDX-License-Identifier: MPL-2.0

// Package signing computes package digests and signs and verifies them.
//
// The digest is SHA-256 over the artifact bytes followed by the canonical
// descriptor encoding (see descriptor.Descriptor.Canonical). The signature is
// made over the 32 digest bytes.
package signing

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/simpkg/simpkg/pkg/descriptor"
)

type (
	// Hash is a SHA-256 digest. It marshals as lowercase hex.
	Hash [sha256.Size]byte

	// Block is the signature record carried in a package manifest.
	Block struct {
		Algorithm Algorithm `json:"algorithm"`
		Digest    Hash      `json:"digest"`
		Signature []byte    `json:"signature"`
		// SignerIdentity is the PKIX DER public key of the signer.
		SignerIdentity []byte `json:"signer_identity"`
	}
)

// String returns the digest as lowercase hex.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	if len(text) != hex.EncodedLen(sha256.Size) {
		return fmt.Errorf("digest must be %d hex characters, got %d", hex.EncodedLen(sha256.Size), len(text))
	}
	_, err := hex.Decode(h[:], text)
	return err
}

// Digest returns SHA-256(artifact || d.Canonical()).
func Digest(artifact []byte, d *descriptor.Descriptor) Hash {
	h := sha256.New()
	h.Write(artifact)
	h.Write(d.Canonical())
	var out Hash
	h.Sum(out[:0])
	return out
}

// Sign produces a signature block for artifact and d. The descriptor is
// validated again here so that a caller that skipped resolution cannot get an
// unchecked descriptor signed.
func Sign(artifact []byte, d *descriptor.Descriptor, key *Key) (*Block, error) {
	if key == nil || key.signer == nil {
		return nil, &KeyError{Reason: "no key provided"}
	}
	if len(artifact) == 0 {
		return nil, &IntegrityError{Reason: "artifact is empty"}
	}
	if d == nil {
		return nil, &IntegrityError{Reason: "descriptor is missing"}
	}
	if err := d.Validate(); err != nil {
		return nil, &IntegrityError{Reason: "descriptor failed validation", Err: err}
	}

	digest := Digest(artifact, d)

	var (
		sig []byte
		err error
	)
	switch key.algorithm {
	case AlgorithmEd25519:
		sig, err = key.signer.Sign(rand.Reader, digest[:], crypto.Hash(0))
	case AlgorithmECDSAP256:
		sig, err = key.signer.Sign(rand.Reader, digest[:], crypto.SHA256)
	default:
		return nil, &KeyError{Reason: fmt.Sprintf("unsupported signature algorithm %q", string(key.algorithm))}
	}
	if err != nil {
		return nil, &KeyError{Reason: "signing failed", Err: err}
	}

	return &Block{
		Algorithm:      key.algorithm,
		Digest:         digest,
		Signature:      sig,
		SignerIdentity: key.Identity(),
	}, nil
}

// Verify recomputes the digest of artifact and d and checks block's signature
// against the identity embedded in it. Every mismatch is an *IntegrityError.
func Verify(artifact []byte, d *descriptor.Descriptor, block *Block) error {
	if block == nil {
		return &IntegrityError{Reason: "signature block is missing"}
	}
	if d == nil {
		return &IntegrityError{Reason: "descriptor is missing"}
	}
	if ok, errs := block.Algorithm.IsValid(); !ok {
		return errs[0]
	}

	if got := Digest(artifact, d); got != block.Digest {
		return &IntegrityError{Reason: fmt.Sprintf("digest mismatch: recorded %s, computed %s", block.Digest, got)}
	}

	pub, alg, err := parseIdentity(block.SignerIdentity)
	if err != nil {
		return &IntegrityError{Reason: "signer identity is unusable", Err: err}
	}
	if alg != block.Algorithm {
		return &IntegrityError{Reason: fmt.Sprintf("signer identity is a %s key but the block claims %s", alg, block.Algorithm)}
	}

	var valid bool
	switch p := pub.(type) {
	case ed25519.PublicKey:
		valid = ed25519.Verify(p, block.Digest[:], block.Signature)
	case *ecdsa.PublicKey:
		valid = ecdsa.VerifyASN1(p, block.Digest[:], block.Signature)
	}
	if !valid {
		return &IntegrityError{Reason: "signature does not match digest"}
	}
	return nil
}

// VerifyWithIdentity is Verify plus a check that the block was signed by the
// expected PKIX identity.
func VerifyWithIdentity(artifact []byte, d *descriptor.Descriptor, block *Block, identity []byte) error {
	if err := Verify(artifact, d, block); err != nil {
		return err
	}
	if !bytes.Equal(block.SignerIdentity, identity) {
		return &IntegrityError{Reason: fmt.Sprintf("signed by %s, expected %s",
			Fingerprint(block.SignerIdentity), Fingerprint(identity))}
	}
	return nil
}
