// SPDX-License-Identifier: MPL-2.0

package signing

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// PEM block labels understood by ParseKeyPEM and ParseIdentityPEM.
const (
	BlockLabelPrivateKey   = "PRIVATE KEY"
	BlockLabelEcPrivateKey = "EC PRIVATE KEY"
	BlockLabelPublicKey    = "PUBLIC KEY"
)

// maxKeyFileSize bounds LoadKeyFile reads; real PEM keys are a few hundred bytes.
const maxKeyFileSize = 64 << 10

const (
	// AlgorithmEd25519 signs the digest bytes with Ed25519.
	AlgorithmEd25519 Algorithm = "ed25519"
	// AlgorithmECDSAP256 signs the digest with ECDSA over P-256; the
	// signature is ASN.1 DER encoded.
	AlgorithmECDSAP256 Algorithm = "ecdsa-p256-sha256"
)

type (
	// Algorithm names a signature scheme.
	Algorithm string

	// Key is an opaque signing key handle supplied by the caller. The package
	// never generates or persists key material.
	Key struct {
		signer    crypto.Signer
		algorithm Algorithm
		identity  []byte
	}
)

// IsValid returns whether the Algorithm is supported, and a list of validation errors if it is not.
func (a Algorithm) IsValid() (bool, []error) {
	switch a {
	case AlgorithmEd25519, AlgorithmECDSAP256:
		return true, nil
	default:
		return false, []error{&IntegrityError{Reason: fmt.Sprintf("unsupported signature algorithm %q", string(a))}}
	}
}

// String returns the string representation of the Algorithm.
func (a Algorithm) String() string { return string(a) }

// NewKey wraps an Ed25519 or ECDSA P-256 signer.
func NewKey(signer crypto.Signer) (*Key, error) {
	if signer == nil {
		return nil, &KeyError{Reason: "no key provided"}
	}

	var alg Algorithm
	switch pub := signer.Public().(type) {
	case ed25519.PublicKey:
		if len(pub) != ed25519.PublicKeySize {
			return nil, &KeyError{Reason: "malformed ed25519 key"}
		}
		alg = AlgorithmEd25519
	case *ecdsa.PublicKey:
		if pub.Curve != elliptic.P256() {
			return nil, &KeyError{Reason: fmt.Sprintf("unsupported ECDSA curve %s", pub.Curve.Params().Name)}
		}
		alg = AlgorithmECDSAP256
	default:
		return nil, &KeyError{Reason: fmt.Sprintf("unsupported key type %T", pub)}
	}

	identity, err := x509.MarshalPKIXPublicKey(signer.Public())
	if err != nil {
		return nil, &KeyError{Reason: "encode public identity", Err: err}
	}
	return &Key{signer: signer, algorithm: alg, identity: identity}, nil
}

// ParseKeyPEM parses a PKCS#8 "PRIVATE KEY" or SEC 1 "EC PRIVATE KEY" block.
func ParseKeyPEM(data []byte) (*Key, error) {
	return parseKeyPEM(data, "")
}

// LoadKeyFile reads a PEM private key from path.
func LoadKeyFile(path string) (*Key, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &KeyError{Source: path, Reason: "cannot read key file", Err: err}
	}
	if info.Size() > maxKeyFileSize {
		return nil, &KeyError{Source: path, Reason: fmt.Sprintf("key file is %d bytes, larger than any PEM key", info.Size())}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &KeyError{Source: path, Reason: "cannot read key file", Err: err}
	}
	return parseKeyPEM(data, path)
}

func parseKeyPEM(data []byte, source string) (*Key, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, &KeyError{Source: source, Reason: "no PEM block found"}
	}

	var (
		parsed any
		err    error
	)
	switch block.Type {
	case BlockLabelPrivateKey:
		parsed, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	case BlockLabelEcPrivateKey:
		parsed, err = x509.ParseECPrivateKey(block.Bytes)
	default:
		return nil, &KeyError{Source: source, Reason: fmt.Sprintf("cannot parse private key from PEM block labeled %q", block.Type)}
	}
	if err != nil {
		return nil, &KeyError{Source: source, Reason: "malformed private key", Err: err}
	}

	signer, ok := parsed.(crypto.Signer)
	if !ok {
		return nil, &KeyError{Source: source, Reason: fmt.Sprintf("unsupported key type %T", parsed)}
	}
	k, err := NewKey(signer)
	if err != nil {
		var ke *KeyError
		if errors.As(err, &ke) {
			ke.Source = source
		}
		return nil, err
	}
	return k, nil
}

// Algorithm returns the signature scheme the key produces.
func (k *Key) Algorithm() Algorithm { return k.algorithm }

// Identity returns the PKIX DER encoding of the public key.
func (k *Key) Identity() []byte { return append([]byte(nil), k.identity...) }

// IdentityPEM returns the public key as a PEM "PUBLIC KEY" block.
func (k *Key) IdentityPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: BlockLabelPublicKey, Bytes: k.identity})
}

// ParseIdentityPEM reads a PEM "PUBLIC KEY" block and returns its PKIX DER
// bytes, suitable for VerifyWithIdentity.
func ParseIdentityPEM(data []byte) ([]byte, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, &KeyError{Reason: "no PEM block found"}
	}
	if block.Type != BlockLabelPublicKey {
		return nil, &KeyError{Reason: fmt.Sprintf("cannot parse public key from PEM block labeled %q", block.Type)}
	}
	if _, _, err := parseIdentity(block.Bytes); err != nil {
		return nil, err
	}
	return block.Bytes, nil
}

// Fingerprint returns a short printable digest of a PKIX identity.
func Fingerprint(identity []byte) string {
	sum := sha256.Sum256(identity)
	return "SHA256:" + hex.EncodeToString(sum[:16])
}

func parseIdentity(der []byte) (crypto.PublicKey, Algorithm, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, "", &KeyError{Reason: "malformed public identity", Err: err}
	}
	switch p := pub.(type) {
	case ed25519.PublicKey:
		return p, AlgorithmEd25519, nil
	case *ecdsa.PublicKey:
		if p.Curve != elliptic.P256() {
			return nil, "", &KeyError{Reason: fmt.Sprintf("unsupported ECDSA curve %s", p.Curve.Params().Name)}
		}
		return p, AlgorithmECDSAP256, nil
	default:
		return nil, "", &KeyError{Reason: fmt.Sprintf("unsupported public key type %T", pub)}
	}
}
