package pubkey

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// RSABits is the modulus size of generated RSA keys.
const RSABits = 2048

// PrivateKey is the signing half of a key pair.
type PrivateKey struct {
	public PublicKey
	key    crypto.Signer
}

// Generate creates a fresh key pair of the given family. ECDSA keys use P-256.
func Generate(alg string) (PrivateKey, error) {
	var (
		signer crypto.Signer
		err    error
	)
	switch alg {
	case AlgRSA:
		signer, err = rsa.GenerateKey(rand.Reader, RSABits)
	case AlgEC:
		signer, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	default:
		return PrivateKey{}, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
	if err != nil {
		return PrivateKey{}, fmt.Errorf("failed to generate %s key: %w", alg, err)
	}
	return NewPrivate(signer)
}

// NewPrivate wraps a raw *rsa.PrivateKey or *ecdsa.PrivateKey.
func NewPrivate(signer crypto.Signer) (PrivateKey, error) {
	if signer == nil {
		return PrivateKey{}, ErrInvalidKey
	}
	pub, err := New(signer.Public())
	if err != nil {
		return PrivateKey{}, err
	}
	return PrivateKey{public: pub, key: signer}, nil
}

// Public returns the matching public key.
func (p PrivateKey) Public() PublicKey { return p.public }

// Raw returns the underlying signer.
func (p PrivateKey) Raw() crypto.Signer { return p.key }

// IsZero reports whether p holds no key.
func (p PrivateKey) IsZero() bool { return p.key == nil }

// MarshalPEM encodes p as a PKCS#8 "PRIVATE KEY" PEM block.
func (p PrivateKey) MarshalPEM() ([]byte, error) {
	if p.IsZero() {
		return nil, ErrInvalidKey
	}
	der, err := x509.MarshalPKCS8PrivateKey(p.key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// ParsePrivateKeyPEM decodes a PKCS#8 PEM block produced by MarshalPEM.
func ParsePrivateKeyPEM(data []byte) (PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return PrivateKey{}, fmt.Errorf("%w: no PEM block found", ErrInvalidKey)
	}
	raw, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return PrivateKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	signer, ok := raw.(crypto.Signer)
	if !ok {
		return PrivateKey{}, fmt.Errorf("%w: %T cannot sign", ErrUnsupportedAlgorithm, raw)
	}
	return NewPrivate(signer)
}
