// Package pubkey holds the key value types carried inside certificates.
//
// A public key travels in a certificate payload as a simple object
// {"alg": ..., "value": ...} where alg names the key family ("RS" for RSA,
// "ES" for ECDSA) and value is the PEM encoded PKIX public key.
package pubkey

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// Key families accepted in the "alg" field of a simple object.
const (
	AlgRSA = "RS"
	AlgEC  = "ES"
)

var (
	ErrInvalidKey           = errors.New("invalid key")
	ErrUnsupportedAlgorithm = errors.New("unsupported key algorithm")
)

// SimpleObject is the canonical plain-mapping form of a public key.
type SimpleObject struct {
	Alg   string `json:"alg" yaml:"alg"`
	Value string `json:"value" yaml:"value"`
}

// PublicKey is an immutable public key of a supported family.
// The zero value holds no key.
type PublicKey struct {
	alg string
	key crypto.PublicKey
}

// New wraps a raw *rsa.PublicKey or *ecdsa.PublicKey.
func New(raw crypto.PublicKey) (PublicKey, error) {
	switch k := raw.(type) {
	case *rsa.PublicKey:
		if k == nil || k.N == nil {
			return PublicKey{}, ErrInvalidKey
		}
		if k.N.BitLen() < 1024 {
			return PublicKey{}, fmt.Errorf("%w: RSA modulus too small (%d bits)", ErrInvalidKey, k.N.BitLen())
		}
		return PublicKey{alg: AlgRSA, key: k}, nil
	case *ecdsa.PublicKey:
		if k == nil || k.Curve == nil {
			return PublicKey{}, ErrInvalidKey
		}
		if _, err := ecSignatureAlgorithm(k.Curve); err != nil {
			return PublicKey{}, err
		}
		return PublicKey{alg: AlgEC, key: k}, nil
	default:
		return PublicKey{}, fmt.Errorf("%w: %T", ErrUnsupportedAlgorithm, raw)
	}
}

// Alg returns the key family, AlgRSA or AlgEC.
func (k PublicKey) Alg() string { return k.alg }

// IsZero reports whether k holds no key.
func (k PublicKey) IsZero() bool { return k.key == nil }

// Raw returns the underlying crypto.PublicKey.
func (k PublicKey) Raw() crypto.PublicKey { return k.key }

// SignatureAlgorithm is the JWS algorithm used for signatures made with the
// private half of k.
func (k PublicKey) SignatureAlgorithm() (jwa.SignatureAlgorithm, error) {
	switch raw := k.key.(type) {
	case *rsa.PublicKey:
		return jwa.RS256(), nil
	case *ecdsa.PublicKey:
		return ecSignatureAlgorithm(raw.Curve)
	default:
		var none jwa.SignatureAlgorithm
		return none, ErrInvalidKey
	}
}

// Equal reports whether both keys hold the same key material.
func (k PublicKey) Equal(other PublicKey) bool {
	type equaler interface {
		Equal(crypto.PublicKey) bool
	}
	if k.IsZero() || other.IsZero() {
		return k.IsZero() && other.IsZero()
	}
	e, ok := k.key.(equaler)
	return ok && e.Equal(other.key)
}

// ToSimpleObject returns the canonical {alg, value} form of k.
func (k PublicKey) ToSimpleObject() (SimpleObject, error) {
	if k.IsZero() {
		return SimpleObject{}, ErrInvalidKey
	}
	der, err := x509.MarshalPKIXPublicKey(k.key)
	if err != nil {
		return SimpleObject{}, fmt.Errorf("failed to marshal public key: %w", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return SimpleObject{Alg: k.alg, Value: string(pem.EncodeToMemory(block))}, nil
}

// FromSimpleObject rebuilds a key from its {alg, value} form. The declared
// family must match the encoded key.
func FromSimpleObject(obj SimpleObject) (PublicKey, error) {
	if obj.Alg != AlgRSA && obj.Alg != AlgEC {
		return PublicKey{}, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, obj.Alg)
	}
	der, err := decodePublicPEM(obj.Value)
	if err != nil {
		return PublicKey{}, err
	}
	raw, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	k, err := New(raw)
	if err != nil {
		return PublicKey{}, err
	}
	if k.alg != obj.Alg {
		return PublicKey{}, fmt.Errorf("%w: declared %q but key is %q", ErrInvalidKey, obj.Alg, k.alg)
	}
	return k, nil
}

const (
	pemBegin = "-----BEGIN PUBLIC KEY-----"
	pemEnd   = "-----END PUBLIC KEY-----"
)

// decodePublicPEM returns the DER bytes of a "PUBLIC KEY" PEM value. Besides
// regular PEM it accepts the armor and base64 body run together on a single
// line, as some issuers write them.
func decodePublicPEM(value string) ([]byte, error) {
	if block, _ := pem.Decode([]byte(value)); block != nil {
		if block.Type != "PUBLIC KEY" {
			return nil, fmt.Errorf("%w: unexpected PEM block %q", ErrInvalidKey, block.Type)
		}
		return block.Bytes, nil
	}

	body, ok := strings.CutPrefix(strings.TrimSpace(value), pemBegin)
	if !ok {
		return nil, fmt.Errorf("%w: value is not PEM encoded", ErrInvalidKey)
	}
	body, ok = strings.CutSuffix(body, pemEnd)
	if !ok {
		return nil, fmt.Errorf("%w: value is not PEM encoded", ErrInvalidKey)
	}
	body = strings.Join(strings.Fields(body), "")
	der, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("%w: bad PEM body: %v", ErrInvalidKey, err)
	}
	return der, nil
}

// MarshalJSON encodes k as its simple object.
func (k PublicKey) MarshalJSON() ([]byte, error) {
	obj, err := k.ToSimpleObject()
	if err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

// UnmarshalJSON decodes a simple object into k.
func (k *PublicKey) UnmarshalJSON(data []byte) error {
	var obj SimpleObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	parsed, err := FromSimpleObject(obj)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ToJWK converts k to a JSON Web Key carrying its signature algorithm.
func (k PublicKey) ToJWK() (jwk.Key, error) {
	if k.IsZero() {
		return nil, ErrInvalidKey
	}
	jk, err := jwk.Import(k.key)
	if err != nil {
		return nil, fmt.Errorf("failed to import key: %w", err)
	}
	alg, err := k.SignatureAlgorithm()
	if err != nil {
		return nil, err
	}
	if err := jk.Set(jwk.AlgorithmKey, alg); err != nil {
		return nil, fmt.Errorf("failed to set alg: %w", err)
	}
	if err := jk.Set(jwk.KeyUsageKey, "sig"); err != nil {
		return nil, fmt.Errorf("failed to set use: %w", err)
	}
	return jk, nil
}

// FromJWK extracts a public key from a JSON Web Key. Private JWKs are
// reduced to their public half.
func FromJWK(jk jwk.Key) (PublicKey, error) {
	if jk == nil {
		return PublicKey{}, ErrInvalidKey
	}
	pub, err := jwk.PublicKeyOf(jk)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	var raw any
	if err := jwk.Export(pub, &raw); err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	switch v := raw.(type) {
	case rsa.PublicKey:
		return New(&v)
	case ecdsa.PublicKey:
		return New(&v)
	default:
		return New(raw)
	}
}

// Thumbprint is the base64url RFC 7638 SHA-256 thumbprint of k.
func (k PublicKey) Thumbprint() (string, error) {
	jk, err := k.ToJWK()
	if err != nil {
		return "", err
	}
	sum, err := jk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("failed to compute thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(sum), nil
}

func ecSignatureAlgorithm(curve elliptic.Curve) (jwa.SignatureAlgorithm, error) {
	switch curve {
	case elliptic.P256():
		return jwa.ES256(), nil
	case elliptic.P384():
		return jwa.ES384(), nil
	default:
		var none jwa.SignatureAlgorithm
		return none, fmt.Errorf("%w: curve %s", ErrUnsupportedAlgorithm, curve.Params().Name)
	}
}
