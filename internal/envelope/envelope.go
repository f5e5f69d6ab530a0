// Package envelope signs arbitrary payloads into compact JWS tokens and
// checks them again. It knows nothing about what the payload means; callers
// supply the bytes through the Payloader interface.
package envelope

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/lestrrat-go/jwx/v3/jws"

	"github.com/evidenceledger/jwcert/internal/pubkey"
)

// ErrMalformed is returned when a token is not a compact JWS with a single
// protected signature.
var ErrMalformed = errors.New("malformed envelope")

// Payloader produces the exact bytes that get signed.
type Payloader interface {
	SerializePayload() ([]byte, error)
}

// Parsed is the decoded content of a token. Parsing does not check the
// signature.
type Parsed struct {
	Algorithm string
	Payload   []byte
	Signature []byte
}

// Sign serializes p and signs the result with key, returning the compact
// serialization header.payload.signature.
func Sign(p Payloader, key pubkey.PrivateKey) (string, error) {
	if key.IsZero() {
		return "", pubkey.ErrInvalidKey
	}
	payload, err := p.SerializePayload()
	if err != nil {
		return "", fmt.Errorf("failed to serialize payload: %w", err)
	}
	alg, err := key.Public().SignatureAlgorithm()
	if err != nil {
		return "", err
	}
	signed, err := jws.Sign(payload, jws.WithKey(alg, key.Raw()))
	if err != nil {
		return "", fmt.Errorf("failed to sign payload: %w", err)
	}
	return string(signed), nil
}

// Parse decodes token without verifying it.
func Parse(token string) (*Parsed, error) {
	if strings.Count(token, ".") != 2 {
		return nil, fmt.Errorf("%w: expected three dot separated segments", ErrMalformed)
	}
	msg, err := jws.ParseString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	sigs := msg.Signatures()
	if len(sigs) != 1 {
		return nil, fmt.Errorf("%w: expected one signature, got %d", ErrMalformed, len(sigs))
	}
	alg, ok := sigs[0].ProtectedHeaders().Algorithm()
	if !ok {
		return nil, fmt.Errorf("%w: missing alg header", ErrMalformed)
	}
	return &Parsed{
		Algorithm: alg.String(),
		Payload:   msg.Payload(),
		Signature: sigs[0].Signature(),
	}, nil
}

// Verify reports whether token carries a valid signature by key over its
// payload. The algorithm named in the token header must be the one key signs
// with.
func Verify(token string, key pubkey.PublicKey) bool {
	if key.IsZero() {
		return false
	}
	parsed, err := Parse(token)
	if err != nil {
		return false
	}
	alg, err := key.SignatureAlgorithm()
	if err != nil || alg.String() != parsed.Algorithm {
		return false
	}
	payload, err := jws.Verify([]byte(token), jws.WithKey(alg, key.Raw()))
	if err != nil {
		return false
	}
	return bytes.Equal(payload, parsed.Payload)
}
