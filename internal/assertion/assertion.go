// Package assertion handles backed identity assertions.
//
// A backed assertion is a certificate chain followed by a short-lived JWT
// that the holder of the leaf certificate's private key signs for one
// audience, all joined with "~":
//
//	cert_1~cert_2~...~cert_n~assertion
//
// Verifying it proves that whoever presented it controls the identity named
// by the leaf certificate, towards that audience only.
package assertion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/evidenceledger/jwcert/internal/cert"
	"github.com/evidenceledger/jwcert/internal/chain"
	"github.com/evidenceledger/jwcert/internal/pubkey"
)

// Separator joins the parts of a backed assertion.
const Separator = "~"

var (
	ErrMalformedBundle  = errors.New("malformed backed assertion")
	ErrInvalidAssertion = errors.New("invalid assertion")
	ErrAudienceMismatch = errors.New("assertion audience mismatch")
	ErrAssertionExpired = errors.New("assertion expired")
)

// Identity is what a verified backed assertion proves.
type Identity struct {
	Email     string
	Principal cert.Principal
	Audience  string
	// Issuer is the root issuer the certificate chain is anchored to.
	Issuer    string
	ExpiresAt time.Time
}

// Sign creates an assertion for audience valid until expires, signed with
// the private key matching the leaf certificate.
func Sign(key pubkey.PrivateKey, audience string, expires time.Time) (string, error) {
	if key.IsZero() {
		return "", pubkey.ErrInvalidKey
	}
	if audience == "" {
		return "", fmt.Errorf("%w: empty audience", ErrInvalidAssertion)
	}
	method, err := signingMethod(key.Public())
	if err != nil {
		return "", err
	}

	claims := jwt.RegisteredClaims{
		Audience:  jwt.ClaimStrings{audience},
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	token := jwt.NewWithClaims(method, claims)

	signed, err := token.SignedString(key.Raw())
	if err != nil {
		return "", fmt.Errorf("failed to sign assertion: %w", err)
	}
	return signed, nil
}

// Bundle joins a serialized certificate chain and an assertion.
func Bundle(certs []string, assertion string) string {
	parts := make([]string, 0, len(certs)+1)
	parts = append(parts, certs...)
	parts = append(parts, assertion)
	return strings.Join(parts, Separator)
}

// Unbundle splits a backed assertion into its certificates and assertion.
func Unbundle(backed string) ([]string, string, error) {
	parts := strings.Split(backed, Separator)
	if len(parts) < 2 {
		return nil, "", fmt.Errorf("%w: need at least one certificate and an assertion", ErrMalformedBundle)
	}
	for i, p := range parts {
		if p == "" {
			return nil, "", fmt.Errorf("%w: part %d is empty", ErrMalformedBundle, i)
		}
	}
	return parts[:len(parts)-1], parts[len(parts)-1], nil
}

// Verify checks a backed assertion for audience at the given time: the
// chain must verify against a root from resolver, its leaf must name an
// email identity, and the assertion must be signed by the leaf key, be meant
// for audience and not have expired.
func Verify(ctx context.Context, backed, audience string, at time.Time, resolver chain.RootResolver) (*Identity, error) {
	certs, assertion, err := Unbundle(backed)
	if err != nil {
		return nil, err
	}

	res, err := chain.Verify(ctx, certs, at, resolver)
	if err != nil {
		return nil, err
	}
	if err := res.Principal.Validate(); err != nil {
		return nil, err
	}
	if !res.Principal.IsLeaf() {
		return nil, fmt.Errorf("%w: leaf certificate names %s, not an email", cert.ErrInvalidPrincipal, res.Principal)
	}

	method, err := signingMethod(res.PublicKey)
	if err != nil {
		return nil, err
	}

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(assertion, claims,
		func(*jwt.Token) (any, error) { return res.PublicKey.Raw(), nil },
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return at }),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("%w: %v", ErrAssertionExpired, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return nil, fmt.Errorf("%w: want %q", ErrAudienceMismatch, audience)
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalidAssertion, err)
	}

	return &Identity{
		Email:     res.Principal.Email,
		Principal: res.Principal,
		Audience:  audience,
		Issuer:    res.RootIssuer,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func signingMethod(key pubkey.PublicKey) (jwt.SigningMethod, error) {
	alg, err := key.SignatureAlgorithm()
	if err != nil {
		return nil, err
	}
	method := jwt.GetSigningMethod(alg.String())
	if method == nil {
		return nil, fmt.Errorf("%w: %s", pubkey.ErrUnsupportedAlgorithm, alg)
	}
	return method, nil
}
