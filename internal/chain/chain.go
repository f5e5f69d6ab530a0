// Package chain verifies ordered certificate chains.
//
// The first certificate in a chain is signed by a root key that is not part
// of the chain; it is looked up by the first certificate's issuer through a
// RootResolver. Every certificate vouches for the key of the next one, and
// the last certificate carries the principal being authenticated.
package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/evidenceledger/jwcert/internal/cert"
	"github.com/evidenceledger/jwcert/internal/pubkey"
)

// Failure kinds. Every error returned by Verify matches exactly one of these
// with errors.Is.
var (
	ErrEmptyChain         = errors.New("empty certificate chain")
	ErrParse              = errors.New("unparsable certificate in chain")
	ErrNoRootKey          = errors.New("no root key found")
	ErrBadSignature       = errors.New("bad signature in chain")
	ErrExpiredCertificate = errors.New("expired certificate in chain")
)

// RootResolver looks up the trusted public key of an issuer. A zero key with
// a nil error means the issuer is unknown.
type RootResolver interface {
	ResolveRoot(ctx context.Context, issuer string) (pubkey.PublicKey, error)
}

// ResolverFunc adapts a function to RootResolver.
type ResolverFunc func(ctx context.Context, issuer string) (pubkey.PublicKey, error)

func (f ResolverFunc) ResolveRoot(ctx context.Context, issuer string) (pubkey.PublicKey, error) {
	return f(ctx, issuer)
}

// Result is the authenticated outcome of a chain: the subject key and
// principal of its last certificate.
type Result struct {
	PublicKey pubkey.PublicKey
	Principal cert.Principal

	// RootIssuer is the issuer of the first certificate, whose key anchored
	// the chain.
	RootIssuer string
}

// ParseAll parses every serialized certificate. Any failure rejects the
// whole list.
func ParseAll(serialized []string) ([]*cert.Certificate, error) {
	if len(serialized) == 0 {
		return nil, ErrEmptyChain
	}
	certs := make([]*cert.Certificate, 0, len(serialized))
	for i, s := range serialized {
		c, err := cert.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%w: certificate %d: %w", ErrParse, i, err)
		}
		certs = append(certs, c)
	}
	return certs, nil
}

// Verify parses serialized, resolves the root key for the first
// certificate's issuer and walks the chain with freshness evaluated at at.
//
// The resolver is called at most once, and not at all when the list is
// empty or does not parse. A resolver error is reported as ErrNoRootKey.
func Verify(ctx context.Context, serialized []string, at time.Time, resolver RootResolver) (*Result, error) {
	certs, err := ParseAll(serialized)
	if err != nil {
		return nil, err
	}
	if resolver == nil {
		return nil, fmt.Errorf("%w: no resolver configured", ErrNoRootKey)
	}

	issuer := certs[0].Issuer()
	root, err := resolver.ResolveRoot(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("%w: issuer %q: %w", ErrNoRootKey, issuer, err)
	}
	if root.IsZero() {
		return nil, fmt.Errorf("%w: issuer %q", ErrNoRootKey, issuer)
	}

	state := Walk(certs, root, at)
	if err := state.Err(); err != nil {
		return nil, err
	}
	res := state.Result()
	res.RootIssuer = issuer
	return &res, nil
}

// Outcome is the single value delivered by Go.
type Outcome struct {
	Result *Result
	Err    error
}

// Go runs Verify in its own goroutine. The returned channel yields exactly
// one Outcome and is then closed.
func Go(ctx context.Context, serialized []string, at time.Time, resolver RootResolver) <-chan Outcome {
	out := make(chan Outcome, 1)
	go func() {
		defer close(out)
		res, err := Verify(ctx, serialized, at, resolver)
		out <- Outcome{Result: res, Err: err}
	}()
	return out
}
