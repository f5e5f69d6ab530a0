// Package trust provides the root resolvers used to anchor certificate
// chains: a fixed set of keys, the database trust store, a caching layer and
// an ordered combination of those.
package trust

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/evidenceledger/jwcert/internal/cache"
	"github.com/evidenceledger/jwcert/internal/chain"
	"github.com/evidenceledger/jwcert/internal/models"
	"github.com/evidenceledger/jwcert/internal/pubkey"
)

// Static resolves issuers from a fixed map.
type Static map[string]pubkey.PublicKey

func (s Static) ResolveRoot(_ context.Context, issuer string) (pubkey.PublicKey, error) {
	return s[issuer], nil
}

// RootStore is the persistence the Store resolver reads from.
type RootStore interface {
	GetTrustedRoot(ctx context.Context, issuer string) (*models.TrustedRoot, error)
}

// Store resolves issuers from a RootStore.
type Store struct {
	roots RootStore
}

// NewStore creates a resolver over roots.
func NewStore(roots RootStore) *Store {
	return &Store{roots: roots}
}

func (s *Store) ResolveRoot(ctx context.Context, issuer string) (pubkey.PublicKey, error) {
	root, err := s.roots.GetTrustedRoot(ctx, issuer)
	if err != nil {
		return pubkey.PublicKey{}, err
	}
	if root == nil {
		return pubkey.PublicKey{}, nil
	}
	key, err := pubkey.FromSimpleObject(root.PublicKey)
	if err != nil {
		return pubkey.PublicKey{}, fmt.Errorf("stored root for %q is unusable: %w", issuer, err)
	}
	return key, nil
}

// Cached remembers keys found by an inner resolver for a while. Unknown
// issuers are not remembered, so a root added to the store is picked up on
// the next lookup.
type Cached struct {
	inner chain.RootResolver
	keys  *cache.Cache[pubkey.PublicKey]
	ttl   time.Duration
}

// NewCached wraps inner with a cache whose entries live for ttl.
func NewCached(inner chain.RootResolver, ttl time.Duration) *Cached {
	return &Cached{
		inner: inner,
		keys:  cache.New[pubkey.PublicKey](ttl),
		ttl:   ttl,
	}
}

func (c *Cached) ResolveRoot(ctx context.Context, issuer string) (pubkey.PublicKey, error) {
	if key, ok := c.keys.Get(issuer); ok {
		return key, nil
	}
	key, err := c.inner.ResolveRoot(ctx, issuer)
	if err != nil || key.IsZero() {
		return key, err
	}
	c.keys.Set(issuer, key, c.ttl)
	return key, nil
}

// Forget drops the cached key of issuer.
func (c *Cached) Forget(issuer string) {
	c.keys.Delete(issuer)
}

// Multi asks each resolver in turn and returns the first key found.
type Multi []chain.RootResolver

func (m Multi) ResolveRoot(ctx context.Context, issuer string) (pubkey.PublicKey, error) {
	var errs []error
	for _, r := range m {
		key, err := r.ResolveRoot(ctx, issuer)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !key.IsZero() {
			return key, nil
		}
	}
	return pubkey.PublicKey{}, errors.Join(errs...)
}
