package lti

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/mlibrary/lti-tool-provider/internal/consumer"
)

// KeysetProvider resolves the platform's public key set for a registration.
// The JWKS fetch is the only network I/O on the launch path and lives behind
// this interface so tests can substitute a static set.
type KeysetProvider interface {
	Keyset(ctx context.Context, c *consumer.Consumer) (jwk.Set, error)
}

// CachedKeys fetches platform JWKS through an auto-refreshing jwk.Cache.
// URLs are registered lazily on first use.
type CachedKeys struct {
	cache *jwk.Cache

	mu         sync.Mutex
	registered map[string]bool
}

// NewCachedKeys builds the shared JWKS cache. ctx bounds the cache's
// background refresh workers.
func NewCachedKeys(ctx context.Context) (*CachedKeys, error) {
	cache, err := jwk.NewCache(ctx, httprc.NewClient())
	if err != nil {
		return nil, fmt.Errorf("lti: jwks cache: %w", err)
	}
	return &CachedKeys{cache: cache, registered: make(map[string]bool)}, nil
}

func (k *CachedKeys) Keyset(ctx context.Context, c *consumer.Consumer) (jwk.Set, error) {
	if c.KeySetURL == "" {
		return nil, fmt.Errorf("lti: consumer %q has no key set url", c.ID)
	}
	if err := k.register(ctx, c.KeySetURL); err != nil {
		return nil, err
	}
	set, err := k.cache.Lookup(ctx, c.KeySetURL)
	if err != nil {
		return nil, fmt.Errorf("lti: jwks lookup %s: %w", c.KeySetURL, err)
	}
	return set, nil
}

func (k *CachedKeys) register(ctx context.Context, keysetURL string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.registered[keysetURL] {
		return nil
	}
	regCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := k.cache.Register(regCtx, keysetURL); err != nil {
		return fmt.Errorf("lti: jwks register %s: %w", keysetURL, err)
	}
	k.registered[keysetURL] = true
	return nil
}

// StaticKeys serves fixed key sets keyed by issuer (tests, air-gapped dev).
type StaticKeys map[string]jwk.Set

func (s StaticKeys) Keyset(_ context.Context, c *consumer.Consumer) (jwk.Set, error) {
	set, ok := s[c.Issuer]
	if !ok {
		return nil, fmt.Errorf("lti: no keys for issuer %q", c.Issuer)
	}
	return set, nil
}
