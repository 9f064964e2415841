package auth

import (
	"context"
	"crypto"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	jose "github.com/go-jose/go-jose/v4"
)

// maxKeySetSize caps discovery and key set responses.
const maxKeySetSize = 1 << 20

// SigningKey is a public key published by the identity provider.
type SigningKey struct {
	KeyID     string
	Algorithm string // may be empty when the provider omits "alg"
	PublicKey crypto.PublicKey
}

// KeyFetcher loads the provider's current key set.
type KeyFetcher interface {
	FetchKeys(ctx context.Context) ([]SigningKey, error)
}

// KeyCache is a process-wide cache of signing keys by key id. Entries are
// never evicted; an unknown key id triggers a refetch of the whole set.
// Concurrent misses may refetch redundantly.
type KeyCache struct {
	fetcher   KeyFetcher
	onRefresh func(err error)

	mu   sync.RWMutex
	keys map[string]SigningKey
}

// NewKeyCache returns an empty cache backed by fetcher. onRefresh, if non-nil,
// is called after every fetch attempt.
func NewKeyCache(fetcher KeyFetcher, onRefresh func(err error)) *KeyCache {
	return &KeyCache{
		fetcher:   fetcher,
		onRefresh: onRefresh,
		keys:      make(map[string]SigningKey),
	}
}

// Key returns the key for kid, refreshing the cache once on a miss.
func (c *KeyCache) Key(ctx context.Context, kid string) (SigningKey, error) {
	if k, ok := c.lookup(kid); ok {
		return k, nil
	}
	if err := c.Refresh(ctx); err != nil {
		return SigningKey{}, fmt.Errorf("%w: %q: %w", ErrUnknownSigningKey, kid, err)
	}
	if k, ok := c.lookup(kid); ok {
		return k, nil
	}
	return SigningKey{}, fmt.Errorf("%w: %q", ErrUnknownSigningKey, kid)
}

// Refresh fetches the key set and merges it into the cache.
func (c *KeyCache) Refresh(ctx context.Context) error {
	keys, err := c.fetcher.FetchKeys(ctx)
	if c.onRefresh != nil {
		c.onRefresh(err)
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	for _, k := range keys {
		c.keys[k.KeyID] = k
	}
	c.mu.Unlock()

	slog.DebugContext(ctx, "signing keys refreshed", "count", len(keys))
	return nil
}

// Keys returns a snapshot of the cached keys ordered by key id.
func (c *KeyCache) Keys() []SigningKey {
	c.mu.RLock()
	out := make([]SigningKey, 0, len(c.keys))
	for _, k := range c.keys {
		out = append(out, k)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].KeyID < out[j].KeyID })
	return out
}

func (c *KeyCache) lookup(kid string) (SigningKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	k, ok := c.keys[kid]
	return k, ok
}

// HTTPDoer is the subset of *http.Client used for key fetches.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// JWKSFetcher reads keys from an OpenID discovery document's jwks_uri, or
// directly from JWKSURL when it is set.
type JWKSFetcher struct {
	DiscoveryURL string
	JWKSURL      string
	Client       HTTPDoer
}

// FetchKeys implements KeyFetcher.
func (f *JWKSFetcher) FetchKeys(ctx context.Context) ([]SigningKey, error) {
	jwksURL := f.JWKSURL
	if jwksURL == "" {
		u, err := f.discover(ctx)
		if err != nil {
			return nil, err
		}
		jwksURL = u
	}

	var set struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := f.getJSON(ctx, jwksURL, &set); err != nil {
		return nil, fmt.Errorf("fetching key set: %w", err)
	}

	keys := make([]SigningKey, 0, len(set.Keys))
	for _, raw := range set.Keys {
		var jwk jose.JSONWebKey
		if err := jwk.UnmarshalJSON(raw); err != nil {
			slog.WarnContext(ctx, "skipping malformed signing key", "error", err)
			continue
		}
		if jwk.KeyID == "" || !jwk.IsPublic() || !jwk.Valid() {
			continue
		}
		if jwk.Use != "" && jwk.Use != "sig" {
			continue
		}
		keys = append(keys, SigningKey{
			KeyID:     jwk.KeyID,
			Algorithm: jwk.Algorithm,
			PublicKey: jwk.Key,
		})
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("key set at %s contains no usable signing keys", jwksURL)
	}
	return keys, nil
}

func (f *JWKSFetcher) discover(ctx context.Context) (string, error) {
	var doc struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := f.getJSON(ctx, f.DiscoveryURL, &doc); err != nil {
		return "", fmt.Errorf("fetching discovery document: %w", err)
	}
	if doc.JWKSURI == "" {
		return "", fmt.Errorf("discovery document at %s has no jwks_uri", f.DiscoveryURL)
	}
	return doc.JWKSURI, nil
}

func (f *JWKSFetcher) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return json.NewDecoder(io.LimitReader(resp.Body, maxKeySetSize)).Decode(out)
}
