package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedClient wraps a Client and memoizes Embed by (model, text), so
// repeated build_index runs and overlapping expanded queries within an ask
// call do not re-embed identical text. Generate, GenerateStream, and
// CheckConnection pass straight through: caching them would either be
// incorrect (generation is not a pure function of its input) or pointless
// (connection checks must hit the live server).
type CachedClient struct {
	inner     Client
	modelName string
	cache     *lru.Cache[string, []float32]
}

var _ Client = (*CachedClient)(nil)

// NewCachedClient wraps inner with an LRU embedding cache of the given
// capacity. modelName is folded into the cache key so swapping embedding
// models at runtime can never return a stale vector from a different model.
func NewCachedClient(inner Client, modelName string, capacity int) *CachedClient {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	cache, _ := lru.New[string, []float32](capacity)
	return &CachedClient{inner: inner, modelName: modelName, cache: cache}
}

func cacheKey(modelName, text string) string {
	h := sha256.Sum256([]byte(modelName + "\x00" + text))
	return hex.EncodeToString(h[:])
}

// Embed returns the cached vector if present, otherwise delegates and
// caches the result. A nil/empty result from the inner client (embedding
// failed) is never cached, so a transient failure does not poison future
// lookups for the same text.
func (c *CachedClient) Embed(ctx context.Context, text string) []float32 {
	key := cacheKey(c.modelName, text)
	if v, ok := c.cache.Get(key); ok {
		return v
	}
	v := c.inner.Embed(ctx, text)
	if len(v) == 0 {
		return v
	}
	c.cache.Add(key, v)
	return v
}

func (c *CachedClient) Generate(ctx context.Context, prompt, system string) string {
	return c.inner.Generate(ctx, prompt, system)
}

func (c *CachedClient) Complete(ctx context.Context, prompt, system string) (string, error) {
	return c.inner.Complete(ctx, prompt, system)
}

func (c *CachedClient) GenerateStream(ctx context.Context, prompt, system string) (<-chan Delta, error) {
	return c.inner.GenerateStream(ctx, prompt, system)
}

func (c *CachedClient) CheckConnection(ctx context.Context) (bool, string) {
	return c.inner.CheckConnection(ctx)
}

// Inner exposes the wrapped client, e.g. for tests that need to assert on
// call counts against the underlying stub.
func (c *CachedClient) Inner() Client { return c.inner }
