package llmcache

import (
	"context"
	"time"

	"github.com/vulndash/vulndash/internal/llm"
	"github.com/vulndash/vulndash/internal/logger"
)

// generator is the subset of llm.Gateway a CachedGenerator wraps, mirrored
// from internal/extraction's own generator seam so either side can be
// satisfied by a plain *llm.Gateway without an adapter type.
type generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (*llm.GenerateResult, error)
}

// CachedGenerator wraps an LLM gateway with a Cache, so internal/extraction
// can be handed a CachedGenerator in place of *llm.Gateway with no other
// change: both satisfy the same Generate signature.
type CachedGenerator struct {
	inner generator
	cache Cache
	ttl   time.Duration
	log   *logger.Logger
}

// NewCachedGenerator wraps inner with cache; a zero ttl uses MemoryCache's
// default TTL, while RedisCache stores such an entry with no expiry.
func NewCachedGenerator(inner generator, cache Cache, ttl time.Duration, log *logger.Logger) *CachedGenerator {
	return &CachedGenerator{inner: inner, cache: cache, ttl: ttl, log: log.WithComponent("llmcache")}
}

// Generate returns the cached response for this exact prompt pair if one
// exists, otherwise calls through to inner and caches the result. A cache
// read/write failure never fails the call — caching is best-effort, same
// as the provider fallback chain inside the gateway itself.
func (c *CachedGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (*llm.GenerateResult, error) {
	key := NewKey(systemPrompt, userPrompt)

	if cached, err := c.cache.Get(ctx, key); err != nil {
		c.log.WarnContext(ctx, "cache get failed", "error", err)
	} else if cached != nil {
		return &llm.GenerateResult{Text: cached.Text, Provider: cached.Provider, Model: cached.Model}, nil
	}

	result, err := c.inner.Generate(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	cacheErr := c.cache.Put(ctx, key, &Result{
		Text:      result.Text,
		Provider:  result.Provider,
		Model:     result.Model,
		CreatedAt: time.Now(),
	}, c.ttl)
	if cacheErr != nil {
		c.log.WarnContext(ctx, "cache put failed", "error", cacheErr)
	}

	return result, nil
}
