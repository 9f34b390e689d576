package llmcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulndash/vulndash/internal/llm"
	"github.com/vulndash/vulndash/internal/logger"
)

type fakeGenerator struct {
	calls  int
	result *llm.GenerateResult
	err    error
}

func (f *fakeGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (*llm.GenerateResult, error) {
	f.calls++
	return f.result, f.err
}

func TestCachedGenerator_SecondCallIsACacheHit(t *testing.T) {
	inner := &fakeGenerator{result: &llm.GenerateResult{Text: "{}", Provider: "anthropic", Model: "claude"}}
	cg := NewCachedGenerator(inner, NewMemoryCache(MemoryCacheConfig{}), time.Minute, logger.New("error", "text"))

	ctx := context.Background()
	_, err := cg.Generate(ctx, "system", "user")
	require.NoError(t, err)
	_, err = cg.Generate(ctx, "system", "user")
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls, "a repeated prompt pair must not call the inner generator twice")
}

func TestCachedGenerator_DifferentPromptsAreIndependentCalls(t *testing.T) {
	inner := &fakeGenerator{result: &llm.GenerateResult{Text: "{}", Provider: "anthropic"}}
	cg := NewCachedGenerator(inner, NewMemoryCache(MemoryCacheConfig{}), time.Minute, logger.New("error", "text"))

	ctx := context.Background()
	_, _ = cg.Generate(ctx, "system", "user-a")
	_, _ = cg.Generate(ctx, "system", "user-b")

	assert.Equal(t, 2, inner.calls)
}

func TestCachedGenerator_InnerErrorIsNotCached(t *testing.T) {
	inner := &fakeGenerator{err: errors.New("provider exhausted")}
	cg := NewCachedGenerator(inner, NewMemoryCache(MemoryCacheConfig{}), time.Minute, logger.New("error", "text"))

	ctx := context.Background()
	_, err := cg.Generate(ctx, "system", "user")
	assert.Error(t, err)

	inner.err = nil
	inner.result = &llm.GenerateResult{Text: "recovered"}
	_, err = cg.Generate(ctx, "system", "user")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls, "a failed call must not be served from cache on retry")
}
