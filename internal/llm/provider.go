// Package llm provides the extraction engine's LLM provider abstraction:
// a common interface across Anthropic, OpenAI, Azure OpenAI, and local
// (OpenAI-compatible) backends, plus a priority-ordered gateway that falls
// back from one provider to the next on failure.
package llm

import (
	"context"
	"time"
)

// Provider is the interface every LLM backend implements. Extraction never
// talks to a vendor SDK directly; it only ever calls through this interface,
// so swapping providers or adding one is a matter of implementing it once.
type Provider interface {
	// Name returns the configured provider name (anthropic, openai, ...).
	Name() string

	// Model returns the model identifier this provider instance targets.
	Model() string

	// TestConnection performs a minimal round trip to confirm the provider
	// is reachable and the configured credentials are accepted.
	TestConnection(ctx context.Context) error

	// ListModels returns the model identifiers the provider's account can
	// use. Providers that don't expose a models endpoint return the single
	// configured model.
	ListModels(ctx context.Context) ([]string, error)

	// CheckModelAvailable reports whether the given model id is usable by
	// this provider's account.
	CheckModelAvailable(ctx context.Context, model string) (bool, error)

	// GenerateJSON sends systemPrompt+userPrompt to the model and returns
	// its raw text response. The caller (internal/extraction) is
	// responsible for coercing that text into JSON via internal/llmjson.
	GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (*GenerateResult, error)
}

// GenerateResult is a provider's raw completion plus bookkeeping the
// extraction engine needs to populate ExtractionMetadata and confidence
// scoring.
type GenerateResult struct {
	Text         string        `json:"text"`
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	InputTokens  int           `json:"inputTokens"`
	OutputTokens int           `json:"outputTokens"`
	Latency      time.Duration `json:"latency"`
	StopReason   string        `json:"stopReason"`
	// AttemptIndex is the position in the provider chain that produced this
	// result: 0 for the primary provider, 1 for the first fallback, and so
	// on. Gateway.Generate sets this; providers never populate it themselves.
	AttemptIndex int `json:"attemptIndex"`
}
