package llm

import (
	"context"
	"fmt"

	"github.com/vulndash/vulndash/internal/apperr"
	"github.com/vulndash/vulndash/internal/config"
	"github.com/vulndash/vulndash/internal/logger"
	"github.com/vulndash/vulndash/internal/resilience"
)

// entry pairs a configured Provider with the named circuit breaker guarding
// calls to it.
type entry struct {
	provider Provider
	breaker  *resilience.Breaker
}

// Gateway attempts providers strictly in priority order (the order they
// appear in config.LLMConfig.Providers), skipping any whose breaker is open,
// and returns the first successful generation. This is the "conservative
// routing" fallback chain: no parallel racing of providers, since a generate
// call has a real dollar cost per attempt.
type Gateway struct {
	entries  []entry
	breakers *resilience.Registry
	log      *logger.Logger
}

// NewGateway builds a provider chain from cfg, constructing one breaker per
// provider name via the shared resilience.Registry pattern.
func NewGateway(cfg config.LLMConfig, log *logger.Logger) (*Gateway, error) {
	if len(cfg.Providers) == 0 {
		return nil, apperr.New(apperr.KindValidation, "no LLM providers configured")
	}

	breakers := resilience.NewRegistry(nil)
	gw := &Gateway{breakers: breakers, log: log.WithComponent("llm-gateway")}

	for _, pc := range cfg.Providers {
		p, err := newProvider(pc, log)
		if err != nil {
			return nil, fmt.Errorf("failed to build provider %q: %w", pc.Name, err)
		}
		gw.entries = append(gw.entries, entry{
			provider: p,
			breaker:  breakers.Get(pc.Name),
		})
	}

	if len(gw.entries) == 0 {
		return nil, apperr.New(apperr.KindValidation, "no enabled LLM providers configured")
	}

	return gw, nil
}

func newProvider(cfg config.LLMProviderConfig, log *logger.Logger) (Provider, error) {
	switch cfg.Name {
	case "anthropic":
		return newAnthropicProvider(cfg, log)
	case "openai":
		return newOpenAIProvider(cfg, log)
	case "azure_openai":
		return newAzureOpenAIProvider(cfg, log)
	case "local":
		return newLocalProvider(cfg, log)
	default:
		return nil, apperr.New(apperr.KindValidation, fmt.Sprintf("unsupported LLM provider: %s", cfg.Name))
	}
}

// Generate runs systemPrompt+userPrompt through the provider chain,
// returning the first successful result. A provider whose breaker is open
// is skipped without being called. If every provider fails, the last
// error is returned wrapped with apperr.KindGeneration.
func (g *Gateway) Generate(ctx context.Context, systemPrompt, userPrompt string) (*GenerateResult, error) {
	var lastErr error

	for i, e := range g.entries {
		result, err := e.breaker.Execute(ctx, func() (any, error) {
			return e.provider.GenerateJSON(ctx, systemPrompt, userPrompt)
		})
		if err != nil {
			g.log.WarnContext(ctx, "llm provider attempt failed",
				"provider", e.provider.Name(), "error", err)
			lastErr = err
			continue
		}
		genResult := result.(*GenerateResult)
		genResult.AttemptIndex = i
		return genResult, nil
	}

	if lastErr == nil {
		lastErr = apperr.New(apperr.KindGeneration, "no providers available")
	}
	return nil, apperr.Wrap(apperr.KindGeneration, "all LLM providers exhausted", lastErr)
}

// Providers returns the names of all providers configured in the chain, in
// priority order.
func (g *Gateway) Providers() []string {
	names := make([]string, 0, len(g.entries))
	for _, e := range g.entries {
		names = append(names, e.provider.Name())
	}
	return names
}
