package llm

import (
	"net/http"
	"time"

	"github.com/vulndash/vulndash/internal/apperr"
	"github.com/vulndash/vulndash/internal/config"
	"github.com/vulndash/vulndash/internal/logger"
)

// newLocalProvider targets a self-hosted OpenAI-compatible endpoint (vLLM,
// Ollama's OpenAI shim, LM Studio, ...). The wire format is identical to
// OpenAI's; only the base URL changes, and the API key is optional.
func newLocalProvider(cfg config.LLMProviderConfig, log *logger.Logger) (*openAIProvider, error) {
	if cfg.BaseURL == "" {
		return nil, apperr.New(apperr.KindValidation, "local provider requires a base_url")
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	apiKey := cfg.APIKey
	p := &openAIProvider{
		apiKey:      apiKey,
		model:       cfg.Model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		baseURL:     cfg.BaseURL,
		name:        "local",
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		log:         log.WithComponent("local-provider").WithProvider("local"),
	}
	p.setHeaders = func(req *http.Request) {
		req.Header.Set("Content-Type", "application/json")
		if apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+apiKey)
		}
	}
	return p, nil
}
