package llm

import (
	"fmt"
	"net/http"
	"time"

	"github.com/vulndash/vulndash/internal/apperr"
	"github.com/vulndash/vulndash/internal/config"
	"github.com/vulndash/vulndash/internal/logger"
)

// newAzureOpenAIProvider reuses openAIProvider's wire format: Azure's OpenAI
// deployments speak the same chat-completions schema, just behind a
// per-resource URL and an api-key header instead of a bearer token.
func newAzureOpenAIProvider(cfg config.LLMProviderConfig, log *logger.Logger) (*openAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, apperr.New(apperr.KindValidation, "azure openai provider requires an API key")
	}
	if cfg.AzureEndpoint == "" || cfg.AzureDeployment == "" {
		return nil, apperr.New(apperr.KindValidation, "azure openai provider requires an endpoint and deployment name")
	}

	apiVersion := cfg.AzureAPIVersion
	if apiVersion == "" {
		apiVersion = "2024-06-01"
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		cfg.AzureEndpoint, cfg.AzureDeployment, apiVersion)

	apiKey := cfg.APIKey
	p := &openAIProvider{
		apiKey:      apiKey,
		model:       cfg.Model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		baseURL:     url,
		name:        "azure_openai",
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		log:         log.WithComponent("azure-openai-provider").WithProvider("azure_openai"),
	}
	p.setHeaders = func(req *http.Request) {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("api-key", apiKey)
	}
	return p, nil
}
