package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vulndash/vulndash/internal/apperr"
	"github.com/vulndash/vulndash/internal/config"
	"github.com/vulndash/vulndash/internal/logger"
)

const openAIAPIURL = "https://api.openai.com/v1/chat/completions"

type openAIProvider struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	baseURL     string
	name        string
	setHeaders  func(*http.Request)
	httpClient  *http.Client
	log         *logger.Logger
}

func newOpenAIProvider(cfg config.LLMProviderConfig, log *logger.Logger) (*openAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, apperr.New(apperr.KindValidation, "openai provider requires an API key")
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o"
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	p := &openAIProvider{
		apiKey:      cfg.APIKey,
		model:       model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		baseURL:     openAIAPIURL,
		name:        "openai",
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		log:         log.WithComponent("openai-provider").WithProvider("openai"),
	}
	p.setHeaders = p.defaultHeaders
	return p, nil
}

func (p *openAIProvider) Name() string  { return p.name }
func (p *openAIProvider) Model() string { return p.model }

func (p *openAIProvider) TestConnection(ctx context.Context) error {
	_, err := p.complete(ctx, "", "ping", 1)
	return err
}

func (p *openAIProvider) ListModels(ctx context.Context) ([]string, error) {
	return []string{p.model}, nil
}

func (p *openAIProvider) CheckModelAvailable(ctx context.Context, model string) (bool, error) {
	req := openAIRequest{
		Model:     model,
		MaxTokens: 1,
		Messages:  []openAIMessage{{Role: "user", Content: "ping"}},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return false, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	p.setHeaders(httpReq)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return false, apperr.Wrap(apperr.KindConnection, "openai model-availability check failed", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK, nil
}

func (p *openAIProvider) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (*GenerateResult, error) {
	return p.complete(ctx, systemPrompt, userPrompt, p.maxTokens)
}

func (p *openAIProvider) complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (*GenerateResult, error) {
	start := time.Now()

	messages := make([]openAIMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: userPrompt})

	apiReq := openAIRequest{
		Model:       p.model,
		MaxTokens:   maxTokens,
		Temperature: p.temperature,
		Messages:    messages,
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.setHeaders(httpReq)

	p.log.DebugContext(ctx, "sending generation request", "model", p.model, "max_tokens", maxTokens)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConnection, "openai request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr openAIError
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error.Message != "" {
			return nil, apperr.New(apperr.KindGeneration, fmt.Sprintf("openai API error (%s): %s", apiErr.Error.Type, apiErr.Error.Message))
		}
		return nil, apperr.New(apperr.KindGeneration, fmt.Sprintf("openai API returned status %d", resp.StatusCode))
	}

	var apiResp openAIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	result := &GenerateResult{
		Provider:     p.Name(),
		Model:        p.model,
		InputTokens:  apiResp.Usage.PromptTokens,
		OutputTokens: apiResp.Usage.CompletionTokens,
		Latency:      time.Since(start),
	}

	if len(apiResp.Choices) > 0 {
		result.Text = apiResp.Choices[0].Message.Content
		result.StopReason = apiResp.Choices[0].FinishReason
	}

	return result, nil
}

func (p *openAIProvider) defaultHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
}

type openAIRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	Messages    []openAIMessage `json:"messages"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage openAIUsage `json:"usage"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openAIError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
