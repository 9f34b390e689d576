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

const (
	anthropicAPIURL     = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"
)

type anthropicProvider struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	log         *logger.Logger
}

func newAnthropicProvider(cfg config.LLMProviderConfig, log *logger.Logger) (*anthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, apperr.New(apperr.KindValidation, "anthropic provider requires an API key")
	}

	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	return &anthropicProvider{
		apiKey:      cfg.APIKey,
		model:       model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		log:         log.WithComponent("anthropic-provider").WithProvider("anthropic"),
	}, nil
}

func (p *anthropicProvider) Name() string  { return "anthropic" }
func (p *anthropicProvider) Model() string { return p.model }

func (p *anthropicProvider) TestConnection(ctx context.Context) error {
	_, err := p.complete(ctx, "", "ping", 1)
	return err
}

func (p *anthropicProvider) ListModels(ctx context.Context) ([]string, error) {
	return []string{p.model}, nil
}

func (p *anthropicProvider) CheckModelAvailable(ctx context.Context, model string) (bool, error) {
	req := anthropicRequest{
		Model:     model,
		MaxTokens: 1,
		Messages:  []anthropicMessage{{Role: "user", Content: "ping"}},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return false, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicAPIURL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	p.setHeaders(httpReq)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return false, apperr.Wrap(apperr.KindConnection, "anthropic model-availability check failed", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK, nil
}

func (p *anthropicProvider) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (*GenerateResult, error) {
	return p.complete(ctx, systemPrompt, userPrompt, p.maxTokens)
}

func (p *anthropicProvider) complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (*GenerateResult, error) {
	start := time.Now()

	apiReq := anthropicRequest{
		Model:       p.model,
		MaxTokens:   maxTokens,
		Temperature: p.temperature,
		System:      systemPrompt,
		Messages:    []anthropicMessage{{Role: "user", Content: userPrompt}},
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicAPIURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.setHeaders(httpReq)

	p.log.DebugContext(ctx, "sending generation request",
		"model", p.model, "max_tokens", maxTokens)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConnection, "anthropic request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr anthropicError
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error.Message != "" {
			return nil, apperr.New(apperr.KindGeneration, fmt.Sprintf("anthropic API error (%s): %s", apiErr.Error.Type, apiErr.Error.Message))
		}
		return nil, apperr.New(apperr.KindGeneration, fmt.Sprintf("anthropic API returned status %d", resp.StatusCode))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	result := &GenerateResult{
		Provider:     "anthropic",
		Model:        p.model,
		InputTokens:  apiResp.Usage.InputTokens,
		OutputTokens: apiResp.Usage.OutputTokens,
		Latency:      time.Since(start),
		StopReason:   apiResp.StopReason,
	}

	for _, block := range apiResp.Content {
		if block.Type == "text" {
			result.Text = block.Text
		}
	}

	return result, nil
}

func (p *anthropicProvider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
}

type anthropicRequest struct {
	Model       string              `json:"model"`
	MaxTokens   int                 `json:"max_tokens"`
	Temperature float64             `json:"temperature,omitempty"`
	System      string              `json:"system,omitempty"`
	Messages    []anthropicMessage  `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Content    []anthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
