// Package providers contains concrete implementations of LLM providers.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tombee/conductor/pkg/errors"
	"github.com/tombee/conductor/pkg/llm"
)

const (
	anthropicAPIBaseURL = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
)

// AnthropicProvider implements llm.Provider for Anthropic's Claude models
// over the Messages API. It serves plain single-turn completions only —
// tool calling and streaming are left to a richer provider if one is ever
// needed, since the workflow engine's Invoker only ever issues one prompt
// and reads back one answer.
type AnthropicProvider struct {
	apiKey         string
	baseURL        string
	httpClient     *http.Client
	totalRequests  int64
	failedRequests int64
}

// NewAnthropicProvider creates a new Anthropic provider instance. The CLI
// passes the key from config.ProviderConfig.ResolveAPIKey: the provider's
// configured api_key, or its environment variable when that is empty.
func NewAnthropicProvider(apiKey string) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, &errors.ConfigError{
			Key:    "anthropic.api_key",
			Reason: "API key is required for Anthropic provider",
		}
	}
	return &AnthropicProvider{
		apiKey:  apiKey,
		baseURL: anthropicAPIBaseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}, nil
}

// NewAnthropicWithCredentials adapts the llm.ProviderFactory signature for
// pkg/llm/providers' factory registration.
func NewAnthropicWithCredentials(creds llm.Credentials) (llm.Provider, error) {
	apiKey, ok := creds.(llm.APIKeyCredentials)
	if !ok {
		return nil, &errors.ConfigError{
			Key:    "anthropic.credentials",
			Reason: fmt.Sprintf("anthropic provider requires APIKeyCredentials, got %T", creds),
		}
	}
	p, err := NewAnthropicProvider(apiKey.APIKey)
	if err != nil {
		return nil, err
	}
	if apiKey.BaseURL != "" {
		p.baseURL = apiKey.BaseURL
	}
	return p, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Capabilities() llm.Capabilities {
	return llm.Capabilities{Streaming: false, Tools: false, Models: anthropicModels}
}

// Complete sends a synchronous completion request to the Anthropic Messages
// API.
func (p *AnthropicProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	atomic.AddInt64(&p.totalRequests, 1)
	requestID := uuid.New().String()

	if len(req.Messages) == 0 {
		atomic.AddInt64(&p.failedRequests, 1)
		return nil, &errors.ValidationError{
			Field:      "messages",
			Message:    "completion request must have at least one message",
			Suggestion: "Add at least one message to the completion request",
		}
	}

	apiReq := p.buildAPIRequest(req)
	resp, err := p.doRequest(ctx, apiReq, requestID)
	if err != nil {
		atomic.AddInt64(&p.failedRequests, 1)
		return nil, err
	}
	return p.parseResponse(resp, requestID), nil
}

// Stream is unimplemented; this provider only serves the non-streaming
// single-turn path the workflow executor needs.
func (p *AnthropicProvider) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return nil, &errors.ProviderError{
		Provider: "anthropic",
		Message:  "streaming is not supported by this provider",
	}
}

func (p *AnthropicProvider) buildAPIRequest(req llm.CompletionRequest) *anthropicRequest {
	model := p.resolveModel(req.Model)

	var systemPrompt string
	var apiMessages []anthropicMessage
	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.MessageRoleSystem:
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += msg.Content
		case llm.MessageRoleUser, llm.MessageRoleAssistant:
			role := "user"
			if msg.Role == llm.MessageRoleAssistant {
				role = "assistant"
			}
			apiMessages = append(apiMessages, anthropicMessage{
				Role:    role,
				Content: []anthropicTextContent{{Type: "text", Text: msg.Content}},
			})
		}
	}

	maxTokens := 4096
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	return &anthropicRequest{
		Model:         model,
		Messages:      apiMessages,
		MaxTokens:     maxTokens,
		System:        systemPrompt,
		Temperature:   req.Temperature,
		StopSequences: req.StopSequences,
	}
}

func (p *AnthropicProvider) doRequest(ctx context.Context, apiReq *anthropicRequest, requestID string) (*anthropicResponse, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, &errors.ProviderError{Provider: "anthropic", Message: fmt.Sprintf("failed to marshal request: %v", err), RequestID: requestID}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, &errors.ProviderError{Provider: "anthropic", Message: fmt.Sprintf("failed to create request: %v", err), RequestID: requestID}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &errors.ProviderError{Provider: "anthropic", Message: fmt.Sprintf("request failed: %v", err), RequestID: requestID}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errors.ProviderError{Provider: "anthropic", StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read response: %v", err), RequestID: requestID}
	}

	if resp.StatusCode != http.StatusOK {
		var errResp anthropicErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, &errors.ProviderError{
				Provider:   "anthropic",
				StatusCode: resp.StatusCode,
				Message:    errResp.Error.Message,
				Suggestion: suggestionForStatus(resp.StatusCode),
				RequestID:  requestID,
			}
		}
		return nil, &errors.ProviderError{
			Provider:   "anthropic",
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("API request failed with status %d: %s", resp.StatusCode, string(respBody)),
			RequestID:  requestID,
		}
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, &errors.ProviderError{Provider: "anthropic", Message: fmt.Sprintf("failed to parse response: %v", err), RequestID: requestID}
	}
	return &apiResp, nil
}

func suggestionForStatus(statusCode int) string {
	switch statusCode {
	case http.StatusUnauthorized:
		return "Check that your API key is valid and correctly configured"
	case http.StatusForbidden:
		return "Your API key may not have access to this model"
	case http.StatusTooManyRequests:
		return "Rate limit exceeded; retry after a short delay"
	case http.StatusBadRequest:
		return "Check the request parameters for errors"
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return "Anthropic API is experiencing issues, retry after a short delay"
	default:
		return "Check the Anthropic API documentation for more details"
	}
}

func (p *AnthropicProvider) parseResponse(resp *anthropicResponse, requestID string) *llm.CompletionResponse {
	var textContent strings.Builder
	for _, block := range resp.Content {
		if block.Type != "text" {
			continue
		}
		if textContent.Len() > 0 {
			textContent.WriteString("\n")
		}
		textContent.WriteString(block.Text)
	}

	usage := llm.TokenUsage{
		PromptTokens:        resp.Usage.InputTokens,
		CompletionTokens:    resp.Usage.OutputTokens,
		TotalTokens:         resp.Usage.InputTokens + resp.Usage.OutputTokens,
		CacheCreationTokens: resp.Usage.CacheCreationTokens,
		CacheReadTokens:     resp.Usage.CacheReadTokens,
	}

	return &llm.CompletionResponse{
		Content:      textContent.String(),
		FinishReason: mapStopReason(resp.StopReason),
		Usage:        usage,
		Model:        resp.Model,
		RequestID:    requestID,
		Created:      time.Now(),
	}
}

func mapStopReason(stopReason string) llm.FinishReason {
	switch stopReason {
	case "end_turn", "stop_sequence":
		return llm.FinishReasonStop
	case "max_tokens":
		return llm.FinishReasonLength
	case "tool_use":
		return llm.FinishReasonToolCalls
	default:
		return llm.FinishReasonStop
	}
}

func (p *AnthropicProvider) resolveModel(modelOrTier string) string {
	switch llm.ModelTier(modelOrTier) {
	case llm.ModelTierFast:
		return "claude-3-5-haiku-20241022"
	case llm.ModelTierBalanced:
		return "claude-3-5-sonnet-20241022"
	case llm.ModelTierStrategic:
		return "claude-3-opus-20240229"
	}
	return modelOrTier
}

// GetPoolMetrics returns request counters for diagnostics commands.
func (p *AnthropicProvider) GetPoolMetrics() (total, failed int64) {
	return atomic.LoadInt64(&p.totalRequests), atomic.LoadInt64(&p.failedRequests)
}

// anthropicModels contains metadata for the Claude models this provider
// resolves tiers to.
var anthropicModels = []llm.ModelInfo{
	{
		ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", Tier: llm.ModelTierFast,
		MaxTokens: 200000, MaxOutputTokens: 8192, SupportsTools: true, SupportsVision: true,
		Description: "Fast and cost-effective for simple tasks and high-volume requests.",
	},
	{
		ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", Tier: llm.ModelTierBalanced,
		MaxTokens: 200000, MaxOutputTokens: 8192, SupportsTools: true, SupportsVision: true,
		Description: "Balanced capability and cost for most general-purpose tasks.",
	},
	{
		ID: "claude-3-opus-20240229", Name: "Claude 3 Opus", Tier: llm.ModelTierStrategic,
		MaxTokens: 200000, MaxOutputTokens: 4096, SupportsTools: true, SupportsVision: true,
		Description: "Maximum capability for complex reasoning and expert tasks.",
	},
}

type anthropicRequest struct {
	Model         string             `json:"model"`
	Messages      []anthropicMessage `json:"messages"`
	MaxTokens     int                `json:"max_tokens"`
	System        string             `json:"system,omitempty"`
	Temperature   *float64           `json:"temperature,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
}

type anthropicMessage struct {
	Role    string                 `json:"role"`
	Content []anthropicTextContent `json:"content"`
}

type anthropicTextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Content    []anthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

type anthropicUsage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheCreationTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadTokens     int `json:"cache_read_input_tokens,omitempty"`
}

type anthropicErrorResponse struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
