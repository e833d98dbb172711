package modelpolicy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient is a ModelClient backed by a real provider HTTP API, grounded
// on the teacher's agent.FailoverOrchestrator provider-call shape
// (internal/agent/failover.go Complete) but narrowed to the single
// request/response call AgentHarness's Planner needs instead of the
// teacher's streaming CompletionChunk channel.
type HTTPClient struct {
	ClientName string
	Provider   string // "anthropic" | "openai"
	Model      string
	APIKey     string
	BaseURL    string // override for testing; defaults per provider when empty
	HTTP       *http.Client
}

// NewHTTPClient builds a provider HTTP client from a resolved role binding.
func NewHTTPClient(name, provider, model, apiKey string) *HTTPClient {
	return &HTTPClient{
		ClientName: name,
		Provider:   provider,
		Model:      model,
		APIKey:     apiKey,
		HTTP:       &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *HTTPClient) Name() string { return c.ClientName }

func (c *HTTPClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	switch c.Provider {
	case "anthropic":
		return c.completeAnthropic(ctx, systemPrompt, userPrompt)
	case "openai":
		return c.completeOpenAI(ctx, systemPrompt, userPrompt)
	default:
		return "", fmt.Errorf("modelpolicy: unknown provider %q for client %s", c.Provider, c.ClientName)
	}
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *HTTPClient) completeAnthropic(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	baseURL := c.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1/messages"
	}
	body, err := json.Marshal(anthropicRequest{
		Model:     c.Model,
		System:    systemPrompt,
		MaxTokens: 4096,
		Messages:  []anthropicMessage{{Role: "user", Content: userPrompt}},
	})
	if err != nil {
		return "", fmt.Errorf("modelpolicy: encode anthropic request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("modelpolicy: build anthropic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	var out anthropicResponse
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.Error != nil {
		return "", fmt.Errorf("modelpolicy: anthropic error: %s", out.Error.Message)
	}
	if len(out.Content) == 0 {
		return "", fmt.Errorf("modelpolicy: anthropic returned no content")
	}
	return out.Content[0].Text, nil
}

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *HTTPClient) completeOpenAI(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	baseURL := c.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1/chat/completions"
	}
	body, err := json.Marshal(openAIRequest{
		Model: c.Model,
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("modelpolicy: encode openai request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("modelpolicy: build openai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	var out openAIResponse
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.Error != nil {
		return "", fmt.Errorf("modelpolicy: openai error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("modelpolicy: openai returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("modelpolicy: %s request failed: %w", c.Provider, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("modelpolicy: read %s response: %w", c.Provider, err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("modelpolicy: %s returned %d: %s", c.Provider, resp.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("modelpolicy: decode %s response: %w", c.Provider, err)
	}
	return nil
}
