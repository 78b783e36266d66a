package llm

import (
	"context"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider runs completions against the Gemini API. Like the Ollama
// adapter it uses the embedded JSON protocol for tool calls.
type GeminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider creates a provider authenticated with the given API key.
func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, &ConfigurationError{ClientError: ClientError{
			Message: "gemini: API key is empty",
		}}
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, &ConfigurationError{ClientError: ClientError{Message: "gemini client init", Cause: err}}
	}
	return &GeminiProvider{client: client}, nil
}

// Name returns the provider identifier.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Complete sends a blocking request and returns the full response.
func (p *GeminiProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	system, body := flattenConversation(req.Messages)
	if proto := toolProtocol(req.Tools); proto != "" {
		if system != "" {
			system += "\n\n"
		}
		system += proto
	}

	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		cfg.Temperature = &t
	}

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, genai.Text(body), cfg)
	if err != nil {
		return nil, p.translateError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, &ProviderError{
			ClientError: ClientError{Message: "gemini: empty response"},
			Provider:    "gemini",
			Retryable:   true,
		}
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	text := sb.String()

	var usage Usage
	if um := resp.UsageMetadata; um != nil {
		usage = Usage{
			PromptTokens:     int(um.PromptTokenCount),
			CompletionTokens: int(um.CandidatesTokenCount),
			TotalTokens:      int(um.TotalTokenCount),
		}
	} else {
		in := estimateRequestTokens(req)
		out := estimateTokens(text)
		usage = Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}
	}

	content, calls := extractToolCalls(text)
	finish := FinishStop
	if len(calls) > 0 {
		finish = FinishToolCalls
	}

	return &Response{
		Content:      content,
		ToolCalls:    calls,
		Model:        req.Model,
		Provider:     "gemini",
		FinishReason: finish,
		Usage:        usage,
	}, nil
}

// translateError classifies Gemini API failures by message content.
func (p *GeminiProvider) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	msgLower := strings.ToLower(msg)

	pe := ProviderError{
		ClientError: ClientError{Message: msg, Cause: err},
		Provider:    "gemini",
	}

	switch {
	case strings.Contains(msgLower, "api key") || strings.Contains(msgLower, "401") || strings.Contains(msgLower, "permission"):
		pe.StatusCode = 401
		return &AuthenticationError{ProviderError: pe}
	case strings.Contains(msgLower, "429") || strings.Contains(msgLower, "quota") || strings.Contains(msgLower, "resource exhausted"):
		pe.StatusCode = 429
		pe.Retryable = true
		return &RateLimitError{ProviderError: pe}
	case strings.Contains(msgLower, "500") || strings.Contains(msgLower, "503") || strings.Contains(msgLower, "internal") || strings.Contains(msgLower, "unavailable"):
		pe.StatusCode = 500
		pe.Retryable = true
		return &ServerError{ProviderError: pe}
	case strings.Contains(msgLower, "timeout") || strings.Contains(msgLower, "deadline exceeded"):
		return &RequestTimeoutError{ClientError: ClientError{Message: msg, Cause: err}}
	default:
		pe.Retryable = true
		return &pe
	}
}
