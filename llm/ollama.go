package llm

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// OllamaProvider runs completions against a local or remote Ollama server.
// Tool calls use the embedded JSON protocol since the generate endpoint is
// plain text in, plain text out.
type OllamaProvider struct {
	client *api.Client
}

// NewOllamaProvider creates a provider for the given host URL. An empty host
// falls back to OLLAMA_HOST and then the Ollama default (localhost:11434).
func NewOllamaProvider(host string) (*OllamaProvider, error) {
	if host == "" {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("ollama client from environment: %w", err)
		}
		return &OllamaProvider{client: client}, nil
	}

	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("ollama: bad host %q: %w", host, err)
	}
	return &OllamaProvider{client: api.NewClient(u, nil)}, nil
}

// Name returns the provider identifier.
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// Complete sends a blocking request and returns the full response.
func (p *OllamaProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	system, body := flattenConversation(req.Messages)
	if proto := toolProtocol(req.Tools); proto != "" {
		if system != "" {
			system += "\n\n"
		}
		system += proto
	}

	stream := false
	genReq := &api.GenerateRequest{
		Model:  req.Model,
		Prompt: body,
		System: system,
		Stream: &stream,
	}
	if req.Temperature != nil || req.MaxTokens > 0 {
		opts := map[string]any{}
		if req.Temperature != nil {
			opts["temperature"] = *req.Temperature
		}
		if req.MaxTokens > 0 {
			opts["num_predict"] = req.MaxTokens
		}
		genReq.Options = opts
	}

	var out strings.Builder
	var usage Usage
	err := p.client.Generate(ctx, genReq, func(gr api.GenerateResponse) error {
		out.WriteString(gr.Response)
		if gr.Done {
			usage = Usage{
				PromptTokens:     gr.PromptEvalCount,
				CompletionTokens: gr.EvalCount,
				TotalTokens:      gr.PromptEvalCount + gr.EvalCount,
			}
		}
		return nil
	})
	if err != nil {
		return nil, p.translateError(err)
	}

	text := out.String()
	if usage.TotalTokens == 0 {
		in := estimateRequestTokens(req)
		outTok := estimateTokens(text)
		usage = Usage{PromptTokens: in, CompletionTokens: outTok, TotalTokens: in + outTok}
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
		Provider:     "ollama",
		FinishReason: finish,
		Usage:        usage,
	}, nil
}

// translateError classifies Ollama transport failures.
func (p *OllamaProvider) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	msgLower := strings.ToLower(msg)

	switch {
	case strings.Contains(msgLower, "connection refused") || strings.Contains(msgLower, "no such host"):
		return &NetworkError{ClientError: ClientError{Message: "ollama server unreachable", Cause: err}}
	case strings.Contains(msgLower, "not found"):
		pe := ProviderError{ClientError: ClientError{Message: msg, Cause: err}, Provider: "ollama", StatusCode: 404}
		return &InvalidRequestError{ProviderError: pe}
	case strings.Contains(msgLower, "timeout") || strings.Contains(msgLower, "deadline exceeded"):
		return &RequestTimeoutError{ClientError: ClientError{Message: msg, Cause: err}}
	default:
		pe := ProviderError{ClientError: ClientError{Message: msg, Cause: err}, Provider: "ollama", Retryable: true}
		return &pe
	}
}
