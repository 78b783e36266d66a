package llm

import "context"

// Provider is the adapter interface a model backend implements.
type Provider interface {
	// Name returns the provider identifier (e.g., "anthropic", "ollama").
	Name() string

	// Complete sends a blocking completion request and returns the full
	// response.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Closer is implemented by providers that hold resources worth releasing.
type Closer interface {
	Close() error
}
