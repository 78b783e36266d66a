package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// Middleware wraps a provider call. It receives the request and a next
// function that calls the downstream handler, and returns the response.
type Middleware func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error)

// Client routes completion requests to registered providers and applies
// middleware around each call.
type Client struct {
	mu              sync.RWMutex
	providers       map[string]Provider
	defaultProvider string
	middleware      []Middleware
	logger          *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithProvider registers a provider.
func WithProvider(p Provider) Option {
	return func(c *Client) {
		c.providers[p.Name()] = p
	}
}

// WithDefaultProvider sets the default provider name.
func WithDefaultProvider(name string) Option {
	return func(c *Client) {
		c.defaultProvider = name
	}
}

// WithMiddleware adds middleware to the client. Middleware runs in
// registration order.
func WithMiddleware(mw ...Middleware) Option {
	return func(c *Client) {
		c.middleware = append(c.middleware, mw...)
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a Client with the given options.
func NewClient(opts ...Option) *Client {
	c := &Client{
		providers: make(map[string]Provider),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	// If no default and exactly one provider, use it.
	if c.defaultProvider == "" && len(c.providers) == 1 {
		for name := range c.providers {
			c.defaultProvider = name
		}
	}
	return c
}

// RegisterProvider adds a provider to the client.
func (c *Client) RegisterProvider(p Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[p.Name()] = p
	if c.defaultProvider == "" {
		c.defaultProvider = p.Name()
	}
}

// Providers returns the names of all registered providers.
func (c *Client) Providers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.providers))
	for name := range c.providers {
		names = append(names, name)
	}
	return names
}

// resolveProvider determines which provider handles a request: the explicit
// request provider, then the catalog entry for the model, then the default.
func (c *Client) resolveProvider(req Request) (Provider, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := req.Provider
	if name == "" {
		if info := GetModelInfo(req.Model); info != nil {
			if _, ok := c.providers[info.Provider]; ok {
				name = info.Provider
			}
		}
	}
	if name == "" {
		name = c.defaultProvider
	}
	if name == "" {
		return nil, &ConfigurationError{ClientError: ClientError{
			Message: "no provider specified and no default provider configured",
		}}
	}

	p, ok := c.providers[name]
	if !ok {
		return nil, &ConfigurationError{ClientError: ClientError{
			Message: fmt.Sprintf("provider %q is not registered", name),
		}}
	}
	return p, nil
}

// Complete sends a request through the middleware chain to the resolved
// provider.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	p, err := c.resolveProvider(req)
	if err != nil {
		return nil, err
	}

	if req.Provider == "" {
		req.Provider = p.Name()
	}

	handler := func(ctx context.Context, r Request) (*Response, error) {
		return p.Complete(ctx, r)
	}

	// Apply middleware in reverse order so first registered runs first.
	c.mu.RLock()
	mws := c.middleware
	c.mu.RUnlock()
	for i := len(mws) - 1; i >= 0; i-- {
		mw := mws[i]
		next := handler
		handler = func(ctx context.Context, r Request) (*Response, error) {
			return mw(ctx, r, next)
		}
	}

	resp, err := handler(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Provider == "" {
		resp.Provider = p.Name()
	}
	return resp, nil
}

// Close releases resources held by all registered providers.
func (c *Client) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var firstErr error
	for _, p := range c.providers {
		if closer, ok := p.(Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// NewFromEnv creates a Client by scanning environment variables for provider
// credentials. Recognized variables: ANTHROPIC_API_KEY, OPENAI_API_KEY,
// GEMINI_API_KEY (or GOOGLE_API_KEY), and OLLAMA_HOST. ORBIT_PROVIDER picks
// the default provider; otherwise the first registered provider in the order
// above wins. Returns a ConfigurationError when no provider is available.
func NewFromEnv(logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := NewClient(WithLogger(logger), WithMiddleware(
		NewRetryMiddleware(DefaultRetryPolicy(), logger),
	))

	for _, name := range []string{"anthropic", "openai"} {
		key := os.Getenv(envKeyFor(name))
		if key == "" {
			continue
		}
		p, err := NewGollmProvider(name, key)
		if err != nil {
			logger.Warn("skipping provider", "provider", name, "error", err)
			continue
		}
		c.RegisterProvider(p)
	}

	if key := firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY"); key != "" {
		p, err := NewGeminiProvider(context.Background(), key)
		if err != nil {
			logger.Warn("skipping provider", "provider", "gemini", "error", err)
		} else {
			c.RegisterProvider(p)
		}
	}

	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		p, err := NewOllamaProvider(host)
		if err != nil {
			logger.Warn("skipping provider", "provider", "ollama", "error", err)
		} else {
			c.RegisterProvider(p)
		}
	}

	if len(c.providers) == 0 {
		return nil, &ConfigurationError{ClientError: ClientError{
			Message: "no providers configured; set ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY, or OLLAMA_HOST",
		}}
	}

	if name := os.Getenv("ORBIT_PROVIDER"); name != "" {
		if _, ok := c.providers[name]; !ok {
			return nil, &ConfigurationError{ClientError: ClientError{
				Message: fmt.Sprintf("ORBIT_PROVIDER=%q is not among the configured providers", name),
			}}
		}
		c.defaultProvider = name
	}

	return c, nil
}

func envKeyFor(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	default:
		return ""
	}
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}
