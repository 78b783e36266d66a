package loop

import (
	"context"
	"log/slog"

	"github.com/martinemde/orbit/llm"
	"github.com/martinemde/orbit/pricing"
	"github.com/martinemde/orbit/tools"
)

// DecisionClient is the Decision Service seam: anything that can turn a
// conversation plus a tool catalog into a completion. *llm.Client satisfies
// it; tests use llm.MockProvider behind one.
type DecisionClient interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Persona names the agent and supplies its system prompt.
type Persona struct {
	Name         string `json:"name"`
	SystemPrompt string `json:"system_prompt"`
}

// Config is the caller-supplied policy for one loop. It is copied at
// construction and immutable for the loop's lifetime.
type Config struct {
	// MaxSteps bounds the number of Plan phases. 0 means the default (8);
	// negative values are rejected.
	MaxSteps int

	// Client is the Decision Service. Required.
	Client DecisionClient

	// Model is the model identifier sent on every completion request and
	// used for cost lookup. Empty means the default model.
	Model string

	// Provider pins completion requests to a named provider. Empty lets
	// the client pick its default.
	Provider string

	// Persona supplies the agent identity and system prompt.
	Persona Persona

	// Tools is the tool catalog and executor. Nil means no tools are
	// offered and the model must answer directly.
	Tools *tools.Registry

	// Confirm gates every tool round behind Resume.
	Confirm bool

	// ShowReasoning controls whether reasoning events are emitted.
	// Reasoning is always recorded on the Step regardless.
	ShowReasoning bool

	// MaxParallelTools caps concurrent tool executions within one round.
	// 0 means unbounded.
	MaxParallelTools int

	// MaxToolResultBytes truncates oversized tool results before they are
	// folded into the conversation. 0 means the default (30000).
	MaxToolResultBytes int

	// DisableStallCheck turns off the repeated-tool-call check that steers
	// the model away from reissuing the same calls round after round.
	DisableStallCheck bool

	// StallWindow is how many recent tool calls the stall check spans.
	// 0 means the default (10).
	StallWindow int

	// Rates prices completions. Nil means pricing.DefaultTable().
	Rates *pricing.Table

	// Logger receives debug-level progress. Nil means slog.Default().
	Logger *slog.Logger

	// OnStateChange and OnStepComplete are observational callbacks invoked
	// with snapshots. They must not attempt to alter control flow.
	OnStateChange  func(State)
	OnStepComplete func(Step)

	// EventBuffer sizes the subscriber channel. 0 means 256.
	EventBuffer int
}

const (
	defaultMaxSteps           = 8
	defaultModel              = "claude-sonnet-4-5"
	defaultMaxToolResultBytes = 30000
	defaultStallWindow        = 10
)

// Validate reports whether the configuration can start a loop. Failures
// here are fatal before any step runs.
func (c *Config) Validate() error {
	if c.Client == nil {
		return &ConfigError{Message: "decision client is required"}
	}
	if c.MaxSteps < 0 {
		return &ConfigError{Message: "max steps must be at least 1"}
	}
	if c.StallWindow < 0 {
		return &ConfigError{Message: "stall window must not be negative"}
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.MaxSteps == 0 {
		c.MaxSteps = defaultMaxSteps
	}
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.Tools == nil {
		c.Tools = tools.NewRegistry()
	}
	if c.MaxToolResultBytes == 0 {
		c.MaxToolResultBytes = defaultMaxToolResultBytes
	}
	if c.StallWindow == 0 {
		c.StallWindow = defaultStallWindow
	}
	if c.Rates == nil {
		c.Rates = pricing.DefaultTable()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
	return c
}
