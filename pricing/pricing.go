// Package pricing estimates completion cost from token usage. Rates are
// per-million tokens and live in a Table that can be replaced wholesale or
// loaded from YAML, so price changes are configuration rather than code.
package pricing

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rate holds per-million-token prices in USD.
type Rate struct {
	Input  float64 `yaml:"input" json:"input"`
	Output float64 `yaml:"output" json:"output"`
}

// Table maps model identifiers to rates. Unknown models fall back to Default.
type Table struct {
	Models  map[string]Rate `yaml:"models"`
	Default Rate            `yaml:"default"`
}

// Default fallback rates for models missing from the table.
const (
	defaultInputPerMillion  = 3.0
	defaultOutputPerMillion = 15.0
)

// DefaultTable returns the built-in rate table (August 2026 list prices).
func DefaultTable() *Table {
	return &Table{
		Models: map[string]Rate{
			"claude-opus-4-6":        {Input: 15.0, Output: 75.0},
			"claude-sonnet-4-5":      {Input: 3.0, Output: 15.0},
			"gpt-5.2":                {Input: 2.50, Output: 10.0},
			"gpt-5.2-mini":           {Input: 0.75, Output: 3.0},
			"gemini-3-pro-preview":   {Input: 1.25, Output: 5.0},
			"gemini-3-flash-preview": {Input: 0.15, Output: 0.60},

			// Local models are free.
			"llama3.3": {},
			"qwen3":    {},
		},
		Default: Rate{Input: defaultInputPerMillion, Output: defaultOutputPerMillion},
	}
}

// Load reads a YAML rate table. A table without an explicit default gets the
// built-in fallback rates.
func Load(r io.Reader) (*Table, error) {
	var t Table
	if err := yaml.NewDecoder(r).Decode(&t); err != nil {
		return nil, fmt.Errorf("decoding rate table: %w", err)
	}
	if t.Models == nil {
		t.Models = map[string]Rate{}
	}
	for model, rate := range t.Models {
		if rate.Input < 0 || rate.Output < 0 {
			return nil, fmt.Errorf("rate table: negative rate for %q", model)
		}
	}
	if t.Default == (Rate{}) {
		t.Default = Rate{Input: defaultInputPerMillion, Output: defaultOutputPerMillion}
	}
	return &t, nil
}

// LoadFile reads a YAML rate table from disk.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening rate table: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Lookup resolves the rate for a model: exact match, then the model with
// any Ollama-style ":tag" suffix stripped. The second return reports
// whether the model was found in the table.
func (t *Table) Lookup(model string) (Rate, bool) {
	if r, ok := t.Models[model]; ok {
		return r, true
	}
	if base, _, ok := strings.Cut(model, ":"); ok {
		if r, ok := t.Models[base]; ok {
			return r, true
		}
	}
	return t.Default, false
}

// Rate is Lookup with the silent default fallback; cost estimation must
// never fail a loop.
func (t *Table) Rate(model string) Rate {
	r, _ := t.Lookup(model)
	return r
}

// Cost returns the estimated USD cost of one completion.
func (t *Table) Cost(model string, promptTokens, completionTokens int) float64 {
	r := t.Rate(model)
	return float64(promptTokens)*r.Input/1e6 + float64(completionTokens)*r.Output/1e6
}
