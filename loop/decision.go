package loop

import "github.com/martinemde/orbit/llm"

// DecisionType is the model's chosen move for a step.
type DecisionType string

const (
	DecisionToolCall DecisionType = "tool_call"
	DecisionAnswer   DecisionType = "answer"
)

// Decision is the classified output of one Plan phase. Immutable once
// produced.
type Decision struct {
	Type                 DecisionType   `json:"type"`
	Content              string         `json:"content,omitempty"`
	ToolCalls            []llm.ToolCall `json:"tool_calls,omitempty"`
	Reasoning            string         `json:"reasoning,omitempty"`
	Confidence           float64        `json:"confidence"`
	RequiresConfirmation bool           `json:"requires_confirmation,omitempty"`
}
