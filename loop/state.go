package loop

import (
	"encoding/json"
	"time"

	"github.com/martinemde/orbit/llm"
)

// Status is the lifecycle state of a loop.
type Status string

const (
	StatusRunning              Status = "running"
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	StatusPaused               Status = "paused"
	StatusCompleted            Status = "completed"
	StatusFailed               Status = "failed"
	StatusCancelled            Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// State is the full record of one loop execution. It is owned and mutated
// exclusively by its Controller; callers receive deep-copy snapshots.
type State struct {
	ID          string     `json:"id"`
	Prompt      string     `json:"prompt"`
	Status      Status     `json:"status"`
	Steps       []Step     `json:"steps"`
	CurrentStep int        `json:"current_step"`
	MaxSteps    int        `json:"max_steps"`
	Final       *Decision  `json:"final,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Usage       Usage      `json:"usage"`
}

// Step is one Plan/Act/Observe/Synthesize round.
type Step struct {
	Number       int           `json:"number"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	Plan         Plan          `json:"plan"`
	Actions      *Actions      `json:"actions,omitempty"`
	Observations []Observation `json:"observations,omitempty"`
	Synthesis    *Synthesis    `json:"synthesis,omitempty"`
}

// Plan records the outcome of the step's Decision Service call.
type Plan struct {
	Decision         Decision `json:"decision"`
	Reasoning        string   `json:"reasoning,omitempty"`
	PromptTokens     int      `json:"prompt_tokens"`
	CompletionTokens int      `json:"completion_tokens"`
}

// Actions records the tool calls a step issued. For confirmation-gated
// steps the calls are recorded here before any of them execute.
type Actions struct {
	Calls    []llm.ToolCall `json:"calls"`
	Parallel bool           `json:"parallel"`
}

// Synthesis is the step's continuation verdict after its observations are
// in. Continue is always true after a tool round; recovery from tool
// failures is left to the next Plan phase.
type Synthesis struct {
	Summary  string `json:"summary"`
	Continue bool   `json:"continue"`
	Hint     string `json:"hint"`
}

// ObservationType classifies an Observation.
type ObservationType string

const (
	ObservationToolResult    ObservationType = "tool_result"
	ObservationError         ObservationType = "error"
	ObservationHumanFeedback ObservationType = "human_feedback"
)

// Observation is the recorded outcome of one executed tool call or one
// piece of human feedback. Never mutated after it is appended.
type Observation struct {
	Type      ObservationType `json:"type"`
	Content   string          `json:"content"`
	Data      json.RawMessage `json:"data,omitempty"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Success   bool            `json:"success"`
	Duration  time.Duration   `json:"duration"`
}

// Usage is the loop's running token and cost ledger. Monotonically
// non-decreasing; LLMCalls equals the number of completed Plan phases.
type Usage struct {
	TotalTokens      int     `json:"total_tokens"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	EstimatedCost    float64 `json:"estimated_cost"`
	LLMCalls         int     `json:"llm_calls"`
}

// Clone returns a deep copy of the state, safe to hand out while the
// controller keeps mutating the original.
func (s *State) Clone() State {
	out := *s
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	if s.Final != nil {
		d := s.Final.clone()
		out.Final = &d
	}
	out.Steps = make([]Step, len(s.Steps))
	for i := range s.Steps {
		out.Steps[i] = s.Steps[i].clone()
	}
	return out
}

func (st *Step) clone() Step {
	out := *st
	out.Plan.Decision = st.Plan.Decision.clone()
	if st.Actions != nil {
		out.Actions = &Actions{
			Calls:    cloneToolCalls(st.Actions.Calls),
			Parallel: st.Actions.Parallel,
		}
	}
	if st.Observations != nil {
		out.Observations = make([]Observation, len(st.Observations))
		for i, o := range st.Observations {
			out.Observations[i] = o
			if o.Data != nil {
				out.Observations[i].Data = append(json.RawMessage(nil), o.Data...)
			}
		}
	}
	if st.Synthesis != nil {
		syn := *st.Synthesis
		out.Synthesis = &syn
	}
	return out
}

func (d Decision) clone() Decision {
	out := d
	out.ToolCalls = cloneToolCalls(d.ToolCalls)
	return out
}

func cloneToolCalls(calls []llm.ToolCall) []llm.ToolCall {
	if calls == nil {
		return nil
	}
	out := make([]llm.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = c
		if c.Arguments != nil {
			out[i].Arguments = append(json.RawMessage(nil), c.Arguments...)
		}
	}
	return out
}
