package loop

import (
	"fmt"
	"strings"

	"github.com/martinemde/orbit/llm"
)

// Confidence is a fixed policy constant per decision tier, not a value the
// provider reports. Tool-call decisions get 0.8, direct answers 0.9, and
// the degraded fallback 0.3.
const (
	answerConfidence   = 0.9
	toolCallConfidence = 0.8
	fallbackConfidence = 0.3
)

const fallbackAnswer = "I'm sorry, I wasn't able to come up with a useful response to this request. " +
	"Could you rephrase it or provide more detail?"

const (
	hintProceed     = "proceed with gathered information"
	hintAlternative = "consider alternative approaches"
)

const declinedFeedback = "The user declined the proposed tool calls."

// classifyDecision maps a completion to a three-way Decision: tool calls
// present wins, then free text, then the degraded fallback answer. Pure.
func classifyDecision(resp *llm.Response, confirm bool) Decision {
	content := strings.TrimSpace(resp.Content)

	if len(resp.ToolCalls) > 0 {
		return Decision{
			Type:                 DecisionToolCall,
			ToolCalls:            resp.ToolCalls,
			Reasoning:            content,
			Confidence:           toolCallConfidence,
			RequiresConfirmation: confirm,
		}
	}
	if content != "" {
		return Decision{
			Type:       DecisionAnswer,
			Content:    content,
			Confidence: answerConfidence,
		}
	}
	return Decision{
		Type:       DecisionAnswer,
		Content:    fallbackAnswer,
		Confidence: fallbackConfidence,
	}
}

// synthesizeRound computes the continuation verdict for a finished round.
// The loop always continues after a tool round; the hint steers the next
// Plan phase toward recovery when anything went wrong or the operator
// stepped in. Pure.
func synthesizeRound(obs []Observation) *Synthesis {
	succeeded := 0
	failed := 0
	feedback := 0
	for _, o := range obs {
		switch {
		case o.Type == ObservationHumanFeedback:
			feedback++
		case o.Success:
			succeeded++
		default:
			failed++
		}
	}

	hint := hintProceed
	if failed > 0 || feedback > 0 {
		hint = hintAlternative
	}

	var summary string
	switch {
	case feedback > 0:
		summary = "tool calls declined; human feedback recorded"
	case failed == 0:
		summary = fmt.Sprintf("%d tool call(s) succeeded", succeeded)
	default:
		summary = fmt.Sprintf("%d of %d tool call(s) succeeded", succeeded, succeeded+failed)
	}

	return &Synthesis{
		Summary:  summary,
		Continue: true,
		Hint:     hint,
	}
}

// assistantMessageFor folds a Decision back into the conversation the way
// the provider produced it: an answer as assistant text, a tool-call
// decision as the assistant message carrying the calls plus any
// accompanying reasoning text.
func assistantMessageFor(d Decision) llm.Message {
	if d.Type == DecisionToolCall {
		return llm.Message{
			Role:      llm.RoleAssistant,
			Content:   d.Reasoning,
			ToolCalls: d.ToolCalls,
		}
	}
	return llm.AssistantMessage(d.Content)
}

// declineMessage is the user-role entry recording a rejected confirmation.
func declineMessage(feedback string) llm.Message {
	text := strings.TrimSpace(feedback)
	if text == "" {
		text = declinedFeedback
	}
	return llm.UserMessage("The proposed tool calls were not approved. " + text)
}
