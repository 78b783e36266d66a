package loop

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/martinemde/orbit/llm"
)

func TestClassifyDecision(t *testing.T) {
	call := llm.ToolCall{ID: "call-1", Name: "echo", Arguments: json.RawMessage(`{}`)}

	t.Run("tool calls win over text", func(t *testing.T) {
		d := classifyDecision(&llm.Response{
			Content:   "  Let me check that.  ",
			ToolCalls: []llm.ToolCall{call},
		}, false)

		if d.Type != DecisionToolCall {
			t.Errorf("expected type %q, got %q", DecisionToolCall, d.Type)
		}
		if len(d.ToolCalls) != 1 {
			t.Errorf("expected 1 tool call, got %d", len(d.ToolCalls))
		}
		if d.Reasoning != "Let me check that." {
			t.Errorf("expected trimmed reasoning, got %q", d.Reasoning)
		}
		if d.Confidence != toolCallConfidence {
			t.Errorf("expected confidence %v, got %v", toolCallConfidence, d.Confidence)
		}
		if d.RequiresConfirmation {
			t.Error("confirmation must mirror the config flag")
		}
	})

	t.Run("confirmation flag carried", func(t *testing.T) {
		d := classifyDecision(&llm.Response{ToolCalls: []llm.ToolCall{call}}, true)
		if !d.RequiresConfirmation {
			t.Error("expected RequiresConfirmation")
		}
	})

	t.Run("text becomes an answer", func(t *testing.T) {
		d := classifyDecision(&llm.Response{Content: "The answer is 42."}, false)
		if d.Type != DecisionAnswer {
			t.Errorf("expected type %q, got %q", DecisionAnswer, d.Type)
		}
		if d.Content != "The answer is 42." {
			t.Errorf("unexpected content %q", d.Content)
		}
		if d.Confidence != answerConfidence {
			t.Errorf("expected confidence %v, got %v", answerConfidence, d.Confidence)
		}
	})

	t.Run("empty response falls back", func(t *testing.T) {
		d := classifyDecision(&llm.Response{Content: "   "}, false)
		if d.Type != DecisionAnswer {
			t.Errorf("expected type %q, got %q", DecisionAnswer, d.Type)
		}
		if d.Content != fallbackAnswer {
			t.Errorf("expected the fallback answer, got %q", d.Content)
		}
		if d.Confidence != fallbackConfidence {
			t.Errorf("expected confidence %v, got %v", fallbackConfidence, d.Confidence)
		}
		if !strings.Contains(d.Content, "rephrase") {
			t.Errorf("expected an apologetic fallback, got %q", d.Content)
		}
	})
}

func TestSynthesizeRound(t *testing.T) {
	ok := Observation{Type: ObservationToolResult, Success: true}
	bad := Observation{Type: ObservationError, Success: false}
	human := Observation{Type: ObservationHumanFeedback, Success: true}

	t.Run("all succeeded", func(t *testing.T) {
		s := synthesizeRound([]Observation{ok, ok})
		if s.Summary != "2 tool call(s) succeeded" {
			t.Errorf("unexpected summary %q", s.Summary)
		}
		if s.Hint != hintProceed {
			t.Errorf("expected hint %q, got %q", hintProceed, s.Hint)
		}
		if !s.Continue {
			t.Error("the loop always continues after a tool round")
		}
	})

	t.Run("partial failure", func(t *testing.T) {
		s := synthesizeRound([]Observation{ok, bad, bad})
		if s.Summary != "1 of 3 tool call(s) succeeded" {
			t.Errorf("unexpected summary %q", s.Summary)
		}
		if s.Hint != hintAlternative {
			t.Errorf("expected hint %q, got %q", hintAlternative, s.Hint)
		}
		if !s.Continue {
			t.Error("failures must not stop the loop")
		}
	})

	t.Run("human feedback", func(t *testing.T) {
		s := synthesizeRound([]Observation{human})
		if s.Summary != "tool calls declined; human feedback recorded" {
			t.Errorf("unexpected summary %q", s.Summary)
		}
		if s.Hint != hintAlternative {
			t.Errorf("expected hint %q, got %q", hintAlternative, s.Hint)
		}
	})
}

func TestAssistantMessageFor(t *testing.T) {
	call := llm.ToolCall{ID: "call-1", Name: "echo"}

	msg := assistantMessageFor(Decision{
		Type:      DecisionToolCall,
		Reasoning: "Checking.",
		ToolCalls: []llm.ToolCall{call},
	})
	if msg.Role != llm.RoleAssistant {
		t.Errorf("expected assistant role, got %q", msg.Role)
	}
	if len(msg.ToolCalls) != 1 || msg.ToolCalls[0].ID != "call-1" {
		t.Errorf("expected the tool calls on the message, got %+v", msg.ToolCalls)
	}
	if msg.Content != "Checking." {
		t.Errorf("expected the reasoning as content, got %q", msg.Content)
	}

	msg = assistantMessageFor(Decision{Type: DecisionAnswer, Content: "Done."})
	if msg.Content != "Done." || len(msg.ToolCalls) != 0 {
		t.Errorf("unexpected answer message %+v", msg)
	}
}

func TestDeclineMessage(t *testing.T) {
	msg := declineMessage("Use staging instead.")
	if msg.Role != llm.RoleUser {
		t.Errorf("expected user role, got %q", msg.Role)
	}
	if !strings.Contains(msg.Content, "not approved") {
		t.Errorf("expected the refusal preamble, got %q", msg.Content)
	}
	if !strings.Contains(msg.Content, "Use staging instead.") {
		t.Errorf("expected the feedback verbatim, got %q", msg.Content)
	}

	msg = declineMessage("   ")
	if !strings.Contains(msg.Content, declinedFeedback) {
		t.Errorf("expected the canned decline for blank feedback, got %q", msg.Content)
	}
}
