package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// This file holds the text-level conversation encoding shared by adapters
// whose underlying API takes a single prompt string. Messages are flattened
// into labeled turns, and tool calls are exchanged as a small JSON protocol
// embedded in the generated text.

// flattenConversation renders the message history into a system prompt and a
// prompt body.
func flattenConversation(msgs []Message) (system string, body string) {
	var sys []string
	var parts []string

	for _, msg := range msgs {
		switch msg.Role {
		case RoleSystem:
			sys = append(sys, msg.Content)
		case RoleUser:
			parts = append(parts, msg.Content)
		case RoleAssistant:
			if len(msg.ToolCalls) > 0 {
				var calls []string
				for _, call := range msg.ToolCalls {
					calls = append(calls, fmt.Sprintf("%s(%s)", call.Name, string(call.Arguments)))
				}
				parts = append(parts, "[Assistant requested tools]: "+strings.Join(calls, ", "))
			} else if msg.Content != "" {
				parts = append(parts, "[Assistant]: "+msg.Content)
			}
		case RoleTool:
			label := "[Tool Result"
			if msg.Name != "" {
				label += " " + msg.Name
			}
			parts = append(parts, label+"]: "+msg.Content)
		}
	}

	body = strings.Join(parts, "\n\n")
	if body == "" {
		body = "Hello"
	}
	return strings.TrimSpace(strings.Join(sys, "\n")), body
}

// toolProtocol renders tool definitions plus the call convention for backends
// without native function calling.
func toolProtocol(tools []Tool) string {
	if len(tools) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("You can call the following tools:\n")
	for _, t := range tools {
		params, _ := json.Marshal(t.Parameters)
		fmt.Fprintf(&sb, "- %s: %s\n  parameters schema: %s\n", t.Name, t.Description, string(params))
	}
	sb.WriteString("\nTo call tools, respond with a single JSON object and nothing else:\n")
	sb.WriteString(`{"tool_calls": [{"name": "tool_name", "arguments": {...}}]}` + "\n")
	sb.WriteString("To answer directly, respond with plain text and no JSON wrapper.")
	return sb.String()
}

type rawToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// extractToolCalls pulls tool calls out of generated text. It recognizes a
// fenced ```json block, a {"tool_calls": [...]} object, or a bare
// [{"name": ...}] array, and returns the remaining text with the matched JSON
// removed. Parsed calls get fresh IDs.
func extractToolCalls(text string) (string, []ToolCall) {
	candidate, remainder := cutJSONCandidate(text)
	if candidate == "" {
		return strings.TrimSpace(text), nil
	}

	var raw []rawToolCall

	var wrapper struct {
		ToolCalls []rawToolCall `json:"tool_calls"`
	}
	if err := json.Unmarshal([]byte(candidate), &wrapper); err == nil && len(wrapper.ToolCalls) > 0 {
		raw = wrapper.ToolCalls
	} else if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
		return strings.TrimSpace(text), nil
	}

	var calls []ToolCall
	for _, rc := range raw {
		if rc.Name == "" {
			continue
		}
		args := rc.Arguments
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		calls = append(calls, ToolCall{
			ID:        "call_" + uuid.New().String()[:8],
			Name:      rc.Name,
			Arguments: args,
		})
	}
	if len(calls) == 0 {
		return strings.TrimSpace(text), nil
	}
	return strings.TrimSpace(remainder), calls
}

// cutJSONCandidate locates the JSON value that may hold tool calls and
// returns it together with the surrounding text.
func cutJSONCandidate(text string) (candidate, remainder string) {
	// Fenced block first.
	if start := strings.Index(text, "```json"); start != -1 {
		rest := text[start+len("```json"):]
		if end := strings.Index(rest, "```"); end != -1 {
			return strings.TrimSpace(rest[:end]), text[:start] + rest[end+3:]
		}
	}

	for _, marker := range []string{`{"tool_calls"`, `[{"name"`} {
		start := strings.Index(text, marker)
		if start == -1 {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(text[start:]))
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			continue
		}
		end := start + int(dec.InputOffset())
		return string(v), text[:start] + text[end:]
	}
	return "", text
}

// estimateTokens provides a rough token count for text when the backend does
// not report usage.
func estimateTokens(s string) int {
	n := len(s) / 4
	if n == 0 && s != "" {
		n = 1
	}
	return n
}

// estimateRequestTokens sums token estimates across request messages.
func estimateRequestTokens(req Request) int {
	total := 0
	for _, msg := range req.Messages {
		total += estimateTokens(msg.Content)
		for _, call := range msg.ToolCalls {
			total += estimateTokens(call.Name) + estimateTokens(string(call.Arguments))
		}
	}
	if total == 0 {
		total = 10
	}
	return total
}
