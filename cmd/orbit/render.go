package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/martinemde/orbit/loop"
)

// ANSI escape codes
const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiDim    = "\033[2m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
)

// renderer turns the loop's progress events into terminal output. Progress
// goes to stderr so the final answer stays pipeable on stdout.
type renderer struct {
	w     io.Writer
	color bool
}

func newRenderer(w io.Writer, color bool) *renderer {
	return &renderer{w: w, color: color}
}

func (r *renderer) paint(code, s string) string {
	if !r.color {
		return s
	}
	return code + s + ansiReset
}

func (r *renderer) notice(text string) {
	fmt.Fprintf(r.w, "%s\n", r.paint(ansiDim, text))
}

func (r *renderer) event(ev loop.Event) {
	switch ev.Kind {
	case loop.EventStepStarted:
		header := fmt.Sprintf("step %d/%d", ev.Step, dataNum(ev, "max_steps"))
		fmt.Fprintf(r.w, "%s\n", r.paint(ansiBold+ansiCyan, header))

	case loop.EventReasoning:
		for _, line := range strings.Split(dataString(ev, "text"), "\n") {
			fmt.Fprintf(r.w, "%s\n", r.paint(ansiDim, "  "+line))
		}

	case loop.EventDecision:
		// Answer decisions are followed by the answer itself; only tool
		// rounds need a line here.
		if dataString(ev, "type") != string(loop.DecisionToolCall) {
			return
		}
		line := fmt.Sprintf("  plan: %d tool call(s), confidence %.2f",
			dataNum(ev, "tool_calls"), dataFloat(ev, "confidence"))
		if dataBool(ev, "requires_confirmation") {
			fmt.Fprintf(r.w, "%s\n", r.paint(ansiYellow, line+" [needs approval]"))
			return
		}
		fmt.Fprintf(r.w, "%s\n", line)

	case loop.EventToolsStarted:
		fmt.Fprintf(r.w, "  run: %s\n", strings.Join(dataStrings(ev, "tools"), ", "))

	case loop.EventToolsCompleted:
		succeeded := dataNum(ev, "succeeded")
		failed := dataNum(ev, "failed")
		ms := dataNum(ev, "duration_ms")
		if failed > 0 {
			line := fmt.Sprintf("  %d succeeded, %d failed in %dms", succeeded, failed, ms)
			fmt.Fprintf(r.w, "%s\n", r.paint(ansiRed, line))
			return
		}
		fmt.Fprintf(r.w, "%s\n", r.paint(ansiGreen, fmt.Sprintf("  %d succeeded in %dms", succeeded, ms)))

	case loop.EventStepCompleted:
		if hint := dataString(ev, "hint"); hint != "" {
			fmt.Fprintf(r.w, "%s\n", r.paint(ansiDim, "  hint: "+hint))
		}

	case loop.EventStall:
		fmt.Fprintf(r.w, "%s\n", r.paint(ansiYellow, "  stalled: "+dataString(ev, "message")))

	case loop.EventAnswer:
		header := fmt.Sprintf("answer (confidence %.2f)", dataFloat(ev, "confidence"))
		fmt.Fprintf(r.w, "%s\n", r.paint(ansiBold+ansiGreen, header))

	case loop.EventError:
		fmt.Fprintf(r.w, "%s\n", r.paint(ansiBold+ansiRed, "error: "+dataString(ev, "error")))
	}
}

// confirmRequest shows the tool calls a paused step wants to run, ahead of
// the approval prompt.
func (r *renderer) confirmRequest(step loop.Step) {
	if step.Actions == nil {
		return
	}
	calls := step.Actions.Calls
	header := fmt.Sprintf("step %d wants to run %d tool(s):", step.Number, len(calls))
	fmt.Fprintf(r.w, "\n%s\n", r.paint(ansiBold+ansiYellow, header))
	for _, call := range calls {
		fmt.Fprintf(r.w, "  %s %s\n", call.Name, r.paint(ansiDim, compactArgs(call.Arguments)))
	}
}

// final prints the closing usage line once the loop has settled.
func (r *renderer) final(state loop.State) {
	elapsed := time.Since(state.StartedAt)
	if state.CompletedAt != nil {
		elapsed = state.CompletedAt.Sub(state.StartedAt)
	}
	summary := fmt.Sprintf("%s · %d steps · %d tokens · $%.4f · %s",
		state.Status, state.CurrentStep, state.Usage.TotalTokens,
		state.Usage.EstimatedCost, elapsed.Round(time.Second))

	switch state.Status {
	case loop.StatusFailed:
		fmt.Fprintf(r.w, "\n%s\n", r.paint(ansiBold+ansiRed, summary))
		if state.Error != "" {
			fmt.Fprintf(r.w, "%s\n", r.paint(ansiRed, state.Error))
		}
	case loop.StatusCancelled:
		fmt.Fprintf(r.w, "\n%s\n", r.paint(ansiYellow, summary))
	default:
		fmt.Fprintf(r.w, "\n%s\n", r.paint(ansiDim, summary))
	}
}

// compactArgs flattens raw JSON arguments to one display line.
func compactArgs(raw json.RawMessage) string {
	s := strings.Join(strings.Fields(string(raw)), " ")
	const max = 100
	if utf8.RuneCountInString(s) > max {
		runes := []rune(s)
		return string(runes[:max]) + "..."
	}
	return s
}

// Events arrive in-process, so Data values keep the types the loop emitted
// them with. The accessors still tolerate decoded JSON shapes.

func dataString(ev loop.Event, key string) string {
	s, _ := ev.Data[key].(string)
	return s
}

func dataBool(ev loop.Event, key string) bool {
	b, _ := ev.Data[key].(bool)
	return b
}

func dataNum(ev loop.Event, key string) int64 {
	switch n := ev.Data[key].(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}

func dataFloat(ev loop.Event, key string) float64 {
	switch n := ev.Data[key].(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func dataStrings(ev loop.Event, key string) []string {
	switch v := ev.Data[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
