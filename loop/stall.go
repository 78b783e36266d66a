package loop

import (
	"crypto/sha256"
	"fmt"

	"github.com/martinemde/orbit/llm"
)

// callSignature fingerprints a tool call by name and argument hash. Two
// calls share a signature exactly when they would repeat the same work.
func callSignature(call llm.ToolCall) string {
	h := sha256.Sum256(call.Arguments)
	return fmt.Sprintf("%s:%x", call.Name, h[:8])
}

// recentCallSignatures collects signatures for the most recent tool calls
// across the recorded steps, oldest first.
func recentCallSignatures(steps []Step, limit int) []string {
	var sigs []string
	for i := len(steps) - 1; i >= 0 && len(sigs) < limit; i-- {
		actions := steps[i].Actions
		if actions == nil {
			continue
		}
		for j := len(actions.Calls) - 1; j >= 0 && len(sigs) < limit; j-- {
			sigs = append(sigs, callSignature(actions.Calls[j]))
		}
	}
	// Reverse to chronological order.
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	return sigs
}

// detectStall reports whether the last window tool calls follow a
// repeating pattern of length 1, 2, or 3.
func detectStall(steps []Step, window int) bool {
	sigs := recentCallSignatures(steps, window)
	if len(sigs) < window {
		return false
	}

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if window%patternLen != 0 {
			continue
		}
		pattern := sigs[:patternLen]
		allMatch := true
		for i := patternLen; i < window; i += patternLen {
			for j := 0; j < patternLen; j++ {
				if sigs[i+j] != pattern[j] {
					allMatch = false
					break
				}
			}
			if !allMatch {
				break
			}
		}
		if allMatch {
			return true
		}
	}

	return false
}

func stallWarning(window int) string {
	return fmt.Sprintf("The last %d tool calls follow a repeating pattern. Try a different approach.", window)
}

// noteStallLocked runs the stall check over the recorded steps and, when
// it fires, folds a steering message into the conversation so the next
// Plan phase sees it. The caller emits the matching event outside the
// lock.
func (c *Controller) noteStallLocked() bool {
	if c.cfg.DisableStallCheck {
		return false
	}
	if !detectStall(c.state.Steps, c.cfg.StallWindow) {
		return false
	}
	c.messages = append(c.messages, llm.UserMessage(stallWarning(c.cfg.StallWindow)))
	return true
}

func (c *Controller) emitStall(stepNumber int) {
	c.cfg.Logger.Debug("stall detected", "loop", c.ID(), "step", stepNumber, "window", c.cfg.StallWindow)
	c.emitter.emit(EventStall, stepNumber, map[string]any{
		"message": stallWarning(c.cfg.StallWindow),
		"window":  c.cfg.StallWindow,
	})
}
