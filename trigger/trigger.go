// Package trigger decides whether a prompt warrants the full tool-using
// loop or can be answered in a single shot. The check is string matching
// only, no model involved, so it is cheap enough to run on every prompt.
package trigger

import (
	"regexp"
	"strings"
)

// Decision is the engagement verdict for one prompt. Score is in [0, 1];
// Reason names the signals that drove it.
type Decision struct {
	Engage bool    `json:"engage"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// engageThreshold is the score at which a prompt gets the full loop.
const engageThreshold = 0.3

var (
	actionPattern = regexp.MustCompile(`(?i)\b(fetch|download|look up|search|find|check|create|write|build|generate|compare|summari[sz]e|analy[sz]e|gather|collect|verify|list)\b`)

	sequencePattern = regexp.MustCompile(`(?i)\b(first|then|after that|next|finally|step by step|one by one)\b`)

	freshnessPattern = regexp.MustCompile(`(?i)\b(today|tonight|right now|currently|latest|most recent|this week|breaking)\b`)

	// Facts that go stale: answering these without a tool means guessing.
	volatilePattern = regexp.MustCompile(`(?i)\b(what time|current time|weather|forecast|price of|stock|exchange rate|score of)\b`)

	urlPattern = regexp.MustCompile(`https?://\S+`)

	smallTalkPattern = regexp.MustCompile(`(?i)^(hi|hey|hello|yo|thanks|thank you|ok|okay|good (morning|afternoon|evening|night))\b`)
)

// Detect scores a prompt for loop engagement.
func Detect(prompt string) Decision {
	text := strings.TrimSpace(prompt)
	if text == "" {
		return Decision{Reason: "empty prompt"}
	}
	if smallTalkPattern.MatchString(text) && len(text) < 40 {
		return Decision{Score: 0.1, Reason: "small talk"}
	}

	var score float64
	var reasons []string

	if urlPattern.MatchString(text) {
		score += 0.4
		reasons = append(reasons, "contains a URL")
	}
	if verbs := actionPattern.FindAllString(text, -1); len(verbs) > 0 {
		score += 0.3
		if len(verbs) > 1 {
			score += 0.1
		}
		reasons = append(reasons, "action verbs")
	}
	if sequencePattern.MatchString(text) {
		score += 0.2
		reasons = append(reasons, "multi-step phrasing")
	}
	if volatilePattern.MatchString(text) {
		score += 0.3
		reasons = append(reasons, "asks for volatile facts")
	}
	if freshnessPattern.MatchString(text) {
		score += 0.2
		reasons = append(reasons, "needs fresh information")
	}
	if len(text) > 200 {
		score += 0.1
		reasons = append(reasons, "long request")
	}

	if score > 1 {
		score = 1
	}
	reason := strings.Join(reasons, ", ")
	if reason == "" {
		reason = "no loop signals"
	}
	return Decision{
		Engage: score >= engageThreshold,
		Score:  score,
		Reason: reason,
	}
}
