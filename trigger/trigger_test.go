package trigger

import (
	"strings"
	"testing"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name   string
		prompt string
		engage bool
	}{
		{"empty", "", false},
		{"greeting", "Hello!", false},
		{"thanks", "thanks, that's all for now", false},
		{"plain knowledge question", "Why is the sky blue?", false},
		{"opinion", "Do you prefer tabs or spaces?", false},
		{"url fetch", "Fetch https://example.com/report and summarize it", true},
		{"bare url", "https://news.example.com/article what does this say", true},
		{"action verb", "Find the release notes for version 2.0", true},
		{"volatile fact", "What time is it in Tokyo?", true},
		{"weather", "What's the weather in Berlin today?", true},
		{"multi-step", "First gather the numbers, then compare them and write a summary", true},
		{"artifact request", "Write a markdown report about our deployment process", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Detect(tt.prompt)
			if got.Engage != tt.engage {
				t.Errorf("Detect(%q).Engage = %v (score %.2f, %s), want %v",
					tt.prompt, got.Engage, got.Score, got.Reason, tt.engage)
			}
		})
	}
}

func TestDetectScoreBounds(t *testing.T) {
	loaded := "First fetch https://example.com today, then search the latest prices, " +
		"compare them step by step, verify the weather forecast, and write a summary. " +
		strings.Repeat("More detail. ", 20)
	d := Detect(loaded)
	if d.Score > 1 {
		t.Errorf("score must be capped at 1, got %v", d.Score)
	}
	if !d.Engage {
		t.Error("a fully loaded prompt must engage")
	}
}

func TestDetectReasons(t *testing.T) {
	d := Detect("Fetch https://example.com and summarize it")
	if !strings.Contains(d.Reason, "URL") {
		t.Errorf("expected the URL signal named, got %q", d.Reason)
	}
	if !strings.Contains(d.Reason, "action verbs") {
		t.Errorf("expected the verb signal named, got %q", d.Reason)
	}

	d = Detect("Why is the sky blue?")
	if d.Reason != "no loop signals" {
		t.Errorf("expected the no-signal reason, got %q", d.Reason)
	}
}

func TestDetectSmallTalkLengthCutoff(t *testing.T) {
	long := "Hello! I need you to fetch https://example.com and check the latest figures for me."
	if d := Detect(long); !d.Engage {
		t.Errorf("a greeting followed by real work must engage, got %+v", d)
	}
}
