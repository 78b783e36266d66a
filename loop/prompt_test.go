package loop

import (
	"strings"
	"testing"

	"github.com/martinemde/orbit/tools"
)

func TestBuildSystemPromptListsTools(t *testing.T) {
	defs := []tools.Definition{
		{Name: "current_time", Description: "returns the current time"},
		{Name: "web_fetch", Description: "fetches a page"},
	}
	prompt := buildSystemPrompt(Persona{}, defs)

	if !strings.Contains(prompt, "<tools>") || !strings.Contains(prompt, "</tools>") {
		t.Errorf("expected a tools block, got %q", prompt)
	}
	if !strings.Contains(prompt, "- current_time: returns the current time") {
		t.Errorf("expected the tool listed, got %q", prompt)
	}
	if !strings.Contains(prompt, "- web_fetch: fetches a page") {
		t.Errorf("expected the tool listed, got %q", prompt)
	}
	if !strings.Contains(prompt, defaultPersonaPrompt) {
		t.Error("expected the default persona prompt")
	}
	// Tool order in the prompt follows registration order.
	if strings.Index(prompt, "current_time") > strings.Index(prompt, "web_fetch") {
		t.Error("tools listed out of order")
	}
}

func TestBuildSystemPromptWithoutTools(t *testing.T) {
	prompt := buildSystemPrompt(Persona{}, nil)
	if !strings.Contains(prompt, "No tools are available") {
		t.Errorf("expected the no-tools notice, got %q", prompt)
	}
	if strings.Contains(prompt, "<tools>") {
		t.Error("unexpected tools block")
	}
}

func TestBuildSystemPromptPersona(t *testing.T) {
	prompt := buildSystemPrompt(Persona{
		Name:         "Ada",
		SystemPrompt: "You research questions meticulously.",
	}, nil)

	if !strings.HasPrefix(prompt, "You are Ada.\n\n") {
		t.Errorf("expected the persona name first, got %q", prompt)
	}
	if !strings.Contains(prompt, "You research questions meticulously.") {
		t.Error("expected the custom system prompt")
	}
	if strings.Contains(prompt, defaultPersonaPrompt) {
		t.Error("the custom prompt must replace the default")
	}
}
