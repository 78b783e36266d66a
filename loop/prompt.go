package loop

import (
	"fmt"
	"strings"

	"github.com/martinemde/orbit/tools"
)

const defaultPersonaPrompt = "You are a capable assistant that works through requests step by step. " +
	"Think about what information you need, use the available tools to gather it, " +
	"and give a complete final answer once you have enough."

// buildSystemPrompt assembles the system message from the persona and the
// tool catalog. Tool schemas travel separately on the request; the prompt
// only names the capabilities so the model plans around them.
func buildSystemPrompt(p Persona, defs []tools.Definition) string {
	var sb strings.Builder

	prompt := strings.TrimSpace(p.SystemPrompt)
	if prompt == "" {
		prompt = defaultPersonaPrompt
	}
	if p.Name != "" {
		fmt.Fprintf(&sb, "You are %s.\n\n", p.Name)
	}
	sb.WriteString(prompt)

	if len(defs) > 0 {
		sb.WriteString("\n\n<tools>\n")
		sb.WriteString("You can call the following tools. Call a tool when it gets you closer to the answer; answer directly once you have what you need.\n")
		for _, d := range defs {
			fmt.Fprintf(&sb, "- %s: %s\n", d.Name, d.Description)
		}
		sb.WriteString("</tools>")
	} else {
		sb.WriteString("\n\nNo tools are available for this request. Answer directly from what you know.")
	}

	return sb.String()
}
