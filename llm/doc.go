// Package llm is the decision-service client for orbit loops. It presents a
// provider-agnostic completion interface over OpenAI and Anthropic (via
// github.com/teilomillet/gollm), Google Gemini (google.golang.org/genai), and
// local Ollama models (github.com/ollama/ollama/api).
//
// # Architecture
//
//   - Provider: the adapter interface each backend implements
//   - Client: provider routing plus a middleware chain (retry, rate limiting)
//   - Catalog: known model identifiers with context windows and aliases
//
// The interface is narrow. A loop needs exactly one capability from its
// decision service: given a conversation and a tool catalog, return either
// text or tool calls, with token usage attached. There is no streaming
// surface; the loop consumes whole decisions.
//
// # Quick Start
//
//	client, err := llm.NewFromEnv(nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	resp, err := client.Complete(ctx, llm.Request{
//	    Model: "claude-sonnet-4-5",
//	    Messages: []llm.Message{
//	        llm.SystemMessage("You are a terse assistant."),
//	        llm.UserMessage("What is the capital of Australia?"),
//	    },
//	})
//	fmt.Println(resp.Content)
//
// Tool definitions ride along on the request; when the model elects to call
// tools the response carries them as structured ToolCall values:
//
//	resp, err := client.Complete(ctx, llm.Request{
//	    Model:    "gpt-5.2-mini",
//	    Messages: msgs,
//	    Tools: []llm.Tool{{
//	        Name:        "web_fetch",
//	        Description: "Fetch a web page and extract its text",
//	        Parameters: map[string]any{
//	            "type": "object",
//	            "properties": map[string]any{
//	                "url": map[string]any{"type": "string"},
//	            },
//	            "required": []any{"url"},
//	        },
//	    }},
//	})
//	for _, call := range resp.ToolCalls {
//	    fmt.Println(call.Name, string(call.Arguments))
//	}
package llm
