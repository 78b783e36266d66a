package llm

import (
	"context"
	"sync"
)

// MockProvider is a scriptable in-memory Provider for tests and offline
// runs. Scripted responses are returned in order; when the script runs out
// the last entry repeats. An empty script yields a canned text response.
type MockProvider struct {
	mu        sync.Mutex
	responses []MockResponse
	requests  []Request
	index     int
}

// MockResponse is one scripted turn. Err takes precedence over Response.
type MockResponse struct {
	Response *Response
	Err      error
}

// MockText scripts a plain text completion.
func MockText(content string) MockResponse {
	return MockResponse{Response: &Response{
		Content:      content,
		FinishReason: FinishStop,
	}}
}

// MockToolCalls scripts a completion that requests the given tool calls.
func MockToolCalls(calls ...ToolCall) MockResponse {
	return MockResponse{Response: &Response{
		ToolCalls:    calls,
		FinishReason: FinishToolCalls,
	}}
}

// MockError scripts a failed completion.
func MockError(err error) MockResponse {
	return MockResponse{Err: err}
}

// NewMockProvider creates a MockProvider with an initial script.
func NewMockProvider(responses ...MockResponse) *MockProvider {
	return &MockProvider{responses: responses}
}

// Name implements Provider.
func (m *MockProvider) Name() string { return "mock" }

// Queue appends responses to the script.
func (m *MockProvider) Queue(responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, responses...)
}

// Complete implements Provider. Every request is recorded for inspection.
func (m *MockProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, &AbortError{ClientError{Message: "request cancelled", Cause: err}}
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	var scripted MockResponse
	if len(m.responses) == 0 {
		scripted = MockText("Mock response.")
	} else {
		i := m.index
		if i >= len(m.responses) {
			i = len(m.responses) - 1
		}
		scripted = m.responses[i]
		m.index++
	}
	m.mu.Unlock()

	if scripted.Err != nil {
		return nil, scripted.Err
	}

	resp := *scripted.Response
	resp.Model = req.Model
	resp.Provider = "mock"
	if resp.Usage.TotalTokens == 0 {
		resp.Usage = Usage{
			PromptTokens:     estimateRequestTokens(req),
			CompletionTokens: estimateTokens(resp.Content),
		}
		resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	}
	return &resp, nil
}

// Requests returns a copy of every request seen so far.
func (m *MockProvider) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// CallCount returns how many completions were requested.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Reset clears the recorded requests and rewinds the script.
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.index = 0
}
