package loop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/martinemde/orbit/llm"
	"github.com/martinemde/orbit/tools"
)

func echoCall(id string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: "echo", Arguments: json.RawMessage(`{"text":"hi"}`)}
}

// testRegistry registers an echo tool that counts invocations, a boom tool
// that always fails, and a slow tool that blocks until its context is
// cancelled.
func testRegistry(t *testing.T, invoked *atomic.Int32) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	reg.MustRegister(tools.Tool{
		Definition: tools.Definition{Name: "echo", Description: "returns its input"},
		Run: func(ctx context.Context, args json.RawMessage) (string, error) {
			if invoked != nil {
				invoked.Add(1)
			}
			return "tool output", nil
		},
	})
	reg.MustRegister(tools.Tool{
		Definition: tools.Definition{Name: "boom", Description: "always fails"},
		Run: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "", errors.New("kaput")
		},
	})
	reg.MustRegister(tools.Tool{
		Definition: tools.Definition{Name: "slow", Description: "blocks until cancelled"},
		Run: func(ctx context.Context, args json.RawMessage) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	})
	return reg
}

func drainEvents(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func kindSequence(events []Event) string {
	kinds := make([]string, len(events))
	for i, ev := range events {
		kinds[i] = string(ev.Kind)
	}
	return strings.Join(kinds, " ")
}

func TestRunAnswersDirectly(t *testing.T) {
	mock := llm.NewMockProvider(llm.MockText("Paris is the capital of France."))
	ctl, err := New("What is the capital of France?", Config{Client: mock})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state, err := ctl.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if state.Status != StatusCompleted {
		t.Errorf("expected status %q, got %q", StatusCompleted, state.Status)
	}
	if len(state.Steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(state.Steps))
	}
	if state.Final == nil {
		t.Fatal("expected a final decision")
	}
	if state.Final.Type != DecisionAnswer {
		t.Errorf("expected decision type %q, got %q", DecisionAnswer, state.Final.Type)
	}
	if state.Final.Content != "Paris is the capital of France." {
		t.Errorf("unexpected final content: %q", state.Final.Content)
	}
	if state.Final.Confidence != answerConfidence {
		t.Errorf("expected confidence %v, got %v", answerConfidence, state.Final.Confidence)
	}
	if state.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
	if state.Usage.LLMCalls != 1 {
		t.Errorf("expected 1 llm call, got %d", state.Usage.LLMCalls)
	}
}

func TestRunStopsAtStepLimit(t *testing.T) {
	var invoked atomic.Int32
	mock := llm.NewMockProvider(llm.MockToolCalls(echoCall("call-1")))
	ctl, err := New("keep calling tools", Config{
		Client:   mock,
		MaxSteps: 1,
		Tools:    testRegistry(t, &invoked),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state, err := ctl.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if state.Status != StatusFailed {
		t.Errorf("expected status %q, got %q", StatusFailed, state.Status)
	}
	if invoked.Load() != 1 {
		t.Errorf("expected the tool round to execute before exhaustion, invoked %d times", invoked.Load())
	}
	if !strings.Contains(state.Error, "maximum steps (1) reached") {
		t.Errorf("expected a step exhaustion message, got %q", state.Error)
	}
	if strings.Contains(state.Error, "decision service") {
		t.Errorf("exhaustion message should not mention the decision service: %q", state.Error)
	}
	if len(state.Steps) != 1 {
		t.Errorf("expected 1 step, got %d", len(state.Steps))
	}
	if mock.CallCount() != 1 {
		t.Errorf("expected exactly 1 plan phase, got %d", mock.CallCount())
	}

	events := drainEvents(t, ctl.Events())
	last := events[len(events)-1]
	if last.Kind != EventError {
		t.Errorf("expected a terminal error event, got %q", last.Kind)
	}
}

func TestStepLimitNeverExceeded(t *testing.T) {
	for _, maxSteps := range []int{1, 2, 3, 5} {
		t.Run(fmt.Sprintf("maxSteps=%d", maxSteps), func(t *testing.T) {
			mock := llm.NewMockProvider(llm.MockToolCalls(echoCall("call-1")))
			ctl, err := New("never answers", Config{
				Client:   mock,
				MaxSteps: maxSteps,
				Tools:    testRegistry(t, nil),
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			state, err := ctl.Run(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if state.Status != StatusFailed {
				t.Errorf("expected status %q, got %q", StatusFailed, state.Status)
			}
			if mock.CallCount() != maxSteps {
				t.Errorf("expected %d plan phases, got %d", maxSteps, mock.CallCount())
			}
			if state.Usage.LLMCalls != maxSteps {
				t.Errorf("expected %d llm calls, got %d", maxSteps, state.Usage.LLMCalls)
			}
			if len(state.Steps) != maxSteps {
				t.Errorf("expected %d steps, got %d", maxSteps, len(state.Steps))
			}
		})
	}
}

func TestConfirmationPausesBeforeExecution(t *testing.T) {
	var invoked atomic.Int32
	mock := llm.NewMockProvider(
		llm.MockToolCalls(echoCall("call-1")),
		llm.MockText("All done."),
	)
	ctl, err := New("do something", Config{
		Client:  mock,
		Tools:   testRegistry(t, &invoked),
		Confirm: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state, err := ctl.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if state.Status != StatusAwaitingConfirmation {
		t.Fatalf("expected status %q, got %q", StatusAwaitingConfirmation, state.Status)
	}
	if invoked.Load() != 0 {
		t.Fatalf("tool executed before confirmation, invoked %d times", invoked.Load())
	}
	if len(state.Steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(state.Steps))
	}
	step := state.Steps[0]
	if step.Actions == nil || len(step.Actions.Calls) != 1 {
		t.Fatal("expected the pending tool calls to be recorded on the step")
	}
	if step.Actions.Calls[0].Name != "echo" {
		t.Errorf("expected pending call %q, got %q", "echo", step.Actions.Calls[0].Name)
	}
	if len(step.Observations) != 0 {
		t.Errorf("expected no observations before confirmation, got %d", len(step.Observations))
	}

	if err := ctl.Resume(context.Background(), true, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if invoked.Load() != 1 {
		t.Errorf("expected the approved call to execute once, invoked %d times", invoked.Load())
	}

	state, err = ctl.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Status != StatusCompleted {
		t.Errorf("expected status %q, got %q", StatusCompleted, state.Status)
	}
	if len(state.Steps[0].Observations) != 1 {
		t.Errorf("expected 1 observation after resume, got %d", len(state.Steps[0].Observations))
	}
	if !state.Steps[0].Observations[0].Success {
		t.Error("expected the executed call to succeed")
	}

	seq := kindSequence(drainEvents(t, ctl.Events()))
	want := "step_started decision tools_started tools_completed step_completed " +
		"step_started decision step_completed answer"
	if seq != want {
		t.Errorf("unexpected event sequence:\n got %q\nwant %q", seq, want)
	}
}

func TestResumeRejectedRecordsFeedback(t *testing.T) {
	var invoked atomic.Int32
	mock := llm.NewMockProvider(
		llm.MockToolCalls(echoCall("call-1")),
		llm.MockText("Understood, skipping that."),
	)
	ctl, err := New("do something risky", Config{
		Client:  mock,
		Tools:   testRegistry(t, &invoked),
		Confirm: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := ctl.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ctl.Resume(context.Background(), false, "Do not touch production."); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if invoked.Load() != 0 {
		t.Errorf("rejected call must not execute, invoked %d times", invoked.Load())
	}

	state, err := ctl.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Status != StatusCompleted {
		t.Fatalf("expected status %q, got %q", StatusCompleted, state.Status)
	}

	obs := state.Steps[0].Observations
	if len(obs) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(obs))
	}
	if obs[0].Type != ObservationHumanFeedback {
		t.Errorf("expected observation type %q, got %q", ObservationHumanFeedback, obs[0].Type)
	}
	if obs[0].Content != "Do not touch production." {
		t.Errorf("expected the feedback verbatim, got %q", obs[0].Content)
	}
	if obs[0].Source != "human" {
		t.Errorf("expected source %q, got %q", "human", obs[0].Source)
	}
	if state.Steps[0].Synthesis == nil || state.Steps[0].Synthesis.Hint != hintAlternative {
		t.Error("expected the synthesis hint to steer toward alternatives")
	}

	// The next plan phase must see the refusal.
	reqs := mock.Requests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	if last.Role != llm.RoleUser {
		t.Errorf("expected a user-role refusal message, got role %q", last.Role)
	}
	if !strings.Contains(last.Content, "not approved") || !strings.Contains(last.Content, "Do not touch production.") {
		t.Errorf("expected the refusal plus feedback in context, got %q", last.Content)
	}
}

func TestResumeRequiresAwaitingConfirmation(t *testing.T) {
	mock := llm.NewMockProvider(llm.MockText("done"))
	ctl, err := New("hello", Config{Client: mock})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = ctl.Resume(context.Background(), true, "")
	if err == nil {
		t.Fatal("expected an error resuming a running loop")
	}
	var ise *InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected InvalidStateError, got %T", err)
	}
	if ise.Status != StatusRunning {
		t.Errorf("expected status %q in error, got %q", StatusRunning, ise.Status)
	}
	if !IsInvalidState(err) {
		t.Error("expected IsInvalidState to match")
	}

	before := ctl.State()
	if _, err := ctl.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ctl.Resume(context.Background(), true, ""); err == nil {
		t.Fatal("expected an error resuming a completed loop")
	}

	// A failed resume leaves no trace.
	if before.Usage.LLMCalls != 0 || len(before.Steps) != 0 {
		t.Error("rejected resume must not have side effects")
	}
}

func TestAdvancingWhileAwaitingConfirmationFails(t *testing.T) {
	mock := llm.NewMockProvider(llm.MockToolCalls(echoCall("call-1")))
	ctl, err := New("do something", Config{
		Client:  mock,
		Tools:   testRegistry(t, nil),
		Confirm: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ctl.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := ctl.Run(context.Background()); !IsInvalidState(err) {
		t.Errorf("expected an invalid-state error from Run, got %v", err)
	}
	if _, err := ctl.Step(context.Background()); !IsInvalidState(err) {
		t.Errorf("expected an invalid-state error from Step, got %v", err)
	}
}

func TestToolFailureIsRecoverable(t *testing.T) {
	mock := llm.NewMockProvider(
		llm.MockToolCalls(
			llm.ToolCall{ID: "call-1", Name: "boom", Arguments: json.RawMessage(`{}`)},
			llm.ToolCall{ID: "call-2", Name: "echo", Arguments: json.RawMessage(`{}`)},
		),
		llm.MockText("Recovered."),
	)
	ctl, err := New("try two things", Config{
		Client: mock,
		Tools:  testRegistry(t, nil),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state, err := ctl.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if state.Status != StatusCompleted {
		t.Fatalf("expected the loop to continue past the failure, status %q", state.Status)
	}
	obs := state.Steps[0].Observations
	if len(obs) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(obs))
	}
	if obs[0].Success {
		t.Error("expected the first observation to be the failure")
	}
	if obs[0].Type != ObservationError {
		t.Errorf("expected type %q, got %q", ObservationError, obs[0].Type)
	}
	if !strings.HasPrefix(obs[0].Content, "Error:") {
		t.Errorf("expected an Error-prefixed content, got %q", obs[0].Content)
	}
	if !obs[1].Success {
		t.Error("expected the second observation to succeed")
	}
	if obs[0].Source != "boom" || obs[1].Source != "echo" {
		t.Errorf("observations out of request order: %q, %q", obs[0].Source, obs[1].Source)
	}
	if state.Steps[0].Synthesis.Hint != hintAlternative {
		t.Errorf("expected hint %q, got %q", hintAlternative, state.Steps[0].Synthesis.Hint)
	}
	if state.Steps[0].Synthesis.Summary != "1 of 2 tool call(s) succeeded" {
		t.Errorf("unexpected synthesis summary %q", state.Steps[0].Synthesis.Summary)
	}
}

func TestCancelDuringToolRound(t *testing.T) {
	mock := llm.NewMockProvider(llm.MockToolCalls(
		llm.ToolCall{ID: "call-1", Name: "slow", Arguments: json.RawMessage(`{}`)},
	))
	ctl, err := New("long running work", Config{
		Client: mock,
		Tools:  testRegistry(t, nil),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan *State, 1)
	go func() {
		state, _ := ctl.Run(context.Background())
		done <- state
	}()

	var kinds []EventKind
	for ev := range ctl.Events() {
		kinds = append(kinds, ev.Kind)
		if ev.Kind == EventToolsStarted {
			ctl.Cancel()
		}
	}
	state := <-done

	if state.Status != StatusCancelled {
		t.Errorf("expected status %q, got %q", StatusCancelled, state.Status)
	}
	if state.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
	if len(state.Steps) != 0 {
		t.Errorf("expected no steps appended after cancellation, got %d", len(state.Steps))
	}
	if state.Usage.LLMCalls != 1 {
		t.Errorf("expected the completed plan phase to be counted, got %d", state.Usage.LLMCalls)
	}
	for _, k := range kinds {
		switch k {
		case EventStepCompleted, EventAnswer, EventError, EventToolsCompleted:
			t.Errorf("unexpected event %q after cancellation", k)
		}
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	mock := llm.NewMockProvider(llm.MockText("done"))
	ctl, err := New("hello", Config{Client: mock})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctl.Cancel()
	first := ctl.State()
	if first.Status != StatusCancelled {
		t.Fatalf("expected status %q, got %q", StatusCancelled, first.Status)
	}
	if first.CompletedAt == nil {
		t.Fatal("expected CompletedAt to be set")
	}

	ctl.Cancel()
	second := ctl.State()
	if second.Status != StatusCancelled {
		t.Errorf("expected status %q, got %q", StatusCancelled, second.Status)
	}
	if !second.CompletedAt.Equal(*first.CompletedAt) {
		t.Error("second cancel must not restamp CompletedAt")
	}

	if _, err := ctl.Run(context.Background()); !IsInvalidState(err) {
		t.Errorf("expected an invalid-state error after cancel, got %v", err)
	}
	if mock.CallCount() != 0 {
		t.Errorf("expected no plan phase after cancel, got %d", mock.CallCount())
	}
}

func TestCancelAfterCompletionKeepsStatus(t *testing.T) {
	mock := llm.NewMockProvider(llm.MockText("done"))
	ctl, err := New("hello", Config{Client: mock})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ctl.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctl.Cancel()
	if got := ctl.State().Status; got != StatusCompleted {
		t.Errorf("cancel after completion must not change status, got %q", got)
	}
}

func TestDecisionServiceFailureFailsLoop(t *testing.T) {
	mock := llm.NewMockProvider(
		llm.MockToolCalls(echoCall("call-1")),
		llm.MockError(errors.New("provider unavailable")),
	)
	ctl, err := New("do work", Config{
		Client: mock,
		Tools:  testRegistry(t, nil),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state, err := ctl.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if state.Status != StatusFailed {
		t.Errorf("expected status %q, got %q", StatusFailed, state.Status)
	}
	if !strings.Contains(state.Error, "decision service failed at step 2") {
		t.Errorf("expected the failing step in the message, got %q", state.Error)
	}
	if !strings.Contains(state.Error, "provider unavailable") {
		t.Errorf("expected the underlying cause in the message, got %q", state.Error)
	}
	if len(state.Steps) != 1 {
		t.Errorf("expected only the completed step to be recorded, got %d", len(state.Steps))
	}
	if state.Usage.LLMCalls != 1 {
		t.Errorf("expected usage only for the successful call, got %d", state.Usage.LLMCalls)
	}

	events := drainEvents(t, ctl.Events())
	var errorEvents int
	for _, ev := range events {
		if ev.Kind == EventError {
			errorEvents++
		}
	}
	if errorEvents != 1 {
		t.Errorf("expected exactly one terminal error event, got %d", errorEvents)
	}
}

func TestDegradedResponseFallsBackToApology(t *testing.T) {
	mock := llm.NewMockProvider(llm.MockResponse{
		Response: &llm.Response{Content: "   ", FinishReason: llm.FinishStop},
	})
	ctl, err := New("hello", Config{Client: mock})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state, err := ctl.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if state.Status != StatusCompleted {
		t.Errorf("expected status %q, got %q", StatusCompleted, state.Status)
	}
	if state.Final == nil {
		t.Fatal("expected a final decision")
	}
	if state.Final.Content != fallbackAnswer {
		t.Errorf("expected the fallback answer, got %q", state.Final.Content)
	}
	if state.Final.Confidence != fallbackConfidence {
		t.Errorf("expected confidence %v, got %v", fallbackConfidence, state.Final.Confidence)
	}
}

func TestUsageAccounting(t *testing.T) {
	call := echoCall("call-1")
	mock := llm.NewMockProvider(
		llm.MockResponse{Response: &llm.Response{
			ToolCalls:    []llm.ToolCall{call},
			FinishReason: llm.FinishToolCalls,
			Usage:        llm.Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
		}},
		llm.MockResponse{Response: &llm.Response{
			Content:      "done",
			FinishReason: llm.FinishStop,
			Usage:        llm.Usage{PromptTokens: 200, CompletionTokens: 30, TotalTokens: 230},
		}},
	)

	var snapshots []Usage
	ctl, err := New("count my tokens", Config{
		Client: mock,
		Model:  "claude-sonnet-4-5",
		Tools:  testRegistry(t, nil),
		OnStateChange: func(s State) {
			snapshots = append(snapshots, s.Usage)
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state, err := ctl.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	u := state.Usage
	if u.PromptTokens != 300 || u.CompletionTokens != 50 || u.TotalTokens != 350 {
		t.Errorf("unexpected token totals: %+v", u)
	}
	if u.LLMCalls != 2 {
		t.Errorf("expected 2 llm calls, got %d", u.LLMCalls)
	}

	// claude-sonnet-4-5 lists at $3/M input and $15/M output.
	wantCost := 300*3.0/1e6 + 50*15.0/1e6
	if diff := u.EstimatedCost - wantCost; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected cost %v, got %v", wantCost, u.EstimatedCost)
	}

	prev := Usage{}
	for i, s := range snapshots {
		if s.TotalTokens < prev.TotalTokens || s.LLMCalls < prev.LLMCalls || s.EstimatedCost < prev.EstimatedCost {
			t.Errorf("usage regressed at snapshot %d: %+v after %+v", i, s, prev)
		}
		prev = s
	}
}

func TestEventOrdering(t *testing.T) {
	mock := llm.NewMockProvider(
		llm.MockToolCalls(echoCall("call-1")),
		llm.MockText("Finished."),
	)
	ctl, err := New("one tool round", Config{
		Client: mock,
		Tools:  testRegistry(t, nil),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ctl.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := drainEvents(t, ctl.Events())
	want := "step_started decision tools_started tools_completed step_completed " +
		"step_started decision step_completed answer"
	if got := kindSequence(events); got != want {
		t.Errorf("unexpected event sequence:\n got %q\nwant %q", got, want)
	}

	for _, ev := range events {
		if ev.LoopID != ctl.ID() {
			t.Errorf("event %q carries loop id %q, want %q", ev.Kind, ev.LoopID, ctl.ID())
		}
		if ev.Timestamp.IsZero() {
			t.Errorf("event %q has no timestamp", ev.Kind)
		}
	}

	var answers int
	for _, ev := range events {
		if ev.Kind == EventAnswer {
			answers++
			if ev.Data["content"] != "Finished." {
				t.Errorf("unexpected answer content %v", ev.Data["content"])
			}
		}
	}
	if answers != 1 {
		t.Errorf("expected exactly one answer event, got %d", answers)
	}
}

func TestReasoningEventsFollowVisibility(t *testing.T) {
	scripted := llm.MockResponse{Response: &llm.Response{
		Content:      "Checking the clock first.",
		ToolCalls:    []llm.ToolCall{echoCall("call-1")},
		FinishReason: llm.FinishToolCalls,
	}}

	t.Run("visible", func(t *testing.T) {
		mock := llm.NewMockProvider(scripted, llm.MockText("done"))
		ctl, err := New("think out loud", Config{
			Client:        mock,
			Tools:         testRegistry(t, nil),
			ShowReasoning: true,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := ctl.Run(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		events := drainEvents(t, ctl.Events())
		var found bool
		for _, ev := range events {
			if ev.Kind == EventReasoning {
				found = true
				if ev.Data["text"] != "Checking the clock first." {
					t.Errorf("unexpected reasoning text %v", ev.Data["text"])
				}
			}
		}
		if !found {
			t.Error("expected a reasoning event")
		}
	})

	t.Run("hidden", func(t *testing.T) {
		mock := llm.NewMockProvider(scripted, llm.MockText("done"))
		ctl, err := New("think quietly", Config{
			Client: mock,
			Tools:  testRegistry(t, nil),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		state, err := ctl.Run(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		for _, ev := range drainEvents(t, ctl.Events()) {
			if ev.Kind == EventReasoning {
				t.Error("reasoning events must not be emitted when hidden")
			}
		}
		// The step record keeps the reasoning either way.
		if state.Steps[0].Plan.Reasoning != "Checking the clock first." {
			t.Errorf("expected reasoning on the step record, got %q", state.Steps[0].Plan.Reasoning)
		}
	})
}

func TestStepAdvancesOneRound(t *testing.T) {
	mock := llm.NewMockProvider(
		llm.MockToolCalls(echoCall("call-1")),
		llm.MockText("done"),
	)
	ctl, err := New("two rounds", Config{
		Client: mock,
		Tools:  testRegistry(t, nil),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done, err := ctl.Step(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if done {
		t.Error("expected the loop to keep running after a tool round")
	}
	if len(ctl.State().Steps) != 1 {
		t.Errorf("expected 1 step, got %d", len(ctl.State().Steps))
	}

	done, err = ctl.Step(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !done {
		t.Error("expected the loop to be done after the answer")
	}

	if _, err := ctl.Step(context.Background()); !IsInvalidState(err) {
		t.Errorf("expected an invalid-state error, got %v", err)
	}
}

func TestConversationFolding(t *testing.T) {
	mock := llm.NewMockProvider(
		llm.MockToolCalls(echoCall("call-1")),
		llm.MockText("done"),
	)
	ctl, err := New("fold the exchange", Config{
		Client: mock,
		Tools:  testRegistry(t, nil),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ctl.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reqs := mock.Requests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}

	first := reqs[0]
	if len(first.Messages) != 2 {
		t.Fatalf("expected system + user on the first request, got %d messages", len(first.Messages))
	}
	if first.Messages[0].Role != llm.RoleSystem || first.Messages[1].Role != llm.RoleUser {
		t.Error("unexpected roles on the first request")
	}
	if len(first.Tools) != 3 {
		t.Errorf("expected the full tool catalog on the request, got %d tools", len(first.Tools))
	}

	second := reqs[1]
	if len(second.Messages) != 4 {
		t.Fatalf("expected 4 messages on the second request, got %d", len(second.Messages))
	}
	asst := second.Messages[2]
	if asst.Role != llm.RoleAssistant || len(asst.ToolCalls) != 1 || asst.ToolCalls[0].ID != "call-1" {
		t.Errorf("expected the assistant tool-call message, got %+v", asst)
	}
	res := second.Messages[3]
	if res.Role != llm.RoleTool {
		t.Errorf("expected a tool-role result message, got %q", res.Role)
	}
	if res.ToolCallID != "call-1" {
		t.Errorf("expected the result paired with call-1, got %q", res.ToolCallID)
	}
	if res.Content != "tool output" {
		t.Errorf("expected the tool output verbatim, got %q", res.Content)
	}
}

func TestOversizedToolResultTruncatedInContext(t *testing.T) {
	big := strings.Repeat("x", 300)
	reg := tools.NewRegistry()
	reg.MustRegister(tools.Tool{
		Definition: tools.Definition{Name: "dump", Description: "returns a large blob"},
		Run: func(ctx context.Context, args json.RawMessage) (string, error) {
			return big, nil
		},
	})

	mock := llm.NewMockProvider(
		llm.MockToolCalls(llm.ToolCall{ID: "call-1", Name: "dump", Arguments: json.RawMessage(`{}`)}),
		llm.MockText("done"),
	)
	ctl, err := New("dump it", Config{
		Client:             mock,
		Tools:              reg,
		MaxToolResultBytes: 64,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state, err := ctl.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := state.Steps[0].Observations[0].Content; got != big {
		t.Errorf("the observation must keep the full content, got %d bytes", len(got))
	}

	reqs := mock.Requests()
	folded := reqs[1].Messages[len(reqs[1].Messages)-1].Content
	if !strings.Contains(folded, "[WARNING: Tool result was truncated.") {
		t.Errorf("expected a truncation marker in context, got %q", folded)
	}
	if !strings.Contains(folded, "236 characters were removed") {
		t.Errorf("expected the removed count in the marker, got %q", folded)
	}
	if len(folded) >= len(big) {
		t.Errorf("folded content was not shortened: %d bytes", len(folded))
	}
}

func TestOnStepCompleteCallback(t *testing.T) {
	var stepNumbers []int
	mock := llm.NewMockProvider(
		llm.MockToolCalls(echoCall("call-1")),
		llm.MockText("done"),
	)
	ctl, err := New("watch my steps", Config{
		Client: mock,
		Tools:  testRegistry(t, nil),
		OnStepComplete: func(s Step) {
			stepNumbers = append(stepNumbers, s.Number)
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ctl.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(stepNumbers) != 1 || stepNumbers[0] != 1 {
		t.Errorf("expected the tool step to be reported, got %v", stepNumbers)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New("hello", Config{}); err == nil {
		t.Error("expected an error without a client")
	} else {
		var ce *ConfigError
		if !errors.As(err, &ce) {
			t.Errorf("expected ConfigError, got %T", err)
		}
	}

	mock := llm.NewMockProvider()
	if _, err := New("hello", Config{Client: mock, MaxSteps: -1}); err == nil {
		t.Error("expected an error for negative max steps")
	}
}

func TestStateSnapshotsAreIndependent(t *testing.T) {
	mock := llm.NewMockProvider(
		llm.MockToolCalls(echoCall("call-1")),
		llm.MockText("done"),
	)
	ctl, err := New("snapshot me", Config{
		Client: mock,
		Tools:  testRegistry(t, nil),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ctl.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a := ctl.State()
	a.Steps[0].Observations[0].Content = "tampered"
	a.Steps[0].Plan.Decision.ToolCalls[0].Name = "tampered"

	b := ctl.State()
	if b.Steps[0].Observations[0].Content == "tampered" {
		t.Error("mutating a snapshot leaked into the controller state")
	}
	if b.Steps[0].Plan.Decision.ToolCalls[0].Name == "tampered" {
		t.Error("mutating snapshot tool calls leaked into the controller state")
	}
}
