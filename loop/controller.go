package loop

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/martinemde/orbit/llm"
)

// Controller owns one loop execution: its state, its conversation, and its
// event stream. One goroutine drives Run, Step, and Resume; Cancel and
// State are safe to call from any goroutine at any time.
type Controller struct {
	cfg      Config
	toolDefs []llm.Tool
	emitter  *emitter

	mu        sync.Mutex
	state     State
	messages  []llm.Message
	runCancel context.CancelFunc
}

// New constructs a controller for one prompt. Configuration problems are
// fatal here, before any step runs.
func New(prompt string, cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	defs := cfg.Tools.Definitions()
	toolDefs := make([]llm.Tool, len(defs))
	for i, d := range defs {
		toolDefs[i] = llm.Tool{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		}
	}

	id := uuid.New().String()
	c := &Controller{
		cfg:      cfg,
		toolDefs: toolDefs,
		emitter:  newEmitter(id, cfg.EventBuffer),
		state: State{
			ID:        id,
			Prompt:    prompt,
			Status:    StatusRunning,
			MaxSteps:  cfg.MaxSteps,
			StartedAt: time.Now(),
		},
		messages: []llm.Message{
			llm.SystemMessage(buildSystemPrompt(cfg.Persona, defs)),
			llm.UserMessage(prompt),
		},
	}
	return c, nil
}

// ID returns the loop identifier.
func (c *Controller) ID() string {
	return c.state.ID
}

// State returns a deep-copy snapshot, safe under concurrent mutation.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Events returns the ordered progress stream. The channel closes after the
// loop reaches a terminal status and all queued events are delivered;
// consumers should drain it.
func (c *Controller) Events() <-chan Event {
	return c.emitter.events()
}

// Run drives the loop until it completes, fails, is cancelled, or pauses
// for confirmation, and returns the resulting state. Loop-level failures
// (Decision Service errors, step exhaustion) surface in the returned state
// and the event stream, not as a Go error; the error return is reserved
// for calling Run in a state that forbids it.
func (c *Controller) Run(ctx context.Context) (*State, error) {
	if err := c.requireRunning("run"); err != nil {
		return nil, err
	}
	for c.status() == StatusRunning {
		c.advance(ctx)
	}
	s := c.State()
	return &s, nil
}

// Step performs exactly one Plan phase and, unless the round pauses for
// confirmation, the paired Act, Observe, and Synthesize phases. done
// reports that the loop cannot advance again without Resume or is
// terminal.
func (c *Controller) Step(ctx context.Context) (done bool, err error) {
	if err := c.requireRunning("step"); err != nil {
		return true, err
	}
	c.advance(ctx)
	return c.status() != StatusRunning, nil
}

// Cancel stops the loop. It is idempotent, callable from any goroutine at
// any time, and not an error: the loop lands on the cancelled status with
// no terminal error event. In-flight work is signalled to abort and no new
// Plan phase starts afterward.
func (c *Controller) Cancel() {
	c.mu.Lock()
	if c.state.Status.Terminal() {
		c.mu.Unlock()
		return
	}
	c.transitionLocked(StatusCancelled)
	cancel := c.runCancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.emitter.close()
	c.notifyState()
}

// Resume releases a loop paused at the confirmation gate. Approved, it
// executes the tool calls recorded on the paused step, folds their
// observations, and leaves the loop running for the caller to drive again.
// Rejected, it records the feedback as a human_feedback observation and
// continues without executing anything. Any other status fails with an
// InvalidStateError.
func (c *Controller) Resume(ctx context.Context, approved bool, feedback string) error {
	c.mu.Lock()
	if c.state.Status != StatusAwaitingConfirmation {
		status := c.state.Status
		c.mu.Unlock()
		return &InvalidStateError{Op: "resume", Status: status}
	}
	idx := len(c.state.Steps) - 1
	stepNumber := c.state.Steps[idx].Number
	calls := cloneToolCalls(c.state.Steps[idx].Actions.Calls)
	c.state.Status = StatusRunning
	c.mu.Unlock()
	c.notifyState()

	if !approved {
		c.recordRejection(idx, stepNumber, feedback)
		return nil
	}

	runCtx, cancel := c.armCancel(ctx)
	defer cancel()

	obs, ok := c.performCalls(runCtx, stepNumber, calls)
	if !ok {
		return nil
	}

	c.mu.Lock()
	step := &c.state.Steps[idx]
	step.Observations = obs
	step.Synthesis = synthesizeRound(obs)
	step.Duration = time.Since(step.StartedAt)
	c.foldObservationsLocked(calls, obs)
	stalled := c.noteStallLocked()
	stepCopy := step.clone()
	c.mu.Unlock()

	c.emitStepCompleted(stepCopy)
	if stalled {
		c.emitStall(stepNumber)
	}
	c.notifyStep(stepCopy)
	c.notifyState()
	return nil
}

// recordRejection completes a paused step without executing its calls: the
// operator's feedback becomes a human_feedback observation and a user-role
// conversation entry so the next Plan phase can adapt.
func (c *Controller) recordRejection(idx, stepNumber int, feedback string) {
	obs := Observation{
		Type:      ObservationHumanFeedback,
		Content:   firstNonEmpty(feedback, declinedFeedback),
		Source:    "human",
		Timestamp: time.Now(),
		Success:   true,
	}

	c.mu.Lock()
	step := &c.state.Steps[idx]
	step.Observations = append(step.Observations, obs)
	step.Synthesis = synthesizeRound(step.Observations)
	step.Duration = time.Since(step.StartedAt)
	c.messages = append(c.messages, declineMessage(feedback))
	stepCopy := step.clone()
	c.mu.Unlock()

	c.cfg.Logger.Debug("confirmation rejected", "loop", c.ID(), "step", stepNumber)
	c.emitStepCompleted(stepCopy)
	c.notifyStep(stepCopy)
	c.notifyState()
}

// advance performs one round. All status decisions happen under the lock;
// the Decision Service call and the tool round run outside it so Cancel
// and State stay responsive.
func (c *Controller) advance(ctx context.Context) {
	c.mu.Lock()
	if c.state.Status != StatusRunning {
		c.mu.Unlock()
		return
	}

	// Step-limit check before the Plan phase: MaxSteps Plan phases may
	// run, never one more.
	if c.state.CurrentStep >= c.state.MaxSteps {
		err := &MaxStepsError{Limit: c.state.MaxSteps}
		c.failLocked(err)
		stepNumber := c.state.CurrentStep
		c.mu.Unlock()

		c.emitter.emit(EventError, stepNumber, map[string]any{"error": err.Error()})
		c.emitter.close()
		c.notifyState()
		return
	}

	if ctx.Err() != nil {
		c.transitionLocked(StatusCancelled)
		c.mu.Unlock()
		c.emitter.close()
		c.notifyState()
		return
	}

	c.state.CurrentStep++
	stepNumber := c.state.CurrentStep
	step := Step{Number: stepNumber, StartedAt: time.Now()}
	req := llm.Request{
		Model:    c.cfg.Model,
		Provider: c.cfg.Provider,
		Messages: append([]llm.Message(nil), c.messages...),
		Tools:    c.toolDefs,
	}
	c.mu.Unlock()

	runCtx, cancel := c.armCancel(ctx)
	defer cancel()

	c.emitter.emit(EventStepStarted, stepNumber, map[string]any{
		"max_steps": c.cfg.MaxSteps,
	})

	resp, err := c.cfg.Client.Complete(runCtx, req)

	c.mu.Lock()
	if c.state.Status == StatusCancelled {
		// Cancelled while the call was in flight. The response, if any,
		// still cost tokens; account for it, then stop.
		if err == nil && resp != nil {
			c.accumulateUsageLocked(resp.Usage)
		}
		c.mu.Unlock()
		return
	}
	if err != nil {
		if runCtx.Err() != nil {
			c.transitionLocked(StatusCancelled)
			c.mu.Unlock()
			c.emitter.close()
			c.notifyState()
			return
		}
		lerr := &LoopError{
			Message: fmt.Sprintf("decision service failed at step %d", stepNumber),
			Cause:   err,
		}
		c.failLocked(lerr)
		c.mu.Unlock()

		c.cfg.Logger.Warn("decision service failure", "loop", c.ID(), "step", stepNumber, "error", err)
		c.emitter.emit(EventError, stepNumber, map[string]any{"error": lerr.Error()})
		c.emitter.close()
		c.notifyState()
		return
	}

	c.accumulateUsageLocked(resp.Usage)
	decision := classifyDecision(resp, c.cfg.Confirm)
	step.Plan = Plan{
		Decision:         decision,
		Reasoning:        decision.Reasoning,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}
	c.messages = append(c.messages, assistantMessageFor(decision))
	c.mu.Unlock()

	if c.cfg.ShowReasoning && decision.Reasoning != "" {
		c.emitter.emit(EventReasoning, stepNumber, map[string]any{"text": decision.Reasoning})
	}
	c.emitter.emit(EventDecision, stepNumber, map[string]any{
		"type":                  string(decision.Type),
		"confidence":            decision.Confidence,
		"tool_calls":            len(decision.ToolCalls),
		"requires_confirmation": decision.RequiresConfirmation,
	})

	switch {
	case decision.Type == DecisionAnswer:
		c.finishAnswer(step, decision)

	case c.cfg.Confirm:
		c.mu.Lock()
		step.Actions = &Actions{
			Calls:    cloneToolCalls(decision.ToolCalls),
			Parallel: len(decision.ToolCalls) > 1,
		}
		c.state.Steps = append(c.state.Steps, step)
		c.state.Status = StatusAwaitingConfirmation
		c.mu.Unlock()

		c.cfg.Logger.Debug("awaiting confirmation", "loop", c.ID(), "step", stepNumber, "calls", len(decision.ToolCalls))
		c.notifyState()

	default:
		obs, ok := c.performCalls(runCtx, stepNumber, decision.ToolCalls)
		if !ok {
			return
		}

		c.mu.Lock()
		step.Actions = &Actions{
			Calls:    cloneToolCalls(decision.ToolCalls),
			Parallel: len(decision.ToolCalls) > 1,
		}
		step.Observations = obs
		step.Synthesis = synthesizeRound(obs)
		step.Duration = time.Since(step.StartedAt)
		c.state.Steps = append(c.state.Steps, step)
		c.foldObservationsLocked(decision.ToolCalls, obs)
		stalled := c.noteStallLocked()
		stepCopy := step.clone()
		c.mu.Unlock()

		c.emitStepCompleted(stepCopy)
		if stalled {
			c.emitStall(stepNumber)
		}
		c.notifyStep(stepCopy)
		c.notifyState()
	}
}

// finishAnswer lands the loop on completed with the answering step's
// Decision as the final one.
func (c *Controller) finishAnswer(step Step, decision Decision) {
	c.mu.Lock()
	step.Duration = time.Since(step.StartedAt)
	c.state.Steps = append(c.state.Steps, step)
	final := decision.clone()
	c.state.Final = &final
	c.transitionLocked(StatusCompleted)
	stepCopy := step.clone()
	c.mu.Unlock()

	c.emitter.emit(EventStepCompleted, step.Number, map[string]any{
		"duration_ms": stepCopy.Duration.Milliseconds(),
		"continue":    false,
	})
	c.emitter.emit(EventAnswer, step.Number, map[string]any{
		"content":    decision.Content,
		"confidence": decision.Confidence,
	})
	c.emitter.close()
	c.notifyStep(stepCopy)
	c.notifyState()
}

// performCalls runs one tool round: tools_started, concurrent fan-out,
// tools_completed. ok is false when the loop was cancelled while the
// round was in flight; the caller abandons the step.
func (c *Controller) performCalls(ctx context.Context, stepNumber int, calls []llm.ToolCall) ([]Observation, bool) {
	names := make([]string, len(calls))
	for i, call := range calls {
		names[i] = call.Name
	}
	c.emitter.emit(EventToolsStarted, stepNumber, map[string]any{
		"count": len(calls),
		"tools": names,
	})

	start := time.Now()
	obs := runToolRound(ctx, c.cfg.Tools, calls, c.cfg.MaxParallelTools)

	c.mu.Lock()
	cancelled := c.state.Status == StatusCancelled
	c.mu.Unlock()
	if cancelled {
		return nil, false
	}

	succeeded := 0
	for _, o := range obs {
		if o.Success {
			succeeded++
		}
	}
	c.emitter.emit(EventToolsCompleted, stepNumber, map[string]any{
		"succeeded":   succeeded,
		"failed":      len(obs) - succeeded,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	c.cfg.Logger.Debug("tool round settled", "loop", c.ID(), "step", stepNumber,
		"calls", len(calls), "failed", len(obs)-succeeded)
	return obs, true
}

func (c *Controller) emitStepCompleted(step Step) {
	c.emitter.emit(EventStepCompleted, step.Number, map[string]any{
		"duration_ms": step.Duration.Milliseconds(),
		"continue":    true,
		"hint":        step.Synthesis.Hint,
	})
}

// foldObservationsLocked appends one tool message per observation, paired
// with its originating call and in request order, truncating oversized
// results. The assistant message carrying the calls was folded when the
// decision was classified, so the next Plan phase sees the exchange
// verbatim.
func (c *Controller) foldObservationsLocked(calls []llm.ToolCall, obs []Observation) {
	for i, o := range obs {
		content := truncateResult(o.Content, c.cfg.MaxToolResultBytes)
		c.messages = append(c.messages, llm.ToolResultMessage(calls[i].ID, o.Source, content))
	}
}

func (c *Controller) accumulateUsageLocked(u llm.Usage) {
	total := u.TotalTokens
	if total == 0 {
		total = u.PromptTokens + u.CompletionTokens
	}
	c.state.Usage.PromptTokens += u.PromptTokens
	c.state.Usage.CompletionTokens += u.CompletionTokens
	c.state.Usage.TotalTokens += total
	c.state.Usage.LLMCalls++

	if _, known := c.cfg.Rates.Lookup(c.cfg.Model); !known {
		c.cfg.Logger.Debug("model missing from rate table, using default rate", "model", c.cfg.Model)
	}
	c.state.Usage.EstimatedCost += c.cfg.Rates.Cost(c.cfg.Model, u.PromptTokens, u.CompletionTokens)
}

// armCancel derives the context for one suspension point and parks its
// cancel func where Cancel can reach it.
func (c *Controller) armCancel(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.runCancel = cancel
	c.mu.Unlock()
	return runCtx, cancel
}

// transitionLocked moves to a terminal status and stamps CompletedAt once.
func (c *Controller) transitionLocked(status Status) {
	c.state.Status = status
	if status.Terminal() && c.state.CompletedAt == nil {
		now := time.Now()
		c.state.CompletedAt = &now
	}
}

func (c *Controller) failLocked(err error) {
	c.state.Error = err.Error()
	c.transitionLocked(StatusFailed)
}

func (c *Controller) requireRunning(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status != StatusRunning {
		return &InvalidStateError{Op: op, Status: c.state.Status}
	}
	return nil
}

func (c *Controller) status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Status
}

func (c *Controller) notifyState() {
	if c.cfg.OnStateChange == nil {
		return
	}
	c.cfg.OnStateChange(c.State())
}

func (c *Controller) notifyStep(step Step) {
	if c.cfg.OnStepComplete == nil {
		return
	}
	c.cfg.OnStepComplete(step)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
