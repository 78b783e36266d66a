// Package loop implements a bounded agentic execution loop: a controller
// that repeatedly asks a decision service (an LLM) what to do next,
// executes the tool calls it requests, feeds the results back, and stops
// when the service produces a final answer or the step budget runs out.
//
// # Architecture
//
// Each round is one Plan, Act, Observe, Synthesize cycle:
//
//   - Plan: send the conversation to the decision client and classify the
//     response as a tool_call or answer Decision
//   - Act: dispatch all requested tool calls concurrently and wait for
//     every one of them to settle
//   - Observe: record one Observation per call, in request order, with
//     failures captured as error observations rather than aborting
//   - Synthesize: summarize the round and fold the exchange back into the
//     conversation for the next Plan phase
//
// The state machine lives in State and its Status; the Controller is the
// thin driver that performs I/O between transitions. All status decisions
// happen under the controller's lock, while LLM calls and tool execution
// run outside it so Cancel and State stay responsive.
//
// # Quick Start
//
//	reg := tools.NewRegistry()
//	tools.RegisterBuiltins(reg, tools.BuiltinOptions{})
//
//	ctl, err := loop.New("What time is it in Tokyo?", loop.Config{
//	    Client:   client,
//	    Model:    "claude-sonnet-4-5",
//	    Tools:    reg,
//	    MaxSteps: 8,
//	})
//	if err != nil {
//	    return err
//	}
//
//	go func() {
//	    for ev := range ctl.Events() {
//	        fmt.Printf("[%s] step %d\n", ev.Kind, ev.Step)
//	    }
//	}()
//
//	state, err := ctl.Run(ctx)
//	if err != nil {
//	    return err
//	}
//	if state.Final != nil {
//	    fmt.Println(state.Final.Content)
//	}
//
// # Confirmation
//
// With Config.Confirm set, the controller pauses before executing any tool
// calls: the intended calls are recorded on the step, status flips to
// awaiting_confirmation, and Run returns. The caller inspects the pending
// calls and either approves or rejects:
//
//	state, _ := ctl.Run(ctx)
//	if state.Status == loop.StatusAwaitingConfirmation {
//	    if err := ctl.Resume(ctx, true, ""); err != nil {
//	        return err
//	    }
//	    state, _ = ctl.Run(ctx)
//	}
//
// Rejection records the feedback as a human_feedback observation and the
// next Plan phase sees the refusal; nothing is executed.
//
// # Events
//
// Events() yields an ordered, lossless progress stream. Per step the order
// is step_started, reasoning (when enabled), decision, then tools_started
// and tools_completed if tools ran, then step_completed. A completed or
// failed loop emits exactly one terminal answer or error event; a
// cancelled loop just closes the channel. The full step history can be
// reconstructed from the stream plus the final State snapshot.
//
// # Cancellation
//
// Cancel is idempotent and safe from any goroutine. It aborts in-flight
// work through the controller's context, prevents any new Plan phase, and
// lands the loop on the cancelled status with CompletedAt stamped.
// Cancelling is not an error.
package loop
