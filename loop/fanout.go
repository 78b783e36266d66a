package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/martinemde/orbit/llm"
	"github.com/martinemde/orbit/tools"
)

// runToolRound dispatches all calls concurrently and waits for every one
// to settle. Worker failures and panics become error observations rather
// than errors; nothing here cancels a sibling. The returned slice has one
// Observation per call, in request order.
func runToolRound(ctx context.Context, exec tools.Executor, calls []llm.ToolCall, limit int) []Observation {
	obs := make([]Observation, len(calls))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, call := range calls {
		g.Go(func() error {
			obs[i] = runOneCall(ctx, exec, call)
			return nil
		})
	}
	g.Wait()

	return obs
}

func runOneCall(ctx context.Context, exec tools.Executor, call llm.ToolCall) (o Observation) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			o = Observation{
				Type:      ObservationError,
				Content:   fmt.Sprintf("Error: tool %s panicked: %v", call.Name, r),
				Source:    call.Name,
				Timestamp: time.Now(),
				Success:   false,
				Duration:  time.Since(start),
			}
		}
	}()

	res := exec.Execute(ctx, tools.Call{
		ID:        call.ID,
		Name:      call.Name,
		Arguments: call.Arguments,
	})
	elapsed := time.Since(start)

	if res.Err != nil {
		return Observation{
			Type:      ObservationError,
			Content:   fmt.Sprintf("Error: %v", res.Err),
			Source:    call.Name,
			Timestamp: time.Now(),
			Success:   false,
			Duration:  elapsed,
		}
	}

	obs := Observation{
		Type:      ObservationToolResult,
		Content:   res.Content,
		Source:    call.Name,
		Timestamp: time.Now(),
		Success:   true,
		Duration:  elapsed,
	}
	if res.Content != "" && json.Valid([]byte(res.Content)) {
		obs.Data = json.RawMessage(res.Content)
	}
	return obs
}
