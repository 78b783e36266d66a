package loop

import (
	"sync"
	"time"
)

// EventKind identifies the type of a loop progress event.
type EventKind string

const (
	EventStepStarted    EventKind = "step_started"
	EventReasoning      EventKind = "reasoning"
	EventDecision       EventKind = "decision"
	EventToolsStarted   EventKind = "tools_started"
	EventToolsCompleted EventKind = "tools_completed"
	EventStepCompleted  EventKind = "step_completed"
	EventStall          EventKind = "stall_detected"
	EventAnswer         EventKind = "answer"
	EventError          EventKind = "error"
)

// Event is one entry in the ordered progress stream. Events are strictly
// ordered per step: step_started, reasoning, decision, then tools_started
// and tools_completed when tools ran, then step_completed, followed by
// stall_detected when the recent rounds keep repeating the same calls. A
// completed or failed loop ends with exactly one answer or error event; a
// cancelled loop ends with the channel closing.
type Event struct {
	Kind      EventKind      `json:"kind"`
	LoopID    string         `json:"loop_id"`
	Step      int            `json:"step,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// emitter delivers events to the subscriber channel without ever dropping
// one or blocking the loop. Emit appends to an unbounded queue; a pump
// goroutine moves queued events into the channel in order. A slow consumer
// stalls only the pump. Close drains the queue before closing the channel.
type emitter struct {
	loopID string
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
	ch     chan Event
}

func newEmitter(loopID string, buffer int) *emitter {
	if buffer <= 0 {
		buffer = 256
	}
	e := &emitter{
		loopID: loopID,
		ch:     make(chan Event, buffer),
	}
	e.cond = sync.NewCond(&e.mu)
	go e.pump()
	return e
}

// emit queues an event. Events emitted after close are silently dropped.
func (e *emitter) emit(kind EventKind, step int, data map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.queue = append(e.queue, Event{
		Kind:      kind,
		LoopID:    e.loopID,
		Step:      step,
		Timestamp: time.Now(),
		Data:      data,
	})
	e.cond.Signal()
}

func (e *emitter) pump() {
	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.cond.Wait()
		}
		if len(e.queue) == 0 {
			e.mu.Unlock()
			close(e.ch)
			return
		}
		ev := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()

		e.ch <- ev
	}
}

// events returns the read-only subscriber channel. It is closed after the
// last queued event is delivered.
func (e *emitter) events() <-chan Event {
	return e.ch
}

// close stops the emitter after the queue drains. Safe to call more than
// once.
func (e *emitter) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.cond.Signal()
}
