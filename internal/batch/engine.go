// Package batch re-chunks a continuous sample stream into caller-defined
// batches, either by sample count or by sample-clock duration.
package batch

import (
	"fmt"
	"time"
)

// Mode selects the batching policy.
type Mode int

const (
	// ModeCount emits a batch after a fixed number of samples.
	ModeCount Mode = iota
	// ModeWindow emits a batch once the sample-clock span of the buffer
	// reaches a fixed duration.
	ModeWindow
)

func (m Mode) String() string {
	switch m {
	case ModeCount:
		return "count"
	case ModeWindow:
		return "window"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Policy is one batching configuration. Exactly one of Count/Window is
// meaningful, selected by Mode.
type Policy struct {
	Mode   Mode
	Count  int
	Window time.Duration
}

// Count returns a fixed-sample-count policy.
func Count(n int) Policy {
	return Policy{Mode: ModeCount, Count: n}
}

// Window returns a fixed-duration policy.
func Window(d time.Duration) Policy {
	return Policy{Mode: ModeWindow, Window: d}
}

func (p Policy) String() string {
	if p.Mode == ModeWindow {
		return fmt.Sprintf("window(%s)", p.Window)
	}
	return fmt.Sprintf("count(%d)", p.Count)
}

// Engine buffers samples for one sensor stream and decides when a batch is
// complete. It is generic over the sample type; the timestamp accessor is
// injected so the engine never inspects samples itself.
//
// Engine is not safe for concurrent use. Samples must be added in arrival
// order by a single goroutine; the owner serializes Add against Reset.
type Engine[T any] struct {
	policy Policy
	at     func(T) time.Time

	buf         []T
	windowStart time.Time
	windowOpen  bool
}

// NewEngine creates an engine with the given policy and timestamp accessor.
// capacityHint pre-sizes the buffer (0 for no hint).
func NewEngine[T any](policy Policy, at func(T) time.Time, capacityHint int) *Engine[T] {
	if capacityHint < 0 {
		capacityHint = 0
	}
	return &Engine[T]{
		policy: policy,
		at:     at,
		buf:    make([]T, 0, capacityHint),
	}
}

// Policy returns the engine's active policy.
func (e *Engine[T]) Policy() Policy {
	return e.policy
}

// Len returns the number of buffered, not yet emitted samples.
func (e *Engine[T]) Len() int {
	return len(e.buf)
}

// Add accepts one sample and returns a completed batch, if any. The returned
// slice is owned by the caller; the engine never touches it again.
func (e *Engine[T]) Add(sample T) ([]T, bool) {
	switch e.policy.Mode {
	case ModeWindow:
		return e.addWindowed(sample)
	default:
		return e.addCounted(sample)
	}
}

// addCounted appends and drains the first Count samples once the buffer holds
// at least that many. Overshoot beyond the target stays buffered for the next
// batch; nothing is dropped.
func (e *Engine[T]) addCounted(sample T) ([]T, bool) {
	e.buf = append(e.buf, sample)
	if len(e.buf) < e.policy.Count {
		return nil, false
	}

	emitted := make([]T, e.policy.Count)
	copy(emitted, e.buf[:e.policy.Count])

	remainder := len(e.buf) - e.policy.Count
	copy(e.buf, e.buf[e.policy.Count:])
	// Release references in the tail so drained samples can be collected.
	var zero T
	for i := remainder; i < len(e.buf); i++ {
		e.buf[i] = zero
	}
	e.buf = e.buf[:remainder]

	return emitted, true
}

// addWindowed appends and emits the whole buffer once the span from the
// window start to this sample's timestamp reaches the target. The triggering
// sample is part of the emitted batch and its timestamp starts the next
// window.
func (e *Engine[T]) addWindowed(sample T) ([]T, bool) {
	ts := e.at(sample)
	if !e.windowOpen {
		e.windowStart = ts
		e.windowOpen = true
	}
	e.buf = append(e.buf, sample)

	if ts.Sub(e.windowStart) < e.policy.Window {
		return nil, false
	}

	emitted := e.buf
	e.buf = make([]T, 0, cap(emitted))
	e.windowStart = ts
	return emitted, true
}

// Drain empties the buffer and returns its contents in order, closing the
// current window. Used by owners that must bound the buffer externally.
func (e *Engine[T]) Drain() []T {
	emitted := e.buf
	e.buf = make([]T, 0, cap(emitted))
	e.windowOpen = false
	e.windowStart = time.Time{}
	return emitted
}

// Reset discards all buffered samples and the window state. Partial data is
// dropped by design, never emitted.
func (e *Engine[T]) Reset() {
	var zero T
	for i := range e.buf {
		e.buf[i] = zero
	}
	e.buf = e.buf[:0]
	e.windowOpen = false
	e.windowStart = time.Time{}
}
