package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	seq int
	ts  time.Time
}

func sampleTime(s sample) time.Time { return s.ts }

// samplesAt builds n samples spaced by step starting at base.
func samplesAt(base time.Time, step time.Duration, n int) []sample {
	out := make([]sample, n)
	for i := range out {
		out[i] = sample{seq: i, ts: base.Add(time.Duration(i) * step)}
	}
	return out
}

func TestCountModeEmitsAtTarget(t *testing.T) {
	e := NewEngine[sample](Count(3), sampleTime, 0)
	base := time.Unix(1000, 0)

	var batches [][]sample
	for _, s := range samplesAt(base, 4*time.Millisecond, 5) {
		if b, ok := e.Add(s); ok {
			batches = append(batches, b)
		}
	}

	require.Len(t, batches, 1, "exactly one batch after 5 samples with target 3")
	require.Len(t, batches[0], 3)
	assert.Equal(t, []int{0, 1, 2}, seqs(batches[0]))
	assert.Equal(t, 2, e.Len(), "two samples stay buffered")

	// One more sample does not complete the next batch yet.
	_, ok := e.Add(sample{seq: 5, ts: base.Add(20 * time.Millisecond)})
	assert.False(t, ok)
	assert.Equal(t, 3, e.Len())
}

func TestCountModeSecondBatchPreservesOrder(t *testing.T) {
	e := NewEngine[sample](Count(2), sampleTime, 0)
	base := time.Unix(1000, 0)

	var got []int
	for _, s := range samplesAt(base, time.Millisecond, 6) {
		if b, ok := e.Add(s); ok {
			got = append(got, seqs(b)...)
		}
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, got, "no sample lost or duplicated across batches")
	assert.Zero(t, e.Len())
}

func TestCountModeToleratesOvershoot(t *testing.T) {
	e := NewEngine[sample](Count(3), sampleTime, 0)
	base := time.Unix(1000, 0)

	// Simulate a buffer that already overshot the target by several samples
	// (possible after reconfiguration races upstream): drain only the first
	// target-count, retain the rest in order.
	for _, s := range samplesAt(base, time.Millisecond, 2) {
		_, ok := e.Add(s)
		require.False(t, ok)
	}
	b, ok := e.Add(sample{seq: 2, ts: base.Add(2 * time.Millisecond)})
	require.True(t, ok)
	assert.Equal(t, []int{0, 1, 2}, seqs(b))
}

func TestWindowModeEmitsOnElapsed(t *testing.T) {
	// 1.0s window at 50 Hz: the sample at t0+1.0s (index 50) triggers, so the
	// batch holds 51 samples and the next window starts at its timestamp.
	e := NewEngine[sample](Window(time.Second), sampleTime, 0)
	base := time.Unix(1000, 0)

	var batches [][]sample
	for _, s := range samplesAt(base, 20*time.Millisecond, 52) {
		if b, ok := e.Add(s); ok {
			batches = append(batches, b)
		}
	}

	require.Len(t, batches, 1)
	require.Len(t, batches[0], 51)
	last := batches[0][len(batches[0])-1]
	assert.Equal(t, base.Add(time.Second), last.ts, "triggering sample is included in the batch")
	assert.Equal(t, 1, e.Len(), "sample after the trigger starts the next window")
}

func TestWindowModeWindowResetsAtTrigger(t *testing.T) {
	e := NewEngine[sample](Window(100*time.Millisecond), sampleTime, 0)
	base := time.Unix(1000, 0)

	_, ok := e.Add(sample{seq: 0, ts: base})
	require.False(t, ok)

	b, ok := e.Add(sample{seq: 1, ts: base.Add(100 * time.Millisecond)})
	require.True(t, ok)
	assert.Equal(t, []int{0, 1}, seqs(b))

	// Next window is measured from the trigger's timestamp, not from base.
	_, ok = e.Add(sample{seq: 2, ts: base.Add(150 * time.Millisecond)})
	assert.False(t, ok)
	b, ok = e.Add(sample{seq: 3, ts: base.Add(200 * time.Millisecond)})
	require.True(t, ok)
	assert.Equal(t, []int{2, 3}, seqs(b))
}

func TestWindowModeNoSamplesNoBatch(t *testing.T) {
	e := NewEngine[sample](Window(40*time.Millisecond), sampleTime, 0)
	assert.Zero(t, e.Len(), "window emission is sample-driven, nothing fires on its own")
}

func TestResetDiscardsBufferedSamples(t *testing.T) {
	e := NewEngine[sample](Count(5), sampleTime, 0)
	base := time.Unix(1000, 0)

	for _, s := range samplesAt(base, time.Millisecond, 2) {
		e.Add(s)
	}
	require.Equal(t, 2, e.Len())

	e.Reset()
	assert.Zero(t, e.Len())

	// The two pre-reset samples must never surface in a later batch.
	var got []int
	for _, s := range samplesAt(base.Add(time.Second), time.Millisecond, 5) {
		s.seq += 100
		if b, ok := e.Add(s); ok {
			got = append(got, seqs(b)...)
		}
	}
	assert.Equal(t, []int{100, 101, 102, 103, 104}, got)
}

func TestResetReopensWindow(t *testing.T) {
	e := NewEngine[sample](Window(time.Second), sampleTime, 0)
	base := time.Unix(1000, 0)

	e.Add(sample{seq: 0, ts: base})
	e.Reset()

	// After reset the window starts fresh at the next sample's timestamp.
	_, ok := e.Add(sample{seq: 1, ts: base.Add(10 * time.Second)})
	assert.False(t, ok, "first post-reset sample opens a new window instead of triggering")

	b, ok := e.Add(sample{seq: 2, ts: base.Add(11 * time.Second)})
	require.True(t, ok)
	assert.Equal(t, []int{1, 2}, seqs(b))
}

func TestPolicyString(t *testing.T) {
	assert.Equal(t, "count(25)", Count(25).String())
	assert.Equal(t, "window(1s)", Window(time.Second).String())
}

func seqs(samples []sample) []int {
	out := make([]int, len(samples))
	for i, s := range samples {
		out[i] = s.seq
	}
	return out
}
