// Package stream routes decoded sensor samples to batch buffers, latest-value
// observers, and the recorder.
//
// Samples for one sensor must arrive in order on a single goroutine; state
// for different sensors is fully independent and may be driven concurrently.
package stream

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/bandlink/internal/band"
	"github.com/srg/bandlink/internal/batch"
)

// Batch is one completed group of readings for a single sensor.
type Batch struct {
	Sensor   band.SensorType
	Readings []band.Reading
}

// BatchHandler consumes completed batches.
type BatchHandler func(Batch)

// LatestHandler observes every accepted sample, independent of batching.
type LatestHandler func(band.Reading)

// ErrorHandler receives recoverable decode errors for logging or telemetry.
type ErrorHandler func(error)

// SampleWriter receives individual samples while recording is active.
type SampleWriter interface {
	WriteSample(band.Reading) error
}

// ErrNotBatchable is returned when batching is requested for a sensor that
// only supports per-sample delivery (battery).
var ErrNotBatchable = errors.New("sensor readings are not batched")

const defaultDispatchBuffer = 64

// slot holds one sensor's (config, buffer, window) triple. The mutex makes
// reconfiguration atomic with respect to in-flight sample delivery.
type slot struct {
	mu     sync.Mutex
	engine *batch.Engine[band.Reading]
}

// Router owns the live mapping from sensor type to active batch
// configuration and fans out decoded samples.
type Router struct {
	logger *logrus.Logger
	reg    *band.Registry

	slots  map[band.SensorType]*slot
	latest *hashmap.Map[uint8, band.Reading]

	mu        sync.RWMutex
	batchFn   BatchHandler
	latestFn  LatestHandler
	errFn     ErrorHandler
	recorder  SampleWriter
	syncMode  bool
	dispBufSz uint32

	dispatcher *Dispatcher

	samplesRouted  int64
	packetsDropped int64
}

// Option customizes Router construction.
type Option func(*Router)

// WithDispatchBuffer sets the bounded batch delivery queue size.
func WithDispatchBuffer(n uint32) Option {
	return func(r *Router) { r.dispBufSz = n }
}

// WithSyncDispatch delivers batches synchronously on the ingestion goroutine
// instead of through the bounded queue. Intended for tests and offline
// replay, where deterministic delivery matters more than ingestion latency.
func WithSyncDispatch() Option {
	return func(r *Router) { r.syncMode = true }
}

// NewRouter creates a router for the given hardware's sensors.
func NewRouter(hw band.Hardware, logger *logrus.Logger, opts ...Option) (*Router, error) {
	if logger == nil {
		logger = logrus.New()
	}

	r := &Router{
		logger:    logger,
		reg:       band.NewRegistry(hw),
		slots:     make(map[band.SensorType]*slot),
		latest:    hashmap.New[uint8, band.Reading](),
		dispBufSz: defaultDispatchBuffer,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.reg.Each(func(d band.Descriptor) {
		if d.Type != band.SensorBattery {
			r.slots[d.Type] = &slot{}
		}
	})

	if !r.syncMode {
		disp, err := NewDispatcher(r.dispBufSz, r.deliver)
		if err != nil {
			return nil, fmt.Errorf("failed to create batch dispatcher: %w", err)
		}
		if err := disp.Start(); err != nil {
			return nil, fmt.Errorf("failed to start batch dispatcher: %w", err)
		}
		r.dispatcher = disp
	}

	return r, nil
}

// Close stops batch delivery. Buffered but undelivered batches are flushed
// to the handler before Close returns.
func (r *Router) Close() error {
	r.DisableAll()
	if r.dispatcher != nil {
		return r.dispatcher.Stop()
	}
	return nil
}

// SetBatchHandler registers the completed-batch consumer.
func (r *Router) SetBatchHandler(fn BatchHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batchFn = fn
}

// SetLatestHandler registers the per-sample observer.
func (r *Router) SetLatestHandler(fn LatestHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latestFn = fn
}

// SetErrorHandler registers the decode-error observer.
func (r *Router) SetErrorHandler(fn ErrorHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errFn = fn
}

// SetRecorder attaches (or, with nil, detaches) the active recording sink.
func (r *Router) SetRecorder(w SampleWriter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorder = w
}

// Configure activates a batching policy for a sensor, replacing any prior
// configuration and discarding its buffered samples. Out-of-range targets
// are clamped, never rejected. The effective policy is returned.
func (r *Router) Configure(t band.SensorType, policy batch.Policy) (batch.Policy, error) {
	if t == band.SensorBattery {
		return batch.Policy{}, fmt.Errorf("%s: %w", t, ErrNotBatchable)
	}
	s, ok := r.slots[t]
	if !ok {
		return batch.Policy{}, fmt.Errorf("unknown sensor %s", t)
	}
	desc, _ := r.reg.Lookup(t)

	effective, capacity := clampPolicy(policy, desc)

	s.mu.Lock()
	s.engine = batch.NewEngine[band.Reading](effective, band.Reading.Time, capacity)
	s.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"sensor": t.String(),
		"policy": effective.String(),
	}).Info("Sensor collection configured")
	return effective, nil
}

// clampPolicy bounds a requested policy by the sensor's limits and derives
// the buffer capacity hint. Duration targets convert to an equivalent sample
// count at the sensor's fixed rate, floor-rounded, minimum one.
func clampPolicy(p batch.Policy, desc band.Descriptor) (batch.Policy, int) {
	switch p.Mode {
	case batch.ModeWindow:
		w := p.Window
		if w < band.MinBatchWindow {
			w = band.MinBatchWindow
		}
		if w > band.MaxBatchWindow {
			w = band.MaxBatchWindow
		}
		capacity := int(w.Seconds() * float64(desc.SampleRate))
		if capacity < 1 {
			capacity = 1
		}
		return batch.Window(w), capacity
	default:
		n := p.Count
		if n < 1 {
			n = 1
		}
		if max := desc.MaxBatch(); n > max {
			n = max
		}
		return batch.Count(n), n
	}
}

// Disable removes a sensor's configuration and discards its buffered data.
func (r *Router) Disable(t band.SensorType) {
	s, ok := r.slots[t]
	if !ok {
		return
	}
	s.mu.Lock()
	had := s.engine != nil
	s.engine = nil
	s.mu.Unlock()

	if had {
		r.logger.WithField("sensor", t.String()).Info("Sensor collection disabled")
	}
}

// DisableAll disables every sensor.
func (r *Router) DisableAll() {
	for t := range r.slots {
		r.Disable(t)
	}
}

// IsConfigured reports whether a sensor currently has an active policy.
func (r *Router) IsConfigured(t band.SensorType) bool {
	s, ok := r.slots[t]
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine != nil
}

// ActivePolicy returns the effective policy for a sensor, if configured.
func (r *Router) ActivePolicy(t band.SensorType) (batch.Policy, bool) {
	s, ok := r.slots[t]
	if !ok {
		return batch.Policy{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		return batch.Policy{}, false
	}
	return s.engine.Policy(), true
}

// OnSample accepts one decoded reading. It always refreshes the latest-value
// slot; if the sensor is configured it feeds the batch buffer, and while
// recording is active it forwards the sample to the recorder. Battery
// readings bypass batching entirely.
func (r *Router) OnSample(rd band.Reading) {
	atomic.AddInt64(&r.samplesRouted, 1)
	t := rd.Sensor()
	r.latest.Set(uint8(t), rd)

	r.mu.RLock()
	latestFn := r.latestFn
	recorder := r.recorder
	r.mu.RUnlock()

	if latestFn != nil {
		latestFn(rd)
	}

	if recorder != nil && (t == band.SensorBattery || r.IsConfigured(t)) {
		if err := recorder.WriteSample(rd); err != nil {
			r.logger.WithFields(logrus.Fields{
				"sensor": t.String(),
				"error":  err,
			}).Warn("Failed to record sample")
		}
	}

	if t == band.SensorBattery {
		return
	}

	s, ok := r.slots[t]
	if !ok {
		return
	}

	s.mu.Lock()
	if s.engine == nil {
		s.mu.Unlock()
		return
	}
	readings, complete := s.engine.Add(rd)
	if !complete {
		// Overflow guard: a window-mode buffer outrunning the nominal rate is
		// drained as an oversized batch rather than growing without bound.
		desc, _ := r.reg.Lookup(t)
		if s.engine.Len() >= desc.MaxBatch() {
			readings = s.engine.Drain()
			complete = true
			r.logger.WithFields(logrus.Fields{
				"sensor": t.String(),
				"count":  len(readings),
			}).Warn("Batch buffer reached sensor maximum, emitting early")
		}
	}
	s.mu.Unlock()

	if complete {
		r.emit(Batch{Sensor: t, Readings: readings})
	}
}

// ReportError surfaces a recoverable decode failure. The offending packet is
// already dropped; the stream continues.
func (r *Router) ReportError(err error) {
	atomic.AddInt64(&r.packetsDropped, 1)
	r.logger.WithField("error", err).Warn("Dropped malformed sensor packet")

	r.mu.RLock()
	fn := r.errFn
	r.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// Latest returns the most recent reading for a sensor, if any was received.
func (r *Router) Latest(t band.SensorType) (band.Reading, bool) {
	return r.latest.Get(uint8(t))
}

// Metrics reports routing and delivery counters.
func (r *Router) Metrics() RouterMetrics {
	m := RouterMetrics{
		SamplesRouted:  atomic.LoadInt64(&r.samplesRouted),
		PacketsDropped: atomic.LoadInt64(&r.packetsDropped),
	}
	if r.dispatcher != nil {
		m.Dispatch = r.dispatcher.Metrics()
	}
	return m
}

// RouterMetrics is a snapshot of the router's counters.
type RouterMetrics struct {
	SamplesRouted  int64           `json:"samplesRouted"`
	PacketsDropped int64           `json:"packetsDropped"`
	Dispatch       DispatchMetrics `json:"dispatch"`
}

func (r *Router) emit(b Batch) {
	if r.syncMode {
		r.deliver(b)
		return
	}
	r.dispatcher.Offer(b)
}

func (r *Router) deliver(b Batch) {
	r.mu.RLock()
	fn := r.batchFn
	r.mu.RUnlock()
	if fn != nil {
		fn(b)
	}
}
