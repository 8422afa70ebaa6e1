package stream

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bandlink/internal/band"
	"github.com/srg/bandlink/internal/batch"
)

func newTestRouter(t *testing.T, opts ...Option) *Router {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	r, err := NewRouter(band.DefaultHardware(), logger, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func eegAt(base time.Time, i int) band.EEGReading {
	return band.EEGReading{
		Timestamp: base.Add(time.Duration(i) * 4 * time.Millisecond),
		Ch1Raw:    int32(i),
	}
}

func ppgAt(base time.Time, i int) band.PPGReading {
	return band.PPGReading{
		Timestamp: base.Add(time.Duration(i) * 20 * time.Millisecond),
		Red:       uint32(i),
	}
}

func TestConfigureClampsCount(t *testing.T) {
	r := newTestRouter(t, WithSyncDispatch())

	tests := []struct {
		name     string
		sensor   band.SensorType
		policy   batch.Policy
		expected batch.Policy
	}{
		{name: "in range", sensor: band.SensorEEG, policy: batch.Count(25), expected: batch.Count(25)},
		{name: "below minimum", sensor: band.SensorEEG, policy: batch.Count(0), expected: batch.Count(1)},
		{name: "negative", sensor: band.SensorEEG, policy: batch.Count(-7), expected: batch.Count(1)},
		{name: "above eeg maximum", sensor: band.SensorEEG, policy: batch.Count(10000), expected: batch.Count(2500)},
		{name: "above ppg maximum", sensor: band.SensorPPG, policy: batch.Count(501), expected: batch.Count(500)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			effective, err := r.Configure(tt.sensor, tt.policy)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, effective)
		})
	}
}

func TestConfigureClampsWindow(t *testing.T) {
	r := newTestRouter(t, WithSyncDispatch())

	tests := []struct {
		name     string
		policy   batch.Policy
		expected batch.Policy
	}{
		{name: "in range", policy: batch.Window(time.Second), expected: batch.Window(time.Second)},
		{name: "below minimum", policy: batch.Window(time.Millisecond), expected: batch.Window(40 * time.Millisecond)},
		{name: "above maximum", policy: batch.Window(time.Minute), expected: batch.Window(10 * time.Second)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			effective, err := r.Configure(band.SensorEEG, tt.policy)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, effective)
		})
	}
}

func TestConfigureBatteryRejected(t *testing.T) {
	r := newTestRouter(t, WithSyncDispatch())

	_, err := r.Configure(band.SensorBattery, batch.Count(10))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotBatchable))
}

func TestCountModeBatchingThroughRouter(t *testing.T) {
	r := newTestRouter(t, WithSyncDispatch())

	var batches []Batch
	r.SetBatchHandler(func(b Batch) { batches = append(batches, b) })

	_, err := r.Configure(band.SensorEEG, batch.Count(3))
	require.NoError(t, err)

	base := time.Unix(1000, 0)
	for i := 0; i < 5; i++ {
		r.OnSample(eegAt(base, i))
	}

	require.Len(t, batches, 1)
	assert.Equal(t, band.SensorEEG, batches[0].Sensor)
	require.Len(t, batches[0].Readings, 3)
	assert.Equal(t, int32(0), batches[0].Readings[0].(band.EEGReading).Ch1Raw)
	assert.Equal(t, int32(2), batches[0].Readings[2].(band.EEGReading).Ch1Raw)

	// A sixth sample brings the buffer to 3 and emits again.
	r.OnSample(eegAt(base, 5))
	require.Len(t, batches, 2)
	assert.Equal(t, int32(3), batches[1].Readings[0].(band.EEGReading).Ch1Raw)
}

func TestWindowModeBatchingThroughRouter(t *testing.T) {
	r := newTestRouter(t, WithSyncDispatch())

	var batches []Batch
	r.SetBatchHandler(func(b Batch) { batches = append(batches, b) })

	_, err := r.Configure(band.SensorPPG, batch.Window(time.Second))
	require.NoError(t, err)

	base := time.Unix(1000, 0)
	for i := 0; i <= 50; i++ {
		r.OnSample(ppgAt(base, i))
	}

	require.Len(t, batches, 1)
	assert.Len(t, batches[0].Readings, 51, "window batch includes the triggering sample")
}

func TestSensorsAreIndependent(t *testing.T) {
	r := newTestRouter(t, WithSyncDispatch())

	var batches []Batch
	r.SetBatchHandler(func(b Batch) { batches = append(batches, b) })

	_, err := r.Configure(band.SensorEEG, batch.Count(2))
	require.NoError(t, err)
	_, err = r.Configure(band.SensorPPG, batch.Count(4))
	require.NoError(t, err)

	base := time.Unix(1000, 0)
	r.OnSample(eegAt(base, 0))
	r.OnSample(ppgAt(base, 0))
	r.OnSample(ppgAt(base, 1))
	r.OnSample(eegAt(base, 1))

	require.Len(t, batches, 1)
	assert.Equal(t, band.SensorEEG, batches[0].Sensor)
	assert.False(t, r.IsConfigured(band.SensorBattery))
	assert.True(t, r.IsConfigured(band.SensorPPG))
}

func TestReconfigureDiscardsPartialBuffer(t *testing.T) {
	r := newTestRouter(t, WithSyncDispatch())

	var batches []Batch
	r.SetBatchHandler(func(b Batch) { batches = append(batches, b) })

	_, err := r.Configure(band.SensorEEG, batch.Count(5))
	require.NoError(t, err)

	base := time.Unix(1000, 0)
	r.OnSample(eegAt(base, 0))
	r.OnSample(eegAt(base, 1))

	r.Disable(band.SensorEEG)
	assert.False(t, r.IsConfigured(band.SensorEEG))

	_, err = r.Configure(band.SensorEEG, batch.Count(2))
	require.NoError(t, err)

	r.OnSample(eegAt(base, 100))
	r.OnSample(eegAt(base, 101))

	require.Len(t, batches, 1)
	require.Len(t, batches[0].Readings, 2)
	// The two pre-disable samples must never surface.
	assert.Equal(t, int32(100), batches[0].Readings[0].(band.EEGReading).Ch1Raw)
	assert.Equal(t, int32(101), batches[0].Readings[1].(band.EEGReading).Ch1Raw)
}

func TestDisableAll(t *testing.T) {
	r := newTestRouter(t, WithSyncDispatch())

	_, err := r.Configure(band.SensorEEG, batch.Count(5))
	require.NoError(t, err)
	_, err = r.Configure(band.SensorPPG, batch.Count(5))
	require.NoError(t, err)
	_, err = r.Configure(band.SensorAccelerometer, batch.Count(5))
	require.NoError(t, err)

	r.DisableAll()

	for _, s := range []band.SensorType{band.SensorEEG, band.SensorPPG, band.SensorAccelerometer} {
		assert.False(t, r.IsConfigured(s), s.String())
	}
}

func TestLatestUpdatedIndependentOfBatching(t *testing.T) {
	r := newTestRouter(t, WithSyncDispatch())

	var observed []band.Reading
	r.SetLatestHandler(func(rd band.Reading) { observed = append(observed, rd) })

	base := time.Unix(1000, 0)

	// No configuration at all: latest still updates.
	r.OnSample(eegAt(base, 7))
	latest, ok := r.Latest(band.SensorEEG)
	require.True(t, ok)
	assert.Equal(t, int32(7), latest.(band.EEGReading).Ch1Raw)

	r.OnSample(eegAt(base, 8))
	latest, _ = r.Latest(band.SensorEEG)
	assert.Equal(t, int32(8), latest.(band.EEGReading).Ch1Raw)

	assert.Len(t, observed, 2)

	_, ok = r.Latest(band.SensorPPG)
	assert.False(t, ok, "no PPG sample seen yet")
}

func TestBatteryBypassesBatching(t *testing.T) {
	r := newTestRouter(t, WithSyncDispatch())

	var batches []Batch
	var observed []band.Reading
	r.SetBatchHandler(func(b Batch) { batches = append(batches, b) })
	r.SetLatestHandler(func(rd band.Reading) { observed = append(observed, rd) })

	r.OnSample(band.BatteryReading{Timestamp: time.Unix(1000, 0), Level: 90})
	r.OnSample(band.BatteryReading{Timestamp: time.Unix(1001, 0), Level: 89})

	assert.Empty(t, batches)
	assert.Len(t, observed, 2)

	latest, ok := r.Latest(band.SensorBattery)
	require.True(t, ok)
	assert.Equal(t, uint8(89), latest.(band.BatteryReading).Level)
}

type captureWriter struct {
	mu      sync.Mutex
	samples []band.Reading
	err     error
}

func (w *captureWriter) WriteSample(rd band.Reading) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.samples = append(w.samples, rd)
	return nil
}

func (w *captureWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.samples)
}

func TestRecorderReceivesConfiguredSensorsOnly(t *testing.T) {
	r := newTestRouter(t, WithSyncDispatch())

	w := &captureWriter{}
	r.SetRecorder(w)

	_, err := r.Configure(band.SensorEEG, batch.Count(10))
	require.NoError(t, err)

	base := time.Unix(1000, 0)
	r.OnSample(eegAt(base, 0))
	r.OnSample(ppgAt(base, 0)) // not configured, not recorded
	r.OnSample(band.BatteryReading{Timestamp: base, Level: 77}) // battery always recorded

	assert.Equal(t, 2, w.count())

	r.SetRecorder(nil)
	r.OnSample(eegAt(base, 1))
	assert.Equal(t, 2, w.count(), "detached recorder receives nothing")
}

func TestRecorderErrorDoesNotStopRouting(t *testing.T) {
	r := newTestRouter(t, WithSyncDispatch())

	var batches []Batch
	r.SetBatchHandler(func(b Batch) { batches = append(batches, b) })
	r.SetRecorder(&captureWriter{err: errors.New("disk full")})

	_, err := r.Configure(band.SensorEEG, batch.Count(1))
	require.NoError(t, err)

	r.OnSample(eegAt(time.Unix(1000, 0), 0))
	assert.Len(t, batches, 1, "recording failure must not block batching")
}

func TestReportError(t *testing.T) {
	r := newTestRouter(t, WithSyncDispatch())

	var reported []error
	r.SetErrorHandler(func(err error) { reported = append(reported, err) })

	r.ReportError(errors.New("bad packet"))
	r.ReportError(errors.New("another bad packet"))

	assert.Len(t, reported, 2)
	assert.Equal(t, int64(2), r.Metrics().PacketsDropped)
}

func TestAsyncDispatchDeliversBatches(t *testing.T) {
	r := newTestRouter(t, WithDispatchBuffer(8))

	var mu sync.Mutex
	var batches []Batch
	r.SetBatchHandler(func(b Batch) {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, b)
	})

	_, err := r.Configure(band.SensorEEG, batch.Count(2))
	require.NoError(t, err)

	base := time.Unix(1000, 0)
	for i := 0; i < 6; i++ {
		r.OnSample(eegAt(base, i))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) == 3
	}, 2*time.Second, 5*time.Millisecond)

	m := r.Metrics()
	assert.Equal(t, int64(6), m.SamplesRouted)
	assert.Equal(t, int64(3), m.Dispatch.Dispatched)
}
