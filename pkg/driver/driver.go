// Package driver is the public entry point for talking to a band: it wires
// the BLE transport, packet decoding, sample routing, recording, and
// publishing into one object with a small API.
package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/bandlink/internal/band"
	"github.com/srg/bandlink/internal/batch"
	"github.com/srg/bandlink/internal/packet"
	"github.com/srg/bandlink/internal/publish"
	"github.com/srg/bandlink/internal/record"
	"github.com/srg/bandlink/internal/stream"
	"github.com/srg/bandlink/internal/transport"
)

// Re-exported stream types so most callers only import this package.
type (
	Batch         = stream.Batch
	BatchHandler  = stream.BatchHandler
	LatestHandler = stream.LatestHandler
	ErrorHandler  = stream.ErrorHandler
)

// Driver owns one band's full pipeline. All methods are safe for concurrent
// use; notification decoding for one sensor stays on the BLE callback
// goroutine, which preserves per-sensor sample order.
type Driver struct {
	logger *logrus.Logger
	hw     band.Hardware
	dec    *packet.Decoder
	router *stream.Router

	transportOpts *transport.Options

	mu      sync.Mutex
	conn    *transport.Conn
	session *record.Session
	pub     *publish.Publisher

	handlerMu sync.RWMutex
	batchFn   BatchHandler
	latestFn  LatestHandler
	errFn     ErrorHandler
}

// Option customizes Driver construction.
type Option func(*options)

type options struct {
	hw            band.Hardware
	routerOpts    []stream.Option
	transportOpts *transport.Options
}

// WithHardware overrides the default hardware constants.
func WithHardware(hw band.Hardware) Option {
	return func(o *options) { o.hw = hw }
}

// WithRouterOptions passes options through to the sample router.
func WithRouterOptions(opts ...stream.Option) Option {
	return func(o *options) { o.routerOpts = append(o.routerOpts, opts...) }
}

// WithTransportOptions overrides the default BLE connection options.
func WithTransportOptions(topts *transport.Options) Option {
	return func(o *options) { o.transportOpts = topts }
}

// New creates a driver. It does not touch the radio; call Connect for that.
func New(logger *logrus.Logger, opts ...Option) (*Driver, error) {
	if logger == nil {
		logger = logrus.New()
	}

	o := &options{
		hw:            band.DefaultHardware(),
		transportOpts: transport.DefaultOptions(),
	}
	for _, opt := range opts {
		opt(o)
	}

	router, err := stream.NewRouter(o.hw, logger, o.routerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sample router: %w", err)
	}

	d := &Driver{
		logger:        logger,
		hw:            o.hw,
		dec:           packet.NewDecoder(o.hw),
		router:        router,
		transportOpts: o.transportOpts,
	}
	router.SetBatchHandler(d.onBatch)
	router.SetLatestHandler(d.onLatest)
	router.SetErrorHandler(d.onError)
	return d, nil
}

// Router exposes the underlying router for status surfaces (HTTP API).
func (d *Driver) Router() *stream.Router { return d.router }

// Hardware returns the constants the driver was built with.
func (d *Driver) Hardware() band.Hardware { return d.hw }

// ----------------------------
// Connection lifecycle
// ----------------------------

// Connect dials the band and subscribes to its sensor notifications. Decoded
// samples start flowing into the router immediately.
func (d *Driver) Connect(ctx context.Context, address string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		return fmt.Errorf("already connected")
	}

	conn, err := transport.Dial(ctx, address, d.transportOpts, d.logger)
	if err != nil {
		return err
	}
	if err := conn.Subscribe(d.HandleNotification); err != nil {
		_ = conn.Close()
		return err
	}
	d.conn = conn
	return nil
}

// Disconnect tears the BLE link down. Batch configuration and handlers
// survive for the next Connect.
func (d *Driver) Disconnect() error {
	d.mu.Lock()
	conn := d.conn
	d.conn = nil
	d.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// IsConnected reports the BLE link state.
func (d *Driver) IsConnected() bool {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	return conn != nil && conn.IsConnected()
}

// ReadBattery queries the battery level directly over GATT and routes the
// resulting reading like any notification.
func (d *Driver) ReadBattery() (band.BatteryReading, error) {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return band.BatteryReading{}, fmt.Errorf("not connected")
	}

	data, err := conn.ReadBattery()
	if err != nil {
		return band.BatteryReading{}, err
	}
	rd, err := d.dec.DecodeBattery(data, time.Now())
	if err != nil {
		return band.BatteryReading{}, err
	}
	d.router.OnSample(rd)
	return rd, nil
}

// HandleNotification is the hot path: one raw GATT notification in, decoded
// readings routed out. Malformed packets are reported and dropped; the
// stream keeps going.
func (d *Driver) HandleNotification(t band.SensorType, data []byte) {
	readings, err := d.dec.Decode(t, data, time.Now())
	if err != nil {
		d.router.ReportError(err)
		return
	}
	for _, rd := range readings {
		d.router.OnSample(rd)
	}
}

// ----------------------------
// Batch configuration
// ----------------------------

// Configure activates a batching policy for a sensor and returns the
// effective (possibly clamped) policy.
func (d *Driver) Configure(t band.SensorType, policy batch.Policy) (batch.Policy, error) {
	return d.router.Configure(t, policy)
}

// Disable removes a sensor's batch configuration, discarding buffered data.
func (d *Driver) Disable(t band.SensorType) { d.router.Disable(t) }

// DisableAll disables batching for every sensor.
func (d *Driver) DisableAll() { d.router.DisableAll() }

// Latest returns the most recent reading for a sensor, if one arrived.
func (d *Driver) Latest(t band.SensorType) (band.Reading, bool) {
	return d.router.Latest(t)
}

// Metrics reports the router's counters.
func (d *Driver) Metrics() stream.RouterMetrics { return d.router.Metrics() }

// SetBatchHandler registers the completed-batch consumer.
func (d *Driver) SetBatchHandler(fn BatchHandler) {
	d.handlerMu.Lock()
	defer d.handlerMu.Unlock()
	d.batchFn = fn
}

// SetLatestHandler registers the per-sample observer.
func (d *Driver) SetLatestHandler(fn LatestHandler) {
	d.handlerMu.Lock()
	defer d.handlerMu.Unlock()
	d.latestFn = fn
}

// SetErrorHandler registers the decode-error observer.
func (d *Driver) SetErrorHandler(fn ErrorHandler) {
	d.handlerMu.Lock()
	defer d.handlerMu.Unlock()
	d.errFn = fn
}

// ----------------------------
// Recording
// ----------------------------

// StartRecording opens a recording session under baseDir and begins writing
// every sample from configured sensors (plus battery) to it.
func (d *Driver) StartRecording(baseDir string, opts ...record.Option) (*record.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != nil {
		return nil, fmt.Errorf("recording already in progress (session %s)", d.session.ID())
	}

	opts = append([]record.Option{record.WithHardware(d.hw)}, opts...)
	session, err := record.NewSession(baseDir, d.logger, opts...)
	if err != nil {
		return nil, err
	}
	d.session = session
	d.router.SetRecorder(session)
	return session, nil
}

// StopRecording detaches the recorder and finalizes the session files.
func (d *Driver) StopRecording() error {
	d.mu.Lock()
	session := d.session
	d.session = nil
	d.mu.Unlock()

	if session == nil {
		return nil
	}
	d.router.SetRecorder(nil)
	return session.Close()
}

// IsRecording reports whether a session is active.
func (d *Driver) IsRecording() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session != nil
}

// ----------------------------
// Publishing
// ----------------------------

// EnableMQTT connects a publisher; completed batches and battery updates are
// forwarded to the broker until DisableMQTT or Close.
func (d *Driver) EnableMQTT(cfg publish.Config) error {
	pub, err := publish.NewPublisher(cfg, d.logger)
	if err != nil {
		return err
	}
	d.mu.Lock()
	old := d.pub
	d.pub = pub
	d.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

// DisableMQTT disconnects the publisher, if any.
func (d *Driver) DisableMQTT() {
	d.mu.Lock()
	pub := d.pub
	d.pub = nil
	d.mu.Unlock()
	if pub != nil {
		pub.Close()
	}
}

// ----------------------------
// Fan-out
// ----------------------------

func (d *Driver) onBatch(b Batch) {
	d.mu.Lock()
	pub := d.pub
	d.mu.Unlock()
	if pub != nil {
		pub.PublishBatch(b)
	}

	d.handlerMu.RLock()
	fn := d.batchFn
	d.handlerMu.RUnlock()
	if fn != nil {
		fn(b)
	}
}

func (d *Driver) onLatest(rd band.Reading) {
	if batt, ok := rd.(band.BatteryReading); ok {
		d.mu.Lock()
		pub := d.pub
		d.mu.Unlock()
		if pub != nil {
			pub.PublishBattery(batt)
		}
	}

	d.handlerMu.RLock()
	fn := d.latestFn
	d.handlerMu.RUnlock()
	if fn != nil {
		fn(rd)
	}
}

func (d *Driver) onError(err error) {
	d.handlerMu.RLock()
	fn := d.errFn
	d.handlerMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// Close shuts everything down: BLE link, recording session, publisher, and
// the router's delivery queue.
func (d *Driver) Close() error {
	var firstErr error
	if err := d.Disconnect(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := d.StopRecording(); err != nil && firstErr == nil {
		firstErr = err
	}
	d.DisableMQTT()
	if err := d.router.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
