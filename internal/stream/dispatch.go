package stream

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// DispatchMetrics provides lock-free counters for batch delivery.
// All fields use atomic operations for thread-safe access.
type DispatchMetrics struct {
	Dispatched  int64 // batches handed to the consumer callback
	Overwritten int64 // batches lost because the consumer fell behind
	Errors      int64 // unexpected buffer failures
}

func (m *DispatchMetrics) addDispatched()          { atomic.AddInt64(&m.Dispatched, 1) }
func (m *DispatchMetrics) addOverwritten(n uint32) { atomic.AddInt64(&m.Overwritten, int64(n)) }
func (m *DispatchMetrics) addError()               { atomic.AddInt64(&m.Errors, 1) }

// Snapshot returns a consistent copy of the counters.
func (m *DispatchMetrics) Snapshot() DispatchMetrics {
	return DispatchMetrics{
		Dispatched:  atomic.LoadInt64(&m.Dispatched),
		Overwritten: atomic.LoadInt64(&m.Overwritten),
		Errors:      atomic.LoadInt64(&m.Errors),
	}
}

const (
	dispatcherStateNotRunning uint32 = iota
	dispatcherStateRunning
	dispatcherStateStopping

	// maxDispatchBuffer guards against accidental misconfiguration.
	maxDispatchBuffer uint32 = 1 << 16
)

// Dispatcher decouples batch delivery from the ingestion path. Completed
// batches go into a bounded overwrite-oldest ring; a single consumer
// goroutine invokes the handler. Ingestion never blocks on a slow consumer;
// the oldest undelivered batch is dropped instead and counted.
type Dispatcher struct {
	buffer  mpmc.RichOverlappedRingBuffer[Batch]
	handler func(Batch)

	notify  chan struct{}
	stop    chan struct{}
	done    chan struct{}
	state   uint32
	metrics DispatchMetrics
}

// NewDispatcher creates a dispatcher with the given ring capacity.
func NewDispatcher(bufferSize uint32, handler func(Batch)) (*Dispatcher, error) {
	if handler == nil {
		return nil, fmt.Errorf("dispatch handler cannot be nil")
	}
	if bufferSize == 0 || bufferSize > maxDispatchBuffer {
		return nil, fmt.Errorf("dispatch buffer size %d out of range (1..%d)", bufferSize, maxDispatchBuffer)
	}
	return &Dispatcher{
		buffer:  mpmc.NewOverlappedRingBuffer[Batch](bufferSize),
		handler: handler,
		notify:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Start launches the consumer goroutine. Returns an error if already running.
func (d *Dispatcher) Start() error {
	if !atomic.CompareAndSwapUint32(&d.state, dispatcherStateNotRunning, dispatcherStateRunning) {
		return fmt.Errorf("dispatcher already running")
	}

	d.stop = make(chan struct{})
	d.done = make(chan struct{})

	started := make(chan struct{}, 1)
	go func() {
		started <- struct{}{}
		defer func() {
			close(d.done)
			atomic.StoreUint32(&d.state, dispatcherStateNotRunning)
		}()
		for {
			select {
			case <-d.stop:
				d.drain()
				return
			case <-d.notify:
				d.drain()
			}
		}
	}()

	select {
	case <-started:
		return nil
	case <-time.After(time.Second):
		close(d.stop)
		<-d.done
		return fmt.Errorf("dispatcher failed to start within 1s")
	}
}

// Offer enqueues a batch for delivery. Never blocks; if the ring is full the
// oldest batch is overwritten and counted.
func (d *Dispatcher) Offer(b Batch) {
	overwrites, err := d.buffer.EnqueueM(b)
	if err != nil {
		d.metrics.addError()
		return
	}
	d.metrics.addOverwritten(overwrites)

	select {
	case d.notify <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) drain() {
	for {
		item, err := d.buffer.Dequeue()
		if err != nil {
			return
		}
		d.handler(item)
		d.metrics.addDispatched()
	}
}

// Stop terminates the consumer after delivering whatever is still buffered.
func (d *Dispatcher) Stop() error {
	if atomic.CompareAndSwapUint32(&d.state, dispatcherStateRunning, dispatcherStateStopping) {
		close(d.stop)
	} else if atomic.LoadUint32(&d.state) == dispatcherStateNotRunning {
		return nil
	}

	select {
	case <-d.done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("dispatcher did not stop within 5s")
	}
}

// Metrics returns a snapshot of the delivery counters.
func (d *Dispatcher) Metrics() DispatchMetrics {
	return d.metrics.Snapshot()
}
