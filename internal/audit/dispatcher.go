package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DispatcherConfig controls buffering and delivery.
type DispatcherConfig struct {
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
	// SinkTimeout bounds each delivery to each sink. Zero means no bound.
	SinkTimeout time.Duration `yaml:"sink_timeout"`
}

// Dispatcher delivers stored entries to its sinks on one background
// goroutine. Sinks see entries in ledger order; a slow sink delays the
// others by at most SinkTimeout per entry.
type Dispatcher struct {
	cfg   DispatcherConfig
	sinks []Sink
	queue chan Entry
	stop  chan struct{}
	wg    sync.WaitGroup

	delivered atomic.Uint64
	dropped   atomic.Uint64
	closed    atomic.Bool
	once      sync.Once
}

// NewDispatcher starts the delivery goroutine. Nil sinks are skipped. Close
// must be called to drain and stop it.
func NewDispatcher(cfg DispatcherConfig, sinks ...Sink) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	d := &Dispatcher{
		cfg:   cfg,
		queue: make(chan Entry, cfg.BufferSize),
		stop:  make(chan struct{}),
	}
	for _, s := range sinks {
		if s != nil {
			d.sinks = append(d.sinks, s)
		}
	}
	d.wg.Add(1)
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for {
		select {
		case e := <-d.queue:
			d.deliver(e)
		case <-d.stop:
			// Drain what was accepted before Close.
			for {
				select {
				case e := <-d.queue:
					d.deliver(e)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(e Entry) {
	for _, s := range d.sinks {
		ctx, cancel := context.Background(), context.CancelFunc(func() {})
		if d.cfg.SinkTimeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, d.cfg.SinkTimeout)
		}
		s.Emit(ctx, e)
		cancel()
	}
	d.delivered.Add(1)
}

// Emit queues e. With DropIfFull a full queue drops and counts the entry;
// otherwise Emit waits for room until ctx is done.
func (d *Dispatcher) Emit(ctx context.Context, e Entry) {
	if d == nil || d.closed.Load() {
		return
	}
	if d.cfg.DropIfFull {
		select {
		case d.queue <- e:
		case <-d.stop:
		default:
			d.dropped.Add(1)
		}
		return
	}
	select {
	case d.queue <- e:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.stop:
	}
}

// Close drains queued entries and stops the goroutine.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.stop)
		d.wg.Wait()
	})
}

// Delivered counts entries handed to every sink.
func (d *Dispatcher) Delivered() uint64 {
	if d == nil {
		return 0
	}
	return d.delivered.Load()
}

// Dropped counts entries discarded before delivery.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
