package framer

import (
	"bytes"
	"fmt"

	"github.com/banshee-data/serialframe/internal/monitoring"
	"github.com/banshee-data/serialframe/internal/timeutil"
)

// Dispatcher delivers completed packets to the sinks of their config and
// keeps the per-header statistics. It runs synchronously on the goroutine
// that calls it; a Reader calls it from its delivery goroutine.
type Dispatcher struct {
	clock timeutil.Clock
}

// NewDispatcher returns a Dispatcher stamping LastReceived from clock. A nil
// clock uses the wall clock.
func NewDispatcher(clock timeutil.Clock) *Dispatcher {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Dispatcher{clock: clock}
}

// dispatch counts the packet and then offers it to the queue, the callback and
// the notifier in that order. No sink can stop the others from running. Each
// sink gets its own copy of packet.
func (d *Dispatcher) dispatch(packet []byte, e *entry) {
	cfg := e.config

	e.stats.record(d.clock.Now())

	monitoring.Debugf("[PACKET] %s: % X", cfg.Name, packet)

	if cfg.Queue != nil {
		select {
		case cfg.Queue <- bytes.Clone(packet):
		default:
			// capacity drops are logged but not counted as errors
			monitoring.Logf("[WARNING] Queue full for %s, dropping packet", cfg.Name)
		}
	}

	if cfg.Callback != nil {
		p := bytes.Clone(packet)
		if err := guard(func() error { return cfg.Callback(p) }); err != nil {
			d.fail(e, &ConsumerError{Sink: "callback", Name: cfg.Name, Err: err})
		}
	}

	if cfg.Notify != nil {
		p := bytes.Clone(packet)
		if err := guard(func() error { return cfg.Notify.Emit(p) }); err != nil {
			d.fail(e, &ConsumerError{Sink: "notification", Name: cfg.Name, Err: err})
		}
	}
}

func (d *Dispatcher) fail(e *entry, err *ConsumerError) {
	e.stats.errors.Add(1)
	monitoring.Logf("[ERROR] %v", err)
}

// guard runs fn and converts a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
