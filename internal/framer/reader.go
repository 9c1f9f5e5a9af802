package framer

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/serialframe/internal/monitoring"
	"github.com/banshee-data/serialframe/internal/serialport"
	"github.com/banshee-data/serialframe/internal/timeutil"
)

// State is the lifecycle state of a Reader's acquisition loop.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateReading
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateReading:
		return "reading"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	DefaultStopTimeout = 5 * time.Second
	DefaultReadSize    = 4096
	DefaultEventBuffer = 256
)

// Options configures a Reader.
type Options struct {
	// Path is the serial device, e.g. /dev/ttyUSB0.
	Path string
	// Port holds the line settings and read timeout.
	Port serialport.PortOptions
	// Opener opens Path. Defaults to serialport.SerialOpener.
	Opener serialport.Opener
	// Clock stamps statistics and events. Defaults to the wall clock.
	Clock timeutil.Clock
	// StopTimeout bounds how long Stop waits for the loop to exit.
	StopTimeout time.Duration
	// ReadSize is the maximum number of bytes requested per read.
	ReadSize int
	// EventBuffer is the per-subscriber event channel capacity.
	EventBuffer int
}

func (o Options) withDefaults() Options {
	if o.Opener == nil {
		o.Opener = serialport.SerialOpener{}
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = DefaultStopTimeout
	}
	if o.ReadSize <= 0 {
		o.ReadSize = DefaultReadSize
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = DefaultEventBuffer
	}
	return o
}

// Reader owns a serial port and frames the bytes read from it on a dedicated
// goroutine. Packets are dispatched according to its Registry on a separate
// delivery goroutine, in extraction order.
//
// Registration methods, Start, Stop and Send may be called from any
// goroutine. Notifications are delivered on channels from Subscribe.
type Reader struct {
	opts       Options
	registry   *Registry
	dispatcher *Dispatcher
	events     *broadcaster[Event]

	state    atomic.Int32
	desyncs  atomic.Uint64
	received atomic.Uint64

	mu  sync.Mutex
	run *acquisition

	writeMu sync.Mutex
}

// acquisition is one run of the read loop, from open to close.
type acquisition struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	port serialport.Port
}

func (a *acquisition) setPort(p serialport.Port) {
	a.mu.Lock()
	a.port = p
	a.mu.Unlock()
}

func (a *acquisition) getPort() serialport.Port {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.port
}

func (a *acquisition) finished() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// NewReader returns an idle Reader with an empty packet table.
func NewReader(opts Options) *Reader {
	opts = opts.withDefaults()
	return &Reader{
		opts:       opts,
		registry:   NewRegistry(),
		dispatcher: NewDispatcher(opts.Clock),
		events:     newBroadcaster[Event](opts.EventBuffer),
	}
}

// Registry exposes the packet table, e.g. to share it with an offline Framer.
func (r *Reader) Registry() *Registry { return r.registry }

// AddPacketConfig registers or replaces the config for cfg.Header. It takes
// effect from the next parsing pass.
func (r *Reader) AddPacketConfig(cfg PacketConfig) error {
	return r.registry.Add(cfg)
}

// RemovePacketConfig unregisters header. Bytes already buffered for it are
// dropped as desync once the change is observed.
func (r *Reader) RemovePacketConfig(header byte) bool {
	return r.registry.Remove(header)
}

// ClearPacketConfigs unregisters every header.
func (r *Reader) ClearPacketConfigs() {
	r.registry.Clear()
}

// QueueForHeader returns the queue registered for header.
func (r *Reader) QueueForHeader(header byte) (chan []byte, bool) {
	return r.registry.QueueForHeader(header)
}

// PacketStats returns a copy of the per-header statistics.
func (r *Reader) PacketStats() map[byte]PacketStats {
	return r.registry.Stats()
}

// Desyncs returns the number of bytes dropped since the Reader was created.
func (r *Reader) Desyncs() uint64 { return r.desyncs.Load() }

// Received returns the number of bytes read since the Reader was created.
func (r *Reader) Received() uint64 { return r.received.Load() }

// Subscribe returns a channel of notifications. Slow subscribers miss events
// rather than stall acquisition.
func (r *Reader) Subscribe() (string, <-chan Event) {
	return r.events.subscribe()
}

// Unsubscribe closes and removes a subscription.
func (r *Reader) Unsubscribe(id string) {
	r.events.unsubscribe(id)
}

// State returns the current lifecycle state.
func (r *Reader) State() State {
	return State(r.state.Load())
}

// IsOpen reports whether the serial port is currently open.
func (r *Reader) IsOpen() bool {
	a := r.current()
	return a != nil && a.getPort() != nil
}

// Running reports whether an acquisition loop is active.
func (r *Reader) Running() bool {
	a := r.current()
	return a != nil && !a.finished()
}

func (r *Reader) current() *acquisition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run
}

// Start opens the port and launches the acquisition loop. It returns
// immediately; open failures are reported as an EventError followed by a
// disconnected EventStatus. Calling Start while running is a no-op.
// Cancelling ctx stops the loop like Stop does.
func (r *Reader) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.run != nil && !r.run.finished() {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	a := &acquisition{cancel: cancel, done: make(chan struct{})}
	r.run = a
	r.setState(StateConnecting)

	go r.acquire(runCtx, a)
}

// Stop requests the loop to exit and waits up to Options.StopTimeout for it.
// The request is observed between reads. Packets already extracted are
// delivered before the loop reports itself stopped. Calling Stop when not
// running is a no-op.
func (r *Reader) Stop() {
	a := r.current()
	if a == nil {
		return
	}
	a.cancel()

	timer := time.NewTimer(r.opts.StopTimeout)
	defer timer.Stop()
	select {
	case <-a.done:
	case <-timer.C:
		monitoring.Logf("serial reader on %s did not stop within %v", r.opts.Path, r.opts.StopTimeout)
	}
}

// Close stops the loop and closes every event subscription.
func (r *Reader) Close() error {
	r.Stop()
	r.events.close()
	return nil
}

// Send writes data to the open port. A failed write is a transport error: it
// is reported and stops the acquisition loop.
func (r *Reader) Send(data []byte) error {
	a := r.current()
	if a == nil {
		return ErrNotConnected
	}
	port := a.getPort()
	if port == nil {
		return ErrNotConnected
	}

	r.writeMu.Lock()
	n, err := port.Write(data)
	r.writeMu.Unlock()
	if err == nil && n != len(data) {
		err = io.ErrShortWrite
	}
	if err != nil {
		terr := &TransportError{Op: "write", Path: r.opts.Path, Err: err}
		monitoring.Logf("Failed to send data: %v", terr)
		r.publish(Event{Kind: EventError, Err: terr})
		a.cancel()
		return terr
	}
	return nil
}

func (r *Reader) acquire(ctx context.Context, a *acquisition) {
	defer close(a.done)
	defer a.cancel()

	port, err := r.opts.Opener.Open(r.opts.Path, r.opts.Port)
	if err != nil {
		terr := &TransportError{Op: "open", Path: r.opts.Path, Err: err}
		monitoring.Logf("Failed to initialize serial: %v", terr)
		r.setState(StateStopped)
		r.publish(Event{Kind: EventError, Err: terr})
		r.publish(Event{Kind: EventStatus, Connected: false})
		return
	}
	a.setPort(port)
	r.setState(StateReading)
	r.publish(Event{Kind: EventStatus, Connected: true})
	monitoring.Logf("serial reader connected to %s (%v)", r.opts.Path, r.opts.Port)

	// consumers run on the delivery goroutine so the read loop only blocks
	// on the port
	deliveries := newDeliveryQueue()
	framer := NewFramer(r.registry, r.dispatcher,
		WithDesyncHandler(func(b byte) {
			r.desyncs.Add(1)
			deliveries.push(func() { r.handleDesync(b) })
		}),
		withDelivery(func(packet []byte, e *entry) {
			deliveries.push(func() {
				r.dispatcher.dispatch(packet, e)
				r.handlePacket(packet, e.config)
			})
		}),
	)

	buf := make([]byte, r.opts.ReadSize)
	for ctx.Err() == nil {
		n, err := port.Read(buf)
		if n > 0 {
			r.received.Add(uint64(n))
			framer.Feed(buf[:n])
		}
		if err != nil {
			terr := &TransportError{Op: "read", Path: r.opts.Path, Err: err}
			monitoring.Logf("Serial exception: %v", terr)
			r.publish(Event{Kind: EventError, Err: terr})
			break
		}
	}

	if pending := framer.Buffered(); pending > 0 {
		monitoring.Debugf("discarding %d buffered bytes on stop", pending)
	}

	a.setPort(nil)
	if err := port.Close(); err != nil {
		monitoring.Logf("failed to close serial port %s: %v", r.opts.Path, err)
	}

	deliveries.close()
	if n := deliveries.backlog(); n > 0 {
		monitoring.Debugf("delivering %d queued items before stop", n)
	}
	deliveries.wait()

	r.setState(StateStopped)
	r.publish(Event{Kind: EventStatus, Connected: false})
	monitoring.Logf("serial reader on %s stopped", r.opts.Path)
}

func (r *Reader) handleDesync(b byte) {
	monitoring.Debugf("[DESYNC] Dropped byte: %02X", b)
	r.publish(Event{Kind: EventDesync, Dropped: b})
}

func (r *Reader) handlePacket(packet []byte, cfg PacketConfig) {
	r.publish(Event{Kind: EventPacket, Packet: packet, Config: cfg})
}

func (r *Reader) publish(ev Event) {
	ev.Time = r.opts.Clock.Now()
	r.events.publish(ev)
}

func (r *Reader) setState(s State) {
	r.state.Store(int32(s))
}
