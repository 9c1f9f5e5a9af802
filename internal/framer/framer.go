package framer

// Framer runs the frame parser over a StreamBuffer. It is not safe for
// concurrent use: one goroutine feeds it, while the Registry it reads from
// may be mutated from anywhere.
type Framer struct {
	registry   *Registry
	dispatcher *Dispatcher
	buf        StreamBuffer

	onDesync func(b byte)
	onPacket func(packet []byte, cfg PacketConfig)
	deliver  func(packet []byte, e *entry)
}

// FramerOption configures a Framer.
type FramerOption func(*Framer)

// WithDesyncHandler installs fn to be called with every dropped byte.
func WithDesyncHandler(fn func(b byte)) FramerOption {
	return func(f *Framer) {
		f.onDesync = fn
	}
}

// WithPacketObserver installs fn to be called after each packet has been
// dispatched.
func WithPacketObserver(fn func(packet []byte, cfg PacketConfig)) FramerOption {
	return func(f *Framer) {
		f.onPacket = fn
	}
}

// withDelivery replaces synchronous dispatch with fn. The packet observer is
// not called; fn owns the whole delivery.
func withDelivery(fn func(packet []byte, e *entry)) FramerOption {
	return func(f *Framer) {
		f.deliver = fn
	}
}

// NewFramer returns a Framer reading packet configs from registry and
// delivering through dispatcher. A nil dispatcher uses the wall clock.
func NewFramer(registry *Registry, dispatcher *Dispatcher, opts ...FramerOption) *Framer {
	if dispatcher == nil {
		dispatcher = NewDispatcher(nil)
	}
	f := &Framer{
		registry:   registry,
		dispatcher: dispatcher,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.deliver == nil {
		f.deliver = f.dispatch
	}
	return f
}

func (f *Framer) dispatch(packet []byte, e *entry) {
	f.dispatcher.dispatch(packet, e)
	if f.onPacket != nil {
		f.onPacket(packet, e.config)
	}
}

// Feed appends data to the stream buffer and frames as much as possible.
func (f *Framer) Feed(data []byte) (packets, dropped int) {
	f.buf.Append(data)
	return f.Process()
}

// StepResult is the outcome of a single parser iteration.
type StepResult int

const (
	// StepEmpty means the buffer held no bytes.
	StepEmpty StepResult = iota
	// StepNeedMore means the buffer starts with a known header but holds
	// fewer bytes than its packet size. The buffer is unchanged.
	StepNeedMore
	// StepDesync means the leading byte was not a known header and was
	// dropped.
	StepDesync
	// StepPacket means one packet was extracted and dispatched.
	StepPacket
)

func (s StepResult) String() string {
	switch s {
	case StepEmpty:
		return "empty"
	case StepNeedMore:
		return "need-more"
	case StepDesync:
		return "desync"
	case StepPacket:
		return "packet"
	default:
		return "unknown"
	}
}

// Process frames the buffered bytes against the current packet table until
// the buffer is empty or holds only the prefix of a known packet. It returns
// the number of packets dispatched and bytes dropped.
//
// The table is loaded once per call; changes published meanwhile apply from
// the next call.
func (f *Framer) Process() (packets, dropped int) {
	t := f.registry.snapshot()
	for {
		switch f.step(t) {
		case StepPacket:
			packets++
		case StepDesync:
			dropped++
		default:
			return packets, dropped
		}
	}
}

// Step runs exactly one parser iteration against the current packet table.
func (f *Framer) Step() StepResult {
	return f.step(f.registry.snapshot())
}

func (f *Framer) step(t *table) StepResult {
	if f.buf.Len() == 0 {
		return StepEmpty
	}
	header := f.buf.Bytes()[0]

	e, ok := t.lookup(header)
	if !ok {
		// no lookahead: resync one byte at a time
		f.buf.Discard(1)
		if f.onDesync != nil {
			f.onDesync(header)
		}
		return StepDesync
	}

	if f.buf.Len() < e.config.Size {
		return StepNeedMore
	}

	f.deliver(f.buf.Take(e.config.Size), e)
	return StepPacket
}

// Append adds data to the stream buffer without framing it.
func (f *Framer) Append(data []byte) {
	f.buf.Append(data)
}

// Buffered returns the number of bytes waiting for more input.
func (f *Framer) Buffered() int {
	return f.buf.Len()
}

// Pending returns a copy of the bytes waiting for more input.
func (f *Framer) Pending() []byte {
	return append([]byte(nil), f.buf.Bytes()...)
}

// Reset discards any buffered bytes.
func (f *Framer) Reset() {
	f.buf.Reset()
}
