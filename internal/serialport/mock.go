package serialport

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// ErrPortClosed is returned by TestablePort once Close has been called.
var ErrPortClosed = errors.New("serial port closed")

// testableReadWait is how long an empty TestablePort read waits for data when
// no read timeout was configured.
const testableReadWait = 5 * time.Millisecond

// TestablePort implements Port with configurable behaviour for testing.
// It provides fine-grained control over reads, writes, errors, and latency.
type TestablePort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// MaxReadChunk caps how many bytes a single Read returns (0 = no cap).
	// Tests use it to force arbitrary chunking of the stream.
	MaxReadChunk int

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// ReadCalls records the number of Read calls
	ReadCalls int

	// WriteCalls records the number of Write calls
	WriteCalls int

	// ReadTimeout is the current read timeout
	ReadTimeout time.Duration

	// dataReady is signalled when AddReadData appends to an empty buffer.
	dataReady chan struct{}
}

// NewTestablePort creates a new TestablePort for testing.
func NewTestablePort() *TestablePort {
	return &TestablePort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
		dataReady:   make(chan struct{}, 1),
	}
}

// Read returns buffered data. With nothing buffered it waits up to the read
// timeout and then returns (0, nil), like a real port whose timeout expired.
func (t *TestablePort) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	t.ReadCalls++

	if t.Closed {
		t.mu.Unlock()
		return 0, ErrPortClosed
	}

	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		t.mu.Unlock()
		return 0, err
	}

	if t.ReadBuffer.Len() == 0 {
		wait := t.ReadTimeout
		if wait <= 0 {
			wait = testableReadWait
		}
		t.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-t.dataReady:
		case <-timer.C:
		}
		timer.Stop()

		t.mu.Lock()
		if t.Closed {
			t.mu.Unlock()
			return 0, ErrPortClosed
		}
		if t.ReadBuffer.Len() == 0 {
			t.mu.Unlock()
			return 0, nil
		}
	}
	defer t.mu.Unlock()

	if t.MaxReadChunk > 0 && len(p) > t.MaxReadChunk {
		p = p[:t.MaxReadChunk]
	}
	return t.ReadBuffer.Read(p)
}

// Write writes to the write buffer, optionally returning a configured error.
func (t *TestablePort) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.WriteCalls++

	if t.Closed {
		return 0, ErrPortClosed
	}

	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}

	return t.WriteBuffer.Write(p)
}

// Close marks the port as closed.
func (t *TestablePort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	select {
	case t.dataReady <- struct{}{}: // wake a waiting reader
	default:
	}

	return t.CloseError
}

// SetReadTimeout implements Port.
func (t *TestablePort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadTimeout = timeout
	return nil
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestablePort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	select {
	case t.dataReady <- struct{}{}:
	default:
	}
}

// SetReadError makes the next Read fail with err.
func (t *TestablePort) SetReadError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadError = err
}

// SetWriteError makes the next Write fail with err.
func (t *TestablePort) SetWriteError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.WriteError = err
}

// GetWrittenData returns a copy of all data written to the port.
func (t *TestablePort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]byte(nil), t.WriteBuffer.Bytes()...)
}

// Pending reports how many bytes are still waiting to be read.
func (t *TestablePort) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ReadBuffer.Len()
}

// IsClosed reports whether Close was called.
func (t *TestablePort) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Closed
}

// MockOpener implements Opener for testing.
type MockOpener struct {
	mu sync.Mutex

	// Port is the port to return from Open
	Port Port

	// Error is returned by Open if set
	Error error

	// OpenCalls records all Open calls
	OpenCalls []MockOpenCall
}

// MockOpenCall records details of an Open call.
type MockOpenCall struct {
	Path    string
	Options PortOptions
}

// NewMockOpener creates a new MockOpener.
func NewMockOpener(port Port) *MockOpener {
	return &MockOpener{Port: port}
}

// Open returns the configured port or error.
func (f *MockOpener) Open(path string, opts PortOptions) (Port, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.OpenCalls = append(f.OpenCalls, MockOpenCall{
		Path:    path,
		Options: opts,
	})

	if f.Error != nil {
		return nil, f.Error
	}

	if opts.ReadTimeout > 0 {
		if err := f.Port.SetReadTimeout(opts.ReadTimeout); err != nil {
			return nil, err
		}
	}
	return f.Port, nil
}

// LastCall returns the most recent Open call, or nil if none.
func (f *MockOpener) LastCall() *MockOpenCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.OpenCalls) == 0 {
		return nil
	}
	return &f.OpenCalls[len(f.OpenCalls)-1]
}

// Reopen clears the closed flag so the same port can back another
// connection, as a physical device would after being unplugged and replugged.
func (t *TestablePort) Reopen() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = false
}
