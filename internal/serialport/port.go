// Package serialport is the transport boundary of the framer: a minimal port
// abstraction, the options used to open it, and implementations backed by real
// hardware, tests and a synthetic demo stream.
package serialport

import (
	"io"
	"time"
)

// Port defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
//
// Read must honour the configured read timeout and return (0, nil) when no
// bytes arrived in time; any error it returns is treated as fatal by callers.
type Port interface {
	io.ReadWriteCloser

	// SetReadTimeout bounds how long a Read may block.
	SetReadTimeout(timeout time.Duration) error
}

// Opener defines an interface for creating serial ports.
// This abstraction enables dependency injection of serial port creation.
type Opener interface {
	// Open opens a serial port at the specified path with the given options.
	Open(path string, opts PortOptions) (Port, error)
}

// OpenerFunc adapts a plain function to the Opener interface.
type OpenerFunc func(path string, opts PortOptions) (Port, error)

// Open calls f(path, opts).
func (f OpenerFunc) Open(path string, opts PortOptions) (Port, error) {
	return f(path, opts)
}
