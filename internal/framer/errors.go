package framer

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Send when no port is open.
	ErrNotConnected = errors.New("serial port not connected")
	// ErrInvalidSize rejects packet configs whose size cannot hold the header.
	ErrInvalidSize = errors.New("packet size must be at least 1")
	// ErrSignalClosed is returned by Emit on a closed Signal.
	ErrSignalClosed = errors.New("signal closed")
)

// TransportError reports an open, read or write failure on the serial port.
// It is fatal to the acquisition loop; reconnecting is left to the caller.
type TransportError struct {
	Op   string
	Path string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("serial %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ConsumerError records a callback or notifier failure for one packet.
type ConsumerError struct {
	Sink string
	Name string
	Err  error
}

func (e *ConsumerError) Error() string {
	return fmt.Sprintf("%s error for %s: %v", e.Sink, e.Name, e.Err)
}

func (e *ConsumerError) Unwrap() error { return e.Err }
