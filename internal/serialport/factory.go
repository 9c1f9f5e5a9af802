package serialport

import (
	"fmt"

	"go.bug.st/serial"
)

// SerialOpener opens real serial devices through go.bug.st/serial.
type SerialOpener struct{}

// Open opens the device at path and applies the read timeout. serial.Port
// already satisfies Port.
func (SerialOpener) Open(path string, opts PortOptions) (Port, error) {
	normalized, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	mode, err := normalized.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}

	if err := port.SetReadTimeout(normalized.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", path, err)
	}

	return port, nil
}

// ListPorts returns the serial devices visible to the OS.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
