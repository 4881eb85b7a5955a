// Package device implements SerialDriver using go.bug.st/serial,
// which provides real serial communication support for USB bridges like CH340 or FTDI.
package device

import (
	"fmt"

	serial "go.bug.st/serial"
)

// OpenFunc opens a native serial port.
type OpenFunc func(name string, mode *serial.Mode) (serial.Port, error)

// SerialDriver implements Driver using go.bug.st/serial.
type SerialDriver struct {
	open OpenFunc
}

// NewSerialDriver creates a driver that opens native serial ports.
func NewSerialDriver() *SerialDriver {
	return &SerialDriver{open: serial.Open}
}

// NewSerialDriverWith creates a driver with a custom open function.
func NewSerialDriverWith(fn OpenFunc) *SerialDriver {
	return &SerialDriver{open: fn}
}

// Open opens the descriptor's port and applies mode once.
func (s *SerialDriver) Open(d Descriptor, mode *serial.Mode) (Port, error) {
	if d.Path == "" {
		return nil, fmt.Errorf("descriptor %s has no port path", d)
	}
	p, err := s.open(d.Path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial %s: %w", d.Path, err)
	}
	return p, nil
}
