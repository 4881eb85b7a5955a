package session

import (
	"errors"
	"fmt"

	"ArduinoLink/internal/device"
)

var (
	// ErrAlreadyOpen is wrapped by OpenError when the slot holds a live session.
	ErrAlreadyOpen = errors.New("a session is already open")
	// ErrUnsupportedDevice is wrapped by OpenError when no driver matches the device.
	ErrUnsupportedDevice = errors.New("no serial driver for device")
	// ErrHandleUnavailable is wrapped by OpenError when the driver cannot open the port.
	ErrHandleUnavailable = errors.New("device handle unavailable")

	// ErrSessionClosed is wrapped by IoError for I/O on a closed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrWriteTimeout is wrapped by IoError when a write exceeds its timeout.
	ErrWriteTimeout = errors.New("write timeout")
)

// OpenError reports why a session could not be opened.
type OpenError struct {
	Device device.Descriptor
	Err    error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open session %s: %v", e.Device, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// IoError reports a failed read or write on an open session.
type IoError struct {
	Op  string
	Err error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("session %s: %v", e.Op, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }
