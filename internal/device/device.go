// Package device locates USB serial peripherals and opens them through a
// transport driver. Ports are plain byte streams; framing is left to callers.
package device

import (
	"fmt"
	"path/filepath"
	"time"

	serial "go.bug.st/serial"
)

// Descriptor identifies a candidate peripheral. It is produced by the Locator
// and never modified afterwards.
type Descriptor struct {
	VendorID     uint16
	ProductID    uint16
	Path         string // platform handle, e.g. /dev/ttyUSB0 or COM3
	SerialNumber string
	Product      string
}

// String renders the descriptor as "ttyUSB0 (1a86:7523)".
func (d Descriptor) String() string {
	return fmt.Sprintf("%s (%04x:%04x)", filepath.Base(d.Path), d.VendorID, d.ProductID)
}

// Port is an opened serial handle. go.bug.st/serial.Port satisfies it.
type Port interface {
	// SetReadTimeout bounds every subsequent Read. A Read that times out
	// returns 0, nil.
	SetReadTimeout(t time.Duration) error

	Read(p []byte) (int, error)
	Write(p []byte) (int, error)

	// Close releases the handle and unblocks pending reads.
	Close() error
}

// Driver opens a descriptor's platform handle with the given line mode.
type Driver interface {
	Open(d Descriptor, mode *serial.Mode) (Port, error)
}
