package device

import (
	"errors"
	"fmt"
	"strconv"

	"go.bug.st/serial/enumerator"

	"ArduinoLink/internal/util"
)

// ErrNotFound is returned when no attached device matches the criteria.
// It is an expected outcome, not a fault.
var ErrNotFound = errors.New("no matching device found")

// Criteria selects a device from a snapshot.
type Criteria struct {
	Any       bool
	VendorID  uint16
	ProductID uint16
}

// MatchFirst selects the first device present.
func MatchFirst() Criteria { return Criteria{Any: true} }

// MatchExact selects the first device with the given vendor and product ID.
func MatchExact(vendorID, productID uint16) Criteria {
	return Criteria{VendorID: vendorID, ProductID: productID}
}

// Matches reports whether d satisfies c.
func (c Criteria) Matches(d Descriptor) bool {
	if c.Any {
		return true
	}
	return d.VendorID == c.VendorID && d.ProductID == c.ProductID
}

func (c Criteria) String() string {
	if c.Any {
		return "first device"
	}
	return fmt.Sprintf("%04x:%04x", c.VendorID, c.ProductID)
}

// FindDevice returns the first element of list matching c in enumeration order.
func FindDevice(list []Descriptor, c Criteria) (Descriptor, error) {
	for _, d := range list {
		if c.Matches(d) {
			return d, nil
		}
	}
	return Descriptor{}, ErrNotFound
}

// EnumerateFunc lists serial ports together with their USB identity.
type EnumerateFunc func() ([]*enumerator.PortDetails, error)

// Locator enumerates attached USB serial devices.
type Locator struct {
	enumerate EnumerateFunc
}

// NewLocator creates a Locator backed by the go.bug.st enumerator.
func NewLocator() *Locator {
	return &Locator{enumerate: enumerator.GetDetailedPortsList}
}

// NewLocatorWith creates a Locator using a custom enumeration source.
func NewLocatorWith(fn EnumerateFunc) *Locator {
	return &Locator{enumerate: fn}
}

// StaticPort returns an enumeration source that always reports one USB port.
// It is used when the device path is configured by hand, e.g. a simulator PTY.
func StaticPort(path string, vendorID, productID uint16) EnumerateFunc {
	return func() ([]*enumerator.PortDetails, error) {
		return []*enumerator.PortDetails{{
			Name:  path,
			IsUSB: true,
			VID:   fmt.Sprintf("%04X", vendorID),
			PID:   fmt.Sprintf("%04X", productID),
		}}, nil
	}
}

// Snapshot enumerates the USB serial devices once.
func (l *Locator) Snapshot() ([]Descriptor, error) {
	ports, err := l.enumerate()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}
	list := make([]Descriptor, 0, len(ports))
	for _, p := range ports {
		if p == nil || !p.IsUSB {
			continue
		}
		vid, err1 := parseUSBID(p.VID)
		pid, err2 := parseUSBID(p.PID)
		if err1 != nil || err2 != nil {
			util.Debug("[locator] skip %s: bad usb id %q:%q", p.Name, p.VID, p.PID)
			continue
		}
		list = append(list, Descriptor{
			VendorID:     vid,
			ProductID:    pid,
			Path:         p.Name,
			SerialNumber: p.SerialNumber,
			Product:      p.Product,
		})
	}
	return list, nil
}

// Find takes a snapshot and selects the first device matching c.
func (l *Locator) Find(c Criteria) (Descriptor, error) {
	list, err := l.Snapshot()
	if err != nil {
		return Descriptor{}, err
	}
	return FindDevice(list, c)
}

func parseUSBID(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}
