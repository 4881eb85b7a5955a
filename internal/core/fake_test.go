package core

import (
	"errors"
	"sync"
	"time"

	serial "go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"ArduinoLink/internal/device"
)

var errReleased = errors.New("handle released")

type fakePort struct {
	mu       sync.Mutex
	timeout  time.Duration
	written  []byte
	incoming chan []byte
	readErr  chan error
	released chan struct{}
	once     sync.Once
}

func newFakePort() *fakePort {
	return &fakePort{
		timeout:  5 * time.Millisecond,
		incoming: make(chan []byte, 8),
		readErr:  make(chan error, 1),
		released: make(chan struct{}),
	}
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	p.timeout = t
	p.mu.Unlock()
	return nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	timeout := p.timeout
	p.mu.Unlock()
	select {
	case data := <-p.incoming:
		return copy(b, data), nil
	case err := <-p.readErr:
		return 0, err
	case <-p.released:
		return 0, errReleased
	case <-time.After(timeout):
		return 0, nil
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written = append(p.written, b...)
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.once.Do(func() { close(p.released) })
	return nil
}

// fakeDriver hands out a fresh port on every open.
type fakeDriver struct {
	mu    sync.Mutex
	ports []*fakePort
}

func (d *fakeDriver) Open(device.Descriptor, *serial.Mode) (device.Port, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := newFakePort()
	d.ports = append(d.ports, p)
	return p, nil
}

func (d *fakeDriver) last() *fakePort {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.ports) == 0 {
		return nil
	}
	return d.ports[len(d.ports)-1]
}

func enumerate(ports ...*enumerator.PortDetails) device.EnumerateFunc {
	return func() ([]*enumerator.PortDetails, error) { return ports, nil }
}

var (
	ch340   = &enumerator.PortDetails{Name: "/dev/ttyUSB1", IsUSB: true, VID: "1a86", PID: "7523", Product: "USB Serial"}
	unknown = &enumerator.PortDetails{Name: "/dev/ttyUSB0", IsUSB: true, VID: "046d", PID: "c52b"}
)
