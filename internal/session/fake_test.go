package session

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"go.uber.org/atomic"
	serial "go.bug.st/serial"

	"ArduinoLink/internal/device"
)

var errReleased = errors.New("handle released")

// fakePort is an in-memory device.Port that counts any use after Close.
type fakePort struct {
	mu          sync.Mutex
	readTimeout time.Duration
	written     bytes.Buffer
	writeDelay  time.Duration
	timeoutErr  error

	incoming chan []byte
	readErr  chan error
	released chan struct{}
	once     sync.Once

	reads  atomic.Int32
	misuse atomic.Int32
	closes atomic.Int32
	resets atomic.Int32
}

func newFakePort() *fakePort {
	return &fakePort{
		readTimeout: 5 * time.Millisecond,
		incoming:    make(chan []byte, 16),
		readErr:     make(chan error, 1),
		released:    make(chan struct{}),
	}
}

func (p *fakePort) isReleased() bool {
	select {
	case <-p.released:
		return true
	default:
		return false
	}
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	if p.timeoutErr != nil {
		return p.timeoutErr
	}
	p.mu.Lock()
	p.readTimeout = t
	p.mu.Unlock()
	return nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	if p.isReleased() {
		p.misuse.Inc()
		return 0, errReleased
	}
	p.reads.Inc()
	p.mu.Lock()
	timeout := p.readTimeout
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
	if p.isReleased() {
		p.misuse.Inc()
		return 0, errReleased
	}
	if p.writeDelay > 0 {
		select {
		case <-time.After(p.writeDelay):
		case <-p.released:
			return 0, errReleased
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *fakePort) ResetOutputBuffer() error {
	if p.isReleased() {
		p.misuse.Inc()
		return errReleased
	}
	p.resets.Inc()
	return nil
}

func (p *fakePort) Close() error {
	p.closes.Inc()
	p.once.Do(func() { close(p.released) })
	return nil
}

func (p *fakePort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

type fakeDriver struct {
	port *fakePort
	err  error
	mode *serial.Mode
}

func (d *fakeDriver) Open(_ device.Descriptor, mode *serial.Mode) (device.Port, error) {
	d.mode = mode
	if d.err != nil {
		return nil, d.err
	}
	return d.port, nil
}

var (
	uno  = device.Descriptor{VendorID: 0x1A86, ProductID: 0x7523, Path: "/dev/ttyUSB0"}
	nano = device.Descriptor{VendorID: 0x2341, ProductID: 0x0043, Path: "/dev/ttyACM0"}
)
