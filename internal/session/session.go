// Package session owns the open serial port: it enforces that at most one
// session is live per Slot, guards the handle against use after close, and
// runs the background read loop that drains incoming bytes.
package session

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"

	"ArduinoLink/internal/device"
	"ArduinoLink/internal/util"
)

// DefaultCloseGrace bounds how long Close waits for in-flight I/O before it
// releases the handle underneath it.
const DefaultCloseGrace = 2 * time.Second

// State is the externally visible state of a Slot.
type State int

const (
	StateIdle State = iota
	StateOpen
)

func (s State) String() string {
	if s == StateOpen {
		return "open"
	}
	return "idle"
}

// Change is delivered to observers when a session opens or closes.
type Change struct {
	State  State
	Device device.Descriptor
}

// Slot admits at most one open Session at a time. Each open or close holds
// transition until its observers have run, so notifications arrive in the
// order the transitions happened.
type Slot struct {
	busy       atomic.Bool
	transition sync.Mutex

	mu        sync.Mutex
	current   *Session
	observers []func(Change)

	CloseGrace time.Duration
}

// NewSlot creates an empty slot.
func NewSlot() *Slot {
	return &Slot{CloseGrace: DefaultCloseGrace}
}

// OnChange registers fn to be called on every open and close. Observers run
// synchronously on the goroutine that caused the change and must not call
// Open or Close on the same slot.
func (s *Slot) OnChange(fn func(Change)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Current returns the open session, or nil.
func (s *Slot) Current() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// State reports whether a session is open.
func (s *Slot) State() State {
	if s.busy.Load() {
		return StateOpen
	}
	return StateIdle
}

// Open opens d through drv, applies p and bounds reads by pollInterval.
// It fails with *OpenError when a session is already open, when drv is nil,
// or when the handle cannot be obtained.
func (s *Slot) Open(d device.Descriptor, drv device.Driver, p LineParameters, pollInterval time.Duration) (*Session, error) {
	s.transition.Lock()
	defer s.transition.Unlock()
	if !s.busy.CompareAndSwap(false, true) {
		return nil, &OpenError{Device: d, Err: ErrAlreadyOpen}
	}
	if drv == nil {
		s.busy.Store(false)
		return nil, &OpenError{Device: d, Err: ErrUnsupportedDevice}
	}

	port, err := drv.Open(d, p.Mode())
	if err != nil {
		s.busy.Store(false)
		return nil, &OpenError{Device: d, Err: fmt.Errorf("%w: %w", ErrHandleUnavailable, err)}
	}
	if pollInterval > 0 {
		if err := port.SetReadTimeout(pollInterval); err != nil {
			_ = port.Close()
			s.busy.Store(false)
			return nil, &OpenError{Device: d, Err: fmt.Errorf("%w: set read timeout: %w", ErrHandleUnavailable, err)}
		}
	}

	grace := s.CloseGrace
	if grace <= 0 {
		grace = DefaultCloseGrace
	}
	sess := &Session{
		device: d,
		params: p,
		poll:   pollInterval,
		port:   port,
		slot:   s,
		grace:  grace,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()

	util.Info("[session] opened %s at %s", d, p)
	s.notify(Change{State: StateOpen, Device: d})
	return sess, nil
}

// Close closes the current session, if any.
func (s *Slot) Close() error {
	if sess := s.Current(); sess != nil {
		return sess.Close()
	}
	return nil
}

func (s *Slot) release(sess *Session) {
	s.transition.Lock()
	defer s.transition.Unlock()
	s.mu.Lock()
	if s.current != sess {
		s.mu.Unlock()
		return
	}
	s.current = nil
	s.busy.Store(false)
	s.mu.Unlock()
	s.notify(Change{State: StateIdle, Device: sess.device})
}

func (s *Slot) notify(c Change) {
	s.mu.Lock()
	observers := append([]func(Change){}, s.observers...)
	s.mu.Unlock()
	for _, fn := range observers {
		fn(c)
	}
}

// Session is one open connection. In-flight reads and writes hold mu shared;
// Close takes it exclusively, so the handle is never released under them.
type Session struct {
	device device.Descriptor
	params LineParameters
	poll   time.Duration
	slot   *Slot
	grace  time.Duration

	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	mu   sync.RWMutex
	port device.Port
}

// Device returns the descriptor the session was opened for.
func (s *Session) Device() device.Descriptor { return s.device }

// Params returns the applied line parameters.
func (s *Session) Params() LineParameters { return s.params }

// PollInterval returns the per-read timeout.
func (s *Session) PollInterval() time.Duration { return s.poll }

// Closed reports whether Close has been called.
func (s *Session) Closed() bool { return s.closed.Load() }

// Done is closed as soon as Close begins.
func (s *Session) Done() <-chan struct{} { return s.done }

// Read reads available bytes, blocking at most the poll interval. A timeout
// returns 0, nil.
func (s *Session) Read(buf []byte) (int, error) {
	if s.closed.Load() {
		return 0, &IoError{Op: "read", Err: ErrSessionClosed}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return 0, &IoError{Op: "read", Err: ErrSessionClosed}
	}
	n, err := s.port.Read(buf)
	if err != nil {
		if s.closed.Load() {
			return n, &IoError{Op: "read", Err: ErrSessionClosed}
		}
		return n, &IoError{Op: "read", Err: err}
	}
	return n, nil
}

// Write writes b, giving up after timeout. A timeout of zero waits for the
// transport. Failures never change the session state.
func (s *Session) Write(b []byte, timeout time.Duration) (int, error) {
	if s.closed.Load() {
		return 0, &IoError{Op: "write", Err: ErrSessionClosed}
	}
	s.mu.RLock()
	if s.closed.Load() {
		s.mu.RUnlock()
		return 0, &IoError{Op: "write", Err: ErrSessionClosed}
	}

	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer s.mu.RUnlock()
		n, err := s.port.Write(b)
		ch <- result{n, err}
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return res.n, &IoError{Op: "write", Err: res.err}
		}
		return res.n, nil
	case <-expired:
		s.discardOutput()
		return 0, &IoError{Op: "write", Err: fmt.Errorf("%w after %s", ErrWriteTimeout, timeout)}
	case <-s.done:
		return 0, &IoError{Op: "write", Err: ErrSessionClosed}
	}
}

// outputResetter is implemented by go.bug.st/serial ports.
type outputResetter interface {
	ResetOutputBuffer() error
}

// discardOutput drops bytes of a timed out write that the driver has not
// transmitted yet. Bytes already on the wire cannot be recalled.
func (s *Session) discardOutput() {
	r, ok := s.port.(outputResetter)
	if !ok || s.closed.Load() {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return
	}
	if err := r.ResetOutputBuffer(); err != nil {
		util.Warn("[session] %s: discard output: %v", s.device, err)
	}
}

// Close marks the session closed, waits for in-flight I/O and releases the
// handle. Calling it again is a no-op.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)

		locked := make(chan struct{})
		go func() {
			s.mu.Lock()
			close(locked)
		}()

		released := false
		select {
		case <-locked:
		case <-time.After(s.grace):
			util.Warn("[session] %s: in-flight I/O did not drain in %s, releasing handle", s.device, s.grace)
			s.closeErr = s.port.Close()
			released = true
			<-locked
		}
		if !released {
			s.closeErr = s.port.Close()
		}
		s.mu.Unlock()

		if s.closeErr != nil {
			util.Warn("[session] close %s: %v", s.device, s.closeErr)
		} else {
			util.Info("[session] closed %s", s.device)
		}
		s.slot.release(s)
	})
	return nil
}
