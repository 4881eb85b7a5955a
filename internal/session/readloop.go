package session

import (
	"bytes"
	"errors"
	"strings"

	"go.uber.org/atomic"

	"ArduinoLink/internal/util"
)

// ErrLoopStarted is returned by Start on a loop that already ran.
var ErrLoopStarted = errors.New("read loop already started")

// LoopState is the read loop lifecycle: Idle -> Running -> {Stopped, Faulted}.
type LoopState int32

const (
	LoopIdle LoopState = iota
	LoopRunning
	LoopStopped
	LoopFaulted
)

func (s LoopState) String() string {
	switch s {
	case LoopRunning:
		return "running"
	case LoopStopped:
		return "stopped"
	case LoopFaulted:
		return "faulted"
	default:
		return "idle"
	}
}

// Framing selects how received bytes become lines.
type Framing int

const (
	// FramingFragment decodes each read on its own, without reassembly.
	FramingFragment Framing = iota
	// FramingLines buffers across reads and emits newline-terminated lines.
	FramingLines
)

// ParseFraming maps a config value to a Framing.
func ParseFraming(s string) (Framing, error) {
	switch strings.ToLower(s) {
	case "", "fragment":
		return FramingFragment, nil
	case "lines", "line":
		return FramingLines, nil
	}
	return FramingFragment, errors.New("unknown framing " + s)
}

// Consumer receives decoded lines and at most one fault.
type Consumer interface {
	OnLine(line string)
	OnFault(err error)
}

// ConsumerFuncs adapts two functions to Consumer. Nil fields are skipped.
type ConsumerFuncs struct {
	Line  func(string)
	Fault func(error)
}

// OnLine implements Consumer.
func (c ConsumerFuncs) OnLine(line string) {
	if c.Line != nil {
		c.Line(line)
	}
}

// OnFault implements Consumer.
func (c ConsumerFuncs) OnFault(err error) {
	if c.Fault != nil {
		c.Fault(err)
	}
}

const defaultBufferSize = 1024

// ReadLoop drains an open Session in a background goroutine until the session
// closes or a read fails. It never closes the session itself.
type ReadLoop struct {
	session  *Session
	consumer Consumer
	framing  Framing
	bufSize  int

	state   atomic.Int32
	started atomic.Bool
	done    chan struct{}
	pending []byte
}

// LoopOption configures a ReadLoop.
type LoopOption func(*ReadLoop)

// WithFraming selects the framing mode.
func WithFraming(f Framing) LoopOption {
	return func(l *ReadLoop) { l.framing = f }
}

// WithBufferSize sets the per-read buffer size.
func WithBufferSize(n int) LoopOption {
	return func(l *ReadLoop) {
		if n > 0 {
			l.bufSize = n
		}
	}
}

// NewReadLoop creates an idle loop for s delivering to c.
func NewReadLoop(s *Session, c Consumer, opts ...LoopOption) *ReadLoop {
	l := &ReadLoop{
		session:  s,
		consumer: c,
		bufSize:  defaultBufferSize,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start moves the loop to Running and spawns its goroutine.
func (l *ReadLoop) Start() error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrLoopStarted
	}
	l.state.Store(int32(LoopRunning))
	go l.run()
	return nil
}

// State returns the current loop state.
func (l *ReadLoop) State() LoopState { return LoopState(l.state.Load()) }

// Done is closed when the loop goroutine exits.
func (l *ReadLoop) Done() <-chan struct{} { return l.done }

// Wait blocks until the loop goroutine exits. It returns at once for a loop
// that was never started.
func (l *ReadLoop) Wait() {
	if !l.started.Load() {
		return
	}
	<-l.done
}

func (l *ReadLoop) run() {
	defer close(l.done)
	dev := l.session.Device()
	buf := make([]byte, l.bufSize)
	for {
		if l.session.Closed() {
			l.stop()
			return
		}
		n, err := l.session.Read(buf)
		if n > 0 {
			l.emit(buf[:n])
		}
		if err != nil {
			if errors.Is(err, ErrSessionClosed) || l.session.Closed() {
				l.stop()
				return
			}
			l.state.Store(int32(LoopFaulted))
			util.Error("[readloop] %s: %v", dev, err)
			l.consumer.OnFault(err)
			return
		}
	}
}

func (l *ReadLoop) stop() {
	l.state.Store(int32(LoopStopped))
	util.Debug("[readloop] %s stopped", l.session.Device())
}

func (l *ReadLoop) emit(chunk []byte) {
	if l.framing == FramingFragment {
		l.deliver(chunk)
		return
	}

	l.pending = append(l.pending, chunk...)
	for {
		idx := bytes.IndexByte(l.pending, '\n')
		if idx < 0 {
			break
		}
		l.deliver(l.pending[:idx])
		rest := copy(l.pending, l.pending[idx+1:])
		l.pending = l.pending[:rest]
	}
	// unterminated input is flushed once it spans four buffers
	if len(l.pending) > 4*l.bufSize {
		l.deliver(l.pending)
		l.pending = l.pending[:0]
	}
}

func (l *ReadLoop) deliver(b []byte) {
	line := strings.TrimSpace(strings.ToValidUTF8(string(b), "�"))
	if line == "" {
		return
	}
	l.consumer.OnLine(line)
}
