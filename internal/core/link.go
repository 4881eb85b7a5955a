package core

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"ArduinoLink/internal/device"
	"ArduinoLink/internal/model"
	"ArduinoLink/internal/permission"
	"ArduinoLink/internal/session"
	"ArduinoLink/internal/util"
)

// EventKind tells callers what happened to the link, so they can present
// distinct states such as "no device" or "connection lost".
type EventKind string

const (
	EventPermissionPending EventKind = "permission_pending"
	EventConnected         EventKind = "connected"
	EventDisconnected      EventKind = "disconnected"
	EventNotFound          EventKind = "not_found"
	EventPermissionDenied  EventKind = "permission_denied"
	EventPermissionError   EventKind = "permission_error"
	EventOpenFailed        EventKind = "open_failed"
	EventConnectionLost    EventKind = "connection_lost"
	EventIOError           EventKind = "io_error"
	EventError             EventKind = "error"
)

// Event is delivered to link observers.
type Event struct {
	Kind   EventKind
	Device device.Descriptor
	Err    error
	Time   time.Time
}

// Message converts the event into its wire form.
func (e Event) Message() model.LinkEvent {
	msg := model.LinkEvent{Kind: string(e.Kind), Timestamp: e.Time.UTC().Format(time.RFC3339Nano)}
	if e.Device.Path != "" {
		msg.Device = e.Device.String()
	}
	if e.Err != nil {
		msg.Error = e.Err.Error()
	}
	return msg
}

// Classify maps an error returned by the link to the event kind callers show.
func Classify(err error) EventKind {
	var openErr *session.OpenError
	var ioErr *session.IoError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, device.ErrNotFound):
		return EventNotFound
	case errors.Is(err, permission.ErrPermissionDenied):
		return EventPermissionDenied
	case errors.Is(err, permission.ErrMalformedEvent),
		errors.Is(err, permission.ErrUnknownToken),
		errors.Is(err, permission.ErrDeviceMismatch):
		return EventPermissionError
	case errors.As(err, &openErr):
		return EventOpenFailed
	case errors.As(err, &ioErr):
		return EventIOError
	}
	return EventError
}

// LinkOptions configures how sessions are opened and drained.
type LinkOptions struct {
	Params       session.LineParameters
	PollInterval time.Duration
	BufferSize   int
	Framing      session.Framing
	WriteTimeout time.Duration
}

// DefaultLinkOptions returns 9600-8-N-1 with a one second poll and write timeout.
func DefaultLinkOptions() LinkOptions {
	return LinkOptions{
		Params:       session.DefaultLineParameters(),
		PollInterval: time.Second,
		BufferSize:   1024,
		Framing:      session.FramingFragment,
		WriteTimeout: time.Second,
	}
}

// Link composes the device locator, permission gate, session slot and read
// loop behind the connect, disconnect and send verbs.
type Link struct {
	locator *device.Locator
	prober  device.Prober
	gate    *permission.Gate
	slot    *session.Slot
	opts    LinkOptions

	mu       sync.Mutex
	pending  permission.Token
	loop     *session.ReadLoop
	lineFns  []func(model.Reading)
	eventFns []func(Event)
}

// NewLink wires the components together. Permission answers from platform
// open the session asynchronously.
func NewLink(locator *device.Locator, prober device.Prober, platform permission.Platform, opts LinkOptions) *Link {
	l := &Link{
		locator: locator,
		prober:  prober,
		gate:    permission.NewGate(platform),
		slot:    session.NewSlot(),
		opts:    opts,
	}
	l.gate.OnGranted(l.handleGranted)
	l.gate.OnDenied(l.handleDenied)
	l.slot.OnChange(l.handleChange)
	return l
}

// Gate exposes the permission gate, e.g. to feed platform events by hand.
func (l *Link) Gate() *permission.Gate { return l.gate }

// Slot exposes the session slot.
func (l *Link) Slot() *session.Slot { return l.slot }

// Options returns the link options.
func (l *Link) Options() LinkOptions { return l.opts }

// OnReading registers a consumer for decoded lines.
func (l *Link) OnReading(fn func(model.Reading)) {
	l.mu.Lock()
	l.lineFns = append(l.lineFns, fn)
	l.mu.Unlock()
}

// OnEvent registers an observer for state changes and failures.
func (l *Link) OnEvent(fn func(Event)) {
	l.mu.Lock()
	l.eventFns = append(l.eventFns, fn)
	l.mu.Unlock()
}

// Connect locates a device matching c and requests permission for it. The
// session opens later, when the platform grants access; observers receive
// EventConnected or a failure event.
func (l *Link) Connect(c device.Criteria) (permission.Token, error) {
	if sess := l.slot.Current(); sess != nil {
		return "", &session.OpenError{Device: sess.Device(), Err: session.ErrAlreadyOpen}
	}
	d, err := l.locator.Find(c)
	if err != nil {
		if errors.Is(err, device.ErrNotFound) {
			util.Info("[link] no device matching %s", c)
			l.emit(Event{Kind: EventNotFound, Err: err})
		} else {
			l.emit(Event{Kind: EventError, Err: err})
		}
		return "", err
	}
	token, err := l.gate.Request(d)
	if err != nil {
		l.emit(Event{Kind: EventPermissionError, Device: d, Err: err})
		return "", err
	}
	l.mu.Lock()
	l.pending = token
	l.mu.Unlock()
	l.emit(Event{Kind: EventPermissionPending, Device: d})
	return token, nil
}

// Disconnect cancels an unanswered permission request, closes the open
// session and waits for its read loop to stop. It is a no-op when nothing is
// pending or open.
func (l *Link) Disconnect() error {
	l.mu.Lock()
	token := l.pending
	l.pending = ""
	l.mu.Unlock()
	if token != "" && l.gate.State(token) == permission.Pending {
		if err := l.gate.Cancel(token); err != nil {
			util.Debug("[link] cancel permission request: %v", err)
		}
	}

	sess := l.slot.Current()
	if sess == nil {
		return nil
	}
	err := sess.Close()
	l.mu.Lock()
	loop := l.loop
	l.mu.Unlock()
	if loop != nil {
		loop.Wait()
	}
	return err
}

// Send writes payload to the open session using timeout, or the configured
// write timeout when timeout is zero.
func (l *Link) Send(payload []byte, timeout time.Duration) (int, error) {
	sess := l.slot.Current()
	if sess == nil {
		return 0, &session.IoError{Op: "write", Err: session.ErrSessionClosed}
	}
	if timeout <= 0 {
		timeout = l.opts.WriteTimeout
	}
	n, err := sess.Write(payload, timeout)
	if err != nil {
		util.Warn("[link] send to %s failed: %v", sess.Device(), err)
	}
	return n, err
}

// SendString writes a text command.
func (l *Link) SendString(cmd string, timeout time.Duration) (int, error) {
	return l.Send([]byte(cmd), timeout)
}

// Status returns a snapshot of the link.
func (l *Link) Status() model.LinkStatus {
	st := model.LinkStatus{LoopState: session.LoopIdle.String()}
	if sess := l.slot.Current(); sess != nil {
		st.Connected = true
		st.Device = sess.Device().String()
	}
	l.mu.Lock()
	if l.loop != nil {
		st.LoopState = l.loop.State().String()
	}
	l.mu.Unlock()
	return st
}

// LoopState returns the state of the most recent read loop.
func (l *Link) LoopState() session.LoopState {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loop == nil {
		return session.LoopIdle
	}
	return l.loop.State()
}

func (l *Link) handleGranted(d device.Descriptor, _ permission.Token) {
	drv := l.prober.Probe(d)
	sess, err := l.slot.Open(d, drv, l.opts.Params, l.opts.PollInterval)
	if err != nil {
		util.Error("[link] %v", err)
		l.emit(Event{Kind: EventOpenFailed, Device: d, Err: err})
		return
	}

	loop := session.NewReadLoop(sess, &linkConsumer{link: l, session: sess},
		session.WithFraming(l.opts.Framing),
		session.WithBufferSize(l.opts.BufferSize),
	)
	l.mu.Lock()
	l.loop = loop
	l.mu.Unlock()
	if err := loop.Start(); err != nil {
		util.Error("[link] start read loop: %v", err)
	}
}

func (l *Link) handleDenied(d device.Descriptor, _ permission.Token, err error) {
	kind := EventPermissionDenied
	if !errors.Is(err, permission.ErrPermissionDenied) {
		kind = EventPermissionError
	}
	l.emit(Event{Kind: kind, Device: d, Err: err})
}

func (l *Link) handleChange(c session.Change) {
	switch c.State {
	case session.StateOpen:
		l.emit(Event{Kind: EventConnected, Device: c.Device})
	case session.StateIdle:
		l.emit(Event{Kind: EventDisconnected, Device: c.Device})
	}
}

func (l *Link) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	l.mu.Lock()
	fns := append([]func(Event){}, l.eventFns...)
	l.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (l *Link) publish(r model.Reading) {
	l.mu.Lock()
	fns := append([]func(model.Reading){}, l.lineFns...)
	l.mu.Unlock()
	for _, fn := range fns {
		fn(r)
	}
}

// linkConsumer forwards loop output to the link. A fault closes the session
// so the link returns to idle and can be reconnected.
type linkConsumer struct {
	link    *Link
	session *session.Session
}

func (c *linkConsumer) OnLine(line string) {
	util.Debug("[link] received data: %s", line)
	c.link.publish(model.Reading{
		Line:      line,
		Device:    c.session.Device().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (c *linkConsumer) OnFault(err error) {
	c.link.emit(Event{Kind: EventConnectionLost, Device: c.session.Device(), Err: fmt.Errorf("connection lost: %w", err)})
	_ = c.session.Close()
}
