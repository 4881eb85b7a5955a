// Package permission implements the permission gate that sits between device
// discovery and opening a session. Requests are answered asynchronously by a
// host Platform; each answer carries the correlation token of its request.
package permission

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"ArduinoLink/internal/device"
	"ArduinoLink/internal/util"
)

var (
	// ErrUnknownToken is returned for events that match no pending request.
	ErrUnknownToken = errors.New("permission event for unknown request")
	// ErrMalformedEvent is returned for events without a device identity.
	ErrMalformedEvent = errors.New("malformed permission event: missing device")
	// ErrDeviceMismatch is returned when the event names another device than the request.
	ErrDeviceMismatch = errors.New("permission event device does not match request")
	// ErrPermissionDenied is reported to OnDenied when the user refuses access.
	ErrPermissionDenied = errors.New("permission denied")
)

// State is the lifecycle of one permission request.
type State int

const (
	Unrequested State = iota
	Pending
	Granted
	Denied
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "unrequested"
	}
}

// Token correlates a request with its answer.
type Token string

// Event is the platform's answer to a request.
type Event struct {
	Token   Token
	Device  *device.Descriptor
	Granted bool
}

// Platform prompts the host for access to a device. The answer is delivered
// later through reply, from any goroutine.
type Platform interface {
	Request(d device.Descriptor, token Token, reply func(Event)) error
}

type request struct {
	device device.Descriptor
	state  State
}

// Gate tracks permission requests and resolves each exactly once.
type Gate struct {
	platform Platform

	mu       sync.Mutex
	requests map[Token]*request

	onGranted func(d device.Descriptor, token Token)
	onDenied  func(d device.Descriptor, token Token, err error)
	newToken  func() Token
}

// NewGate creates a gate answering through p.
func NewGate(p Platform) *Gate {
	return &Gate{
		platform: p,
		requests: make(map[Token]*request),
		newToken: randomToken,
	}
}

// OnGranted registers the callback invoked once per granted request.
func (g *Gate) OnGranted(fn func(d device.Descriptor, token Token)) {
	g.mu.Lock()
	g.onGranted = fn
	g.mu.Unlock()
}

// OnDenied registers the callback invoked once per denied or aborted request.
func (g *Gate) OnDenied(fn func(d device.Descriptor, token Token, err error)) {
	g.mu.Lock()
	g.onDenied = fn
	g.mu.Unlock()
}

// Request records a pending request for d and asks the platform to prompt.
func (g *Gate) Request(d device.Descriptor) (Token, error) {
	token := g.newToken()

	g.mu.Lock()
	for t, r := range g.requests {
		if r.state != Pending {
			delete(g.requests, t)
		}
	}
	g.requests[token] = &request{device: d, state: Pending}
	g.mu.Unlock()

	util.Info("[permission] requesting access to %s (token %s)", d, token)
	if err := g.platform.Request(d, token, g.deliver); err != nil {
		g.mu.Lock()
		delete(g.requests, token)
		g.mu.Unlock()
		return "", fmt.Errorf("request permission for %s: %w", d, err)
	}
	return token, nil
}

// State reports the state of the request identified by token.
func (g *Gate) State(token Token) State {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.requests[token]; ok {
		return r.state
	}
	return Unrequested
}

// HandleEvent resolves the pending request named by ev. Events for unknown or
// already resolved tokens leave all state untouched.
func (g *Gate) HandleEvent(ev Event) error {
	g.mu.Lock()
	r, ok := g.requests[ev.Token]
	if !ok || r.state != Pending {
		g.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownToken, ev.Token)
	}
	if ev.Device != nil && ev.Device.Path != r.device.Path {
		g.mu.Unlock()
		return fmt.Errorf("%w: got %s, want %s", ErrDeviceMismatch, ev.Device, r.device)
	}

	var cause error
	switch {
	case ev.Device == nil:
		r.state = Denied
		cause = ErrMalformedEvent
	case ev.Granted:
		r.state = Granted
	default:
		r.state = Denied
		cause = ErrPermissionDenied
	}
	d := r.device
	onGranted, onDenied := g.onGranted, g.onDenied
	g.mu.Unlock()

	if cause != nil {
		util.Warn("[permission] %s: %v", d, cause)
		if onDenied != nil {
			onDenied(d, ev.Token, cause)
		}
		if errors.Is(cause, ErrMalformedEvent) {
			return cause
		}
		return nil
	}

	util.Info("[permission] access granted to %s", d)
	if onGranted != nil {
		onGranted(d, ev.Token)
	}
	return nil
}

// Cancel resolves a pending request to Denied without invoking callbacks.
// A later platform answer for token is rejected as unknown.
func (g *Gate) Cancel(token Token) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.requests[token]
	if !ok || r.state != Pending {
		return fmt.Errorf("%w: %q", ErrUnknownToken, token)
	}
	r.state = Denied
	util.Info("[permission] request for %s cancelled", r.device)
	return nil
}

// deliver is the reply sink handed to platforms.
func (g *Gate) deliver(ev Event) {
	if err := g.HandleEvent(ev); err != nil {
		util.Error("[permission] dropped event: %v", err)
	}
}

func randomToken() Token {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("permission: read random token: %v", err))
	}
	return Token(hex.EncodeToString(b[:]))
}
