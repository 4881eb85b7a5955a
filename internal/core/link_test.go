package core

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"

	"ArduinoLink/internal/device"
	"ArduinoLink/internal/model"
	"ArduinoLink/internal/permission"
	"ArduinoLink/internal/session"
)

// silentPlatform never answers; tests resolve requests through the gate.
type silentPlatform struct{}

func (silentPlatform) Request(device.Descriptor, permission.Token, func(permission.Event)) error {
	return nil
}

type harness struct {
	link     *Link
	driver   *fakeDriver
	events   chan Event
	readings chan model.Reading
}

func newHarness(t *testing.T, platform permission.Platform, ports ...*enumerator.PortDetails) *harness {
	t.Helper()
	drv := &fakeDriver{}
	opts := DefaultLinkOptions()
	opts.PollInterval = 5 * time.Millisecond
	link := NewLink(
		device.NewLocatorWith(enumerate(ports...)),
		device.NewProbeTable(device.ProbeEntry{VendorID: 0x1A86, ProductID: 0x7523, Chip: "CH340", Driver: drv}),
		platform,
		opts,
	)
	h := &harness{
		link:     link,
		driver:   drv,
		events:   make(chan Event, 32),
		readings: make(chan model.Reading, 32),
	}
	link.OnEvent(func(ev Event) { h.events <- ev })
	link.OnReading(func(r model.Reading) { h.readings <- r })
	t.Cleanup(func() { _ = link.Disconnect() })
	return h
}

func (h *harness) expect(t *testing.T, kind EventKind) Event {
	t.Helper()
	select {
	case ev := <-h.events:
		require.Equal(t, kind, ev.Kind, "unexpected event %+v", ev)
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", kind)
	}
	return Event{}
}

func TestLink_ConnectSendDisconnect(t *testing.T) {
	h := newHarness(t, permission.GrantAll{}, unknown, ch340)

	token, err := h.link.Connect(device.MatchExact(0x1A86, 0x7523))
	require.NoError(t, err)
	require.NotEmpty(t, token)

	pending := h.expect(t, EventPermissionPending)
	require.Equal(t, "/dev/ttyUSB1", pending.Device.Path)
	h.expect(t, EventConnected)

	n, err := h.link.SendString(device.ToggleCommand, 0)
	require.NoError(t, err)
	require.Equal(t, 6, n)

	port := h.driver.last()
	port.incoming <- []byte("LED ON\r\n")
	select {
	case r := <-h.readings:
		require.Equal(t, "LED ON", r.Line)
		require.Equal(t, "ttyUSB1 (1a86:7523)", r.Device)
	case <-time.After(2 * time.Second):
		t.Fatal("no reading delivered")
	}

	st := h.link.Status()
	require.True(t, st.Connected)
	require.Equal(t, "running", st.LoopState)

	require.NoError(t, h.link.Disconnect())
	h.expect(t, EventDisconnected)
	require.Equal(t, session.LoopStopped, h.link.LoopState())
	require.False(t, h.link.Status().Connected)

	_, err = h.link.SendString(device.ToggleCommand, 0)
	require.ErrorIs(t, err, session.ErrSessionClosed)
	require.Equal(t, "toggle", string(port.written))
}

func TestLink_NotFound(t *testing.T) {
	h := newHarness(t, permission.GrantAll{}, unknown)

	_, err := h.link.Connect(device.MatchExact(0x1A86, 0x7523))
	require.ErrorIs(t, err, device.ErrNotFound)
	ev := h.expect(t, EventNotFound)
	require.Equal(t, EventNotFound, Classify(ev.Err))
	require.Nil(t, h.link.Slot().Current())
}

func TestLink_PermissionDenied(t *testing.T) {
	h := newHarness(t, silentPlatform{}, ch340)

	token, err := h.link.Connect(device.MatchFirst())
	require.NoError(t, err)
	pending := h.expect(t, EventPermissionPending)

	d := pending.Device
	require.NoError(t, h.link.Gate().HandleEvent(permission.Event{Token: token, Device: &d, Granted: false}))
	ev := h.expect(t, EventPermissionDenied)
	require.ErrorIs(t, ev.Err, permission.ErrPermissionDenied)
	require.Equal(t, session.StateIdle, h.link.Slot().State())
	require.Nil(t, h.driver.last())
}

func TestLink_MalformedPermissionEvent(t *testing.T) {
	h := newHarness(t, silentPlatform{}, ch340)

	token, err := h.link.Connect(device.MatchFirst())
	require.NoError(t, err)
	h.expect(t, EventPermissionPending)

	err = h.link.Gate().HandleEvent(permission.Event{Token: token, Granted: true})
	require.ErrorIs(t, err, permission.ErrMalformedEvent)
	h.expect(t, EventPermissionError)
	require.Equal(t, session.StateIdle, h.link.Slot().State())
}

func TestLink_UnsupportedDevice(t *testing.T) {
	h := newHarness(t, permission.GrantAll{}, unknown)

	_, err := h.link.Connect(device.MatchFirst())
	require.NoError(t, err)
	h.expect(t, EventPermissionPending)
	ev := h.expect(t, EventOpenFailed)
	require.ErrorIs(t, ev.Err, session.ErrUnsupportedDevice)
	require.Equal(t, EventOpenFailed, Classify(ev.Err))
}

func TestLink_ConnectWhileOpen(t *testing.T) {
	h := newHarness(t, permission.GrantAll{}, ch340)

	_, err := h.link.Connect(device.MatchFirst())
	require.NoError(t, err)
	h.expect(t, EventPermissionPending)
	h.expect(t, EventConnected)

	_, err = h.link.Connect(device.MatchFirst())
	require.ErrorIs(t, err, session.ErrAlreadyOpen)
}

func TestLink_ConnectionLostReturnsToIdle(t *testing.T) {
	h := newHarness(t, permission.GrantAll{}, ch340)

	_, err := h.link.Connect(device.MatchFirst())
	require.NoError(t, err)
	h.expect(t, EventPermissionPending)
	h.expect(t, EventConnected)

	h.driver.last().readErr <- errors.New("input/output error")
	lost := h.expect(t, EventConnectionLost)
	require.Error(t, lost.Err)
	h.expect(t, EventDisconnected)
	require.Equal(t, session.StateIdle, h.link.Slot().State())
	require.Equal(t, session.LoopFaulted, h.link.LoopState())

	_, err = h.link.Connect(device.MatchFirst())
	require.NoError(t, err)
	h.expect(t, EventPermissionPending)
	h.expect(t, EventConnected)
	require.Len(t, h.driver.ports, 2)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want EventKind
	}{
		{nil, ""},
		{fmt.Errorf("scan: %w", device.ErrNotFound), EventNotFound},
		{permission.ErrPermissionDenied, EventPermissionDenied},
		{permission.ErrUnknownToken, EventPermissionError},
		{&session.OpenError{Err: session.ErrHandleUnavailable}, EventOpenFailed},
		{&session.IoError{Op: "write", Err: session.ErrWriteTimeout}, EventIOError},
		{errors.New("boom"), EventError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Classify(tc.err), "%v", tc.err)
	}
}

func TestEventMessage(t *testing.T) {
	ev := Event{
		Kind:   EventConnectionLost,
		Device: device.Descriptor{VendorID: 0x1A86, ProductID: 0x7523, Path: "/dev/ttyUSB0"},
		Err:    errors.New("eof"),
		Time:   time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	require.Equal(t, model.LinkEvent{
		Kind:      "connection_lost",
		Device:    "ttyUSB0 (1a86:7523)",
		Error:     "eof",
		Timestamp: "2024-05-01T10:00:00Z",
	}, ev.Message())
}

func TestLink_DisconnectCancelsPendingPermission(t *testing.T) {
	h := newHarness(t, silentPlatform{}, ch340)

	token, err := h.link.Connect(device.MatchFirst())
	require.NoError(t, err)
	pending := h.expect(t, EventPermissionPending)

	require.NoError(t, h.link.Disconnect())
	require.Equal(t, permission.Denied, h.link.Gate().State(token))

	d := pending.Device
	err = h.link.Gate().HandleEvent(permission.Event{Token: token, Device: &d, Granted: true})
	require.ErrorIs(t, err, permission.ErrUnknownToken)
	require.Equal(t, session.StateIdle, h.link.Slot().State())
	require.Nil(t, h.driver.last())
	require.Empty(t, h.events)
}
