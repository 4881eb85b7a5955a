package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	serial "go.bug.st/serial"
)

func TestSlot_OpenWriteClose(t *testing.T) {
	slot := NewSlot()
	port := newFakePort()
	drv := &fakeDriver{port: port}

	sess, err := slot.Open(uno, drv, DefaultLineParameters(), time.Second)
	require.NoError(t, err)
	require.Equal(t, StateOpen, slot.State())
	require.Same(t, sess, slot.Current())
	require.Equal(t, 9600, drv.mode.BaudRate)
	require.Equal(t, serial.NoParity, drv.mode.Parity)
	require.Equal(t, time.Second, port.readTimeout)

	n, err := sess.Write([]byte("toggle"), time.Second)
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Equal(t, "toggle", port.Written())

	require.NoError(t, sess.Close())
	require.Equal(t, StateIdle, slot.State())
	require.Nil(t, slot.Current())

	_, err = sess.Write([]byte("toggle"), time.Second)
	var ioErr *IoError
	require.ErrorAs(t, err, &ioErr)
	require.ErrorIs(t, err, ErrSessionClosed)
	require.Equal(t, "toggle", port.Written())

	_, err = sess.Read(make([]byte, 8))
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestSlot_SecondOpenRejected(t *testing.T) {
	slot := NewSlot()
	first, err := slot.Open(uno, &fakeDriver{port: newFakePort()}, DefaultLineParameters(), time.Second)
	require.NoError(t, err)
	defer first.Close()

	other := &fakeDriver{port: newFakePort()}
	_, err = slot.Open(nano, other, DefaultLineParameters(), time.Second)
	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	require.ErrorIs(t, err, ErrAlreadyOpen)
	require.Equal(t, nano, openErr.Device)
	require.Nil(t, other.mode)

	require.Same(t, first, slot.Current())
	n, err := first.Write([]byte("toggle"), time.Second)
	require.NoError(t, err)
	require.Equal(t, 6, n)
}

func TestSlot_UnsupportedDevice(t *testing.T) {
	slot := NewSlot()
	_, err := slot.Open(uno, nil, DefaultLineParameters(), time.Second)
	require.ErrorIs(t, err, ErrUnsupportedDevice)
	require.Equal(t, StateIdle, slot.State())
}

func TestSlot_HandleUnavailable(t *testing.T) {
	slot := NewSlot()
	busy := errors.New("device or resource busy")
	_, err := slot.Open(uno, &fakeDriver{err: busy}, DefaultLineParameters(), time.Second)
	require.ErrorIs(t, err, ErrHandleUnavailable)
	require.ErrorIs(t, err, busy)
	require.Equal(t, StateIdle, slot.State())

	port := newFakePort()
	port.timeoutErr = errors.New("ioctl failed")
	_, err = slot.Open(uno, &fakeDriver{port: port}, DefaultLineParameters(), time.Second)
	require.ErrorIs(t, err, ErrHandleUnavailable)
	require.Equal(t, int32(1), port.closes.Load())
	require.Equal(t, StateIdle, slot.State())

	sess, err := slot.Open(uno, &fakeDriver{port: newFakePort()}, DefaultLineParameters(), time.Second)
	require.NoError(t, err)
	require.NoError(t, sess.Close())
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	slot := NewSlot()
	var mu sync.Mutex
	var changes []Change
	slot.OnChange(func(c Change) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	})

	port := newFakePort()
	sess, err := slot.Open(uno, &fakeDriver{port: port}, DefaultLineParameters(), time.Second)
	require.NoError(t, err)

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
	require.NoError(t, slot.Close())
	require.Equal(t, StateIdle, slot.State())
	require.True(t, sess.Closed())
	require.Equal(t, int32(1), port.closes.Load())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []Change{{State: StateOpen, Device: uno}, {State: StateIdle, Device: uno}}, changes)
}

func TestSession_WriteTimeout(t *testing.T) {
	slot := NewSlot()
	port := newFakePort()
	port.writeDelay = 300 * time.Millisecond
	sess, err := slot.Open(uno, &fakeDriver{port: port}, DefaultLineParameters(), time.Second)
	require.NoError(t, err)

	start := time.Now()
	n, err := sess.Write([]byte("toggle"), 20*time.Millisecond)
	require.ErrorIs(t, err, ErrWriteTimeout)
	require.Zero(t, n)
	require.Less(t, time.Since(start), 250*time.Millisecond)
	require.False(t, sess.Closed())
	require.Equal(t, StateOpen, slot.State())
	require.Equal(t, int32(1), port.resets.Load())

	require.NoError(t, sess.Close())
	require.Zero(t, port.misuse.Load())
}

func TestSession_CloseReleasesStuckWrite(t *testing.T) {
	slot := NewSlot()
	slot.CloseGrace = 50 * time.Millisecond
	port := newFakePort()
	port.writeDelay = time.Hour
	sess, err := slot.Open(uno, &fakeDriver{port: port}, DefaultLineParameters(), time.Second)
	require.NoError(t, err)

	result := make(chan error, 1)
	go func() {
		_, err := sess.Write([]byte("toggle"), 0)
		result <- err
	}()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		_ = sess.Close()
		close(closed)
	}()

	select {
	case err := <-result:
		require.ErrorIs(t, err, ErrSessionClosed)
	case <-time.After(time.Second):
		t.Fatal("write was not released by close")
	}
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("close did not return")
	}
	require.Equal(t, StateIdle, slot.State())
	require.Zero(t, port.misuse.Load())
}

func TestSession_ConcurrentIOAndClose(t *testing.T) {
	for i := 0; i < 20; i++ {
		slot := NewSlot()
		port := newFakePort()
		sess, err := slot.Open(uno, &fakeDriver{port: port}, DefaultLineParameters(), time.Millisecond)
		require.NoError(t, err)

		loop := NewReadLoop(sess, ConsumerFuncs{})
		require.NoError(t, loop.Start())

		var wg sync.WaitGroup
		unexpected := make(chan error, 8)
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					if _, err := sess.Write([]byte("toggle"), 100*time.Millisecond); err != nil {
						if !errors.Is(err, ErrSessionClosed) {
							unexpected <- err
						}
						return
					}
				}
			}()
		}

		time.Sleep(2 * time.Millisecond)
		var cg sync.WaitGroup
		for c := 0; c < 3; c++ {
			cg.Add(1)
			go func() {
				defer cg.Done()
				_ = sess.Close()
			}()
		}
		cg.Wait()
		wg.Wait()
		loop.Wait()
		close(unexpected)

		for err := range unexpected {
			require.NoError(t, err)
		}
		require.Equal(t, LoopStopped, loop.State())
		require.Equal(t, StateIdle, slot.State())
		require.Zero(t, port.misuse.Load())
		require.Equal(t, int32(1), port.closes.Load())
	}
}

func TestSlot_NotificationsFollowTransitionOrder(t *testing.T) {
	slot := NewSlot()
	var mu sync.Mutex
	var changes []Change
	idleEntered := make(chan struct{}, 1)
	slot.OnChange(func(c Change) {
		if c.State == StateIdle {
			idleEntered <- struct{}{}
			time.Sleep(50 * time.Millisecond)
		}
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	})

	first, err := slot.Open(uno, &fakeDriver{port: newFakePort()}, DefaultLineParameters(), time.Second)
	require.NoError(t, err)

	closed := make(chan struct{})
	go func() {
		_ = first.Close()
		close(closed)
	}()
	<-idleEntered

	second, err := slot.Open(nano, &fakeDriver{port: newFakePort()}, DefaultLineParameters(), time.Second)
	require.NoError(t, err)
	<-closed
	defer second.Close()

	require.Equal(t, StateOpen, slot.State())
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []Change{
		{State: StateOpen, Device: uno},
		{State: StateIdle, Device: uno},
		{State: StateOpen, Device: nano},
	}, changes)
}
