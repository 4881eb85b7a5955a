package device

import (
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"

	"ArduinoLink/internal/util"
)

// ToggleCommand is the payload the LED sketch reacts to.
const ToggleCommand = "toggle"

// ArduinoSimulator behaves like the LED sketch on the far end of a serial link.
// Commands are raw bytes without framing; every occurrence of "toggle" in a
// read flips the LED.
type ArduinoSimulator struct {
	ID       string
	Interval time.Duration

	rw     io.ReadWriter
	wmu    sync.Mutex
	mu     sync.Mutex
	led    bool
	Sample func() string
}

// NewArduinoSimulator creates a simulator writing to rw, typically a PTY master.
func NewArduinoSimulator(id string, rw io.ReadWriter, interval time.Duration) *ArduinoSimulator {
	sim := &ArduinoSimulator{ID: id, Interval: interval, rw: rw}
	sim.Sample = sim.defaultSample
	return sim
}

// LED reports the simulated LED state.
func (a *ArduinoSimulator) LED() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.led
}

// Run serves commands and emits a sensor line every Interval until stop is
// closed or the stream fails. The command reader exits when rw is closed.
func (a *ArduinoSimulator) Run(stop <-chan struct{}) error {
	util.Info("[arduino %s] simulator started (interval %s)", a.ID, a.Interval)

	errCh := make(chan error, 1)
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := a.rw.Read(buf)
			if n > 0 {
				a.handle(string(buf[:n]))
			}
			if err != nil {
				errCh <- err
				return
			}
		}
	}()

	var tick <-chan time.Time
	if a.Interval > 0 {
		ticker := time.NewTicker(a.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-stop:
			util.Info("[arduino %s] simulation stopped", a.ID)
			return nil
		case err := <-errCh:
			return fmt.Errorf("arduino %s command stream: %w", a.ID, err)
		case <-tick:
			if err := a.writeLine(a.Sample()); err != nil {
				util.Warn("[arduino %s] simulate write error: %v", a.ID, err)
			}
		}
	}
}

func (a *ArduinoSimulator) handle(payload string) {
	cmd := strings.TrimSpace(payload)
	if cmd == "" {
		return
	}
	n := strings.Count(cmd, ToggleCommand)
	if n == 0 {
		util.Debug("[arduino %s] ignoring command %q", a.ID, cmd)
		return
	}
	a.mu.Lock()
	for i := 0; i < n; i++ {
		a.led = !a.led
	}
	on := a.led
	a.mu.Unlock()

	state := "OFF"
	if on {
		state = "ON"
	}
	if err := a.writeLine("LED " + state); err != nil {
		util.Warn("[arduino %s] reply error: %v", a.ID, err)
	}
}

func (a *ArduinoSimulator) writeLine(line string) error {
	a.wmu.Lock()
	defer a.wmu.Unlock()
	_, err := io.WriteString(a.rw, line+"\r\n")
	return err
}

func (a *ArduinoSimulator) defaultSample() string {
	led := "off"
	if a.LED() {
		led = "on"
	}
	temp := 22.0 + rand.Float64()*4
	light := 300 + rand.Intn(400)
	return fmt.Sprintf("temp=%.2f light=%d led=%s", temp, light, led)
}
