// Arduino simulator: opens a pseudo-terminal and behaves like the LED sketch on
// its master side. Point arduinolink at the printed path with -dev.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ArduinoLink/internal/device"
	"ArduinoLink/internal/util"
)

func main() {
	id := flag.String("id", "UNO_SIM_01", "simulated board id")
	interval := flag.Int("interval", 1000, "ms between sensor lines (0 disables)")
	link := flag.String("link", "", "optional symlink to create for the slave device")
	level := flag.String("log", "info", "log level")
	flag.Parse()

	if err := util.SetupLogger(os.Stderr, *level, true); err != nil {
		util.Fatal("failed to set up logger: %v", err)
	}

	vsm := util.NewVirtualSerialManager()
	defer vsm.Cleanup()

	vp, err := vsm.CreatePort(*link)
	if err != nil {
		util.Fatal("create virtual port: %v", err)
	}
	fmt.Printf("simulated arduino on %s\n", vp.Path)

	sim := device.NewArduinoSimulator(*id, vp.Master, time.Duration(*interval)*time.Millisecond)

	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		close(stop)
	}()

	if err := sim.Run(stop); err != nil {
		util.Error("simulator stopped: %v", err)
	}
}
