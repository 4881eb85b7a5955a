// Package main is the entry point of ArduinoLink.
// It loads the configuration, builds the link, bridge and journal, connects to
// the configured USB serial device and runs until interrupted.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ArduinoLink/internal/core"
	"ArduinoLink/internal/device"
	"ArduinoLink/internal/model"
	"ArduinoLink/internal/util"
)

func main() {
	cfgPath := flag.String("c", "", "path to configuration file (defaults apply when empty)")
	list := flag.Bool("list", false, "list attached USB serial devices and exit")
	dev := flag.String("dev", "", "use this serial port instead of enumerating USB devices")
	addr := flag.String("addr", "", "override bridge listen address")
	connect := flag.Bool("connect", true, "connect on startup")
	stdin := flag.Bool("stdin", false, "send each line read from stdin to the device")
	flag.Parse()

	cfg, err := core.LoadConfig(*cfgPath)
	if err != nil {
		util.Fatal("failed to load config: %v", err)
	}
	if err := util.SetupLogger(os.Stderr, cfg.Log.Level, cfg.Log.Pretty); err != nil {
		util.Fatal("failed to set up logger: %v", err)
	}
	if *dev != "" {
		cfg.Device.Path = *dev
	}
	if *addr != "" {
		cfg.Bridge.Addr = *addr
	}

	if *list {
		if err := listDevices(); err != nil {
			util.Fatal("failed to list devices: %v", err)
		}
		return
	}

	sys, err := core.NewSystemFromConfig(cfg, nil)
	if err != nil {
		util.Fatal("failed to create system: %v", err)
	}
	if err := sys.StartAll(); err != nil {
		util.Fatal("failed to start system: %v", err)
	}

	sys.Link.OnReading(func(r model.Reading) {
		fmt.Println(r.Line)
	})

	if *connect {
		if _, err := sys.Link.Connect(sys.Criteria); err != nil && !errors.Is(err, device.ErrNotFound) {
			util.Error("[main] connect: %v", err)
		}
	}
	if *stdin {
		go sendStdin(sys.Link)
	}

	// wait for Ctrl+C or SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	util.Info("[main] shutting down")
	sys.StopAll()
	util.Info("[main] stopped cleanly")
}

func listDevices() error {
	list, err := device.NewLocator().Snapshot()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("no USB serial devices attached")
		return nil
	}
	for _, d := range list {
		fmt.Printf("%-16s %04x:%04x  %s %s\n", d.Path, d.VendorID, d.ProductID, d.Product, d.SerialNumber)
	}
	return nil
}

func sendStdin(link *core.Link) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if _, err := link.SendString(line, 0); err != nil {
			util.Warn("[main] send %q: %v", line, err)
		}
	}
}
