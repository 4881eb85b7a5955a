// Package core contains the runtime orchestration of ArduinoLink. It defines
// the Link that drives one serial peripheral and the System that builds the
// link, bridge and journal from configuration and manages their lifecycle.
package core

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"ArduinoLink/internal/bridge"
	"ArduinoLink/internal/device"
	"ArduinoLink/internal/model"
	"ArduinoLink/internal/parser"
	"ArduinoLink/internal/permission"
	"ArduinoLink/internal/session"
	"ArduinoLink/internal/store"
	"ArduinoLink/internal/util"
)

// Defaults for an Arduino Uno clone with a CH340 bridge.
const (
	DefaultVendorID  uint16 = 0x1A86
	DefaultProductID uint16 = 0x7523
)

// LoadConfig reads the YAML configuration at path and fills in defaults.
// An empty path yields the defaults alone.
func LoadConfig(path string) (*model.Config, error) {
	var cfg model.Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

// ApplyDefaults fills unset fields.
func ApplyDefaults(cfg *model.Config) {
	if cfg.Device.Match == "" {
		cfg.Device.Match = "exact"
	}
	if cfg.Device.Match == "exact" && cfg.Device.VendorID == 0 && cfg.Device.ProductID == 0 {
		cfg.Device.VendorID = DefaultVendorID
		cfg.Device.ProductID = DefaultProductID
	}
	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = 9600
	}
	if cfg.Serial.DataBits == 0 {
		cfg.Serial.DataBits = 8
	}
	if cfg.Serial.StopBits == 0 {
		cfg.Serial.StopBits = 1
	}
	if cfg.Serial.Parity == "" {
		cfg.Serial.Parity = "none"
	}
	if cfg.Read.PollIntervalMs == 0 {
		cfg.Read.PollIntervalMs = 1000
	}
	if cfg.Read.BufferSize == 0 {
		cfg.Read.BufferSize = 1024
	}
	if cfg.Read.Framing == "" {
		cfg.Read.Framing = "fragment"
	}
	if cfg.Write.TimeoutMs == 0 {
		cfg.Write.TimeoutMs = 1000
	}
	if cfg.Permission.Platform == "" {
		cfg.Permission.Platform = "access"
	}
	if cfg.Bridge.WireFormat == "" {
		cfg.Bridge.WireFormat = "json"
	}
	if cfg.Store.Bucket == "" {
		cfg.Store.Bucket = store.DefaultBucket
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// CriteriaFromConfig converts the device section into locator criteria.
func CriteriaFromConfig(dc model.DeviceConfig) (device.Criteria, error) {
	switch strings.ToLower(dc.Match) {
	case "first", "any":
		return device.MatchFirst(), nil
	case "", "exact":
		return device.MatchExact(dc.VendorID, dc.ProductID), nil
	}
	return device.Criteria{}, fmt.Errorf("unknown device match %q", dc.Match)
}

// PlatformFromConfig selects the host permission platform.
func PlatformFromConfig(pc model.PermissionConfig) (permission.Platform, error) {
	switch strings.ToLower(pc.Platform) {
	case "", "access":
		return permission.AccessPlatform{}, nil
	case "prompt":
		return permission.NewPromptPlatform(os.Stdin, os.Stdout), nil
	case "grant":
		return permission.GrantAll{}, nil
	}
	return nil, fmt.Errorf("unknown permission platform %q", pc.Platform)
}

// LinkOptionsFromConfig builds link options from the serial, read and write sections.
func LinkOptionsFromConfig(cfg *model.Config) (LinkOptions, error) {
	params, err := session.ParseLineParameters(cfg.Serial.Baud, cfg.Serial.DataBits, cfg.Serial.StopBits, cfg.Serial.Parity)
	if err != nil {
		return LinkOptions{}, err
	}
	framing, err := session.ParseFraming(cfg.Read.Framing)
	if err != nil {
		return LinkOptions{}, err
	}
	return LinkOptions{
		Params:       params,
		PollInterval: time.Duration(cfg.Read.PollIntervalMs) * time.Millisecond,
		BufferSize:   cfg.Read.BufferSize,
		Framing:      framing,
		WriteTimeout: time.Duration(cfg.Write.TimeoutMs) * time.Millisecond,
	}, nil
}

// System manages lifecycle of the link, the bridge and the journal.
type System struct {
	cfg      *model.Config
	Criteria device.Criteria
	Link     *Link
	Bridge   *bridge.Server
	Journal  *store.Journal

	started   bool
	startLock sync.Mutex
}

// NewSystem reads the YAML configuration at cfgPath and creates a System.
func NewSystem(cfgPath string) (*System, error) {
	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	return NewSystemFromConfig(cfg, nil)
}

// NewSystemFromConfig builds a System. A nil platform is taken from cfg.
func NewSystemFromConfig(cfg *model.Config, platform permission.Platform) (*System, error) {
	opts, err := LinkOptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	criteria, err := CriteriaFromConfig(cfg.Device)
	if err != nil {
		return nil, err
	}
	if platform == nil {
		if platform, err = PlatformFromConfig(cfg.Permission); err != nil {
			return nil, err
		}
	}

	locator := device.NewLocator()
	permissive := cfg.Device.PermissiveProbe
	if cfg.Device.Path != "" {
		locator = device.NewLocatorWith(device.StaticPort(cfg.Device.Path, cfg.Device.VendorID, cfg.Device.ProductID))
		permissive = true
	}
	driver := device.NewSerialDriver()
	var prober device.Prober = device.DefaultProber(driver)
	if permissive {
		prober = device.PermissiveProber(driver)
	}

	s := &System{
		cfg:      cfg,
		Criteria: criteria,
		Link:     NewLink(locator, prober, platform, opts),
	}

	if cfg.Store.Path != "" {
		j, err := store.Open(cfg.Store.Path, cfg.Store.Bucket)
		if err != nil {
			return nil, err
		}
		s.Journal = j
		s.Link.OnReading(func(r model.Reading) {
			if err := j.Append(r); err != nil {
				util.Error("[system] journal append: %v", err)
			}
		})
	}

	if cfg.Bridge.Addr != "" {
		p, err := parser.ForFormat(cfg.Bridge.WireFormat)
		if err != nil {
			s.closeJournal()
			return nil, err
		}
		var source bridge.ReadingSource
		if s.Journal != nil {
			source = s.Journal
		}
		s.Bridge = bridge.NewServer(cfg.Bridge.Addr, s.Link, source, p, criteria)
		s.Link.OnReading(s.Bridge.PublishReading)
		s.Link.OnEvent(func(ev Event) { s.Bridge.PublishEvent(ev.Message()) })
	}

	s.Link.OnEvent(logEvent)
	return s, nil
}

// Config returns the configuration the system was built from.
func (s *System) Config() *model.Config { return s.cfg }

// StartAll starts the bridge in the background.
func (s *System) StartAll() error {
	s.startLock.Lock()
	defer s.startLock.Unlock()
	if s.started {
		return nil
	}
	if s.Bridge != nil {
		go func() {
			if err := s.Bridge.Start(); err != nil {
				util.Error("[system] bridge stopped: %v", err)
			}
		}()
	}
	s.started = true
	return nil
}

// StopAll disconnects the device and stops all components.
func (s *System) StopAll() {
	s.startLock.Lock()
	defer s.startLock.Unlock()
	if err := s.Link.Disconnect(); err != nil {
		util.Warn("[system] disconnect: %v", err)
	}
	if s.Bridge != nil && s.started {
		s.Bridge.Stop()
	}
	s.closeJournal()
	s.started = false
}

func (s *System) closeJournal() {
	if s.Journal == nil {
		return
	}
	if err := s.Journal.Close(); err != nil {
		util.Warn("[system] close journal: %v", err)
	}
	s.Journal = nil
}

func logEvent(ev Event) {
	switch ev.Kind {
	case EventConnected, EventDisconnected, EventPermissionPending:
		util.Info("[link] %s %s", ev.Kind, ev.Device)
	case EventNotFound:
		util.Info("[link] %s: %v", ev.Kind, ev.Err)
	default:
		util.Error("[link] %s %s: %v", ev.Kind, ev.Device, ev.Err)
	}
}
