// Package model defines shared configuration structures used to initialize ArduinoLink.
// It includes device selection, line parameters, read/write tuning, bridge and store settings.
package model

// Config represents the root structure loaded from configs/config.yml.
type Config struct {
	Device     DeviceConfig     `yaml:"device"`
	Serial     SerialConfig     `yaml:"serial"`
	Read       ReadConfig       `yaml:"read"`
	Write      WriteConfig      `yaml:"write"`
	Permission PermissionConfig `yaml:"permission"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	Store      StoreConfig      `yaml:"store"`
	Log        LogConfig        `yaml:"log"`
}

// DeviceConfig selects which attached USB device to connect to.
type DeviceConfig struct {
	Match           string `yaml:"match"`      // "exact" or "first"
	VendorID        uint16 `yaml:"vendor_id"`  // e.g. 0x1A86
	ProductID       uint16 `yaml:"product_id"` // e.g. 0x7523
	PermissiveProbe bool   `yaml:"permissive_probe"`
	Path            string `yaml:"path"` // skip enumeration and use this port, e.g. a simulator PTY
}

// SerialConfig holds the line parameters applied when a session opens.
type SerialConfig struct {
	Baud     int    `yaml:"baud"`
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
	Parity   string `yaml:"parity"` // none, odd, even, mark, space
}

// ReadConfig tunes the background read loop.
type ReadConfig struct {
	PollIntervalMs int    `yaml:"poll_interval_ms"`
	BufferSize     int    `yaml:"buffer_size"`
	Framing        string `yaml:"framing"` // fragment or lines
}

// WriteConfig holds the default per-call write timeout used by the bridge.
type WriteConfig struct {
	TimeoutMs int `yaml:"timeout_ms"`
}

// PermissionConfig picks the host platform that answers permission requests.
type PermissionConfig struct {
	Platform string `yaml:"platform"` // access, prompt or grant
}

// BridgeConfig configures the HTTP/websocket caller surface.
type BridgeConfig struct {
	Addr       string `yaml:"addr"`        // e.g. ":8080"; empty disables the bridge
	WireFormat string `yaml:"wire_format"` // json or text
}

// StoreConfig configures the bbolt readings journal.
type StoreConfig struct {
	Path   string `yaml:"path"` // empty disables the journal
	Bucket string `yaml:"bucket"`
}

// LogConfig configures the zerolog backend.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}
