// Package model defines shared message structures for ArduinoLink.
package model

// Reading is one decoded line received from the device.
type Reading struct {
	Line      string `json:"line"`
	Device    string `json:"device"`
	Timestamp string `json:"timestamp"`
}

// LinkEvent reports a connection state change or failure to callers.
type LinkEvent struct {
	Kind      string `json:"kind"`
	Device    string `json:"device,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// CommandMessage is a raw payload the caller wants written to the device.
type CommandMessage struct {
	Command   string `json:"command"`
	TimeoutMs int    `json:"timeout_ms,omitempty"`
}

// ConnectRequest optionally overrides the configured device criteria.
type ConnectRequest struct {
	Match     string `json:"match,omitempty"`
	VendorID  uint16 `json:"vendor_id,omitempty"`
	ProductID uint16 `json:"product_id,omitempty"`
}

// LinkStatus is the snapshot returned by the status endpoint.
type LinkStatus struct {
	Connected bool   `json:"connected"`
	Device    string `json:"device,omitempty"`
	LoopState string `json:"loop_state"`
}
