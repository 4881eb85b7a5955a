// Package parser converts bridge wire messages to structured types and vice-versa.
//
// CSV reading format (link -> clients):
//
//	TIMESTAMP,DEVICE,LINE
//
// CSV event format (link -> clients):
//
//	EVENT,KIND,DEVICE,ERROR
//
// In CSV form a command is the raw payload itself.
package parser

import (
	"fmt"
	"strings"

	"ArduinoLink/internal/model"
)

// Parser encodes outbound readings and events and decodes inbound commands.
type Parser interface {
	EncodeReading(r model.Reading) (string, error)
	EncodeEvent(e model.LinkEvent) (string, error)
	DecodeCommand(s string) (model.CommandMessage, error)
}

// ForFormat returns the parser registered for a wire format name.
func ForFormat(format string) (Parser, error) {
	switch strings.ToLower(format) {
	case "", "json":
		return NewJSONParser(), nil
	case "csv", "text":
		return NewCSVParser(), nil
	}
	return nil, fmt.Errorf("unknown wire format %q", format)
}
