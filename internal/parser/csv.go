// Package parser implements the CSVParser which handles encoding of readings
// and events using comma-separated values format.
package parser

import (
	"encoding/csv"
	"errors"
	"strings"

	"ArduinoLink/internal/model"
)

// CSVParser implements Parser interface using CSV format.
// Example reading CSV: 2024-05-01T10:00:00Z,ttyUSB0 (1a86:7523),temp=23.10
type CSVParser struct{}

// NewCSVParser creates a new CSV parser instance.
func NewCSVParser() *CSVParser { return &CSVParser{} }

// EncodeReading converts a Reading into a CSV string.
func (p *CSVParser) EncodeReading(r model.Reading) (string, error) {
	return writeRecord(r.Timestamp, r.Device, r.Line)
}

// EncodeEvent converts a LinkEvent into a CSV string.
func (p *CSVParser) EncodeEvent(e model.LinkEvent) (string, error) {
	return writeRecord("EVENT", e.Kind, e.Device, e.Error)
}

// DecodeCommand takes the raw payload, byte for byte, as the command.
func (p *CSVParser) DecodeCommand(s string) (model.CommandMessage, error) {
	if s == "" {
		return model.CommandMessage{}, errors.New("empty command")
	}
	return model.CommandMessage{Command: s}, nil
}

func writeRecord(fields ...string) (string, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	if err := w.Write(fields); err != nil {
		return "", err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
