// Package parser implements the JSONParser which encodes readings and events
// and decodes commands in JSON format.
package parser

import (
	"encoding/json"
	"errors"
	"strings"

	"ArduinoLink/internal/model"
)

// JSONParser implements Parser interface using JSON serialization.
type JSONParser struct{}

// NewJSONParser creates a new JSON parser.
func NewJSONParser() *JSONParser { return &JSONParser{} }

// envelope tags outbound messages so clients can tell readings from events.
type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// EncodeReading encodes a Reading into a JSON string.
func (p *JSONParser) EncodeReading(r model.Reading) (string, error) {
	b, err := json.Marshal(envelope{Type: "reading", Payload: r})
	return string(b), err
}

// EncodeEvent encodes a LinkEvent into a JSON string.
func (p *JSONParser) EncodeEvent(e model.LinkEvent) (string, error) {
	b, err := json.Marshal(envelope{Type: "event", Payload: e})
	return string(b), err
}

// DecodeCommand decodes a JSON string into a CommandMessage.
func (p *JSONParser) DecodeCommand(s string) (model.CommandMessage, error) {
	var c model.CommandMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &c); err != nil {
		return c, err
	}
	if c.Command == "" {
		return c, errors.New("empty command")
	}
	return c, nil
}
