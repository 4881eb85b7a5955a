package session

import (
	"fmt"
	"strings"

	serial "go.bug.st/serial"
)

// LineParameters is the line configuration applied once when a session opens.
type LineParameters struct {
	BaudRate int
	DataBits int
	StopBits serial.StopBits
	Parity   serial.Parity
}

// DefaultLineParameters returns 9600-8-N-1.
func DefaultLineParameters() LineParameters {
	return LineParameters{
		BaudRate: 9600,
		DataBits: 8,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}
}

// Mode converts the parameters into a go.bug.st/serial mode.
func (p LineParameters) Mode() *serial.Mode {
	return &serial.Mode{
		BaudRate: p.BaudRate,
		DataBits: p.DataBits,
		StopBits: p.StopBits,
		Parity:   p.Parity,
	}
}

func (p LineParameters) String() string {
	parity := map[serial.Parity]string{
		serial.NoParity:    "N",
		serial.OddParity:   "O",
		serial.EvenParity:  "E",
		serial.MarkParity:  "M",
		serial.SpaceParity: "S",
	}[p.Parity]
	stop := map[serial.StopBits]string{
		serial.OneStopBit:           "1",
		serial.OnePointFiveStopBits: "1.5",
		serial.TwoStopBits:          "2",
	}[p.StopBits]
	return fmt.Sprintf("%d-%d-%s-%s", p.BaudRate, p.DataBits, parity, stop)
}

// ParseLineParameters builds parameters from config values. Zero values fall
// back to 9600-8-N-1.
func ParseLineParameters(baud, dataBits, stopBits int, parity string) (LineParameters, error) {
	p := DefaultLineParameters()
	if baud > 0 {
		p.BaudRate = baud
	}
	if dataBits != 0 {
		if dataBits < 5 || dataBits > 8 {
			return p, fmt.Errorf("invalid data bits %d", dataBits)
		}
		p.DataBits = dataBits
	}
	switch stopBits {
	case 0, 1:
		p.StopBits = serial.OneStopBit
	case 2:
		p.StopBits = serial.TwoStopBits
	default:
		return p, fmt.Errorf("invalid stop bits %d", stopBits)
	}
	switch strings.ToLower(parity) {
	case "", "none", "n":
		p.Parity = serial.NoParity
	case "odd", "o":
		p.Parity = serial.OddParity
	case "even", "e":
		p.Parity = serial.EvenParity
	case "mark", "m":
		p.Parity = serial.MarkParity
	case "space", "s":
		p.Parity = serial.SpaceParity
	default:
		return p, fmt.Errorf("invalid parity %q", parity)
	}
	return p, nil
}
