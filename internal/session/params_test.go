package session

import (
	"testing"

	"github.com/stretchr/testify/require"
	serial "go.bug.st/serial"
)

func TestParseLineParameters(t *testing.T) {
	cases := []struct {
		name     string
		baud     int
		dataBits int
		stopBits int
		parity   string
		want     string
		wantErr  bool
	}{
		{"defaults", 0, 0, 0, "", "9600-8-N-1", false},
		{"uno fast", 115200, 8, 1, "none", "115200-8-N-1", false},
		{"seven even two", 19200, 7, 2, "even", "19200-7-E-2", false},
		{"short parity", 9600, 8, 1, "O", "9600-8-O-1", false},
		{"bad data bits", 9600, 9, 1, "none", "", true},
		{"bad stop bits", 9600, 8, 3, "none", "", true},
		{"bad parity", 9600, 8, 1, "weird", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := ParseLineParameters(tc.baud, tc.dataBits, tc.stopBits, tc.parity)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, p.String())
		})
	}
}

func TestLineParametersMode(t *testing.T) {
	mode := DefaultLineParameters().Mode()
	require.Equal(t, &serial.Mode{BaudRate: 9600, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}, mode)
}
