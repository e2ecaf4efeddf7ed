package tester_test

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/calvinmclean/autostroke"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

// sendSerial writes one command line and reads until the response terminator. The device
// must run "auto-stroke serve --terminate" with its console on the port.
func sendSerial(t *testing.T, port serial.Port, in string) string {
	t.Helper()

	_, err := port.Write([]byte(in + "\n"))
	require.NoError(t, err)

	var out bytes.Buffer
	buf := make([]byte, 256)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, err := port.Read(buf)
		require.NoError(t, err)

		out.Write(buf[:n])
		if i := bytes.IndexByte(out.Bytes(), autostroke.TerminationChar); i >= 0 {
			return string(out.Bytes()[:i])
		}
	}

	t.Fatalf("no response to %q, got %q", in, out.String())
	return ""
}

func TestSerial(t *testing.T) {
	portName := os.Getenv("AUTOSTROKE_TEST_PORT")
	if portName == "" {
		t.Skip("AUTOSTROKE_TEST_PORT is not set")
	}

	port, err := serial.Open(portName, &serial.Mode{BaudRate: 115200})
	require.NoError(t, err)
	defer port.Close()
	require.NoError(t, port.SetReadTimeout(100*time.Millisecond))

	tests := []struct {
		name     string
		in       string
		expected string
	}{
		{"Pause", "pause", "motor paused\n"},
		{"SetBPM", "set_bpm 60", "bpm set to 60\n"},
		{"ClampBPM", "set_bpm 900", "bpm set to 500\n"},
		{"SetWave", "set_wave thrust", "wave_func set to thrust\n"},
		{"UnknownWave", "set_wave square", "error: invalid wave function: \"square\", use 'sine', 'thrust' or 'spline'\n"},
		{"Adjust", "set_paused_position 0.9", "paused_position set to 0.9\n"},
		{"AdjustClamped", "adjust 0.5", "paused_position set to 1\n"},
		{"Start", "start", "motor started\n"},
		{"Unknown", "speed 3", "error: unknown command: speed\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sendSerial(t, port, tt.in))
		})
	}

	t.Run("State", func(t *testing.T) {
		out := sendSerial(t, port, "get_state")
		assert.Contains(t, out, `"faulted": false`)
	})
}
