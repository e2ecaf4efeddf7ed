package commands

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/calvinmclean/autostroke"
	"github.com/calvinmclean/autostroke/controller"
	"github.com/calvinmclean/autostroke/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConsole(t *testing.T) (*Console, *controller.Controller) {
	t.Helper()

	store, err := controller.NewConfigStore(autostroke.DefaultConfig())
	require.NoError(t, err)

	mapper, err := controller.NewPositionMapper(0, 10000)
	require.NoError(t, err)

	c, err := controller.New(store, nil, mapper, controller.Options{})
	require.NoError(t, err)

	pins, err := storage.Open("", nil)
	require.NoError(t, err)
	t.Cleanup(pins.Close)

	return &Console{
		Controller:  c,
		Pins:        pins,
		DefaultPins: storage.PinConfiguration{SerialPort: "none", Direction: "auto", BaudRate: 115200, DeviceID: 1},
	}, c
}

func TestExec(t *testing.T) {
	tests := []struct {
		name        string
		lines       []string
		expectedOut string
		expectedErr string
		check       func(*testing.T, autostroke.Config)
	}{
		{
			"SetBPM",
			[]string{"set_bpm 60"},
			"bpm set to 60", "",
			func(t *testing.T, cfg autostroke.Config) { assert.Equal(t, 60.0, cfg.BPM) },
		},
		{
			"SetBPMClamped",
			[]string{"set_bpm 900"},
			"bpm set to 500", "",
			nil,
		},
		{
			"SetBPMNotANumber",
			[]string{"set_bpm abc"},
			"", `invalid bpm value: "abc"`,
			func(t *testing.T, cfg autostroke.Config) { assert.Equal(t, 36.0, cfg.BPM) },
		},
		{
			"SetBPMZero",
			[]string{"set_bpm 0"},
			"", "invalid bpm (0): must be greater than 0",
			nil,
		},
		{
			"SetWave",
			[]string{"set_wave thrust"},
			"wave_func set to thrust", "",
			func(t *testing.T, cfg autostroke.Config) { assert.Equal(t, autostroke.WaveFuncThrust, cfg.WaveFunc) },
		},
		{
			"SetWaveUnknown",
			[]string{"set_wave square"},
			"", `invalid wave function: "square", use 'sine', 'thrust' or 'spline'`,
			nil,
		},
		{
			"SetDepthTop",
			[]string{"set_depth_top true"},
			"depth_top set to true", "",
			func(t *testing.T, cfg autostroke.Config) { assert.True(t, cfg.DepthTop) },
		},
		{
			"SetDepthTopInvalid",
			[]string{"set_depth_top maybe"},
			"", `invalid depth_top value: "maybe", use 'true' or 'false'`,
			nil,
		},
		{
			"SetReversed",
			[]string{"set_reversed 1"},
			"reversed set to true", "",
			func(t *testing.T, cfg autostroke.Config) { assert.True(t, cfg.Reversed) },
		},
		{
			"SetSharpnessClamped",
			[]string{"set_sharpness 1"},
			"sharpness set to 0.99", "",
			nil,
		},
		{
			"SetSplinePoints",
			[]string{"set_spline_points 0 0.5 1 0.2"},
			"spline_points set to [0 0.5 1 0.2]", "",
			func(t *testing.T, cfg autostroke.Config) {
				assert.Equal(t, []float64{0, 0.5, 1, 0.2}, cfg.SplinePoints)
			},
		},
		{
			"SetSplinePointsOutOfRange",
			[]string{"set_spline_points 0 2"},
			"", "invalid spline_points[1] (2): must be between 0 and 1",
			nil,
		},
		{
			"SetSplinePointsTooFew",
			[]string{"set_spline_points 0.5"},
			"", "invalid spline_points ([0.5]): requires at least 2 points",
			nil,
		},
		{
			"PauseAndStart",
			[]string{"pause", "start"},
			"motor started", "",
			func(t *testing.T, cfg autostroke.Config) { assert.False(t, cfg.Paused) },
		},
		{
			"Pause",
			[]string{"pause"},
			"motor paused", "",
			func(t *testing.T, cfg autostroke.Config) { assert.True(t, cfg.Paused) },
		},
		{
			"Adjust",
			[]string{"adjust 0.25", "adjust 0.25"},
			"paused_position set to 0.5", "",
			nil,
		},
		{
			"AdjustClamped",
			[]string{"set_paused_position 0.9", "adjust 0.5"},
			"paused_position set to 1", "",
			nil,
		},
		{
			"Unknown",
			[]string{"set_speed 3"},
			"", "unknown command: set_speed",
			nil,
		},
		{
			"ClearFault",
			[]string{"clear_fault"},
			"fault cleared", "",
			nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			console, c := newTestConsole(t)

			var out string
			var err error
			for _, line := range tt.lines {
				out, err = console.Exec(line)
			}

			if tt.expectedErr != "" {
				assert.EqualError(t, err, tt.expectedErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expectedOut, out)
			}

			if tt.check != nil {
				tt.check(t, c.Config())
			}
		})
	}
}

func TestSetMotorConfig(t *testing.T) {
	console, c := newTestConsole(t)

	t.Run("Partial", func(t *testing.T) {
		_, err := console.Exec(`set_motor_config {"bpm":60}`)
		assert.EqualError(t, err, "invalid depth (<nil>): missing from partial config")
		assert.Equal(t, 36.0, c.Config().BPM)
	})

	t.Run("Complete", func(t *testing.T) {
		out, err := console.Exec(`set_motor_config {"bpm":60,"depth":0.5,"depth_top":true,"reversed":false,"wave_func":"thrust","sharpness":0.2,"spline_points":[0,1],"paused":false,"paused_position":0}`)
		require.NoError(t, err)
		assert.Equal(t, "motor config updated", out)

		cfg := c.Config()
		assert.Equal(t, 60.0, cfg.BPM)
		assert.Equal(t, autostroke.WaveFuncThrust, cfg.WaveFunc)
	})

	t.Run("Get", func(t *testing.T) {
		out, err := console.Exec("get_motor_config")
		require.NoError(t, err)
		assert.Contains(t, out, `"bpm": 60`)
		assert.Contains(t, out, `"wave_func": "thrust"`)
	})
}

func TestRun(t *testing.T) {
	console, _ := newTestConsole(t)
	console.Terminate = true

	in := strings.NewReader("set_bpm 60\n\n  bogus  \nget_state\n")
	var out bytes.Buffer
	require.NoError(t, console.Run(context.Background(), in, &out))

	responses := strings.Split(strings.TrimSuffix(out.String(), string(rune(autostroke.TerminationChar))), string(rune(autostroke.TerminationChar)))
	require.Len(t, responses, 3)
	assert.Equal(t, "bpm set to 60\n", responses[0])
	assert.Equal(t, "error: unknown command: bogus\n", responses[1])
	assert.Contains(t, responses[2], `"faulted": false`)
}

func TestRunCancelled(t *testing.T) {
	console, c := newTestConsole(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := console.Run(ctx, strings.NewReader("set_bpm 60\n"), &bytes.Buffer{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 36.0, c.Config().BPM)
}

func TestNoController(t *testing.T) {
	console := &Console{}

	for _, line := range []string{"pause", "set_bpm 60", "get_state", "debug", "get_motor_config"} {
		_, err := console.Exec(line)
		assert.ErrorIs(t, err, ErrNoController, line)
	}

	_, err := console.Exec("get_pin_configuration")
	assert.ErrorIs(t, err, ErrNoPins)

	out, err := console.Exec("help")
	require.NoError(t, err)
	assert.Contains(t, out, "Available commands:")
}

func TestHelp(t *testing.T) {
	out, err := (&Console{}).Exec("help")
	require.NoError(t, err)

	for _, cmd := range commands {
		assert.Contains(t, out, cmd.Name)
	}
}

func TestPins(t *testing.T) {
	console, _ := newTestConsole(t)

	t.Run("GetDefault", func(t *testing.T) {
		out, err := console.Exec("get_pin_configuration")
		require.NoError(t, err)
		assert.Contains(t, out, `"serial_port": "none"`)
	})

	t.Run("InvalidIsNotSaved", func(t *testing.T) {
		_, err := console.Exec("set_baud_rate 57600")
		assert.EqualError(t, err, "unsupported baud rate 57600")

		_, err = console.Exec("set_device_id 300")
		assert.EqualError(t, err, `invalid device id: "300"`)

		_, err = console.Pins.LoadPins()
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	lines := []string{
		"set_serial_port /dev/ttyUSB1",
		"set_pin_de_re GPIO17",
		"set_baud_rate 9600",
		"set_device_id 3",
	}
	for _, line := range lines {
		_, err := console.Exec(line)
		require.NoError(t, err, line)
	}

	pins, err := console.Pins.LoadPins()
	require.NoError(t, err)
	assert.Equal(t, storage.PinConfiguration{
		SerialPort:   "/dev/ttyUSB1",
		Direction:    "gpio",
		DirectionPin: "GPIO17",
		BaudRate:     9600,
		DeviceID:     3,
	}, pins)

	t.Run("RTSClearsPin", func(t *testing.T) {
		out, err := console.Exec("set_pin_de_re rts")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(out, `de_re set to "rts", restart to apply`))

		pins, err := console.Pins.LoadPins()
		require.NoError(t, err)
		assert.Equal(t, "rts", pins.Direction)
		assert.Empty(t, pins.DirectionPin)
	})
}
