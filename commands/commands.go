// Package commands is a line-based text console for the motion engine. Each line is a
// command name followed by its arguments; each response ends with a newline and, when
// enabled, the EOT termination character.
package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/calvinmclean/autostroke"
	"github.com/calvinmclean/autostroke/motor"
	"github.com/calvinmclean/autostroke/storage"

	"github.com/spf13/cast"
)

// ErrNoController is returned by commands that need an engine when none is attached
var ErrNoController = errors.New("motor controller not initialized")

// ErrNoPins is returned by pin commands when there is no storage to save them in
var ErrNoPins = errors.New("pin configuration storage not available")

// Controller is used to drive the motion engine
type Controller interface {
	Config() autostroke.Config
	Replace(autostroke.Config) (autostroke.Config, error)
	Update(func(autostroke.Config) (autostroke.Config, error)) (autostroke.Config, error)
	Pause(autostroke.PauseRequest) (autostroke.Config, error)
	State() autostroke.State
	Debug() string
	Verbose()
	ClearFault()
}

type Command struct {
	Name        string
	Args        string
	Description string
	Run         func(*Console, string) (string, error)
}

// Console reads commands and writes their responses
type Console struct {
	Controller Controller

	Pins *storage.Store
	// DefaultPins is the starting point for pin changes when nothing is saved yet
	DefaultPins storage.PinConfiguration

	// Terminate writes autostroke.TerminationChar after every response
	Terminate bool
	Logger    *slog.Logger
}

// Run executes one command per line from r until r is exhausted or ctx is done. A blocked
// read is only noticed after the next line arrives.
func (c *Console) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	logger := c.logger()
	logger.Info("console started")

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		out, err := c.Exec(line)
		if err != nil {
			logger.Warn("command failed", "command", line, "error", err)
			out = "error: " + err.Error()
		}

		err = c.respond(w, out)
		if err != nil {
			return fmt.Errorf("error writing response: %w", err)
		}
	}

	return scanner.Err()
}

func (c *Console) respond(w io.Writer, out string) error {
	buf := []byte(out)
	if !strings.HasSuffix(out, "\n") {
		buf = append(buf, '\n')
	}
	if c.Terminate {
		buf = append(buf, autostroke.TerminationChar)
	}

	_, err := w.Write(buf)
	return err
}

// Exec runs a single command line and returns its output
func (c *Console) Exec(line string) (string, error) {
	name, args, _ := strings.Cut(strings.TrimSpace(line), " ")
	args = strings.TrimSpace(args)

	cmd, ok := lookup(name)
	if !ok {
		return "", fmt.Errorf("unknown command: %s", name)
	}

	c.logger().Debug("running command", "command", name, "args", args)
	return cmd.Run(c, args)
}

func (c *Console) logger() *slog.Logger {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", "console")
}

func (c *Console) controller() (Controller, error) {
	if c.Controller == nil {
		return nil, ErrNoController
	}
	return c.Controller, nil
}

func (c *Console) update(fn func(*autostroke.Config)) (autostroke.Config, error) {
	ctrl, err := c.controller()
	if err != nil {
		return autostroke.Config{}, err
	}

	return ctrl.Update(func(cfg autostroke.Config) (autostroke.Config, error) {
		fn(&cfg)
		return cfg, nil
	})
}

func (c *Console) pause(req autostroke.PauseRequest) (autostroke.Config, error) {
	ctrl, err := c.controller()
	if err != nil {
		return autostroke.Config{}, err
	}
	return ctrl.Pause(req)
}

func (c *Console) updatePins(fn func(*storage.PinConfiguration)) (storage.PinConfiguration, error) {
	if c.Pins == nil {
		return storage.PinConfiguration{}, ErrNoPins
	}
	return c.Pins.UpdatePins(c.DefaultPins, fn)
}

func lookup(name string) (*Command, bool) {
	if name == HelpCommand.Name {
		return HelpCommand, true
	}
	for _, cmd := range commands {
		if cmd.Name == name {
			return cmd, true
		}
	}
	return nil, false
}

func writeUsage(w io.Writer, usage, description string) {
	fmt.Fprintf(w, "  %-40s - %s\n", usage, description)
}

func toJSON(v any) (string, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func parseFloat(field, args string) (float64, error) {
	v, err := cast.ToFloat64E(args)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %q", field, args)
	}
	return v, nil
}

func parseBool(field, args string) (bool, error) {
	v, err := cast.ToBoolE(args)
	if err != nil {
		return false, fmt.Errorf("invalid %s value: %q, use 'true' or 'false'", field, args)
	}
	return v, nil
}

// floatCommand sets one numeric Config field and reports the stored value, which may have
// been clamped
func floatCommand(name, field, description string, set func(*autostroke.Config, float64), get func(autostroke.Config) float64) *Command {
	return &Command{
		Name:        name,
		Args:        "<" + field + ">",
		Description: description,
		Run: func(c *Console, args string) (string, error) {
			v, err := parseFloat(field, args)
			if err != nil {
				return "", err
			}

			cfg, err := c.update(func(cfg *autostroke.Config) { set(cfg, v) })
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s set to %v", field, get(cfg)), nil
		},
	}
}

func boolCommand(name, field, description string, set func(*autostroke.Config, bool)) *Command {
	return &Command{
		Name:        name,
		Args:        "<true|false>",
		Description: description,
		Run: func(c *Console, args string) (string, error) {
			v, err := parseBool(field, args)
			if err != nil {
				return "", err
			}

			_, err = c.update(func(cfg *autostroke.Config) { set(cfg, v) })
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s set to %t", field, v), nil
		},
	}
}

func pinCommand(name, args, field, description string, parse func(string, *storage.PinConfiguration) error) *Command {
	return &Command{
		Name:        name,
		Args:        args,
		Description: description,
		Run: func(c *Console, args string) (string, error) {
			// reject bad input before anything is saved
			err := parse(args, &storage.PinConfiguration{})
			if err != nil {
				return "", err
			}

			pins, err := c.updatePins(func(p *storage.PinConfiguration) {
				_ = parse(args, p)
			})
			if err != nil {
				return "", err
			}

			out, _ := json.Marshal(pins)
			return fmt.Sprintf("%s set to %q, restart to apply: %s", field, args, out), nil
		},
	}
}

var (
	HelpCommand = &Command{
		Name:        "help",
		Description: "Show this help message",
		Run: func(*Console, string) (string, error) {
			var sb strings.Builder
			sb.WriteString("Available commands:\n")
			writeUsage(&sb, "help", "Show this help message")
			for _, cmd := range commands {
				writeUsage(&sb, strings.TrimSpace(cmd.Name+" "+cmd.Args), cmd.Description)
			}
			return sb.String(), nil
		},
	}
	GetMotorConfigCommand = &Command{
		Name:        "get_motor_config",
		Description: "Get motor config in JSON format",
		Run: func(c *Console, _ string) (string, error) {
			ctrl, err := c.controller()
			if err != nil {
				return "", err
			}
			return toJSON(ctrl.Config())
		},
	}
	SetMotorConfigCommand = &Command{
		Name:        "set_motor_config",
		Args:        "<json>",
		Description: "Replace the motor config with a complete JSON object",
		Run: func(c *Console, args string) (string, error) {
			ctrl, err := c.controller()
			if err != nil {
				return "", err
			}

			cfg, err := autostroke.ParseConfig([]byte(args))
			if err != nil {
				return "", err
			}

			_, err = ctrl.Replace(cfg)
			if err != nil {
				return "", err
			}
			return "motor config updated", nil
		},
	}
	PauseCommand = &Command{
		Name:        "pause",
		Description: "Pause the motor",
		Run: func(c *Console, _ string) (string, error) {
			_, err := c.pause(autostroke.Pause(true))
			if err != nil {
				return "", err
			}
			return "motor paused", nil
		},
	}
	StartCommand = &Command{
		Name:        "start",
		Description: "Start the motor",
		Run: func(c *Console, _ string) (string, error) {
			_, err := c.pause(autostroke.Pause(false))
			if err != nil {
				return "", err
			}
			return "motor started", nil
		},
	}
	SetBPMCommand = floatCommand("set_bpm", "bpm", "Set motor BPM",
		func(cfg *autostroke.Config, v float64) { cfg.BPM = v },
		func(cfg autostroke.Config) float64 { return cfg.BPM },
	)
	SetWaveCommand = &Command{
		Name:        "set_wave",
		Args:        "<sine|thrust|spline>",
		Description: "Set motor waveform",
		Run: func(c *Console, args string) (string, error) {
			wf, err := autostroke.ParseWaveFunc(args)
			if err != nil {
				return "", fmt.Errorf("invalid wave function: %q, use 'sine', 'thrust' or 'spline'", args)
			}

			_, err = c.update(func(cfg *autostroke.Config) { cfg.WaveFunc = wf })
			if err != nil {
				return "", err
			}
			return "wave_func set to " + wf.String(), nil
		},
	}
	SetDepthCommand = floatCommand("set_depth", "depth", "Set motor stroke depth (0.0 to 1.0)",
		func(cfg *autostroke.Config, v float64) { cfg.Depth = v },
		func(cfg autostroke.Config) float64 { return cfg.Depth },
	)
	SetDepthTopCommand = boolCommand("set_depth_top", "depth_top", "Anchor the stroke at the top of travel",
		func(cfg *autostroke.Config, v bool) { cfg.DepthTop = v },
	)
	SetReversedCommand = boolCommand("set_reversed", "reversed", "Traverse each cycle backwards",
		func(cfg *autostroke.Config, v bool) { cfg.Reversed = v },
	)
	SetSharpnessCommand = floatCommand("set_sharpness", "sharpness", "Set sharpness for thrust wave (0.01 to 0.99)",
		func(cfg *autostroke.Config, v float64) { cfg.Sharpness = v },
		func(cfg autostroke.Config) float64 { return cfg.Sharpness },
	)
	SetSplinePointsCommand = &Command{
		Name:        "set_spline_points",
		Args:        "<p1> <p2> ...",
		Description: "Set points for spline wave (0.0 to 1.0)",
		Run: func(c *Console, args string) (string, error) {
			fields := strings.Fields(args)
			points := make([]float64, 0, len(fields))
			for _, f := range fields {
				p, err := parseFloat("spline point", f)
				if err != nil {
					return "", err
				}
				points = append(points, p)
			}

			cfg, err := c.update(func(cfg *autostroke.Config) { cfg.SplinePoints = points })
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("spline_points set to %v", cfg.SplinePoints), nil
		},
	}
	SetPausedPositionCommand = &Command{
		Name:        "set_paused_position",
		Args:        "<position>",
		Description: "Set motor position when paused (0.0 to 1.0)",
		Run: func(c *Console, args string) (string, error) {
			v, err := parseFloat("paused_position", args)
			if err != nil {
				return "", err
			}

			cfg, err := c.pause(autostroke.SetPosition(v))
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("paused_position set to %v", cfg.PausedPosition), nil
		},
	}
	AdjustCommand = &Command{
		Name:        "adjust",
		Args:        "<delta>",
		Description: "Move the paused position by delta",
		Run: func(c *Console, args string) (string, error) {
			v, err := parseFloat("adjust", args)
			if err != nil {
				return "", err
			}

			cfg, err := c.pause(autostroke.AdjustPosition(v))
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("paused_position set to %v", cfg.PausedPosition), nil
		},
	}
	GetStateCommand = &Command{
		Name:        "get_state",
		Description: "Get the latest engine state in JSON format",
		Run: func(c *Console, _ string) (string, error) {
			ctrl, err := c.controller()
			if err != nil {
				return "", err
			}
			return toJSON(ctrl.State())
		},
	}
	DebugCommand = &Command{
		Name:        "debug",
		Description: "Print the current state",
		Run: func(c *Console, _ string) (string, error) {
			ctrl, err := c.controller()
			if err != nil {
				return "", err
			}
			return ctrl.Debug(), nil
		},
	}
	VerboseCommand = &Command{
		Name:        "verbose",
		Description: "Enable verbose output",
		Run: func(c *Console, _ string) (string, error) {
			ctrl, err := c.controller()
			if err != nil {
				return "", err
			}
			ctrl.Verbose()
			return "verbose output enabled", nil
		},
	}
	ClearFaultCommand = &Command{
		Name:        "clear_fault",
		Description: "Resume sending commands after too many motor failures",
		Run: func(c *Console, _ string) (string, error) {
			ctrl, err := c.controller()
			if err != nil {
				return "", err
			}
			ctrl.ClearFault()
			return "fault cleared", nil
		},
	}
	GetPinConfigurationCommand = &Command{
		Name:        "get_pin_configuration",
		Description: "Get pin configuration in JSON format",
		Run: func(c *Console, _ string) (string, error) {
			if c.Pins == nil {
				return "", ErrNoPins
			}

			pins, err := c.Pins.LoadPins()
			if errors.Is(err, storage.ErrNotFound) {
				pins = c.DefaultPins
			} else if err != nil {
				return "", err
			}
			return toJSON(pins)
		},
	}
	SetSerialPortCommand = pinCommand("set_serial_port", "<device|none>", "serial_port", "Set the motor serial device",
		func(args string, p *storage.PinConfiguration) error {
			if args == "" {
				return errors.New("serial port is required")
			}
			p.SerialPort = args
			return nil
		},
	)
	SetDirectionCommand = pinCommand("set_pin_de_re", "<auto|rts|rts-inverted|gpio pin>", "de_re", "Set how the RS485 DE/RE line is driven",
		func(args string, p *storage.PinConfiguration) error {
			switch args {
			case "":
				return errors.New("DE/RE mode is required")
			case motor.DirectionAuto, motor.DirectionRTS, motor.DirectionRTS + "-inverted":
				p.Direction = args
				p.DirectionPin = ""
			default:
				p.Direction = motor.DirectionGPIO
				p.DirectionPin = args
			}
			return nil
		},
	)
	SetBaudRateCommand = pinCommand("set_baud_rate", "<baud>", "baud_rate", "Set the Modbus baud rate",
		func(args string, p *storage.PinConfiguration) error {
			baud, err := cast.ToIntE(args)
			if err != nil {
				return fmt.Errorf("invalid baud rate: %q", args)
			}
			_, err = motor.BaudCode(baud)
			if err != nil {
				return err
			}
			p.BaudRate = baud
			return nil
		},
	)
	SetDeviceIDCommand = pinCommand("set_device_id", "<1-247>", "device_id", "Set the Modbus device id",
		func(args string, p *storage.PinConfiguration) error {
			id, err := cast.ToIntE(args)
			if err != nil || id < 1 || id > 247 {
				return fmt.Errorf("invalid device id: %q", args)
			}
			p.DeviceID = byte(id)
			return nil
		},
	)
)

var commands = []*Command{
	GetMotorConfigCommand,
	SetMotorConfigCommand,
	PauseCommand,
	StartCommand,
	SetBPMCommand,
	SetWaveCommand,
	SetDepthCommand,
	SetDepthTopCommand,
	SetReversedCommand,
	SetSharpnessCommand,
	SetSplinePointsCommand,
	SetPausedPositionCommand,
	AdjustCommand,
	GetStateCommand,
	DebugCommand,
	VerboseCommand,
	ClearFaultCommand,
	GetPinConfigurationCommand,
	SetSerialPortCommand,
	SetDirectionCommand,
	SetBaudRateCommand,
	SetDeviceIDCommand,
}
