package service

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/calvinmclean/autostroke/controller"
	"github.com/calvinmclean/autostroke/motor"
	"github.com/calvinmclean/autostroke/storage"

	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to the upper-cased setting name to form its environment variable
const EnvPrefix = "AUTOSTROKE_"

// Config is the device configuration. It is loaded from defaults, then a YAML file, then
// AUTOSTROKE_* environment variables and finally command line flags.
type Config struct {
	SerialPort   string        `yaml:"serial_port"`
	Driver       string        `yaml:"driver"`
	BaudRate     int           `yaml:"baud_rate"`
	DeviceID     byte          `yaml:"device_id"`
	Direction    string        `yaml:"de_re"`
	DirectionPin string        `yaml:"de_re_pin"`
	Timeout      time.Duration `yaml:"timeout"`

	// PosMin and PosMax are the usable travel in native motor units
	PosMin int32 `yaml:"pos_min"`
	PosMax int32 `yaml:"pos_max"`

	InitMotor bool         `yaml:"init_motor"`
	Motor     motor.Params `yaml:"motor"`
	// SimulatedSpeed limits the simulated motor when SerialPort is "none"
	SimulatedSpeed float64 `yaml:"simulated_speed"`

	TickInterval  time.Duration `yaml:"tick_interval"`
	FailureBudget int           `yaml:"failure_budget"`
	FeedbackEvery int           `yaml:"feedback_every"`
	PauseSlewRate float64       `yaml:"pause_slew_rate"`
	DepthSlewRate float64       `yaml:"depth_slew_rate"`
	SyncOnStart   bool          `yaml:"sync_on_start"`

	HTTPAddr    string `yaml:"http_addr"`
	StorageFile string `yaml:"storage_file"`
	Console     bool   `yaml:"console"`
	// Terminate ends every console response with an EOT character
	Terminate bool `yaml:"terminate"`
	Verbose   bool `yaml:"verbose"`
}

func DefaultConfig() Config {
	return Config{
		SerialPort:     motor.SerialPortNone,
		Driver:         motor.DriverBugst,
		BaudRate:       115200,
		DeviceID:       1,
		Direction:      motor.DirectionAuto,
		PosMin:         3000,
		PosMax:         60000,
		InitMotor:      true,
		Motor:          motor.DefaultParams(),
		SimulatedSpeed: 200000,
		TickInterval:   controller.DefaultTickInterval,
		FailureBudget:  controller.DefaultFailureBudget,
		FeedbackEvery:  10,
		PauseSlewRate:  0.3,
		DepthSlewRate:  0.1,
		SyncOnStart:    true,
		HTTPAddr:       ":8080",
		StorageFile:    "autostroke.json",
		Console:        true,
	}
}

// Validate checks the values that would otherwise fail deep inside startup
func (c Config) Validate() error {
	if c.SerialPort == "" {
		return errors.New("serial_port is required, use \"none\" for a simulated motor")
	}
	if c.PosMin == c.PosMax {
		return fmt.Errorf("pos_min and pos_max must differ: both are %d", c.PosMin)
	}
	if c.SerialPort != motor.SerialPortNone {
		_, err := motor.BaudCode(c.BaudRate)
		if err != nil {
			return err
		}
		if c.DeviceID < 1 || c.DeviceID > 247 {
			return fmt.Errorf("device_id must be between 1 and 247: %d", c.DeviceID)
		}
	}
	if c.Driver != "" && c.Driver != motor.DriverBugst && c.Driver != motor.DriverTarm {
		return fmt.Errorf("unknown serial driver %q", c.Driver)
	}
	return nil
}

// Pins is the part of the Config that can be changed from the console
func (c Config) Pins() storage.PinConfiguration {
	return storage.PinConfiguration{
		SerialPort:   c.SerialPort,
		Driver:       c.Driver,
		Direction:    c.Direction,
		DirectionPin: c.DirectionPin,
		BaudRate:     c.BaudRate,
		DeviceID:     c.DeviceID,
	}
}

// WithPins applies a saved pin configuration. Empty values keep the current setting.
func (c Config) WithPins(pins storage.PinConfiguration) Config {
	if pins.SerialPort != "" {
		c.SerialPort = pins.SerialPort
	}
	if pins.Driver != "" {
		c.Driver = pins.Driver
	}
	if pins.Direction != "" {
		c.Direction = pins.Direction
		c.DirectionPin = pins.DirectionPin
	}
	if pins.BaudRate != 0 {
		c.BaudRate = pins.BaudRate
	}
	if pins.DeviceID != 0 {
		c.DeviceID = pins.DeviceID
	}
	return c
}

// MotorConfig is the connection configuration for motor.Open
func (c Config) MotorConfig() motor.Config {
	return motor.Config{
		Port:         c.SerialPort,
		Driver:       c.Driver,
		BaudRate:     c.BaudRate,
		DeviceID:     c.DeviceID,
		Direction:    c.Direction,
		DirectionPin: c.DirectionPin,
		Timeout:      c.Timeout,
	}
}

func (c Config) ControllerOptions() controller.Options {
	return controller.Options{
		TickInterval:  c.TickInterval,
		FailureBudget: c.FailureBudget,
		FeedbackEvery: c.FeedbackEvery,
		PauseSlewRate: c.PauseSlewRate,
		DepthSlewRate: c.DepthSlewRate,
		SyncOnStart:   c.SyncOnStart,
	}
}

type setting struct {
	name  string
	usage string
	set   func(*Config, string) error
}

func stringSetting(name, usage string, field func(*Config) *string) setting {
	return setting{name, usage, func(c *Config, v string) error {
		*field(c) = v
		return nil
	}}
}

func intSetting(name, usage string, field func(*Config) *int) setting {
	return setting{name, usage, func(c *Config, v string) error {
		i, err := cast.ToIntE(v)
		*field(c) = i
		return err
	}}
}

func int32Setting(name, usage string, field func(*Config) *int32) setting {
	return setting{name, usage, func(c *Config, v string) error {
		i, err := cast.ToInt32E(v)
		*field(c) = i
		return err
	}}
}

func uint16Setting(name, usage string, field func(*Config) *uint16) setting {
	return setting{name, usage, func(c *Config, v string) error {
		i, err := cast.ToIntE(v)
		if err == nil && (i < 0 || i > 0xFFFF) {
			err = fmt.Errorf("%d does not fit in a register", i)
		}
		*field(c) = uint16(i)
		return err
	}}
}

func floatSetting(name, usage string, field func(*Config) *float64) setting {
	return setting{name, usage, func(c *Config, v string) error {
		f, err := cast.ToFloat64E(v)
		*field(c) = f
		return err
	}}
}

func boolSetting(name, usage string, field func(*Config) *bool) setting {
	return setting{name, usage, func(c *Config, v string) error {
		b, err := cast.ToBoolE(v)
		*field(c) = b
		return err
	}}
}

func durationSetting(name, usage string, field func(*Config) *time.Duration) setting {
	return setting{name, usage, func(c *Config, v string) error {
		d, err := cast.ToDurationE(v)
		*field(c) = d
		return err
	}}
}

var settings = []setting{
	stringSetting("serial-port", `serial device of the RS485 adapter, "none" simulates the motor`, func(c *Config) *string { return &c.SerialPort }),
	stringSetting("serial-driver", "serial driver: bugst or tarm", func(c *Config) *string { return &c.Driver }),
	intSetting("baud-rate", "Modbus baud rate", func(c *Config) *int { return &c.BaudRate }),
	{"device-id", "Modbus device id", func(c *Config, v string) error {
		id, err := cast.ToIntE(v)
		if err == nil && (id < 1 || id > 247) {
			err = fmt.Errorf("%d is not a Modbus device id", id)
		}
		c.DeviceID = byte(id)
		return err
	}},
	stringSetting("de-re", "DE/RE control: auto, rts, rts-inverted or gpio", func(c *Config) *string { return &c.Direction }),
	stringSetting("de-re-pin", "GPIO pin name used when de-re is gpio", func(c *Config) *string { return &c.DirectionPin }),
	durationSetting("timeout", "motor response timeout, zero picks one from the baud rate", func(c *Config) *time.Duration { return &c.Timeout }),
	int32Setting("pos-min", "lowest usable motor position", func(c *Config) *int32 { return &c.PosMin }),
	int32Setting("pos-max", "highest usable motor position", func(c *Config) *int32 { return &c.PosMax }),
	boolSetting("init-motor", "write the motor parameters at startup", func(c *Config) *bool { return &c.InitMotor }),
	uint16Setting("max-power", "motor max power", func(c *Config) *uint16 { return &c.Motor.MaxPower }),
	uint16Setting("acceleration", "motor acceleration", func(c *Config) *uint16 { return &c.Motor.Acceleration }),
	uint16Setting("position-ring-ratio", "motor position ring ratio", func(c *Config) *uint16 { return &c.Motor.PositionRingRatio }),
	uint16Setting("speed-ring-ratio", "motor speed ring ratio", func(c *Config) *uint16 { return &c.Motor.SpeedRingRatio }),
	floatSetting("simulated-speed", "simulated motor speed in positions per second", func(c *Config) *float64 { return &c.SimulatedSpeed }),
	durationSetting("tick-interval", "control loop period", func(c *Config) *time.Duration { return &c.TickInterval }),
	intSetting("failure-budget", "consecutive motor failures before holding position", func(c *Config) *int { return &c.FailureBudget }),
	intSetting("feedback-every", "read the motor position after this many writes, 0 disables", func(c *Config) *int { return &c.FeedbackEvery }),
	floatSetting("pause-slew-rate", "travel per second while moving to the paused position, 0 is immediate", func(c *Config) *float64 { return &c.PauseSlewRate }),
	floatSetting("depth-slew-rate", "travel per second while changing depth, 0 is immediate", func(c *Config) *float64 { return &c.DepthSlewRate }),
	boolSetting("sync-on-start", "continue motion from the motor's position at startup", func(c *Config) *bool { return &c.SyncOnStart }),
	stringSetting("http-addr", "HTTP API listen address, empty disables the API", func(c *Config) *string { return &c.HTTPAddr }),
	stringSetting("storage-file", "file (.json, .yaml or .yml) to persist configuration in, empty keeps it in memory", func(c *Config) *string { return &c.StorageFile }),
	boolSetting("console", "read commands from stdin", func(c *Config) *bool { return &c.Console }),
	boolSetting("terminate", "end console responses with EOT", func(c *Config) *bool { return &c.Terminate }),
	boolSetting("verbose", "debug logging", func(c *Config) *bool { return &c.Verbose }),
}

// EnvName is the environment variable for a setting
func EnvName(name string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// RegisterFlags adds a flag for every setting. Only flags that are set override the
// file and environment.
func RegisterFlags(fs *pflag.FlagSet) {
	for _, s := range settings {
		fs.String(s.name, "", s.usage+" (env "+EnvName(s.name)+")")
	}
}

// LoadConfig builds the Config from defaults, the optional YAML file, the environment and
// flags that were set. flags may be nil.
func LoadConfig(filename string, flags *pflag.FlagSet) (Config, error) {
	return loadConfig(filename, os.LookupEnv, flags)
}

func loadConfig(filename string, lookupEnv func(string) (string, bool), flags *pflag.FlagSet) (Config, error) {
	cfg := DefaultConfig()

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}

		err = yaml.Unmarshal(data, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	for _, s := range settings {
		v, ok := lookupEnv(EnvName(s.name))
		if !ok {
			continue
		}
		err := s.set(&cfg, v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s=%q: %w", EnvName(s.name), v, err)
		}
	}

	if flags != nil {
		var err error
		flags.Visit(func(f *pflag.Flag) {
			if err != nil {
				return
			}
			for _, s := range settings {
				if s.name == f.Name {
					err = s.set(&cfg, f.Value.String())
					if err != nil {
						err = fmt.Errorf("invalid --%s=%q: %w", f.Name, f.Value.String(), err)
					}
					return
				}
			}
		})
		if err != nil {
			return Config{}, err
		}
	}

	return cfg, cfg.Validate()
}
