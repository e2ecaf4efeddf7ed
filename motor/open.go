package motor

import (
	"fmt"
	"log/slog"
	"time"
)

// Config describes how to reach the motor
type Config struct {
	Port         string
	Driver       string
	BaudRate     int
	DeviceID     byte
	Direction    string
	DirectionPin string
	Timeout      time.Duration
}

// Open connects to the motor described by cfg. The returned AIM57 owns the port.
func Open(cfg Config, logger *slog.Logger) (*AIM57, error) {
	port, err := OpenPort(PortConfig{
		Name:     cfg.Port,
		Driver:   cfg.Driver,
		BaudRate: cfg.BaudRate,
	})
	if err != nil {
		return nil, err
	}

	dir, err := NewDirectionControl(cfg.Direction, cfg.DirectionPin, port)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("error setting up DE/RE control: %w", err)
	}

	return NewAIM57(port, dir, BusConfig{
		DeviceID: cfg.DeviceID,
		BaudRate: cfg.BaudRate,
		Timeout:  cfg.Timeout,
	}, logger), nil
}

// ScanOpener opens the port described by cfg at each baud rate tried by Scan
func ScanOpener(cfg Config) PortOpener {
	return func(baudRate int) (Port, error) {
		return OpenPort(PortConfig{Name: cfg.Port, Driver: cfg.Driver, BaudRate: baudRate})
	}
}

// DirectionFor builds the DE/RE control described by cfg for an opened port
func DirectionFor(cfg Config) func(Port) (DirectionControl, error) {
	return func(port Port) (DirectionControl, error) {
		return NewDirectionControl(cfg.Direction, cfg.DirectionPin, port)
	}
}
