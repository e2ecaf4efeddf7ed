package motor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNoDevice is returned when a scan finds no motor on the bus
var ErrNoDevice = errors.New("no motor answered on the bus")

// ScanBaudRates is the order baud rates are tried in, most likely first
var ScanBaudRates = []int{115200, 9600, 19200, 38400}

const (
	minDeviceID = 1
	maxDeviceID = 247
)

// ScanResult is where a motor answered
type ScanResult struct {
	BaudRate int  `json:"baud_rate"`
	DeviceID byte `json:"device_id"`
}

// PortOpener opens the bus at a baud rate
type PortOpener func(baudRate int) (Port, error)

// Scan tries every baud rate and device id until a motor answers
func Scan(ctx context.Context, open PortOpener, direction func(Port) (DirectionControl, error), logger *slog.Logger) (ScanResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scan")

	for _, baud := range ScanBaudRates {
		result, err := scanBaud(ctx, open, direction, baud, logger)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, ErrNoDevice) {
			return ScanResult{}, err
		}
	}

	return ScanResult{}, ErrNoDevice
}

func scanBaud(ctx context.Context, open PortOpener, direction func(Port) (DirectionControl, error), baud int, logger *slog.Logger) (ScanResult, error) {
	port, err := open(baud)
	if err != nil {
		return ScanResult{}, fmt.Errorf("error opening bus at %d baud: %w", baud, err)
	}
	defer port.Close()

	dir, err := direction(port)
	if err != nil {
		return ScanResult{}, err
	}

	logger.Info("scanning", "baud_rate", baud)
	m := NewAIM57(port, dir, BusConfig{BaudRate: baud}, logger)

	for id := minDeviceID; id <= maxDeviceID; id++ {
		if err := ctx.Err(); err != nil {
			return ScanResult{}, err
		}

		m.SetDeviceID(byte(id))
		if m.Ping() == nil {
			logger.Info("found motor", "baud_rate", baud, "device_id", id)
			return ScanResult{BaudRate: baud, DeviceID: byte(id)}, nil
		}
	}

	return ScanResult{}, ErrNoDevice
}
