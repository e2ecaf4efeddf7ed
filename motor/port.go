package motor

import (
	"fmt"
	"io"
	"time"

	tarm "github.com/tarm/serial"
	"go.bug.st/serial"
)

const (
	DriverBugst = "bugst"
	DriverTarm  = "tarm"
)

// Port is the serial line the RTU frames travel over
type Port interface {
	io.ReadWriteCloser
	// Drain blocks until everything written has left the UART
	Drain() error
	ResetInputBuffer() error
}

// PortConfig selects the serial device and the backend that opens it
type PortConfig struct {
	Name        string
	Driver      string
	BaudRate    int
	ReadTimeout time.Duration
}

// OpenPort opens an 8N1 serial port. The bugst driver supports RTS direction control and
// changing baud rate in place; the tarm driver is for adapters that switch direction on
// their own.
func OpenPort(cfg PortConfig) (Port, error) {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Millisecond
	}

	switch cfg.Driver {
	case DriverBugst, "":
		p, err := serial.Open(cfg.Name, &serial.Mode{
			BaudRate: cfg.BaudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
		if err != nil {
			return nil, fmt.Errorf("error opening serial port %q: %w", cfg.Name, err)
		}

		err = p.SetReadTimeout(cfg.ReadTimeout)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("error setting read timeout: %w", err)
		}
		return p, nil
	case DriverTarm:
		p, err := tarm.OpenPort(&tarm.Config{
			Name:        cfg.Name,
			Baud:        cfg.BaudRate,
			ReadTimeout: cfg.ReadTimeout,
			Size:        8,
		})
		if err != nil {
			return nil, fmt.Errorf("error opening serial port %q: %w", cfg.Name, err)
		}
		return tarmPort{p}, nil
	default:
		return nil, fmt.Errorf("unknown serial driver %q", cfg.Driver)
	}
}

// tarmPort adapts tarm/serial. Its writes return once the kernel has the bytes, so Drain has
// nothing left to wait for.
type tarmPort struct {
	*tarm.Port
}

func (p tarmPort) Drain() error { return nil }

func (p tarmPort) ResetInputBuffer() error {
	return p.Flush()
}
