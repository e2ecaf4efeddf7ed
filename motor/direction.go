package motor

import (
	"errors"
	"fmt"
	"strings"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

const (
	DirectionAuto = "auto"
	DirectionRTS  = "rts"
	DirectionGPIO = "gpio"
)

// DirectionControl drives the transmit-enable (DE/RE) line of a half-duplex RS485 transceiver
type DirectionControl interface {
	SetTransmit(transmit bool) error
}

// AutoDirection is for transceivers that switch direction by themselves
type AutoDirection struct{}

func (AutoDirection) SetTransmit(bool) error { return nil }

// RTSDirection uses the serial port's RTS output as DE/RE
type RTSDirection struct {
	Port interface{ SetRTS(bool) error }
	// Inverted drives RTS low while transmitting
	Inverted bool
}

func (d RTSDirection) SetTransmit(transmit bool) error {
	return d.Port.SetRTS(transmit != d.Inverted)
}

// GPIODirection uses a GPIO output as DE/RE
type GPIODirection struct {
	Pin gpio.PinOut
}

func (d GPIODirection) SetTransmit(transmit bool) error {
	level := gpio.Low
	if transmit {
		level = gpio.High
	}
	return d.Pin.Out(level)
}

// OpenGPIODirection initializes the host GPIO drivers and claims the named pin, leaving it low
func OpenGPIODirection(name string) (GPIODirection, error) {
	_, err := host.Init()
	if err != nil {
		return GPIODirection{}, fmt.Errorf("error initializing host drivers: %w", err)
	}

	pin := gpioreg.ByName(name)
	if pin == nil {
		return GPIODirection{}, fmt.Errorf("unknown GPIO pin %q", name)
	}

	err = pin.Out(gpio.Low)
	if err != nil {
		return GPIODirection{}, fmt.Errorf("error setting %s low: %w", name, err)
	}

	return GPIODirection{Pin: pin}, nil
}

// NewDirectionControl builds the DE/RE control for mode. mode is "auto", "rts", "rts-inverted"
// or "gpio"; pin names the GPIO for the last one.
func NewDirectionControl(mode, pin string, port Port) (DirectionControl, error) {
	switch strings.ToLower(mode) {
	case DirectionAuto, "":
		return AutoDirection{}, nil
	case DirectionRTS, DirectionRTS + "-inverted":
		rts, ok := port.(interface{ SetRTS(bool) error })
		if !ok {
			return nil, errors.New("serial driver does not support RTS direction control")
		}
		d := RTSDirection{Port: rts, Inverted: strings.HasSuffix(mode, "-inverted")}
		return d, d.SetTransmit(false)
	case DirectionGPIO:
		if pin == "" {
			return nil, errors.New("gpio direction control requires a pin name")
		}
		return OpenGPIODirection(pin)
	default:
		return nil, fmt.Errorf("unknown direction control %q", mode)
	}
}
