package motor

import (
	"errors"
	"fmt"

	"go.bug.st/serial/enumerator"
)

// SerialPortNone runs against the simulator instead of a serial port
const SerialPortNone = "none"

var ErrNoUSBSerial = errors.New("no USB serial ports found")

// GetSerialPorts lists USB serial devices, which is where RS485 adapters show up
func GetSerialPorts() ([]string, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("error listing serial ports: %w", err)
	}

	var ports []string
	for _, d := range details {
		if d.IsUSB {
			ports = append(ports, d.Name)
		}
	}

	if len(ports) == 0 {
		return nil, ErrNoUSBSerial
	}
	return ports, nil
}
