package motor

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/goburrow/modbus"
)

// Holding registers of the 57AIM30 integrated servo
const (
	RegControl       uint16 = 0x00
	RegAcceleration  uint16 = 0x03
	RegCommParams    uint16 = 0x04
	RegSpeedRing     uint16 = 0x05
	RegPositionRing  uint16 = 0x07
	RegPosition      uint16 = 0x16
	RegMaxPower      uint16 = 0x18
	positionRegCount uint16 = 2

	controlEnableModbus uint16 = 1
	controlSave         uint16 = 506
	commParamsRTU       uint16 = 129
)

// Params are written to the motor when it is initialized
type Params struct {
	MaxPower          uint16 `yaml:"max_power"`
	Acceleration      uint16 `yaml:"acceleration"`
	PositionRingRatio uint16 `yaml:"position_ring_ratio"`
	SpeedRingRatio    uint16 `yaml:"speed_ring_ratio"`
}

func DefaultParams() Params {
	return Params{
		MaxPower:          350,
		Acceleration:      40000,
		PositionRingRatio: 3000,
		SpeedRingRatio:    3000,
	}
}

// BusConfig addresses one motor on the bus
type BusConfig struct {
	DeviceID byte
	BaudRate int
	// Timeout overrides the per-baud response timeout
	Timeout time.Duration
}

// AIM57 drives a 57AIM30 servo over Modbus RTU. Absolute positions live in two registers
// starting at RegPosition, low word first.
type AIM57 struct {
	handler     *modbus.RTUClientHandler
	transporter *rtuTransporter
	client      modbus.Client
	port        Port
	logger      *slog.Logger
}

var _ Transport = (*AIM57)(nil)

// NewAIM57 uses the RTU packager from goburrow/modbus with a transporter that drives DE/RE
func NewAIM57(port Port, direction DirectionControl, cfg BusConfig, logger *slog.Logger) *AIM57 {
	if logger == nil {
		logger = slog.Default()
	}

	handler := modbus.NewRTUClientHandler("")
	handler.SlaveId = cfg.DeviceID

	transporter := newRTUTransporter(port, direction, cfg.BaudRate, cfg.Timeout)

	return &AIM57{
		handler:     handler,
		transporter: transporter,
		client:      modbus.NewClient2(handler, transporter),
		port:        port,
		logger:      logger.With("component", "motor", "device_id", cfg.DeviceID),
	}
}

// Write commands an absolute position. The motor does not take a velocity. A target of 0
// is sent as 1 because the motor ignores a zero target.
func (m *AIM57) Write(position int32, _ float64) error {
	if position == 0 {
		position = 1
	}
	return m.writePosition(position)
}

func (m *AIM57) writePosition(position int32) error {
	raw := uint32(position)
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:], uint16(raw))
	binary.BigEndian.PutUint16(data[2:], uint16(raw>>16))

	_, err := m.client.WriteMultipleRegisters(RegPosition, positionRegCount, data)
	return transportError("write position", err)
}

func (m *AIM57) ReadFeedback() (Feedback, error) {
	position, err := m.ReadPosition()
	if err != nil {
		return Feedback{}, err
	}
	return Feedback{Position: position, At: time.Now()}, nil
}

// ReadPosition reads the current absolute position
func (m *AIM57) ReadPosition() (int32, error) {
	data, err := m.client.ReadHoldingRegisters(RegPosition, positionRegCount)
	if err != nil {
		return 0, transportError("read position", err)
	}
	if len(data) != 4 {
		return 0, &TransportError{Op: "read position", Err: fmt.Errorf("unexpected response size %d", len(data))}
	}

	low := binary.BigEndian.Uint16(data[0:])
	high := binary.BigEndian.Uint16(data[2:])
	return int32(uint32(high)<<16 | uint32(low)), nil
}

func (m *AIM57) writeRegister(op string, reg, value uint16) error {
	_, err := m.client.WriteSingleRegister(reg, value)
	if err != nil {
		return transportError(op, err)
	}
	m.logger.Debug("wrote register", "op", op, "register", reg, "value", value)
	return nil
}

// EnableModbus switches the motor into Modbus control
func (m *AIM57) EnableModbus() error {
	return m.writeRegister("enable modbus", RegControl, controlEnableModbus)
}

func (m *AIM57) SetMaxPower(power uint16) error {
	return m.writeRegister("set max power", RegMaxPower, power)
}

func (m *AIM57) SetAcceleration(acceleration uint16) error {
	return m.writeRegister("set acceleration", RegAcceleration, acceleration)
}

func (m *AIM57) SetPositionRingRatio(ratio uint16) error {
	return m.writeRegister("set position ring ratio", RegPositionRing, ratio)
}

func (m *AIM57) SetSpeedRingRatio(ratio uint16) error {
	return m.writeRegister("set speed ring ratio", RegSpeedRing, ratio)
}

// Init enables Modbus control and applies params
func (m *AIM57) Init(params Params) error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"enable modbus", m.EnableModbus},
		{"max power", func() error { return m.SetMaxPower(params.MaxPower) }},
		{"acceleration", func() error { return m.SetAcceleration(params.Acceleration) }},
		{"position ring ratio", func() error { return m.SetPositionRingRatio(params.PositionRingRatio) }},
		{"speed ring ratio", func() error { return m.SetSpeedRingRatio(params.SpeedRingRatio) }},
	}

	for _, step := range steps {
		err := step.fn()
		if err != nil {
			return fmt.Errorf("error initializing motor (%s): %w", step.name, err)
		}
	}

	m.logger.Info("motor initialized",
		"max_power", params.MaxPower,
		"acceleration", params.Acceleration,
		"position_ring_ratio", params.PositionRingRatio,
		"speed_ring_ratio", params.SpeedRingRatio,
	)
	return nil
}

// BaudCode is the value the motor expects in RegAcceleration while changing baud rate
func BaudCode(baudRate int) (uint16, error) {
	switch baudRate {
	case 9600:
		return 800, nil
	case 19200:
		return 801, nil
	case 38400:
		return 802, nil
	case 115200:
		return 803, nil
	default:
		return 0, fmt.Errorf("unsupported baud rate %d", baudRate)
	}
}

// SetBaudRate stores a new baud rate in the motor. The motor answers at the old rate and
// uses the new one after a power cycle.
func (m *AIM57) SetBaudRate(baudRate int) error {
	code, err := BaudCode(baudRate)
	if err != nil {
		return err
	}

	for _, w := range []struct {
		reg, value uint16
	}{
		{RegControl, controlEnableModbus},
		{RegAcceleration, code},
		{RegCommParams, commParamsRTU},
		{RegControl, controlSave},
	} {
		err := m.writeRegister("set baud rate", w.reg, w.value)
		if err != nil {
			return err
		}
	}
	return nil
}

// Ping reads the control register to check that the motor answers
func (m *AIM57) Ping() error {
	_, err := m.client.ReadHoldingRegisters(RegControl, 1)
	return transportError("ping", err)
}

// SetDeviceID addresses a different motor on the same bus
func (m *AIM57) SetDeviceID(id byte) {
	m.handler.SlaveId = id
}

// Close releases the serial port
func (m *AIM57) Close() error {
	return m.port.Close()
}
