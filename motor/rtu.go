package motor

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

const (
	rtuHeaderSize    = 3
	rtuExceptionSize = 5
	rtuMaxSize       = 256

	// directionSettle is the time given to the transceiver after DE/RE changes
	directionSettle = 10 * time.Microsecond
)

// rtuTransporter exchanges Modbus RTU frames over a half-duplex line. DE/RE is asserted
// only while the request is on the wire and released before the reply is read.
type rtuTransporter struct {
	port      Port
	direction DirectionControl
	timeout   time.Duration
	frameGap  time.Duration

	mu       sync.Mutex
	lastSent time.Time
}

var _ modbus.Transporter = (*rtuTransporter)(nil)

func newRTUTransporter(port Port, direction DirectionControl, baudRate int, timeout time.Duration) *rtuTransporter {
	if direction == nil {
		direction = AutoDirection{}
	}
	if timeout <= 0 {
		timeout = OperationTimeout(baudRate)
	}
	return &rtuTransporter{
		port:      port,
		direction: direction,
		timeout:   timeout,
		frameGap:  frameGap(baudRate),
	}
}

func (t *rtuTransporter) Send(aduRequest []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if wait := t.frameGap - time.Since(t.lastSent); wait > 0 {
		time.Sleep(wait)
	}

	err := t.port.ResetInputBuffer()
	if err != nil {
		return nil, fmt.Errorf("error clearing input: %w", err)
	}

	err = t.transmit(aduRequest)
	t.lastSent = time.Now()
	if err != nil {
		return nil, err
	}

	return t.receive()
}

func (t *rtuTransporter) transmit(frame []byte) error {
	err := t.direction.SetTransmit(true)
	if err != nil {
		return fmt.Errorf("error asserting DE/RE: %w", err)
	}
	time.Sleep(directionSettle)

	_, writeErr := t.port.Write(frame)
	if writeErr == nil {
		writeErr = t.port.Drain()
	}

	// release the bus even when the write failed
	err = t.direction.SetTransmit(false)
	if writeErr != nil {
		return fmt.Errorf("error writing frame: %w", writeErr)
	}
	if err != nil {
		return fmt.Errorf("error releasing DE/RE: %w", err)
	}
	time.Sleep(directionSettle)

	return nil
}

func (t *rtuTransporter) receive() ([]byte, error) {
	deadline := time.Now().Add(t.timeout)
	buf := make([]byte, rtuMaxSize)

	err := t.readFull(buf[:rtuHeaderSize], deadline)
	if err != nil {
		return nil, err
	}

	length, err := rtuResponseLength(buf[:rtuHeaderSize])
	if err != nil {
		return nil, err
	}

	err = t.readFull(buf[rtuHeaderSize:length], deadline)
	if err != nil {
		return nil, err
	}

	return buf[:length], nil
}

// readFull reads until buf is full. Both serial drivers return no data when their read
// timeout expires, so the loop keeps going until the frame deadline.
func (t *rtuTransporter) readFull(buf []byte, deadline time.Time) error {
	total := 0
	for total < len(buf) {
		if time.Now().After(deadline) {
			return ErrTimeout
		}

		n, err := t.port.Read(buf[total:])
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("error reading frame: %w", err)
		}
		total += n
	}
	return nil
}

// rtuResponseLength is the full frame size implied by the first three bytes of a response
func rtuResponseLength(header []byte) (int, error) {
	functionCode := header[1]
	if functionCode&0x80 != 0 {
		return rtuExceptionSize, nil
	}

	switch functionCode {
	case modbus.FuncCodeReadHoldingRegisters, modbus.FuncCodeReadInputRegisters:
		// id, function, byte count, data, crc
		return rtuHeaderSize + int(header[2]) + 2, nil
	case modbus.FuncCodeWriteSingleRegister, modbus.FuncCodeWriteMultipleRegisters:
		return 8, nil
	default:
		return 0, fmt.Errorf("unsupported function code in response: %d", functionCode)
	}
}

// OperationTimeout is how long the motor is given to answer at a baud rate
func OperationTimeout(baudRate int) time.Duration {
	switch {
	case baudRate >= 115200:
		return 5 * time.Millisecond
	case baudRate >= 38400:
		return 25 * time.Millisecond
	case baudRate >= 19200:
		return 50 * time.Millisecond
	default:
		return 100 * time.Millisecond
	}
}

// frameGap is the 3.5 character silence that separates RTU frames. Above 19200 baud it is
// fixed at 1.75ms.
func frameGap(baudRate int) time.Duration {
	if baudRate <= 0 || baudRate > 19200 {
		return 1750 * time.Microsecond
	}
	return time.Duration(float64(time.Second) * 3.5 * 11 / float64(baudRate))
}
