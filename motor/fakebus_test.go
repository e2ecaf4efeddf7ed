package motor

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sync"
	"time"
)

// recordingDirection remembers every DE/RE change
type recordingDirection struct {
	mu       sync.Mutex
	transmit bool
	changes  []bool
}

func (d *recordingDirection) SetTransmit(transmit bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transmit = transmit
	d.changes = append(d.changes, transmit)
	return nil
}

func (d *recordingDirection) isTransmitting() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transmit
}

// fakeBus is a serial line with one 57AIM30 on it. It answers Modbus RTU requests from a
// register bank.
type fakeBus struct {
	mu sync.Mutex

	deviceID  byte
	regs      map[uint16]uint16
	exception byte
	readErr   error

	direction *recordingDirection
	frames    [][]byte
	dirWrite  []bool
	dirRead   []bool
	closed    bool

	out bytes.Buffer
}

func newFakeBus(deviceID byte) *fakeBus {
	return &fakeBus{
		deviceID:  deviceID,
		regs:      map[uint16]uint16{},
		direction: &recordingDirection{},
	}
}

func (b *fakeBus) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	frame := bytes.Clone(p)
	b.frames = append(b.frames, frame)
	b.dirWrite = append(b.dirWrite, b.direction.isTransmitting())
	b.respond(frame)
	return len(p), nil
}

func (b *fakeBus) Read(p []byte) (int, error) {
	b.mu.Lock()
	if b.readErr != nil {
		b.mu.Unlock()
		return 0, b.readErr
	}
	b.dirRead = append(b.dirRead, b.direction.isTransmitting())
	if b.out.Len() == 0 {
		b.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	defer b.mu.Unlock()
	return b.out.Read(p)
}

func (b *fakeBus) Drain() error { return nil }

func (b *fakeBus) ResetInputBuffer() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	// responses are queued when the request is written, so nothing stale can be here
	return nil
}

func (b *fakeBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *fakeBus) reg(addr uint16) uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.regs[addr]
}

// writes lists (register, value) for every single register write
func (b *fakeBus) writes() [][2]uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out [][2]uint16
	for _, f := range b.frames {
		if f[1] == 6 {
			out = append(out, [2]uint16{binary.BigEndian.Uint16(f[2:]), binary.BigEndian.Uint16(f[4:])})
		}
	}
	return out
}

func (b *fakeBus) respond(frame []byte) {
	if len(frame) < 4 || !bytes.Equal(crc16(frame[:len(frame)-2]), frame[len(frame)-2:]) {
		return
	}
	if frame[0] != b.deviceID {
		return
	}

	fc := frame[1]
	if b.exception != 0 {
		b.out.Write(withCRC([]byte{frame[0], fc | 0x80, b.exception}))
		return
	}

	addr := binary.BigEndian.Uint16(frame[2:])
	switch fc {
	case 3:
		qty := binary.BigEndian.Uint16(frame[4:])
		resp := []byte{frame[0], fc, byte(2 * qty)}
		for i := uint16(0); i < qty; i++ {
			resp = binary.BigEndian.AppendUint16(resp, b.regs[addr+i])
		}
		b.out.Write(withCRC(resp))
	case 6:
		b.regs[addr] = binary.BigEndian.Uint16(frame[4:])
		b.out.Write(frame)
	case 16:
		qty := binary.BigEndian.Uint16(frame[4:])
		for i := uint16(0); i < qty; i++ {
			b.regs[addr+i] = binary.BigEndian.Uint16(frame[7+2*i:])
		}
		b.out.Write(withCRC(bytes.Clone(frame[:6])))
	}
}

func withCRC(frame []byte) []byte {
	return append(frame, crc16(frame)...)
}

func crc16(data []byte) []byte {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return []byte{byte(crc), byte(crc >> 8)}
}

var errFraming = errors.New("framing error")
