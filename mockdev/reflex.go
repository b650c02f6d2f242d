// Package mockdev provides in-process fakes of the Reflex and Face MCUs
// that speak the real framed wire protocol over an io.ReadWriteCloser,
// used by the --mock run mode and by end-to-end tests. The fakes model
// just enough device behavior to exercise the supervisor: twist
// echo-back on encoder telemetry, latched fault bits, and a settable
// ultrasonic range.
package mockdev

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/jangala-dev/robot-supervisor/wire"
)

// Reflex fault mask bits, matching the STATE telemetry bitfield.
const (
	FaultBitEstop    uint16 = 1 << 0
	FaultBitTilt     uint16 = 1 << 1
	FaultBitBrownout uint16 = 1 << 2
	FaultBitObstacle uint16 = 1 << 3
	FaultBitEncoder  uint16 = 1 << 4
)

// Range status byte values carried in STATE telemetry.
const (
	RangeStatusNone  byte = 0
	RangeStatusValid byte = 1
	RangeStatusWarn  byte = 2
	RangeStatusStale byte = 3
)

const (
	reflexCmdSetTwist    byte = 0x10
	reflexCmdStop        byte = 0x11
	reflexCmdEstop       byte = 0x12
	reflexCmdClearFaults byte = 0x14
	reflexCmdSetConfig   byte = 0x15
	reflexTelState       byte = 0x80
)

// Reflex is a fake motion MCU. One Reflex may serve many successive
// connections (each reconnect gets the same latched fault state, like a
// real MCU that kept running while the cable was out).
type Reflex struct {
	mu          sync.Mutex
	twistV      int16
	twistW      int16
	faults      uint16
	batteryMV   uint16
	rangeMM     uint16
	rangeStatus byte
	config      map[byte]uint32
}

// NewReflex starts with a healthy battery and an open 1.5 m range.
func NewReflex() *Reflex {
	return &Reflex{
		batteryMV:   7400,
		rangeMM:     1500,
		rangeStatus: RangeStatusValid,
		config:      make(map[byte]uint32),
	}
}

// SetRange overrides the reported ultrasonic sample.
func (r *Reflex) SetRange(mm uint16, status byte) {
	r.mu.Lock()
	r.rangeMM, r.rangeStatus = mm, status
	r.mu.Unlock()
}

// InjectFaults ORs bits into the latched fault mask, as if the firmware
// safety latches had tripped.
func (r *Reflex) InjectFaults(mask uint16) {
	r.mu.Lock()
	r.faults |= mask
	r.mu.Unlock()
}

// Faults returns the current latched mask.
func (r *Reflex) Faults() uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.faults
}

// LastTwist returns the last SET_TWIST the fake accepted.
func (r *Reflex) LastTwist() (v, w int16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.twistV, r.twistW
}

// ConfigValue returns the last SET_CONFIG value for a param id.
func (r *Reflex) ConfigValue(paramID byte) (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.config[paramID]
	return v, ok
}

// Serve speaks the Reflex wire protocol on conn until ctx is cancelled
// or the connection breaks. STATE telemetry is emitted at 50 Hz.
func (r *Reflex) Serve(ctx context.Context, conn io.ReadWriteCloser) {
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		readFrames(conn, func(pkt wire.Packet) {
			r.handle(pkt)
		})
	}()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	var seq byte
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			seq++
			frame, err := wire.Build(reflexTelState, seq, r.statePayload())
			if err != nil {
				return
			}
			if _, werr := conn.Write(frame); werr != nil {
				return
			}
		}
	}
}

func (r *Reflex) handle(pkt wire.Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch pkt.Type {
	case reflexCmdSetTwist:
		if len(pkt.Payload) >= 4 {
			r.twistV = int16(binary.LittleEndian.Uint16(pkt.Payload[0:2]))
			r.twistW = int16(binary.LittleEndian.Uint16(pkt.Payload[2:4]))
		}
	case reflexCmdStop:
		r.twistV, r.twistW = 0, 0
	case reflexCmdEstop:
		r.twistV, r.twistW = 0, 0
		r.faults |= FaultBitEstop
	case reflexCmdClearFaults:
		if len(pkt.Payload) >= 2 {
			mask := binary.LittleEndian.Uint16(pkt.Payload[0:2])
			r.faults &^= mask
		}
	case reflexCmdSetConfig:
		if len(pkt.Payload) >= 5 {
			r.config[pkt.Payload[0]] = binary.LittleEndian.Uint32(pkt.Payload[1:5])
		}
	}
}

// statePayload assembles the 13-byte STATE telemetry body. The fake
// reports commanded twist straight back as measured wheel speed.
func (r *Reflex) statePayload() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := make([]byte, 13)
	binary.LittleEndian.PutUint16(p[0:2], uint16(r.twistV))
	binary.LittleEndian.PutUint16(p[2:4], uint16(r.twistV))
	binary.LittleEndian.PutUint16(p[4:6], uint16(r.twistW))
	binary.LittleEndian.PutUint16(p[6:8], r.batteryMV)
	binary.LittleEndian.PutUint16(p[8:10], r.faults)
	binary.LittleEndian.PutUint16(p[10:12], r.rangeMM)
	p[12] = r.rangeStatus
	return p
}

// readFrames splits conn's byte stream on 0x00 delimiters and hands
// every frame that parses cleanly to fn. Bad frames are dropped, same
// as the real transport's reader.
func readFrames(conn io.Reader, fn func(wire.Packet)) {
	br := bufio.NewReader(conn)
	for {
		frame, err := br.ReadBytes(0x00)
		if len(frame) > 1 {
			if pkt, perr := wire.Parse(frame[:len(frame)-1]); perr == nil {
				fn(pkt)
			}
		}
		if err != nil {
			return
		}
	}
}
