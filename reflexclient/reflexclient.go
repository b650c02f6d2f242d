// Package reflexclient is a typed command/telemetry client for the
// Reflex MCU, built atop package transport.
package reflexclient

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jangala-dev/robot-supervisor/robotstate"
	"github.com/jangala-dev/robot-supervisor/transport"
	"github.com/jangala-dev/robot-supervisor/wire"
)

// Command and telemetry type IDs on the Reflex wire.
const (
	cmdSetTwist    byte = 0x10
	cmdStop        byte = 0x11
	cmdEstop       byte = 0x12
	cmdClearFaults byte = 0x14
	cmdSetConfig   byte = 0x15
	telemetryState byte = 0x80
)

// Client wraps a Transport with Reflex-specific commands and the
// last-received STATE telemetry slot.
type Client struct {
	tr  *transport.Transport
	seq atomic.Uint32

	mu        sync.RWMutex
	telemetry robotstate.ReflexTelemetry
	haveTelem bool
	lastRxAt  time.Time
}

func New(tr *transport.Transport) *Client {
	return &Client{tr: tr}
}

// Transport exposes the underlying transport for connection-state and
// diagnostics consumption by the control loop.
func (c *Client) Transport() *transport.Transport { return c.tr }

func (c *Client) nextSeq() byte { return byte(c.seq.Add(1)) }

// SetTwist issues SET_TWIST.
func (c *Client) SetTwist(v, w int16) error {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint16(payload[0:2], uint16(v))
	binary.LittleEndian.PutUint16(payload[2:4], uint16(w))
	return c.send(cmdSetTwist, payload)
}

// Stop reason codes are defined by the MCU firmware; the core only
// forwards the byte it is given.
func (c *Client) Stop(reason byte) error {
	return c.send(cmdStop, []byte{reason})
}

// Estop issues the empty-payload ESTOP command.
func (c *Client) Estop() error {
	return c.send(cmdEstop, nil)
}

// ClearFaults issues CLEAR_FAULTS with the given bitmask.
func (c *Client) ClearFaults(mask uint16) error {
	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, mask)
	return c.send(cmdClearFaults, payload)
}

// SetConfig forwards a parameter-registry binding to the MCU as a
// little-endian u32.
func (c *Client) SetConfig(paramID byte, value uint32) error {
	payload := make([]byte, 5)
	payload[0] = paramID
	binary.LittleEndian.PutUint32(payload[1:], value)
	return c.send(cmdSetConfig, payload)
}

func (c *Client) send(typ byte, payload []byte) error {
	frame, err := wire.Build(typ, c.nextSeq(), payload)
	if err != nil {
		return err
	}
	return c.tr.Send(frame)
}

// DrainTelemetry processes any STATE packets currently queued on the
// transport, updating the last-value slot. It never blocks: an empty
// queue returns immediately with ok=false.
func (c *Client) DrainTelemetry() (robotstate.ReflexTelemetry, bool) {
	var latest robotstate.ReflexTelemetry
	got := false
	for {
		select {
		case pkt := <-c.tr.Recv():
			if pkt.Type != telemetryState {
				continue
			}
			t, err := decodeState(pkt.Payload)
			if err != nil {
				continue
			}
			t.TPiRxNS = time.Now().UnixNano()
			latest = t
			got = true
		default:
			if got {
				c.mu.Lock()
				c.telemetry = latest
				c.haveTelem = true
				c.lastRxAt = time.Now()
				c.mu.Unlock()
			}
			return latest, got
		}
	}
}

// LastTelemetry returns the most recently applied STATE telemetry, and
// whether any has ever been received.
func (c *Client) LastTelemetry() (robotstate.ReflexTelemetry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.telemetry, c.haveTelem
}

// StaleFor reports how long it has been since the last telemetry was
// received; a link quiet for more than 500ms counts as a logical
// disconnect for safety purposes.
func (c *Client) StaleFor() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.haveTelem {
		return time.Duration(1<<63 - 1)
	}
	return time.Since(c.lastRxAt)
}

func decodeState(payload []byte) (robotstate.ReflexTelemetry, error) {
	if len(payload) < 13 {
		return robotstate.ReflexTelemetry{}, wire.ErrShortPacket
	}
	var t robotstate.ReflexTelemetry
	t.SpeedLMmS = int16(binary.LittleEndian.Uint16(payload[0:2]))
	t.SpeedRMmS = int16(binary.LittleEndian.Uint16(payload[2:4]))
	t.GyroZMradS = int16(binary.LittleEndian.Uint16(payload[4:6]))
	t.BatteryMV = binary.LittleEndian.Uint16(payload[6:8])
	t.FaultsMask = binary.LittleEndian.Uint16(payload[8:10])
	t.RangeMM = binary.LittleEndian.Uint16(payload[10:12])
	t.RangeStatus = robotstate.RangeStatus(payload[12])
	return t, nil
}

// DecodeFaultMask turns the Reflex faults_mask bitfield into a FaultSet.
// Bit layout is a host-side convention (the MCU only needs to agree on
// ordinal positions); bit 0 = ESTOP, 1 = TILT, 2 = BROWNOUT,
// 3 = OBSTACLE, 4 = ENCODER_FAULT.
func DecodeFaultMask(mask uint16) robotstate.FaultSet {
	fs := robotstate.FaultSet{}
	bits := []struct {
		bit   uint16
		fault robotstate.Fault
	}{
		{1 << 0, robotstate.FaultEstop},
		{1 << 1, robotstate.FaultTilt},
		{1 << 2, robotstate.FaultBrownout},
		{1 << 3, robotstate.FaultObstacle},
		{1 << 4, robotstate.FaultEncoderFault},
	}
	for _, b := range bits {
		if mask&b.bit != 0 {
			fs[b.fault] = struct{}{}
		}
	}
	return fs
}
