// Package faceclient is a typed command/telemetry client for the Face
// MCU, built atop package transport.
package faceclient

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jangala-dev/robot-supervisor/robotstate"
	"github.com/jangala-dev/robot-supervisor/transport"
	"github.com/jangala-dev/robot-supervisor/wire"
)

// Command and telemetry type IDs on the Face wire.
const (
	cmdSetState   byte = 0x20
	cmdGesture    byte = 0x21
	cmdSetSystem  byte = 0x22
	cmdSetTalking byte = 0x23
	cmdSetFlags   byte = 0x24

	telFaceStatus  byte = 0x90
	telTouchEvent  byte = 0x91
	telButtonEvent byte = 0x92
	telHeartbeat   byte = 0x93
)

// TouchEvent mirrors TOUCH_EVENT.
type TouchEvent struct {
	EventType uint8
	X, Y      uint16
}

// ButtonEvent mirrors BUTTON_EVENT.
type ButtonEvent struct {
	ButtonID  uint8
	EventType uint8
	State     uint8
}

// Heartbeat mirrors HEARTBEAT.
type Heartbeat struct {
	UptimeMS uint32
}

// Client wraps a Transport with Face-specific commands, the last-value
// FACE_STATUS slot, and a subscribable channel for buttons/touch.
type Client struct {
	tr  *transport.Transport
	seq atomic.Uint32

	mu       sync.RWMutex
	status   robotstate.FaceStatus
	haveStat bool
	lastRxAt time.Time

	inputs chan any // TouchEvent | ButtonEvent | Heartbeat
}

func New(tr *transport.Transport) *Client {
	return &Client{tr: tr, inputs: make(chan any, 32)}
}

func (c *Client) Transport() *transport.Transport { return c.tr }

func (c *Client) nextSeq() byte { return byte(c.seq.Add(1)) }

// Inputs yields buttons/touch/heartbeat events as they are drained.
func (c *Client) Inputs() <-chan any { return c.inputs }

func (c *Client) SetState(mood, intensity uint8, gazeX, gazeY int8, brightness uint8) error {
	payload := []byte{mood, intensity, byte(gazeX), byte(gazeY), brightness}
	return c.send(cmdSetState, payload)
}

func (c *Client) Gesture(id uint8, durationMS uint16) error {
	payload := make([]byte, 3)
	payload[0] = id
	binary.LittleEndian.PutUint16(payload[1:], durationMS)
	return c.send(cmdGesture, payload)
}

func (c *Client) SetSystem(mode, phase, param uint8) error {
	return c.send(cmdSetSystem, []byte{mode, phase, param})
}

func (c *Client) SetTalking(talking bool, energy uint8) error {
	t := byte(0)
	if talking {
		t = 1
	}
	return c.send(cmdSetTalking, []byte{t, energy})
}

func (c *Client) SetFlags(flags uint8) error {
	return c.send(cmdSetFlags, []byte{flags})
}

func (c *Client) send(typ byte, payload []byte) error {
	frame, err := wire.Build(typ, c.nextSeq(), payload)
	if err != nil {
		return err
	}
	return c.tr.Send(frame)
}

// DrainTelemetry processes all currently queued packets non-blockingly,
// applying FACE_STATUS to the last-value slot and forwarding touch /
// button / heartbeat events to Inputs() (dropping the oldest on
// overflow, per the worker-bus backpressure policy).
func (c *Client) DrainTelemetry() {
	for {
		select {
		case pkt := <-c.tr.Recv():
			c.applyPacket(pkt)
		default:
			return
		}
	}
}

func (c *Client) applyPacket(pkt wire.Packet) {
	switch pkt.Type {
	case telFaceStatus:
		if len(pkt.Payload) < 4 {
			return
		}
		st := robotstate.FaceStatus{
			MoodID:          pkt.Payload[0],
			ActiveGestureID: pkt.Payload[1],
			SystemMode:      pkt.Payload[2],
			Flags:           pkt.Payload[3],
			TPiRxNS:         time.Now().UnixNano(),
		}
		c.mu.Lock()
		c.status = st
		c.haveStat = true
		c.lastRxAt = time.Now()
		c.mu.Unlock()
	case telTouchEvent:
		if len(pkt.Payload) < 5 {
			return
		}
		c.publish(TouchEvent{
			EventType: pkt.Payload[0],
			X:         binary.LittleEndian.Uint16(pkt.Payload[1:3]),
			Y:         binary.LittleEndian.Uint16(pkt.Payload[3:5]),
		})
	case telButtonEvent:
		if len(pkt.Payload) < 4 {
			return
		}
		c.publish(ButtonEvent{
			ButtonID:  pkt.Payload[0],
			EventType: pkt.Payload[1],
			State:     pkt.Payload[2],
		})
	case telHeartbeat:
		if len(pkt.Payload) < 4 {
			return
		}
		c.publish(Heartbeat{UptimeMS: binary.LittleEndian.Uint32(pkt.Payload[0:4])})
	}
}

func (c *Client) publish(ev any) {
	select {
	case c.inputs <- ev:
	default:
		select {
		case <-c.inputs:
		default:
		}
		select {
		case c.inputs <- ev:
		default:
		}
	}
}

// LastStatus returns the most recently applied FACE_STATUS, and whether
// any has ever been received.
func (c *Client) LastStatus() (robotstate.FaceStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status, c.haveStat
}

// StaleFor reports how long it has been since FACE_STATUS was last
// received.
func (c *Client) StaleFor() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.haveStat {
		return time.Duration(1<<63 - 1)
	}
	return time.Since(c.lastRxAt)
}
