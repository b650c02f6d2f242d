package mockdev

import (
	"context"
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/jangala-dev/robot-supervisor/wire"
)

const (
	faceCmdSetState   byte = 0x20
	faceCmdGesture    byte = 0x21
	faceCmdSetSystem  byte = 0x22
	faceCmdSetTalking byte = 0x23
	faceCmdSetFlags   byte = 0x24

	faceTelStatus    byte = 0x90
	faceTelHeartbeat byte = 0x93
)

// Face is a fake display MCU: it accepts the full command set, tracks
// the resulting display state, and reports it back via FACE_STATUS at
// 10 Hz plus a 1 Hz HEARTBEAT.
type Face struct {
	mu         sync.Mutex
	mood       uint8
	gesture    uint8
	gestureEnd time.Time
	systemMode uint8
	flags      uint8
	talking    bool
	energy     uint8
	startedAt  time.Time
}

func NewFace() *Face {
	return &Face{startedAt: time.Now()}
}

// Mood returns the currently displayed mood id.
func (f *Face) Mood() uint8 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mood
}

// Talking returns the last SET_TALKING state.
func (f *Face) Talking() (bool, uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.talking, f.energy
}

// Serve speaks the Face wire protocol on conn until ctx is cancelled or
// the connection breaks.
func (f *Face) Serve(ctx context.Context, conn io.ReadWriteCloser) {
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		readFrames(conn, f.handle)
	}()

	status := time.NewTicker(100 * time.Millisecond)
	defer status.Stop()
	heartbeat := time.NewTicker(time.Second)
	defer heartbeat.Stop()

	var seq byte
	write := func(typ byte, payload []byte) bool {
		seq++
		frame, err := wire.Build(typ, seq, payload)
		if err != nil {
			return false
		}
		_, werr := conn.Write(frame)
		return werr == nil
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-status.C:
			if !write(faceTelStatus, f.statusPayload()) {
				return
			}
		case <-heartbeat.C:
			p := make([]byte, 8)
			binary.LittleEndian.PutUint32(p[0:4], uint32(time.Since(f.startedAt).Milliseconds()))
			if !write(faceTelHeartbeat, p) {
				return
			}
		}
	}
}

func (f *Face) handle(pkt wire.Packet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch pkt.Type {
	case faceCmdSetState:
		if len(pkt.Payload) >= 5 {
			f.mood = pkt.Payload[0]
		}
	case faceCmdGesture:
		if len(pkt.Payload) >= 3 {
			f.gesture = pkt.Payload[0]
			dur := binary.LittleEndian.Uint16(pkt.Payload[1:3])
			f.gestureEnd = time.Now().Add(time.Duration(dur) * time.Millisecond)
		}
	case faceCmdSetSystem:
		if len(pkt.Payload) >= 3 {
			f.systemMode = pkt.Payload[0]
		}
	case faceCmdSetTalking:
		if len(pkt.Payload) >= 2 {
			f.talking = pkt.Payload[0] != 0
			f.energy = pkt.Payload[1]
		}
	case faceCmdSetFlags:
		if len(pkt.Payload) >= 1 {
			f.flags = pkt.Payload[0]
		}
	}
}

func (f *Face) statusPayload() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	gesture := f.gesture
	if !f.gestureEnd.IsZero() && time.Now().After(f.gestureEnd) {
		gesture = 0
	}
	return []byte{f.mood, gesture, f.systemMode, f.flags}
}
