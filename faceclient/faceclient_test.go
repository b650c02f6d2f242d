package faceclient

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jangala-dev/robot-supervisor/wire"
)

func TestApplyFaceStatusUpdatesLastValue(t *testing.T) {
	c := New(nil)
	c.applyPacket(wire.Packet{Type: telFaceStatus, Payload: []byte{2, 4, 0, 0b1}})

	st, ok := c.LastStatus()
	require.True(t, ok)
	require.Equal(t, uint8(2), st.MoodID)
	require.Equal(t, uint8(4), st.ActiveGestureID)
	require.Equal(t, uint8(0b1), st.Flags)
}

func TestApplyTouchEventReachesInputs(t *testing.T) {
	c := New(nil)
	payload := make([]byte, 5)
	payload[0] = 1
	binary.LittleEndian.PutUint16(payload[1:3], 120)
	binary.LittleEndian.PutUint16(payload[3:5], 88)
	c.applyPacket(wire.Packet{Type: telTouchEvent, Payload: payload})

	select {
	case ev := <-c.Inputs():
		touch, ok := ev.(TouchEvent)
		require.True(t, ok)
		require.Equal(t, uint16(120), touch.X)
		require.Equal(t, uint16(88), touch.Y)
	default:
		t.Fatal("touch event never published")
	}
}

func TestApplyButtonEventReachesInputs(t *testing.T) {
	c := New(nil)
	c.applyPacket(wire.Packet{Type: telButtonEvent, Payload: []byte{2, 1, 1, 0}})

	select {
	case ev := <-c.Inputs():
		btn, ok := ev.(ButtonEvent)
		require.True(t, ok)
		require.Equal(t, uint8(2), btn.ButtonID)
		require.Equal(t, uint8(1), btn.State)
	default:
		t.Fatal("button event never published")
	}
}

func TestInputsOverflowDropsOldest(t *testing.T) {
	c := New(nil)
	for i := 0; i < 40; i++ {
		c.applyPacket(wire.Packet{Type: telButtonEvent, Payload: []byte{byte(i), 0, 0, 0}})
	}

	// Channel capacity is 32; the first events were dropped to make
	// room, so the oldest survivor is no longer button 0.
	ev := <-c.Inputs()
	btn := ev.(ButtonEvent)
	require.Greater(t, btn.ButtonID, uint8(0))
}

func TestShortPayloadsIgnored(t *testing.T) {
	c := New(nil)
	c.applyPacket(wire.Packet{Type: telFaceStatus, Payload: []byte{1, 2}})
	_, ok := c.LastStatus()
	require.False(t, ok)

	c.applyPacket(wire.Packet{Type: telTouchEvent, Payload: []byte{1}})
	select {
	case <-c.Inputs():
		t.Fatal("short touch payload should have been dropped")
	default:
	}
}
