package reflexclient

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jangala-dev/robot-supervisor/robotstate"
	"github.com/jangala-dev/robot-supervisor/transport"
	"github.com/jangala-dev/robot-supervisor/wire"
)

func TestDecodeStateFields(t *testing.T) {
	p := make([]byte, 13)
	speedL, speedR, gyroZ := int16(-120), int16(115), int16(-40)
	binary.LittleEndian.PutUint16(p[0:2], uint16(speedL))
	binary.LittleEndian.PutUint16(p[2:4], uint16(speedR))
	binary.LittleEndian.PutUint16(p[4:6], uint16(gyroZ))
	binary.LittleEndian.PutUint16(p[6:8], 7400)
	binary.LittleEndian.PutUint16(p[8:10], 0b10010)
	binary.LittleEndian.PutUint16(p[10:12], 480)
	p[12] = byte(robotstate.RangeWarn)

	st, err := decodeState(p)
	require.NoError(t, err)
	require.Equal(t, int16(-120), st.SpeedLMmS)
	require.Equal(t, int16(115), st.SpeedRMmS)
	require.Equal(t, int16(-40), st.GyroZMradS)
	require.Equal(t, uint16(7400), st.BatteryMV)
	require.Equal(t, uint16(0b10010), st.FaultsMask)
	require.Equal(t, uint16(480), st.RangeMM)
	require.Equal(t, robotstate.RangeWarn, st.RangeStatus)
}

func TestDecodeStateRejectsShortPayload(t *testing.T) {
	_, err := decodeState(make([]byte, 12))
	require.Error(t, err)
}

func TestDecodeFaultMask(t *testing.T) {
	fs := DecodeFaultMask(1<<0 | 1<<3)
	require.True(t, fs.Has(robotstate.FaultEstop))
	require.True(t, fs.Has(robotstate.FaultObstacle))
	require.False(t, fs.Has(robotstate.FaultTilt))

	require.True(t, DecodeFaultMask(0).Empty())
}

func TestSetTwistWireEncoding(t *testing.T) {
	client, mcu, cleanup := startClient(t)
	defer cleanup()

	require.NoError(t, client.SetTwist(-100, 50))

	pkt := readPacket(t, mcu)
	require.Equal(t, byte(0x10), pkt.Type)
	require.Len(t, pkt.Payload, 4)
	require.Equal(t, int16(-100), int16(binary.LittleEndian.Uint16(pkt.Payload[0:2])))
	require.Equal(t, int16(50), int16(binary.LittleEndian.Uint16(pkt.Payload[2:4])))
}

func TestClearFaultsWireEncoding(t *testing.T) {
	client, mcu, cleanup := startClient(t)
	defer cleanup()

	require.NoError(t, client.ClearFaults(0x00FF))

	pkt := readPacket(t, mcu)
	require.Equal(t, byte(0x14), pkt.Type)
	require.Equal(t, uint16(0x00FF), binary.LittleEndian.Uint16(pkt.Payload))
}

func TestSequenceNumbersAdvance(t *testing.T) {
	client, mcu, cleanup := startClient(t)
	defer cleanup()

	require.NoError(t, client.Estop())
	first := readPacket(t, mcu)
	require.NoError(t, client.Estop())
	second := readPacket(t, mcu)
	require.Equal(t, byte(first.Seq+1), second.Seq)
}

func startClient(t *testing.T) (*Client, net.Conn, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	dialer, peers := transport.NewMockDialer()
	tr := transport.Start(ctx, dialer)

	var mcu net.Conn
	select {
	case mcu = <-peers:
	case <-time.After(time.Second):
		t.Fatal("transport never dialed")
	}
	require.Eventually(t, tr.Connected, time.Second, 5*time.Millisecond)
	return New(tr), mcu, func() { cancel(); tr.Close() }
}

// readPacket reads one 0x00-delimited frame off the fake MCU side.
func readPacket(t *testing.T, mcu net.Conn) wire.Packet {
	t.Helper()
	_ = mcu.SetReadDeadline(time.Now().Add(time.Second))
	var frame []byte
	buf := make([]byte, 1)
	for {
		_, err := mcu.Read(buf)
		require.NoError(t, err)
		if buf[0] == 0x00 {
			break
		}
		frame = append(frame, buf[0])
	}
	pkt, err := wire.Parse(frame)
	require.NoError(t, err)
	return pkt
}
