package mockdev

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jangala-dev/robot-supervisor/faceclient"
	"github.com/jangala-dev/robot-supervisor/reflexclient"
	"github.com/jangala-dev/robot-supervisor/transport"
)

func startLink(t *testing.T) (*transport.Transport, net.Conn, context.Context, func()) {
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
	return tr, mcu, ctx, func() { cancel(); tr.Close() }
}

func TestReflexFakeTelemetryAndCommands(t *testing.T) {
	tr, mcu, ctx, cleanup := startLink(t)
	defer cleanup()

	fake := NewReflex()
	go fake.Serve(ctx, mcu)

	client := reflexclient.New(tr)

	require.Eventually(t, func() bool {
		tel, ok := client.DrainTelemetry()
		return ok && tel.BatteryMV == 7400
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, client.SetTwist(120, 50))
	require.Eventually(t, func() bool {
		v, w := fake.LastTwist()
		return v == 120 && w == 50
	}, time.Second, 5*time.Millisecond)

	// The fake echoes commanded twist back as measured wheel speed.
	require.Eventually(t, func() bool {
		tel, ok := client.DrainTelemetry()
		return ok && tel.SpeedLMmS == 120
	}, time.Second, 5*time.Millisecond)
}

func TestReflexFakeEstopLatchesAndClears(t *testing.T) {
	tr, mcu, ctx, cleanup := startLink(t)
	defer cleanup()

	fake := NewReflex()
	go fake.Serve(ctx, mcu)
	client := reflexclient.New(tr)

	require.NoError(t, client.Estop())
	require.Eventually(t, func() bool {
		return fake.Faults()&FaultBitEstop != 0
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		tel, ok := client.DrainTelemetry()
		return ok && tel.FaultsMask&uint16(FaultBitEstop) != 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, client.ClearFaults(0xFFFF))
	require.Eventually(t, func() bool {
		return fake.Faults() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestReflexFakeSetConfigStored(t *testing.T) {
	tr, mcu, ctx, cleanup := startLink(t)
	defer cleanup()

	fake := NewReflex()
	go fake.Serve(ctx, mcu)
	client := reflexclient.New(tr)

	require.NoError(t, client.SetConfig(1, 600))
	require.Eventually(t, func() bool {
		v, ok := fake.ConfigValue(1)
		return ok && v == 600
	}, time.Second, 5*time.Millisecond)
}

func TestFaceFakeTracksCommandsAndReportsStatus(t *testing.T) {
	tr, mcu, ctx, cleanup := startLink(t)
	defer cleanup()

	fake := NewFace()
	go fake.Serve(ctx, mcu)
	client := faceclient.New(tr)

	require.NoError(t, client.SetState(1 /* HAPPY */, 200, 0, 0, 255))
	require.Eventually(t, func() bool {
		return fake.Mood() == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, client.SetTalking(true, 80))
	require.Eventually(t, func() bool {
		talking, energy := fake.Talking()
		return talking && energy == 80
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		client.DrainTelemetry()
		st, ok := client.LastStatus()
		return ok && st.MoodID == 1
	}, time.Second, 5*time.Millisecond)
}
