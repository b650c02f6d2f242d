package statemachine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jangala-dev/robot-supervisor/robotstate"
)

func TestBootToIdle(t *testing.T) {
	m := New()
	mode, refusal := m.Step(Inputs{ReflexConnected: true, Faults: robotstate.FaultSet{}})
	require.Nil(t, refusal)
	require.Equal(t, robotstate.ModeIdle, mode)
}

func TestIdleToTeleopAndBack(t *testing.T) {
	m := New()
	m.Step(Inputs{ReflexConnected: true})
	mode, _ := m.Step(Inputs{ReflexConnected: true, Requested: RequestTeleop})
	require.Equal(t, robotstate.ModeTeleop, mode)

	mode, _ = m.Step(Inputs{ReflexConnected: true, Requested: RequestIdle})
	require.Equal(t, robotstate.ModeIdle, mode)
}

func TestEstopForcesErrorFromTeleop(t *testing.T) {
	m := New()
	m.Step(Inputs{ReflexConnected: true})
	m.Step(Inputs{ReflexConnected: true, Requested: RequestTeleop})

	mode, _ := m.Step(Inputs{ReflexConnected: true, Faults: robotstate.NewFaultSet(robotstate.FaultEstop)})
	require.Equal(t, robotstate.ModeError, mode)
}

func TestErrorClearsOnlyWithClearErrorAndNoBlockingFaults(t *testing.T) {
	m := New()
	m.Step(Inputs{ReflexConnected: true})
	m.Step(Inputs{ReflexConnected: true, Requested: RequestTeleop})
	m.Step(Inputs{ReflexConnected: true, Faults: robotstate.NewFaultSet(robotstate.FaultEstop)})

	// clear_error requested but fault still present: stays in ERROR.
	mode, _ := m.Step(Inputs{ReflexConnected: true, Faults: robotstate.NewFaultSet(robotstate.FaultEstop), ClearError: true})
	require.Equal(t, robotstate.ModeError, mode)

	// fault cleared and clear_error requested: returns to IDLE.
	mode, refusal := m.Step(Inputs{ReflexConnected: true, ClearError: true})
	require.Nil(t, refusal)
	require.Equal(t, robotstate.ModeIdle, mode)
}

func TestDisconnectForcesError(t *testing.T) {
	m := New()
	m.Step(Inputs{ReflexConnected: true})
	m.Step(Inputs{ReflexConnected: true, Requested: RequestWander})

	mode, _ := m.Step(Inputs{ReflexConnected: false})
	require.Equal(t, robotstate.ModeError, mode)
}

func TestWanderDoesNotAutoReenterAfterError(t *testing.T) {
	m := New()
	m.Step(Inputs{ReflexConnected: true})
	m.Step(Inputs{ReflexConnected: true, Requested: RequestWander})
	m.Step(Inputs{ReflexConnected: false})
	mode, _ := m.Step(Inputs{ReflexConnected: true, ClearError: true})
	require.Equal(t, robotstate.ModeIdle, mode)
	require.NotEqual(t, robotstate.ModeWander, mode)
}

func TestSetModeRefusedWhileInError(t *testing.T) {
	m := New()
	m.Step(Inputs{ReflexConnected: true})
	m.Step(Inputs{ReflexConnected: true, Faults: robotstate.NewFaultSet(robotstate.FaultEstop)})

	mode, refusal := m.Step(Inputs{ReflexConnected: true, Faults: robotstate.NewFaultSet(robotstate.FaultEstop), Requested: RequestIdle})
	require.NotNil(t, refusal)
	require.Equal(t, robotstate.ModeError, mode)
}

func TestDeterministicGivenSameInputs(t *testing.T) {
	seq := []Inputs{
		{ReflexConnected: true},
		{ReflexConnected: true, Requested: RequestTeleop},
		{ReflexConnected: true, Faults: robotstate.NewFaultSet(robotstate.FaultObstacle)},
	}
	run := func() []robotstate.Mode {
		m := New()
		var out []robotstate.Mode
		for _, in := range seq {
			mode, _ := m.Step(in)
			out = append(out, mode)
		}
		return out
	}
	require.Equal(t, run(), run())
}

func TestObstacleFaultAloneDoesNotForceError(t *testing.T) {
	m := New()
	m.Step(Inputs{ReflexConnected: true})
	mode, _ := m.Step(Inputs{ReflexConnected: true, Requested: RequestWander})
	require.Equal(t, robotstate.ModeWander, mode)

	mode, _ = m.Step(Inputs{ReflexConnected: true, Faults: robotstate.NewFaultSet(robotstate.FaultObstacle)})
	require.Equal(t, robotstate.ModeWander, mode)
}
