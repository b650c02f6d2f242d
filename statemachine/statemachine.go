// Package statemachine implements the BOOT/IDLE/TELEOP/WANDER/ERROR
// mode state machine. Transitions are pure and
// deterministic: given (prev, inputs), the next state is uniquely
// defined, so the machine has no hidden state of its own beyond the
// current Mode.
package statemachine

import "github.com/jangala-dev/robot-supervisor/robotstate"

// RequestedMode is the mode an explicit API set_mode call asks for.
// RequestNone means no set_mode request arrived this tick.
type RequestedMode string

const (
	RequestNone   RequestedMode = ""
	RequestIdle   RequestedMode = "IDLE"
	RequestTeleop RequestedMode = "TELEOP"
	RequestWander RequestedMode = "WANDER"
)

// Inputs are the per-tick facts the transition table evaluates.
type Inputs struct {
	ReflexConnected bool
	Faults          robotstate.FaultSet
	Requested       RequestedMode
	ClearError      bool
}

// Refusal describes why a requested transition did not happen, surfaced
// to the web API as a structured 409-style error.
type Refusal struct {
	Reason string
}

func (r *Refusal) Error() string { return r.Reason }

// Machine holds the current Mode and advances it tick by tick.
type Machine struct {
	mode robotstate.Mode
}

// New starts the machine in BOOT, its sole initial state.
func New() *Machine {
	return &Machine{mode: robotstate.ModeBoot}
}

func (m *Machine) Mode() robotstate.Mode { return m.mode }

// blockingFaults are faults that force ERROR regardless of anything
// else (rule 1).
var blockingFaults = []robotstate.Fault{robotstate.FaultEstop, robotstate.FaultTilt, robotstate.FaultBrownout}

// Step evaluates the ordered transition rules and returns
// the resulting mode plus, when a requested transition was refused, a
// Refusal describing why.
func (m *Machine) Step(in Inputs) (robotstate.Mode, *Refusal) {
	prev := m.mode

	// Rule 1: any -> ERROR on disconnect or a blocking fault.
	if !in.ReflexConnected || in.Faults.HasAny(blockingFaults...) {
		m.mode = robotstate.ModeError
		return m.mode, refusalFor(prev, m.mode, in)
	}

	// Rule 2: ERROR -> IDLE on clear_error, once reflex is connected and
	// no disqualifying fault remains (ESTOP/TILT/BROWNOUT/DISCONNECT).
	if prev == robotstate.ModeError {
		if in.ClearError && in.ReflexConnected && !in.Faults.HasAny(
			robotstate.FaultEstop, robotstate.FaultTilt, robotstate.FaultBrownout, robotstate.FaultDisconnect) {
			m.mode = robotstate.ModeIdle
			return m.mode, nil
		}
		// Still in ERROR; a set_mode request here is refused.
		if in.Requested != RequestNone {
			return m.mode, &Refusal{Reason: "refused: cannot change mode while ERROR"}
		}
		return m.mode, nil
	}

	// Rule 3: BOOT -> IDLE once reflex is connected and no blocking fault.
	if prev == robotstate.ModeBoot {
		m.mode = robotstate.ModeIdle
		return m.mode, nil
	}

	// Rule 4: IDLE -> TELEOP/WANDER on explicit request.
	if prev == robotstate.ModeIdle {
		switch in.Requested {
		case RequestTeleop:
			m.mode = robotstate.ModeTeleop
		case RequestWander:
			m.mode = robotstate.ModeWander
		case RequestIdle, RequestNone:
			// stay
		}
		return m.mode, nil
	}

	// Rule 5: TELEOP/WANDER -> IDLE on explicit set_mode(IDLE).
	if prev == robotstate.ModeTeleop || prev == robotstate.ModeWander {
		if in.Requested == RequestIdle {
			m.mode = robotstate.ModeIdle
			return m.mode, nil
		}
		if in.Requested == RequestTeleop || in.Requested == RequestWander {
			// Switching directly between active modes is not a
			// documented transition; refuse and stay (rule 6, "otherwise
			// stay", with a refusal so the caller knows why).
			if robotstate.Mode(in.Requested) != prev {
				return prev, &Refusal{Reason: "refused: must set_mode(IDLE) before switching active modes"}
			}
		}
		return m.mode, nil
	}

	// Rule 6: otherwise, stay.
	return m.mode, nil
}

func refusalFor(prev, next robotstate.Mode, in Inputs) *Refusal {
	if in.Requested == RequestNone {
		return nil
	}
	if next == robotstate.ModeError {
		if prev == robotstate.ModeError {
			return &Refusal{Reason: "refused: cannot change mode while ERROR"}
		}
		return &Refusal{Reason: "refused: entering ERROR this tick"}
	}
	return nil
}
