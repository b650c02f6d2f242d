// Package robotstate defines the tick-published snapshot and the value
// types that flow through the control loop. RobotState is exclusively
// owned and mutated by the control loop (package loop); every other
// subsystem reads it through an immutable Snapshot.
package robotstate

import "time"

// Mode is the top-level state-machine state.
type Mode string

const (
	ModeBoot   Mode = "BOOT"
	ModeIdle   Mode = "IDLE"
	ModeTeleop Mode = "TELEOP"
	ModeWander Mode = "WANDER"
	ModeError  Mode = "ERROR"
)

// Fault is a latching or continuous safety condition.
type Fault string

const (
	FaultEstop        Fault = "ESTOP"
	FaultTilt         Fault = "TILT"
	FaultBrownout     Fault = "BROWNOUT"
	FaultObstacle     Fault = "OBSTACLE"
	FaultEncoderFault Fault = "ENCODER_FAULT"
	FaultDisconnect   Fault = "DISCONNECT"
)

// Latching reports whether a fault must be explicitly cleared (true) or
// is recomputed fresh every tick from current sensor state (false).
func (f Fault) Latching() bool { return f != FaultObstacle }

// FaultSet is a small set over the fixed Fault vocabulary; order never
// matters, so it is backed by a map for O(1) membership tests.
type FaultSet map[Fault]struct{}

func NewFaultSet(faults ...Fault) FaultSet {
	fs := make(FaultSet, len(faults))
	for _, f := range faults {
		fs[f] = struct{}{}
	}
	return fs
}

func (fs FaultSet) Has(f Fault) bool {
	_, ok := fs[f]
	return ok
}

// HasAny reports whether fs contains any of the given faults.
func (fs FaultSet) HasAny(faults ...Fault) bool {
	for _, f := range faults {
		if fs.Has(f) {
			return true
		}
	}
	return false
}

// Empty reports whether the set has no members.
func (fs FaultSet) Empty() bool { return len(fs) == 0 }

// With returns a copy of fs with f added.
func (fs FaultSet) With(f Fault) FaultSet {
	out := fs.Clone()
	out[f] = struct{}{}
	return out
}

// Without returns a copy of fs with f removed.
func (fs FaultSet) Without(f Fault) FaultSet {
	out := fs.Clone()
	delete(out, f)
	return out
}

func (fs FaultSet) Clone() FaultSet {
	out := make(FaultSet, len(fs))
	for k := range fs {
		out[k] = struct{}{}
	}
	return out
}

// Slice returns a deterministically ordered slice for logging/JSON.
func (fs FaultSet) Slice() []Fault {
	order := []Fault{FaultEstop, FaultTilt, FaultBrownout, FaultObstacle, FaultEncoderFault, FaultDisconnect}
	out := make([]Fault, 0, len(fs))
	for _, f := range order {
		if fs.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// Twist is a differential-drive velocity command.
type Twist struct {
	VMmS   int16 `json:"v_mm_s"`
	WMradS int16 `json:"w_mrad_s"`
}

// Zero is the universal "stop" twist.
var Zero = Twist{}

// RangeStatus is the ultrasonic range sample's validity tag.
type RangeStatus uint8

const (
	RangeNone RangeStatus = iota
	RangeValid
	RangeWarn
	RangeStale
)

// ReflexTelemetry mirrors the Reflex STATE wire message plus host-side
// receive bookkeeping.
type ReflexTelemetry struct {
	SpeedLMmS   int16
	SpeedRMmS   int16
	GyroZMradS  int16
	BatteryMV   uint16
	FaultsMask  uint16
	RangeMM     uint16
	RangeStatus RangeStatus
	TSrcUS      uint32 // MCU-local source timestamp, microseconds
	TPiRxNS     int64  // host monotonic receive timestamp, nanoseconds
}

// FaceStatus mirrors the Face FACE_STATUS wire message plus host-side
// receive bookkeeping.
type FaceStatus struct {
	MoodID          uint8
	ActiveGestureID uint8
	SystemMode      uint8
	Flags           uint8
	TSrcUS          uint32
	TPiRxNS         int64
}

// ConversationState governs expression arbitration.
type ConversationState string

const (
	ConvIdle      ConversationState = "IDLE"
	ConvListening ConversationState = "LISTENING"
	ConvThinking  ConversationState = "THINKING"
	ConvSpeaking  ConversationState = "SPEAKING"
)

// ConnState tracks one device link's connectivity, mirroring the
// counters package transport maintains.
type ConnState struct {
	Connected     bool
	Reconnects    uint32
	LastOpenNS    int64
	LastCloseNS   int64
	LastErrorKind string
}

// RobotState is the tick-published snapshot. It is exclusively owned by
// the control loop; every read elsewhere goes through an immutable
// Snapshot (see Publish).
type RobotState struct {
	Mode Mode

	ReflexConn  ConnState
	FaceConn    ConnState
	PlannerConn ConnState

	Faults FaultSet

	LastReflexTelemetry ReflexTelemetry
	LastFaceStatus      FaceStatus

	CommandedTwist Twist
	DesiredTwist   Twist
	SafetyScale    float64
	SafetyTag      string

	ConversationState ConversationState

	SessionStartedNS int64
	TickOverruns     uint32

	tNowNS int64 // cached for SessionDurationS; not exported, set by loop each tick
}

// Invariant checks; callers (tests, and the loop in debug builds) use
// these to assert the model never drifts.

// CommandedTwistZeroInvariant reports whether ERROR mode implies a zero
// commanded twist.
func (s RobotState) CommandedTwistZeroInvariant() bool {
	if s.Mode != ModeError {
		return true
	}
	return s.CommandedTwist == Zero
}

// ErrorModeInvariant reports whether the presence of a disqualifying
// fault implies ERROR mode.
func (s RobotState) ErrorModeInvariant() bool {
	if s.Faults.HasAny(FaultEstop, FaultTilt, FaultBrownout, FaultDisconnect) {
		return s.Mode == ModeError
	}
	return true
}

// SetNow stamps the tick's wall-clock time so SessionDurationS can be
// derived without the loop threading time.Now() through every reader.
func (s *RobotState) SetNow(t time.Time) { s.tNowNS = t.UnixNano() }

// SessionDurationS returns seconds elapsed since SessionStartedNS, or 0
// before a session has started.
func (s RobotState) SessionDurationS() float64 {
	if s.SessionStartedNS == 0 || s.tNowNS == 0 {
		return 0
	}
	d := s.tNowNS - s.SessionStartedNS
	if d < 0 {
		return 0
	}
	return float64(d) / float64(time.Second)
}

// Snapshot is the immutable, published form of RobotState consumed by
// the web layer and telemetry broadcast. It is produced by value copy
// (RobotState has no pointers/slices that alias mutable loop state other
// than FaultSet, which Snapshot clones).
type Snapshot struct {
	RobotState
	Faults          FaultSet // cloned, safe to read concurrently
	SessionDuration float64
}

// Publish produces a Snapshot safe to hand to other goroutines.
func (s RobotState) Publish() Snapshot {
	return Snapshot{
		RobotState:      s,
		Faults:          s.Faults.Clone(),
		SessionDuration: s.SessionDurationS(),
	}
}
