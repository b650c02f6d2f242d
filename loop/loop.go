// Package loop is the fixed-rate control loop: a single cooperative
// scheduler that ties together the device clients, the mode state
// machine, the safety pipeline, expression arbitration, the worker bus
// and the parameter registry. It owns RobotState exclusively and
// publishes an immutable Snapshot for the web layer and telemetry
// broadcast: one goroutine, one select, no implicit concurrency.
package loop

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jangala-dev/robot-supervisor/arbitration"
	"github.com/jangala-dev/robot-supervisor/faceclient"
	"github.com/jangala-dev/robot-supervisor/metrics"
	"github.com/jangala-dev/robot-supervisor/params"
	"github.com/jangala-dev/robot-supervisor/planner"
	"github.com/jangala-dev/robot-supervisor/reflexclient"
	"github.com/jangala-dev/robot-supervisor/rlog"
	"github.com/jangala-dev/robot-supervisor/robotstate"
	"github.com/jangala-dev/robot-supervisor/safety"
	"github.com/jangala-dev/robot-supervisor/statemachine"
	"github.com/jangala-dev/robot-supervisor/workerbus"
	"github.com/jangala-dev/robot-supervisor/x/mathx"
	"github.com/jangala-dev/robot-supervisor/x/timex"
)

// TickHz is the fixed control-loop cadence.
const TickHz = 50

// BroadcastEveryNTicks publishes a telemetry snapshot at 20 Hz,
// nominally every 3rd tick at 50 Hz.
const BroadcastEveryNTicks = 3

// TeleopStaleAfter is the default "no fresh API intent" cutoff;
// overridable via the teleop.stale_ms parameter.
const TeleopStaleAfter = 200 * time.Millisecond

// overrunWarnThreshold is how many overruns inside overrunWindow trips
// the telemetry warning.
const (
	overrunWarnThreshold = 5
	overrunWindow        = 5 * time.Second
)

// telemetryTimeout is how long the Reflex link may stay silent before it
// counts as a logical disconnect for safety purposes: the link being
// open is not evidence the MCU is alive.
const telemetryTimeout = 500 * time.Millisecond

// TeleopIntent is the latest API-supplied desired twist.
type TeleopIntent struct {
	Twist robotstate.Twist
	At    time.Time
}

// Deps bundles every collaborator the loop orchestrates. Everything is
// passed in explicitly: nothing in this package reaches for hidden
// global state.
type Deps struct {
	Reflex  *reflexclient.Client
	Face    *faceclient.Client
	Workers *workerbus.Bus
	Planner planner.Planner
	Params  *params.Registry
	Arbiter *arbitration.Arbiter
	Metrics *metrics.Registry // nil disables metric updates
	Log     rlog.Logger
}

// Loop is the fixed-tick scheduler. All fields below tick are owned
// exclusively by the goroutine running Run; cross-goroutine access goes
// through the atomic snapshot or the thread-safe request methods.
type Loop struct {
	d  Deps
	sm *statemachine.Machine

	state robotstate.RobotState
	snap  atomic.Pointer[robotstate.Snapshot]

	mu                sync.Mutex
	teleop            TeleopIntent
	pendingMode       *modeRequest
	clearErrorPending bool
	disconnectLatched bool
	pendingEmote      *arbitration.EmoteIntent
	pendingGesture    *arbitration.GestureIntent
	convState         robotstate.ConversationState

	tickCount    uint64
	overruns     []time.Time
	sessionStart int64

	lastReflexDiag linkDiag
	lastFaceDiag   linkDiag

	lastLowBatteryTick uint64
}

// linkDiag mirrors the cumulative counters transport.Diagnostics
// reports; the loop keeps the previous tick's values so it can forward
// deltas into the monotonic Prometheus counters in metrics.Registry.
type linkDiag struct {
	framesOK, framesBad uint32
	reconnects          uint32
}

// New builds a Loop starting in BOOT with an empty RobotState.
func New(d Deps) *Loop {
	l := &Loop{d: d, sm: statemachine.New()}
	l.state.Mode = robotstate.ModeBoot
	l.state.Faults = robotstate.FaultSet{}
	l.publish()
	return l
}

// Snapshot returns the most recently published, immutable RobotState.
// Safe for concurrent use by the web layer.
func (l *Loop) Snapshot() robotstate.Snapshot {
	p := l.snap.Load()
	if p == nil {
		return robotstate.Snapshot{}
	}
	return *p
}

// SetTeleopIntent records the latest API-supplied desired twist. Safe
// for concurrent use.
func (l *Loop) SetTeleopIntent(v, w int16) {
	l.mu.Lock()
	l.teleop = TeleopIntent{Twist: robotstate.Twist{VMmS: v, WMradS: w}, At: time.Now()}
	l.mu.Unlock()
}

// modeReply carries a set_mode request's outcome back from the tick
// that evaluated it.
type modeReply struct {
	mode    robotstate.Mode
	refusal *statemachine.Refusal
}

// modeRequest is one pending set_mode; done is nil for fire-and-forget
// requests.
type modeRequest struct {
	mode statemachine.RequestedMode
	done chan modeReply
}

// setModeTimeout bounds how long SetMode waits for a tick to evaluate
// the request before giving up (the loop may not be running, e.g. in
// tests driving tick by hand).
const setModeTimeout = 100 * time.Millisecond

// RequestMode records an explicit set_mode request for the next tick,
// without waiting for the outcome.
func (l *Loop) RequestMode(m statemachine.RequestedMode) {
	l.enqueueMode(&modeRequest{mode: m})
}

// SetMode records a set_mode request and blocks until the tick that
// evaluates it, returning the resulting mode and, when the state
// machine refused the transition, the refusal for the caller to surface
// as a structured conflict error.
func (l *Loop) SetMode(m statemachine.RequestedMode) (robotstate.Mode, *statemachine.Refusal) {
	req := &modeRequest{mode: m, done: make(chan modeReply, 1)}
	l.enqueueMode(req)
	select {
	case r := <-req.done:
		return r.mode, r.refusal
	case <-time.After(setModeTimeout):
		return l.Snapshot().Mode, nil
	}
}

func (l *Loop) enqueueMode(req *modeRequest) {
	l.mu.Lock()
	prev := l.pendingMode
	l.pendingMode = req
	l.mu.Unlock()
	if prev != nil && prev.done != nil {
		prev.done <- modeReply{
			mode:    l.Snapshot().Mode,
			refusal: &statemachine.Refusal{Reason: "refused: superseded by a newer set_mode request"},
		}
	}
}

// RequestClearError arms clear_error for the next tick.
func (l *Loop) RequestClearError() {
	l.mu.Lock()
	l.clearErrorPending = true
	l.mu.Unlock()
}

// EStop issues an immediate ESTOP to the Reflex MCU. The resulting
// ESTOP fault bit arrives via telemetry and drives the state machine
// into ERROR on the next tick, same as a firmware-originated estop.
func (l *Loop) EStop() error {
	if l.d.Reflex == nil {
		return nil
	}
	return l.d.Reflex.Estop()
}

// SubmitEmote / SubmitGesture let the planner
// worker (or a test) hand the loop a pending expression intent to
// resolve on the next tick; arbitration's suppression rules decide
// whether it actually reaches the face.
func (l *Loop) SubmitEmote(in arbitration.EmoteIntent) {
	l.mu.Lock()
	l.pendingEmote = &in
	l.mu.Unlock()
}

func (l *Loop) SubmitGesture(in arbitration.GestureIntent) {
	l.mu.Lock()
	l.pendingGesture = &in
	l.mu.Unlock()
}

// Run blocks, ticking at TickHz until ctx is cancelled. It targets
// absolute tick boundaries rather than relative sleeps so a late tick
// never accumulates drift.
func (l *Loop) Run(ctx context.Context) {
	period := timex.PeriodFromHz(TickHz)
	l.state.SessionStartedNS = time.Now().UnixNano()
	l.sessionStart = l.state.SessionStartedNS

	next := time.Now()
	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return
		default:
		}

		next = next.Add(period)
		start := time.Now()
		l.tick(start)
		dur := time.Since(start)
		if l.d.Metrics != nil {
			l.d.Metrics.TickDurationMS.Observe(float64(dur.Microseconds()) / 1000)
		}
		if dur > period {
			l.noteOverrun(start)
		}

		sleep := time.Until(next)
		if sleep <= 0 {
			// Overran the boundary; proceed immediately on the next
			// absolute boundary instead of trying to catch up.
			next = time.Now()
			continue
		}
		select {
		case <-ctx.Done():
			l.shutdown()
			return
		case <-time.After(sleep):
		}
	}
}

func (l *Loop) noteOverrun(at time.Time) {
	l.state.TickOverruns++
	if l.d.Metrics != nil {
		l.d.Metrics.TickOverruns.Inc()
	}
	l.overruns = append(l.overruns, at)
	cutoff := at.Add(-overrunWindow)
	i := 0
	for ; i < len(l.overruns); i++ {
		if l.overruns[i].After(cutoff) {
			break
		}
	}
	l.overruns = l.overruns[i:]
	if len(l.overruns) >= overrunWarnThreshold {
		l.d.Log.Warn().Int("count", len(l.overruns)).Msg("tick overruns exceeded threshold in window")
	}
}

// tick runs the full per-tick pipeline; the sleep-until-boundary step
// lives in Run.
func (l *Loop) tick(now time.Time) {
	l.tickCount++
	l.state.SetNow(now)

	l.drainReflexTelemetry(now)
	l.drainFaceTelemetry(now)

	l.mu.Lock()
	modeReq := l.pendingMode
	clearErr := l.clearErrorPending
	teleop := l.teleop
	emote := l.pendingEmote
	gesture := l.pendingGesture
	l.pendingMode = nil
	l.clearErrorPending = false
	l.pendingEmote = nil
	l.pendingGesture = nil
	l.mu.Unlock()

	requested := statemachine.RequestNone
	if modeReq != nil {
		requested = modeReq.mode
	}

	if !l.state.ReflexConn.Connected {
		l.disconnectLatched = true
	} else if clearErr {
		l.disconnectLatched = false
	}
	if clearErr && l.state.ReflexConn.Connected && l.d.Reflex != nil {
		_ = l.d.Reflex.ClearFaults(0xFFFF)
	}

	faults := reflexclient.DecodeFaultMask(l.state.LastReflexTelemetry.FaultsMask)
	if l.disconnectLatched {
		faults[robotstate.FaultDisconnect] = struct{}{}
	}
	l.state.Faults = faults

	mode, refusal := l.sm.Step(statemachine.Inputs{
		ReflexConnected: l.state.ReflexConn.Connected,
		Faults:          faults,
		Requested:       requested,
		ClearError:      clearErr,
	})
	l.state.Mode = mode
	if refusal != nil {
		l.d.Log.Debug().Str("reason", refusal.Reason).Msg("mode transition refused")
	}
	if modeReq != nil && modeReq.done != nil {
		modeReq.done <- modeReply{mode: mode, refusal: refusal}
	}
	l.state.SessionStartedNS = l.sessionStart

	desired := l.desiredTwist(mode, teleop, now)
	l.state.DesiredTwist = desired

	result := safety.Apply(desired, l.safetyInputs(now))
	l.state.CommandedTwist = result.Twist
	l.state.SafetyScale = result.Scale
	l.state.SafetyTag = result.Tag
	if l.d.Metrics != nil {
		l.d.Metrics.SafetyGate.WithLabelValues(result.Tag).Inc()
	}

	if l.d.Reflex != nil {
		_ = l.d.Reflex.SetTwist(result.Twist.VMmS, result.Twist.WMradS)
	}

	l.drainWorkers(now)
	l.arbitrateExpression(emote, gesture)
	l.checkLowBattery()

	if l.tickCount%BroadcastEveryNTicks == 0 {
		l.publish()
	}
}

func (l *Loop) drainReflexTelemetry(now time.Time) {
	if l.d.Reflex == nil {
		return
	}
	tr := l.d.Reflex.Transport()
	connected := tr.Connected()
	l.state.ReflexConn.Connected = connected
	diag := tr.Diagnostics()
	l.state.ReflexConn.Reconnects = diag.Reconnects
	l.state.ReflexConn.LastOpenNS = diag.LastOpenNS
	l.state.ReflexConn.LastCloseNS = diag.LastCloseNS
	l.state.ReflexConn.LastErrorKind = diag.LastErrorKind
	if l.d.Metrics != nil {
		l.d.Metrics.ReflexFramesOK.Add(float64(diag.FramesOK - l.lastReflexDiag.framesOK))
		l.d.Metrics.ReflexFramesBad.Add(float64(diag.FramesBad - l.lastReflexDiag.framesBad))
		l.d.Metrics.ReflexReconnects.Add(float64(diag.Reconnects - l.lastReflexDiag.reconnects))
	}
	l.lastReflexDiag = linkDiag{framesOK: diag.FramesOK, framesBad: diag.FramesBad, reconnects: diag.Reconnects}

	if t, ok := l.d.Reflex.DrainTelemetry(); ok {
		l.state.LastReflexTelemetry = t
	}
	_ = now
}

func (l *Loop) drainFaceTelemetry(now time.Time) {
	if l.d.Face == nil {
		return
	}
	tr := l.d.Face.Transport()
	l.state.FaceConn.Connected = tr.Connected()
	diag := tr.Diagnostics()
	l.state.FaceConn.Reconnects = diag.Reconnects
	l.state.FaceConn.LastOpenNS = diag.LastOpenNS
	l.state.FaceConn.LastCloseNS = diag.LastCloseNS
	l.state.FaceConn.LastErrorKind = diag.LastErrorKind
	if l.d.Metrics != nil {
		l.d.Metrics.FaceFramesOK.Add(float64(diag.FramesOK - l.lastFaceDiag.framesOK))
		l.d.Metrics.FaceFramesBad.Add(float64(diag.FramesBad - l.lastFaceDiag.framesBad))
		l.d.Metrics.FaceReconnects.Add(float64(diag.Reconnects - l.lastFaceDiag.reconnects))
	}
	l.lastFaceDiag = linkDiag{framesOK: diag.FramesOK, framesBad: diag.FramesBad, reconnects: diag.Reconnects}

	l.d.Face.DrainTelemetry()
	if st, ok := l.d.Face.LastStatus(); ok {
		l.state.LastFaceStatus = st
	}
	_ = now

	// Drain buttons/touch/heartbeat without blocking; the supervisor
	// core only needs to know input happened (e.g. to wake a dashboard
	// subscriber), it does not act on specific button semantics here.
	for {
		select {
		case <-l.d.Face.Inputs():
		default:
			return
		}
	}
}

func (l *Loop) desiredTwist(mode robotstate.Mode, teleop TeleopIntent, now time.Time) robotstate.Twist {
	staleAfter := time.Duration(l.paramI32("teleop.stale_ms", int32(TeleopStaleAfter/time.Millisecond))) * time.Millisecond

	var tw robotstate.Twist
	switch mode {
	case robotstate.ModeTeleop:
		if teleop.At.IsZero() || now.Sub(teleop.At) > staleAfter {
			return robotstate.Zero
		}
		tw = teleop.Twist
	case robotstate.ModeWander:
		tw = l.wanderTwist()
	default:
		return robotstate.Zero
	}

	// Registry-declared velocity ceilings apply to every driver; the
	// same limits are also forwarded to the MCU via SET_CONFIG, so this
	// clamp is the host-side half of a limit the firmware enforces too.
	maxV := int16(l.paramI32("reflex.max_v_mm_s", 600))
	maxW := int16(l.paramI32("reflex.max_w_mrad_s", 3000))
	tw.VMmS = mathx.Clamp(tw.VMmS, -maxV, maxV)
	tw.WMradS = mathx.Clamp(tw.WMradS, -maxW, maxW)
	return tw
}

func (l *Loop) paramI32(key string, def int32) int32 {
	if l.d.Params == nil {
		return def
	}
	v, ok := l.d.Params.Get(key)
	if !ok {
		return def
	}
	i, ok := v.(int32)
	if !ok {
		return def
	}
	return i
}

func (l *Loop) paramBool(key string, def bool) bool {
	if l.d.Params == nil {
		return def
	}
	v, ok := l.d.Params.Get(key)
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

func (l *Loop) paramEnum(key, def string) string {
	if l.d.Params == nil {
		return def
	}
	v, ok := l.d.Params.Get(key)
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

// wanderTwist is the deterministic, locally-executed patrol_drift
// skill: gentle forward motion with a slow sinusoidal curve, entirely
// local so WANDER keeps working with the planner offline. Obstacle
// avoidance is left to the safety pipeline's range and vision gates on
// the next tick.
func (l *Loop) wanderTwist() robotstate.Twist {
	if !l.paramBool("wander.enabled", true) {
		return robotstate.Zero
	}

	forwardMmS := int16(180)
	curveAmplitude := 400.0 // mrad/s
	if l.paramEnum("wander.profile", "calm") == "bold" {
		forwardMmS = 260
		curveAmplitude = 700
	}
	const curvePeriodTicks = 250

	phase := float64(l.tickCount%curvePeriodTicks) / float64(curvePeriodTicks)
	w := int16(curveAmplitude * sin2pi(phase))
	return robotstate.Twist{VMmS: forwardMmS, WMradS: w}
}

// sin2pi is a tiny fixed lookup-free sine approximation good enough for
// a gentle wander curve; avoids pulling in math.Sin's full precision for
// a cosmetic drift pattern while staying deterministic and allocation-free.
func sin2pi(phase float64) float64 {
	// Bhaskara I approximation over [0,1) mapped from [0, 2*pi).
	x := phase - float64(int(phase))
	deg := x * 360
	if deg > 180 {
		deg -= 360
	}
	rad := deg
	const pi = 3.14159265358979323846
	rad = rad * pi / 180
	num := 16 * rad * (pi - absF(rad))
	den := 5*pi*pi - 4*absF(rad)*(pi-absF(rad))
	return num / den
}

func absF(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func (l *Loop) safetyInputs(now time.Time) safety.Inputs {
	alive := l.state.ReflexConn.Connected
	if alive && l.d.Reflex != nil && l.d.Reflex.StaleFor() > telemetryTimeout {
		alive = false
	}
	in := safety.Inputs{
		Mode:            l.state.Mode,
		Faults:          l.state.Faults,
		ReflexConnected: alive,
		RangeMM:         l.state.LastReflexTelemetry.RangeMM,
		RangeStatus:     l.state.LastReflexTelemetry.RangeStatus,
		RangeHardStopMM: uint16(l.paramI32("safety.range_hardstop_mm", 250)),
		RangeScaleMM:    uint16(l.paramI32("safety.range_scale_mm", 500)),
		Now:             now,
	}
	if l.state.LastReflexTelemetry.TPiRxNS != 0 {
		in.RangeSampleAt = time.Unix(0, l.state.LastReflexTelemetry.TPiRxNS)
	}
	if l.d.Workers != nil {
		if vm, ok := l.d.Workers.PeekVision(); ok {
			in.VisionFresh = true
			in.VisionLastAt = vm.ReceivedAt
			in.Vision = safety.VisionObstacle{
				Confident:  len(vm.Detections) > 0 && vm.Confidence > 0,
				Confidence: vm.Confidence,
			}
		}
	}
	return in
}

func (l *Loop) drainWorkers(now time.Time) {
	if l.d.Workers == nil {
		return
	}
	// Vision is read via PeekVision in safetyInputs, not drained here:
	// TryRecv would clear the "valid" flag and falsely trip the
	// stale-vision gate one tick after the last detection arrived.
	if tm, ok, _ := l.d.Workers.DrainTalking(); ok {
		if l.d.Face != nil {
			_ = l.d.Face.SetTalking(tm.Talking, tm.EnergyU8)
		}
	}
	for {
		ev, ok, _ := l.d.Workers.DrainPlanner()
		if !ok {
			break
		}
		l.applyPlannerEvent(ev)
	}
	_ = now
}

func (l *Loop) applyPlannerEvent(ev workerbus.PlannerEvent) {
	switch ev.Kind {
	case "conv_state":
		l.convState = robotstate.ConversationState(strings.ToUpper(ev.ConvState))
		l.state.ConversationState = l.convState
	case "connected":
		l.state.PlannerConn.Connected = true
	case "disconnected":
		l.state.PlannerConn.Connected = false
		// Mid-turn failure: stop any in-flight speech, drop queued
		// planner expression, and flash a brief "confused" face.
		if l.convState == robotstate.ConvSpeaking || l.convState == robotstate.ConvListening {
			if l.d.Face != nil {
				_ = l.d.Face.SetTalking(false, 0)
				_ = arbitration.SendEmote(l.d.Face, arbitration.MoodConfused, 0.5, 255)
			}
			l.pendingEmote = nil
			l.pendingGesture = nil
			l.convState = robotstate.ConvIdle
			l.state.ConversationState = l.convState
		}
	case "plan":
		for _, a := range ev.Actions {
			switch a.Kind {
			case "emote":
				l.pendingEmote = &arbitration.EmoteIntent{Name: a.Name, Intensity: a.Intensity}
			case "gesture":
				l.pendingGesture = &arbitration.GestureIntent{Name: a.Name}
			}
		}
	}
}

func (l *Loop) arbitrateExpression(emote *arbitration.EmoteIntent, gesture *arbitration.GestureIntent) {
	if l.d.Arbiter == nil || l.d.Face == nil {
		return
	}
	conv := l.state.ConversationState
	if conv == robotstate.ConvThinking {
		m, intensity := arbitration.ThinkingExpression()
		_ = arbitration.SendEmote(l.d.Face, m, intensity, 255)
	}
	if emote != nil {
		if m, intensity, ok := l.d.Arbiter.ResolveEmote(conv, *emote); ok {
			_ = arbitration.SendEmote(l.d.Face, m, intensity, 255)
		}
	}
	if gesture != nil {
		if g, ok := l.d.Arbiter.ResolveGesture(conv, *gesture); ok {
			_ = arbitration.SendGesture(l.d.Face, g, 600)
		}
	}
}

// lowBatteryRemindTicks spaces out LOW_BATTERY display refreshes so the
// face isn't re-commanded every tick while the condition persists.
const lowBatteryRemindTicks = 250 // 5s at 50 Hz

// checkLowBattery pushes the LOW_BATTERY system display to the face
// while the Reflex-reported pack voltage sits below the configured
// threshold.
func (l *Loop) checkLowBattery() {
	if l.d.Face == nil {
		return
	}
	mv := l.state.LastReflexTelemetry.BatteryMV
	if mv == 0 {
		// No telemetry yet; zero is absence of data, not an empty pack.
		return
	}
	threshold := uint16(l.paramI32("power.low_battery_mv", 6600))
	if mv >= threshold {
		return
	}
	if l.lastLowBatteryTick != 0 && l.tickCount-l.lastLowBatteryTick < lowBatteryRemindTicks {
		return
	}
	l.lastLowBatteryTick = l.tickCount
	_ = l.d.Face.SetSystem(3 /* LOW_BATTERY */, 0, 0)
	l.d.Log.Warn().Uint16("battery_mv", mv).Msg("battery below threshold")
}

func (l *Loop) publish() {
	snap := l.state.Publish()
	l.snap.Store(&snap)
}

// shutdown issues the final STOP/ESTOP-clear to Reflex and a
// "shutting down" face command before Run returns. Workers are stopped
// by the caller, which owns their context cancellation.
func (l *Loop) shutdown() {
	if l.d.Reflex != nil {
		_ = l.d.Reflex.Stop(0)
		_ = l.d.Reflex.ClearFaults(0xFFFF)
	}
	if l.d.Face != nil {
		_ = l.d.Face.SetSystem(5 /* SHUTTING_DOWN */, 0, 0)
	}
	l.publish()
}
