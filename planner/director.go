package planner

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jangala-dev/robot-supervisor/rlog"
	"github.com/jangala-dev/robot-supervisor/robotstate"
	"github.com/jangala-dev/robot-supervisor/workerbus"
)

const (
	defaultPlanInterval = 10 * time.Second
	planBackoffFloor    = time.Second
	planBackoffCap      = 30 * time.Second
)

// Director drives the remote planner from the control loop's published
// snapshots: it issues /plan on a fixed cadence, retries with capped
// backoff on failure, and publishes resulting actions and
// connection-state changes onto the worker bus, where the loop drains
// them through the same latched channel a planner child process would
// feed.
type Director struct {
	client   Planner
	bus      *workerbus.Bus
	robotID  string
	interval time.Duration
	log      rlog.Logger
	onRetry  func()
	seq      atomic.Uint64
}

// NewDirector wires client output into bus. interval <= 0 uses the
// default planning cadence; onRetry (may be nil) fires once per failed
// attempt.
func NewDirector(client Planner, bus *workerbus.Bus, robotID string, interval time.Duration, log rlog.Logger, onRetry func()) *Director {
	if interval <= 0 {
		interval = defaultPlanInterval
	}
	return &Director{
		client:   client,
		bus:      bus,
		robotID:  robotID,
		interval: interval,
		log:      log,
		onRetry:  onRetry,
	}
}

// Run blocks until ctx is cancelled. snapshot supplies the current
// RobotState without the Director ever touching loop internals.
func (d *Director) Run(ctx context.Context, snapshot func() robotstate.Snapshot) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	backoff := planBackoffFloor
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		snap := snapshot()
		if !planWorthwhile(snap) {
			continue
		}

		resp, err := d.client.Plan(ctx, d.request(snap), 0)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.log.Warn().Err(err).Msg("plan request failed")
			d.bus.PublishPlanner(workerbus.PlannerEvent{Kind: "disconnected"})
			if d.onRetry != nil {
				d.onRetry()
			}
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = planBackoffFloor
		d.bus.PublishPlanner(workerbus.PlannerEvent{Kind: "connected"})
		if len(resp.Actions) > 0 {
			d.bus.PublishPlanner(workerbus.PlannerEvent{
				Kind:    "plan",
				PlanID:  resp.PlanID,
				Actions: resp.Actions,
			})
		}
	}
}

// planWorthwhile skips planning while the robot can't act on the result
// anyway: ERROR/BOOT, or mid-conversation (the conversation pipeline
// owns the face, and motion intents would be a tick-old distraction).
func planWorthwhile(snap robotstate.Snapshot) bool {
	switch snap.Mode {
	case robotstate.ModeBoot, robotstate.ModeError:
		return false
	}
	switch snap.ConversationState {
	case robotstate.ConvListening, robotstate.ConvSpeaking:
		return false
	}
	return true
}

func (d *Director) request(snap robotstate.Snapshot) PlanRequest {
	return PlanRequest{
		RobotID:       d.robotID,
		Seq:           d.seq.Add(1),
		MonotonicTSMs: time.Now().UnixMilli(),
		WorldState: WorldState{
			"mode":               string(snap.Mode),
			"faults":             snap.Faults.Slice(),
			"battery_mv":         snap.LastReflexTelemetry.BatteryMV,
			"range_mm":           snap.LastReflexTelemetry.RangeMM,
			"conversation_state": string(snap.ConversationState),
			"session_duration_s": snap.SessionDuration,
		},
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	cur *= 2
	if cur > planBackoffCap {
		cur = planBackoffCap
	}
	return cur
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
