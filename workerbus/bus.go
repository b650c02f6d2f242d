package workerbus

import "context"

// Bus owns the three worker classes and their bounded channels. The
// control loop reads it once per tick via PeekVision/DrainTalking/
// DrainPlanner — all non-blocking.
type Bus struct {
	vision  *LatestChannel[VisionMessage]
	talking *LatestChannel[TalkingMessage]
	planner *LatchedQueue[PlannerEvent]

	visionWorker  *ProcessWorker
	audioWorker   *ProcessWorker
	plannerWorker *ProcessWorker

	cancel context.CancelFunc
}

// Config names the three worker executables; a zero-length Argv
// disables that worker (it simply never goes up, and stays stale).
type Config struct {
	VisionArgv  []string
	AudioArgv   []string
	PlannerArgv []string
}

func New(cfg Config) *Bus {
	b := &Bus{
		vision:  NewLatestChannel[VisionMessage](),
		talking: NewLatestChannel[TalkingMessage](),
		planner: NewLatchedQueue[PlannerEvent](32),
	}
	b.visionWorker = NewProcessWorker("vision", cfg.VisionArgv, func(line []byte) {
		if m, err := DecodeVision(line); err == nil {
			b.vision.Publish(m)
		}
	})
	b.audioWorker = NewProcessWorker("audio", cfg.AudioArgv, func(line []byte) {
		if m, err := DecodeTalking(line); err == nil {
			b.talking.Publish(m)
		}
	})
	b.plannerWorker = NewProcessWorker("planner", cfg.PlannerArgv, func(line []byte) {
		if m, err := DecodePlannerEvent(line); err == nil {
			b.planner.Push(m)
		}
	})
	return b
}

// OnWorkerExit registers fn to fire with the worker's name after every
// child-process exit; used to count respawns. Call before Start.
func (b *Bus) OnWorkerExit(fn func(worker string)) {
	b.visionWorker.OnExit(func() { fn("vision") })
	b.audioWorker.OnExit(func() { fn("audio") })
	b.plannerWorker.OnExit(func() { fn("planner") })
}

// Start launches all three worker supervisors. Shutdown cancels ctx,
// which kills each running child via exec.CommandContext, then waits up
// to termGrace for each worker's supervisor goroutine to return.
func (b *Bus) Start(ctx context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	go b.visionWorker.Run(cctx)
	go b.audioWorker.Run(cctx)
	go b.plannerWorker.Run(cctx)
}

func (b *Bus) Shutdown(ctx context.Context) {
	if b.cancel == nil {
		return
	}
	b.cancel()
	b.visionWorker.Wait(ctx)
	b.audioWorker.Wait(ctx)
	b.plannerWorker.Wait(ctx)
}

// DrainVision returns the latest vision detection, if one has arrived
// since the last call, and whether the vision worker process is up.
func (b *Bus) DrainVision() (VisionMessage, bool, bool) {
	m, ok := b.vision.TryRecv()
	return m, ok, b.visionWorker.IsUp()
}

// PeekVision is like DrainVision but does not consume the value; used
// by staleness checks that must not race with the tick that drains it.
func (b *Bus) PeekVision() (VisionMessage, bool) {
	return b.vision.Peek()
}

// DrainTalking returns the latest lip-sync tick, if any, and whether the
// audio worker process is up.
func (b *Bus) DrainTalking() (TalkingMessage, bool, bool) {
	m, ok := b.talking.TryRecv()
	return m, ok, b.audioWorker.IsUp()
}

// DrainPlanner pops the oldest latched planner event, if any, and
// whether the planner worker process is up.
func (b *Bus) DrainPlanner() (PlannerEvent, bool, bool) {
	m, ok := b.planner.Pop()
	return m, ok, b.plannerWorker.IsUp()
}

// PublishVision / PublishTalking / PublishPlanner bypass the child
// process for --mock runs and tests, feeding the same bounded channels
// a real worker's decoded output would.
func (b *Bus) PublishVision(m VisionMessage)   { b.vision.Publish(m) }
func (b *Bus) PublishTalking(m TalkingMessage) { b.talking.Publish(m) }
func (b *Bus) PublishPlanner(m PlannerEvent)   { b.planner.Push(m) }
