// Package mockworker feeds synthetic vision and lip-sync data into a
// workerbus.Bus for --mock runs and tests, standing in for the real
// camera and audio child processes. The mocks publish through the same
// bounded channels a real worker's decoded stdout would, so the control
// loop's drain paths are exercised identically.
package mockworker

import (
	"context"
	"time"

	"github.com/jangala-dev/robot-supervisor/workerbus"
)

// Vision publishes a clear-path detection at ~10 Hz until ctx is
// cancelled, keeping the stale-vision safety gate from engaging during
// a mock run. Tests that want an obstacle publish their own message on
// top; LatestChannel semantics mean the newest value wins.
func Vision(ctx context.Context, bus *workerbus.Bus) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq++
			now := time.Now()
			bus.PublishVision(workerbus.VisionMessage{
				FrameSeq:   seq,
				TCamNS:     now.UnixNano(),
				TDetDoneNS: now.UnixNano(),
				ReceivedAt: now,
			})
		}
	}
}

// Talking publishes a silent (not talking) lip-sync tick at ~50 Hz
// until ctx is cancelled.
func Talking(ctx context.Context, bus *workerbus.Bus) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bus.PublishTalking(workerbus.TalkingMessage{
				TAudioNS:   time.Now().UnixNano(),
				ReceivedAt: time.Now(),
			})
		}
	}
}

// Start launches both mocks on their own goroutines.
func Start(ctx context.Context, bus *workerbus.Bus) {
	go Vision(ctx, bus)
	go Talking(ctx, bus)
}
