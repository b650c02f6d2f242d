package workerbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLatestChannelDropsOldestOnOverflow(t *testing.T) {
	c := NewLatestChannel[int]()
	c.Publish(1)
	c.Publish(2)
	c.Publish(3)
	v, ok := c.TryRecv()
	require.True(t, ok)
	require.Equal(t, 3, v)

	_, ok = c.TryRecv()
	require.False(t, ok)
}

func TestLatchedQueueFIFOWithCap(t *testing.T) {
	q := NewLatchedQueue[int](2)
	q.Push(1)
	q.Push(2)
	q.Push(3) // drops 1

	v, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, 2, v)

	v, ok = q.Pop()
	require.True(t, ok)
	require.Equal(t, 3, v)

	_, ok = q.Pop()
	require.False(t, ok)
}

func TestBusDrainIsLastValue(t *testing.T) {
	b := New(Config{})
	b.PublishVision(VisionMessage{FrameSeq: 1})
	b.PublishVision(VisionMessage{FrameSeq: 2})

	m, ok, up := b.DrainVision()
	require.True(t, ok)
	require.Equal(t, uint64(2), m.FrameSeq)
	require.False(t, up) // no child process configured

	_, ok, _ = b.DrainVision()
	require.False(t, ok)
}

func TestBusPlannerLatchesUntilConsumed(t *testing.T) {
	b := New(Config{})
	b.PublishPlanner(PlannerEvent{Kind: "plan", PlanID: "p1"})

	ev, ok, _ := b.DrainPlanner()
	require.True(t, ok)
	require.Equal(t, "p1", ev.PlanID)

	_, ok, _ = b.DrainPlanner()
	require.False(t, ok)
}
