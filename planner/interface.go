package planner

import (
	"context"
	"errors"
	"time"
)

// Planner is the narrow surface the Director calls. A null
// implementation is selected at startup when no planner backend is
// configured, so the loop never branches on whether AI is "enabled".
type Planner interface {
	Plan(ctx context.Context, req PlanRequest, timeout time.Duration) (PlanResponse, error)
	TTS(ctx context.Context, text string) ([]byte, error)
	Connected() bool
}

var _ Planner = (*Client)(nil)

// ErrNoPlanner is returned by every NullPlanner method.
var ErrNoPlanner = errors.New("planner: no backend configured")

// NullPlanner is selected when the supervisor runs with no planner
// backend (e.g. offline testing, or a deployment that only runs local
// skills). It always reports disconnected and refuses every call with
// ErrNoPlanner.
type NullPlanner struct{}

func (NullPlanner) Plan(ctx context.Context, req PlanRequest, timeout time.Duration) (PlanResponse, error) {
	return PlanResponse{}, ErrNoPlanner
}

func (NullPlanner) TTS(ctx context.Context, text string) ([]byte, error) {
	return nil, ErrNoPlanner
}

func (NullPlanner) Connected() bool { return false }

var _ Planner = NullPlanner{}
