// Package workerbus supervises the process-isolated vision, TTS and
// planner workers and drains their messages into the
// control loop without ever blocking it.
package workerbus

import "time"

// VisionMessage is one detection cycle's result from the vision worker.
type VisionMessage struct {
	FrameSeq     uint64    `json:"frame_seq"`
	TCamNS       int64     `json:"t_cam_ns"`
	TDetDoneNS   int64     `json:"t_det_done_ns"`
	Detections   []string  `json:"detections"`
	Confidence   float64   `json:"confidence"`
	ReceivedAt   time.Time `json:"-"`
}

// TalkingMessage is one lip-sync tick from the TTS/audio worker,
// published at roughly 50 Hz while audio plays.
type TalkingMessage struct {
	Talking    bool      `json:"talking"`
	EnergyU8   uint8     `json:"energy_u8"`
	TAudioNS   int64     `json:"t_audio_ns"`
	ReceivedAt time.Time `json:"-"`
}

// PlannerEvent is a latched artifact or connection-state change from the
// planner worker; latched means it stays available until explicitly
// consumed, unlike the last-value vision/talking channels.
type PlannerEvent struct {
	Kind       string    `json:"kind"` // "plan" | "connected" | "disconnected" | "conv_state"
	PlanID     string    `json:"plan_id,omitempty"`
	Actions    []Action  `json:"actions,omitempty"`
	ConvState  string    `json:"conv_state,omitempty"` // set when Kind == "conv_state": idle|listening|thinking|speaking
	ReceivedAt time.Time `json:"-"`
}

// Action is the tagged-union planner action: exactly one of
// Say/Emote/Gesture/Skill is meaningful, named by Kind.
type Action struct {
	Kind      string  `json:"kind"` // "say" | "emote" | "gesture" | "skill"
	Text      string  `json:"text,omitempty"`
	Name      string  `json:"name,omitempty"`
	Intensity float64 `json:"intensity,omitempty"`
	Params    string  `json:"params,omitempty"`
}
