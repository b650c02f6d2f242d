// Package arbitration maps planner intents to face commands, suppressing
// AI-planner expression while the conversation pipeline owns the face.
package arbitration

import (
	"strings"

	"github.com/jangala-dev/robot-supervisor/faceclient"
	"github.com/jangala-dev/robot-supervisor/robotstate"
	"github.com/jangala-dev/robot-supervisor/x/mathx"
)

// Mood is one of the 12 canonical moods.
type Mood uint8

const (
	MoodNeutral Mood = iota
	MoodHappy
	MoodExcited
	MoodCurious
	MoodSad
	MoodScared
	MoodAngry
	MoodSurprised
	MoodSleepy
	MoodLove
	MoodSilly
	MoodThinking
	MoodConfused
)

var moodNames = map[string]Mood{
	"neutral": MoodNeutral, "happy": MoodHappy, "excited": MoodExcited,
	"curious": MoodCurious, "sad": MoodSad, "scared": MoodScared,
	"angry": MoodAngry, "surprised": MoodSurprised, "sleepy": MoodSleepy,
	"love": MoodLove, "silly": MoodSilly, "thinking": MoodThinking,
	"confused": MoodConfused,
}

// Gesture is one of the 13 canonical gestures.
type Gesture uint8

const (
	GestureBlink Gesture = iota
	GestureWinkL
	GestureWinkR
	GestureConfused
	GestureLaugh
	GestureSurprise
	GestureHeart
	GestureXEyes
	GestureSleepy
	GestureRage
	GestureNod
	GestureHeadshake
	GestureWiggle
)

var gestureNames = map[string]Gesture{
	"blink": GestureBlink, "wink_l": GestureWinkL, "wink_r": GestureWinkR,
	"confused": GestureConfused, "laugh": GestureLaugh, "surprise": GestureSurprise,
	"heart": GestureHeart, "x_eyes": GestureXEyes, "sleepy": GestureSleepy,
	"rage": GestureRage, "nod": GestureNod, "headshake": GestureHeadshake,
	"wiggle": GestureWiggle,
}

// moodAlias and gestureAlias normalize loose planner vocabulary onto the
// canonical names above before lookup.
var moodAlias = map[string]string{
	"tired": "sleepy",
	"mad":   "angry",
	"joy":   "happy",
}

var gestureAlias = map[string]string{
	"head-shake": "headshake",
	"shake-head": "headshake",
	"wink":       "wink_l",
}

// moodIntensityCap clamps a mood's allowed intensity.
func moodIntensityCap(m Mood) float64 {
	switch m {
	case MoodSad, MoodConfused, MoodSurprised:
		return 0.6
	case MoodAngry:
		return 0.4
	case MoodScared:
		return 0.5
	default:
		return 0.9
	}
}

// EmoteIntent and GestureIntent are planner actions already decoded
// from the wire, pending arbitration.
type EmoteIntent struct {
	Name      string
	Intensity float64
}

type GestureIntent struct {
	Name string
}

// Counters track silently-discarded unknown names, surfaced to
// diagnostics/telemetry rather than as errors.
type Counters struct {
	UnknownMood    uint32
	UnknownGesture uint32
}

// Arbiter resolves planner intents into face commands, applying
// suppression rules based on conversation state.
type Arbiter struct {
	counters Counters
}

func New() *Arbiter { return &Arbiter{} }

func (a *Arbiter) Counters() Counters { return a.counters }

// ResolveEmote normalizes and clamps a planner emote intent into a
// SetState-ready (mood, intensity) pair, or ok=false if conv suppresses
// it or the name is unknown.
func (a *Arbiter) ResolveEmote(conv robotstate.ConversationState, in EmoteIntent) (mood Mood, intensity float64, ok bool) {
	if conv == robotstate.ConvListening || conv == robotstate.ConvSpeaking {
		return 0, 0, false
	}
	name := normalize(in.Name, moodAlias)
	m, known := moodNames[name]
	if !known {
		a.counters.UnknownMood++
		return 0, 0, false
	}
	if conv == robotstate.ConvThinking && m != MoodThinking {
		// THINKING allows only the single "thinking" expression.
		return 0, 0, false
	}
	intensity = mathx.Clamp(in.Intensity, 0, moodIntensityCap(m))
	return m, intensity, true
}

// ResolveGesture normalizes a planner gesture intent, or ok=false if
// conv suppresses it or the name is unknown.
func (a *Arbiter) ResolveGesture(conv robotstate.ConversationState, in GestureIntent) (Gesture, bool) {
	if conv == robotstate.ConvListening || conv == robotstate.ConvSpeaking || conv == robotstate.ConvThinking {
		return 0, false
	}
	name := normalize(in.Name, gestureAlias)
	g, known := gestureNames[name]
	if !known {
		a.counters.UnknownGesture++
		return 0, false
	}
	return g, true
}

// ThinkingExpression is the single expression allowed while THINKING.
func ThinkingExpression() (Mood, float64) { return MoodThinking, 0.5 }

func normalize(name string, alias map[string]string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if a, ok := alias[n]; ok {
		return a
	}
	return n
}

// SendEmote issues the resolved mood/intensity as a SET_STATE command
// with gaze centred at (0, 0) and the caller's brightness.
func SendEmote(c *faceclient.Client, m Mood, intensity float64, brightness uint8) error {
	return c.SetState(uint8(m), uint8(intensity*255), 0, 0, brightness)
}

// SendGesture issues the resolved gesture.
func SendGesture(c *faceclient.Client, g Gesture, durationMS uint16) error {
	return c.Gesture(uint8(g), durationMS)
}
