package arbitration

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jangala-dev/robot-supervisor/robotstate"
)

func TestEmoteSuppressedDuringSpeaking(t *testing.T) {
	a := New()
	_, _, ok := a.ResolveEmote(robotstate.ConvSpeaking, EmoteIntent{Name: "happy", Intensity: 0.8})
	require.False(t, ok)
}

func TestGestureSuppressedDuringListening(t *testing.T) {
	a := New()
	_, ok := a.ResolveGesture(robotstate.ConvListening, GestureIntent{Name: "wiggle"})
	require.False(t, ok)
}

func TestGestureSuppressedDuringThinking(t *testing.T) {
	a := New()
	_, ok := a.ResolveGesture(robotstate.ConvThinking, GestureIntent{Name: "nod"})
	require.False(t, ok)
}

func TestThinkingAllowsOnlyThinkingMood(t *testing.T) {
	a := New()
	_, _, ok := a.ResolveEmote(robotstate.ConvThinking, EmoteIntent{Name: "happy", Intensity: 0.5})
	require.False(t, ok)

	mood, _, ok := a.ResolveEmote(robotstate.ConvThinking, EmoteIntent{Name: "thinking", Intensity: 0.5})
	require.True(t, ok)
	require.Equal(t, MoodThinking, mood)
}

func TestAliasNormalization(t *testing.T) {
	a := New()
	mood, _, ok := a.ResolveEmote(robotstate.ConvIdle, EmoteIntent{Name: "tired", Intensity: 0.1})
	require.True(t, ok)
	require.Equal(t, MoodSleepy, mood)

	g, ok := a.ResolveGesture(robotstate.ConvIdle, GestureIntent{Name: "head-shake"})
	require.True(t, ok)
	require.Equal(t, GestureHeadshake, g)
}

func TestUnknownNameDiscardedAndCounted(t *testing.T) {
	a := New()
	_, _, ok := a.ResolveEmote(robotstate.ConvIdle, EmoteIntent{Name: "grumpy", Intensity: 0.5})
	require.False(t, ok)
	require.Equal(t, uint32(1), a.Counters().UnknownMood)
}

func TestIntensityClampPerMood(t *testing.T) {
	cases := []struct {
		name string
		want float64
	}{
		{"happy", 0.9},
		{"sad", 0.6},
		{"angry", 0.4},
		{"scared", 0.5},
	}
	for _, c := range cases {
		a := New()
		_, intensity, ok := a.ResolveEmote(robotstate.ConvIdle, EmoteIntent{Name: c.name, Intensity: 1.0})
		require.True(t, ok)
		require.Equal(t, c.want, intensity, c.name)
	}
}
