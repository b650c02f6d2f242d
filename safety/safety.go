// Package safety implements the layered, defense-in-depth policy chain
// that turns a desired twist into a commanded twist. Gates
// run in a fixed order; the mode, fault and disconnect gates zero the
// twist and short-circuit the rest, and the attribution tag names the
// first gate that acted.
package safety

import (
	"math"
	"time"

	"github.com/jangala-dev/robot-supervisor/robotstate"
)

// rotationEpsilon is the |v| threshold below which a twist is treated as
// pure in-place rotation and exempt from range/vision attenuation.
const rotationEpsilon = 5 // mm/s

const (
	rangeHardStopMM = 250
	rangeScaleMM    = 500
	rangeScaleHalf  = 0.5

	staleRangeAge  = 500 * time.Millisecond
	staleVisionAge = 500 * time.Millisecond
)

// VisionObstacle is the most recent vision-worker obstacle reading in
// the forward cone.
type VisionObstacle struct {
	Confident  bool
	Confidence float64 // 0..1
}

// Inputs bundles everything the pipeline's gates need to see. All of it
// is read-only; the pipeline never mutates caller state.
type Inputs struct {
	Mode            robotstate.Mode
	Faults          robotstate.FaultSet
	ReflexConnected bool

	RangeMM      uint16
	RangeStatus  robotstate.RangeStatus
	RangeSampleAt time.Time

	// Registry-supplied range thresholds; zero falls back to the
	// built-in defaults.
	RangeHardStopMM uint16
	RangeScaleMM    uint16

	Vision       VisionObstacle
	VisionFresh  bool
	VisionLastAt time.Time

	Now time.Time
}

// Result is a commanded twist plus the gate that produced it.
type Result struct {
	Twist robotstate.Twist
	Scale float64
	Tag   string
}

// gate is one policy stage. It returns the (possibly attenuated) twist,
// the running multiplicative scale after this stage, a tag naming it when
// it zeroed or scaled the twist, and whether it short-circuited the
// chain.
type gate func(v, w int16, scale float64, in Inputs) (nv, nw int16, nscale float64, tag string, stop bool)

// Apply runs desired through every gate in order and returns the
// commanded twist with cascading scale, attributed to the first gate
// that returned a tag.
func Apply(desired robotstate.Twist, in Inputs) Result {
	v, w := desired.VMmS, desired.WMradS
	scale := 1.0
	tag := ""

	gates := []gate{modeGate, faultGate, disconnectGate, rangeGate, staleRangeGate, visionGate, staleVisionGate}
	for _, g := range gates {
		nv, nw, nscale, t, stop := g(v, w, scale, in)
		v, w, scale = nv, nw, nscale
		if t != "" && tag == "" {
			tag = t
		}
		if stop {
			break
		}
	}

	return Result{
		Twist: robotstate.Twist{VMmS: v, WMradS: w},
		Scale: scale,
		Tag:   firstNonEmpty(tag, "none"),
	}
}

func modeGate(v, w int16, scale float64, in Inputs) (int16, int16, float64, string, bool) {
	if in.Mode != robotstate.ModeTeleop && in.Mode != robotstate.ModeWander {
		return 0, 0, 0, "mode", true
	}
	return v, w, scale, "", false
}

func faultGate(v, w int16, scale float64, in Inputs) (int16, int16, float64, string, bool) {
	if !in.Faults.Empty() {
		for f := range in.Faults {
			if f != robotstate.FaultObstacle {
				return 0, 0, 0, "fault", true
			}
		}
	}
	return v, w, scale, "", false
}

func disconnectGate(v, w int16, scale float64, in Inputs) (int16, int16, float64, string, bool) {
	if !in.ReflexConnected {
		return 0, 0, 0, "disconnect", true
	}
	return v, w, scale, "", false
}

func rangeGate(v, w int16, scale float64, in Inputs) (int16, int16, float64, string, bool) {
	if isRotationOnly(v) || v <= 0 {
		return v, w, scale, "", false
	}
	if in.RangeStatus != robotstate.RangeValid && in.RangeStatus != robotstate.RangeWarn {
		return v, w, scale, "", false
	}
	hardStop := in.RangeHardStopMM
	if hardStop == 0 {
		hardStop = rangeHardStopMM
	}
	scaleAt := in.RangeScaleMM
	if scaleAt == 0 {
		scaleAt = rangeScaleMM
	}
	switch {
	case in.RangeMM <= hardStop:
		return attenuate(v, w, scale, 0.0, "range_hardstop")
	case in.RangeMM <= scaleAt:
		return attenuate(v, w, scale, rangeScaleHalf, "range_scale_0.5")
	default:
		return v, w, scale, "", false
	}
}

func staleRangeGate(v, w int16, scale float64, in Inputs) (int16, int16, float64, string, bool) {
	if isRotationOnly(v) || v <= 0 {
		return v, w, scale, "", false
	}
	stale := in.RangeStatus == robotstate.RangeStale
	if !in.RangeSampleAt.IsZero() && in.Now.Sub(in.RangeSampleAt) > staleRangeAge {
		stale = true
	}
	if stale {
		return attenuate(v, w, scale, rangeScaleHalf, "stale_range")
	}
	return v, w, scale, "", false
}

func visionGate(v, w int16, scale float64, in Inputs) (int16, int16, float64, string, bool) {
	if isRotationOnly(v) || v <= 0 {
		return v, w, scale, "", false
	}
	if !in.Vision.Confident {
		return v, w, scale, "", false
	}
	s := math.Max(0.25, 1-in.Vision.Confidence)
	return attenuate(v, w, scale, s, "vision")
}

func staleVisionGate(v, w int16, scale float64, in Inputs) (int16, int16, float64, string, bool) {
	if isRotationOnly(v) || v <= 0 {
		return v, w, scale, "", false
	}
	if !in.VisionFresh || (!in.VisionLastAt.IsZero() && in.Now.Sub(in.VisionLastAt) > staleVisionAge) {
		return attenuate(v, w, scale, rangeScaleHalf, "stale_vision")
	}
	return v, w, scale, "", false
}

// attenuate applies a forward-only scale to v, cascading with the
// running scale product. A 0.0 scale always dominates: it zeroes v
// (w passes through) and is attributed as the producing gate, matching the
// "scale 0.0 always dominates any later multiply" edge case.
func attenuate(v, w int16, scale, by float64, tag string) (int16, int16, float64, string, bool) {
	newScale := scale * by
	nv := int16(math.Round(float64(v) * by))
	if by == 0 {
		return 0, w, newScale, tag, false
	}
	return nv, w, newScale, tag, false
}

func isRotationOnly(v int16) bool {
	return v > -rotationEpsilon && v < rotationEpsilon
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
