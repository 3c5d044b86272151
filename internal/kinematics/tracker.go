// Package kinematics derives speed, acceleration and heading change from
// successive agent poses.
package kinematics

import (
	"math"

	"crowdtag/pkg/domain"
)

// minDT keeps finite differences finite when frames repeat.
const minDT = 1e-6

// Sample is the kinematic part of a frame tag.
type Sample struct {
	Speed   float64
	Accel   float64
	TurnDeg float64
}

// Tracker holds the previous observation of one agent. It must be fed every
// processed frame, including frames where no tag is stored, so that finite
// differences span the true frame gap.
type Tracker struct {
	timePerFrame float64

	hasPrev   bool
	prevFrame int
	prevPos   domain.Vec3
	prevVel   domain.Vec3
	prevFwd   domain.Vec3
}

// NewTracker returns a Tracker for the given seconds per frame.
func NewTracker(timePerFrame float64) *Tracker {
	return &Tracker{timePerFrame: timePerFrame}
}

// Observe records the pose at frame and returns the sample relative to the
// previous observation. The first active observation after a reset yields a
// zero sample. Inactive observations reset the tracker.
func (t *Tracker) Observe(frame int, pos, forward domain.Vec3, active bool) Sample {
	if !active {
		t.hasPrev = false
		t.remember(frame, pos, domain.Vec3{}, forward)
		return Sample{}
	}
	if !t.hasPrev {
		t.hasPrev = true
		t.remember(frame, pos, domain.Vec3{}, forward)
		return Sample{}
	}
	dt := math.Max(minDT, float64(frame-t.prevFrame)*t.timePerFrame)
	vel := pos.Sub(t.prevPos).Scale(1 / dt)
	s := Sample{
		Speed:   vel.Len(),
		Accel:   vel.Sub(t.prevVel).Scale(1 / dt).Len(),
		TurnDeg: t.prevFwd.AngleDeg(forward),
	}
	t.remember(frame, pos, vel, forward)
	return s
}

// Primed reports whether the next active observation will produce a
// non-trivial sample.
func (t *Tracker) Primed() bool { return t.hasPrev }

func (t *Tracker) remember(frame int, pos, vel, fwd domain.Vec3) {
	t.prevFrame = frame
	t.prevPos = pos
	t.prevVel = vel
	t.prevFwd = fwd
}
