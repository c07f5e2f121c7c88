// Package dda implements the per-move descriptor state machine
// (empty → provisional → frozen → executing → completed) and its
// junction-deviation look-ahead velocity planning, adapted from the
// toolhead Move/MoveQueue idiom in klipper-go's toolhead.go, retimed
// against original_source/Move.cpp's MoveDescriptor semantics.
package dda

import (
	"math"

	"klipper-go-migration/pkg/metrics"
	"klipper-go-migration/pkg/motionerrors"
)

// State is a MoveDescriptor's position in its lifecycle.
type State int

const (
	StateEmpty State = iota
	StateProvisional
	StateFrozen
	StateExecuting
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateProvisional:
		return "provisional"
	case StateFrozen:
		return "frozen"
	case StateExecuting:
		return "executing"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Axes indexes into the Cartesian (or tower) component of a drive vector.
const (
	AxisX = 0
	AxisY = 1
	AxisZ = 2
)

// Descriptor is one queued/executing move. Field naming follows the
// toolhead.Move idiom (Move_d, Axes_r, junction velocities in squared
// units) this module is adapted from.
type Descriptor struct {
	state State

	EndPos []float64 // per-drive target position (one slot per drive); the feed rate is a separate Admit argument
	AxesD  []float64
	AxesR  []float64
	MoveD  float64

	Accel             float64
	JunctionDeviation float64

	MaxStartV2    float64
	MaxCruiseV2   float64
	MaxSmoothedV2 float64
	DeltaV2       float64
	SmoothDeltaV2 float64

	StartV, CruiseV, EndV   float64
	AccelT, CruiseT, DecelT float64

	IsKinematicMove bool
	CanPause        bool
	MotorMapping    bool

	FileOffset int64

	LiveEndPoints []int32
	stepReps      int
	maxReps       int

	metrics *metrics.MotionSeries
}

// MaxRepsDiagnostic is the default back-pressure ceiling on consecutive
// step-ISR loop iterations per step() call before re-arming the timer is
// forced, matching the spec's "records at most max_reps consecutive
// iterations for back-pressure diagnostics" note.
const MaxRepsDiagnostic = 8

// New returns an empty descriptor sized for numDrives drives (axes plus
// extruder(s)).
func New(numDrives int) *Descriptor {
	return &Descriptor{
		state:         StateEmpty,
		EndPos:        make([]float64, numDrives),
		AxesD:         make([]float64, numDrives),
		AxesR:         make([]float64, numDrives),
		LiveEndPoints: make([]int32, numDrives),
		maxReps:       MaxRepsDiagnostic,
	}
}

// State reports the descriptor's lifecycle position.
func (d *Descriptor) State() State { return d.state }

// Admit validates a requested move from prevEnd to target at the given
// feed rate and acceleration, computing move distance and direction
// ratios. Must be called on an empty descriptor; transitions it to
// provisional.
func (d *Descriptor) Admit(prevEnd, target []float64, feedRate, accel, maxAccelToDecel, maxVelocity float64) error {
	if d.state != StateEmpty {
		return motionerrors.RingOverrunError("admit() called on non-empty move descriptor")
	}
	if len(target) != len(d.EndPos) || len(prevEnd) != len(d.EndPos) {
		return motionerrors.GeometryError("move vector length does not match drive count")
	}

	copy(d.EndPos, target)
	for i := range d.AxesD {
		d.AxesD[i] = target[i] - prevEnd[i]
	}

	var sumSq float64
	for axis := AxisX; axis <= AxisZ && axis < len(d.AxesD); axis++ {
		sumSq += d.AxesD[axis] * d.AxesD[axis]
	}
	d.MoveD = math.Sqrt(sumSq)
	d.Accel = accel
	d.JunctionDeviation = 0 // callers assign the exported field after Admit if non-zero

	velocity := math.Min(feedRate, maxVelocity)

	var invMoveD float64
	if d.MoveD < 1e-9 {
		// Extrude-only move: distance comes from the last (extruder) drive.
		d.IsKinematicMove = false
		extrudeD := math.Abs(d.AxesD[len(d.AxesD)-1])
		d.MoveD = extrudeD
		if extrudeD > 0 {
			invMoveD = 1.0 / extrudeD
		}
		d.Accel = math.MaxFloat64 / 1e12 // effectively unconstrained, mirrors 99999999.9 idiom
		velocity = feedRate
		d.CanPause = false
	} else {
		d.IsKinematicMove = true
		invMoveD = 1.0 / d.MoveD
		d.CanPause = true
	}

	for i := range d.AxesR {
		d.AxesR[i] = d.AxesD[i] * invMoveD
	}

	d.MaxStartV2 = 0
	d.MaxCruiseV2 = velocity * velocity
	d.DeltaV2 = 2 * d.MoveD * d.Accel
	d.MaxSmoothedV2 = 0
	d.SmoothDeltaV2 = 2 * d.MoveD * maxAccelToDecel

	d.state = StateProvisional
	return nil
}

// LimitSpeed clamps the move's cruise velocity and acceleration downward,
// e.g. for Z-axis or printable-radius constraints discovered by the
// kinematics layer.
func (d *Descriptor) LimitSpeed(speed, accel float64) {
	speed2 := speed * speed
	if speed2 < d.MaxCruiseV2 {
		d.MaxCruiseV2 = speed2
	}
	if accel < d.Accel {
		d.Accel = accel
	}
	d.DeltaV2 = 2 * d.MoveD * d.Accel
	if d.DeltaV2 < d.SmoothDeltaV2 {
		d.SmoothDeltaV2 = d.DeltaV2
	}
}

// CalcJunction computes this move's maximum entry velocity given the
// immediately preceding move, using the "approximated centripetal
// velocity" junction-deviation model.
func (d *Descriptor) CalcJunction(prev *Descriptor) {
	if !d.IsKinematicMove || !prev.IsKinematicMove {
		return
	}

	var cosTheta float64
	for axis := range d.AxesR {
		if axis >= len(prev.AxesR) {
			break
		}
		cosTheta -= d.AxesR[axis] * prev.AxesR[axis]
	}
	if cosTheta > 0.999999 {
		return
	}
	cosTheta = math.Max(cosTheta, -0.999999)

	sinThetaD2 := math.Sqrt(0.5 * (1.0 - cosTheta))
	rJD := sinThetaD2 / (1.0 - sinThetaD2)
	tanThetaD2 := sinThetaD2 / math.Sqrt(0.5*(1.0+cosTheta))

	moveCentripetalV2 := 0.5 * d.MoveD * tanThetaD2 * d.Accel
	prevMoveCentripetalV2 := 0.5 * prev.MoveD * tanThetaD2 * prev.Accel

	candidates := []float64{
		rJD * d.JunctionDeviation * d.Accel,
		rJD * prev.JunctionDeviation * prev.Accel,
		moveCentripetalV2,
		prevMoveCentripetalV2,
		d.MaxCruiseV2,
		prev.MaxCruiseV2,
		prev.MaxSmoothedV2 + prev.DeltaV2,
	}
	d.MaxStartV2 = rJD * d.JunctionDeviation * d.Accel
	for _, v := range candidates {
		if v < d.MaxStartV2 {
			d.MaxStartV2 = v
		}
	}
	d.MaxSmoothedV2 = math.Min(d.MaxStartV2, prev.MaxSmoothedV2+prev.SmoothDeltaV2)
}

// SetJunction fixes the move's accel/cruise/decel split given resolved
// entry, cruise, and exit velocities (squared), then transitions the
// descriptor to frozen. Idempotent once already frozen.
func (d *Descriptor) SetJunction(startV2, cruiseV2, endV2 float64) {
	if d.state == StateFrozen {
		return
	}

	halfInvAccel := 0.5 / d.Accel
	accelD := (cruiseV2 - startV2) * halfInvAccel
	decelD := (cruiseV2 - endV2) * halfInvAccel
	cruiseD := d.MoveD - accelD - decelD

	startV := math.Sqrt(startV2)
	cruiseV := math.Sqrt(cruiseV2)
	endV := math.Sqrt(endV2)
	d.StartV, d.CruiseV, d.EndV = startV, cruiseV, endV

	d.AccelT = accelD / ((startV + cruiseV) * 0.5)
	d.CruiseT = 0
	if cruiseV > 0 {
		d.CruiseT = cruiseD / cruiseV
	}
	d.DecelT = decelD / ((endV + cruiseV) * 0.5)

	d.state = StateFrozen
}

// Prepare resolves this move with startV2/endV2 as the entry/exit velocity
// bounds (squared), each clamped to MaxCruiseV2, and freezes it. The ring
// passes the descriptor's own MaxStartV2 and MaxSmoothedV2; no backward
// pass across several queued moves runs, so the exit bound does not
// depend on the following move.
func (d *Descriptor) Prepare(startV2, endV2 float64) {
	if startV2 > d.MaxCruiseV2 {
		startV2 = d.MaxCruiseV2
	}
	if endV2 > d.MaxCruiseV2 {
		endV2 = d.MaxCruiseV2
	}
	d.SetJunction(startV2, d.MaxCruiseV2, endV2)
}

// Start marks a frozen descriptor executing and resets its step-repetition
// count; it returns an error if the descriptor is not frozen. Arming the
// first step is left to the caller.
func (d *Descriptor) Start() error {
	if d.state != StateFrozen {
		return motionerrors.GeometryError("start() called on a move that is not frozen")
	}
	d.state = StateExecuting
	d.stepReps = 0
	return nil
}

// Step is called from the step ISR. It reports whether another step is
// due immediately (true, caller should loop) or whether the timer should
// be re-armed (false). It enforces maxReps as a back-pressure diagnostic:
// once reached, it forces a re-arm even if more steps remain due, so the
// ISR never runs unbounded.
func (d *Descriptor) Step(moreStepsDue bool) bool {
	if d.state != StateExecuting {
		return false
	}
	d.stepReps++
	if !moreStepsDue {
		return false
	}
	if d.stepReps >= d.maxReps {
		if d.metrics != nil {
			d.metrics.MaxRepsHits.Inc(nil)
		}
		return false
	}
	return true
}

// SetMetrics attaches a series this descriptor reports its back-pressure
// hits to. Optional; nil (the default) disables metrics entirely.
func (d *Descriptor) SetMetrics(m *metrics.MotionSeries) { d.metrics = m }

// StepReps reports how many consecutive Step() iterations ran since
// Start(), for back-pressure diagnostics.
func (d *Descriptor) StepReps() int { return d.stepReps }

// StepComplete records final motor end-points and transitions to
// completed. liveEndPoints must have the same length as the descriptor's
// drive count.
func (d *Descriptor) StepComplete(liveEndPoints []int32) error {
	if d.state != StateExecuting {
		return motionerrors.GeometryError("step_complete() called on a move that is not executing")
	}
	if len(liveEndPoints) != len(d.LiveEndPoints) {
		return motionerrors.GeometryError("live end-point vector length mismatch")
	}
	copy(d.LiveEndPoints, liveEndPoints)
	d.state = StateCompleted
	return nil
}

// Release returns the descriptor to empty so it can be reused by the
// ring, zeroing per-move scratch fields.
func (d *Descriptor) Release() {
	d.state = StateEmpty
	d.stepReps = 0
	for i := range d.AxesD {
		d.AxesD[i] = 0
		d.AxesR[i] = 0
	}
	d.MoveD = 0
	d.MaxStartV2, d.MaxCruiseV2, d.MaxSmoothedV2 = 0, 0, 0
	d.DeltaV2, d.SmoothDeltaV2 = 0, 0
	d.StartV, d.CruiseV, d.EndV = 0, 0, 0
	d.AccelT, d.CruiseT, d.DecelT = 0, 0, 0
	d.CanPause = false
	d.IsKinematicMove = false
}

// EndstopHit clamps the moving axis's recorded end-point to the known
// homed position when an endstop fires mid-move, per the spec's "axis_max
// for high stop, axis_min for low stop on Cartesian, homed_carriage_height
// on Delta" rule. For delta geometries the hit is always a high stop on a
// single tower; for Cartesian/core geometries it may be either direction
// on a linear axis.
func (d *Descriptor) EndstopHit(axis int, homedPosition float64) {
	if axis < 0 || axis >= len(d.LiveEndPoints) {
		return
	}
	d.LiveEndPoints[axis] = int32(math.Round(homedPosition))
}

// TotalTime returns the move's total execution time across all three
// phases.
func (d *Descriptor) TotalTime() float64 {
	return d.AccelT + d.CruiseT + d.DecelT
}

// EstimatedDuration returns the move's execution time: the exact
// accel+cruise+decel split once frozen, or a cruise-speed estimate for a
// still-provisional move. Used by the ring's admission policy, which must
// reason about un-frozen moves before their final timing is known.
func (d *Descriptor) EstimatedDuration() float64 {
	if d.state == StateFrozen || d.state == StateExecuting {
		return d.TotalTime()
	}
	if d.MaxCruiseV2 <= 0 {
		return 0
	}
	return d.MoveD / math.Sqrt(d.MaxCruiseV2)
}
