// Package platform narrows the motion core's view of the machine down to
// the handful of operations it needs: per-drive steps-per-unit and travel
// limits, a monotonic clock, and the two hardware hooks ring.Spin calls
// (idle-holding a drive, arming the first step of a newly started move).
//
// Grounded on pkg/printtime's virtual-print-time idiom and pkg/clocksync's
// MCU-frequency estimation concept, narrowed here to a single fixed-rate
// step clock since the motion core has no MCU dictionary of its own to
// synchronize against.
package platform

import "klipper-go-migration/pkg/logging"

// AxisLimits bounds one linear axis's travel, mirroring kinematics.Rail.
type AxisLimits struct {
	Min, Max float64
}

// Platform is the narrow hardware surface the motion core depends on.
type Platform interface {
	// Now returns the current time in seconds, monotonic.
	Now() float64

	// StepsPerUnit returns steps-per-mm for the given drive index.
	StepsPerUnit(drive int) float64

	// AxisLimits returns the travel range for axis (0=X,1=Y,2=Z).
	AxisLimits(axis int) AxisLimits

	// SetDriveIdle de-energizes the given drive's motor.
	SetDriveIdle(drive int)

	// ArmFirstStep schedules the first step event of a newly started
	// move at or after now; returns true if a step was immediately due.
	ArmFirstStep(now float64) bool
}

// Simulated is an in-process Platform with no hardware backing, for tests
// and the cmd/motion-sim harness.
type Simulated struct {
	clock        float64
	stepsPerUnit []float64
	limits       []AxisLimits
	idled        []int
	armed        int
}

// NewSimulated builds a Simulated platform with one drive per entry of
// stepsPerUnit, and axis travel limits for the three linear axes.
func NewSimulated(stepsPerUnit []float64, limits [3]AxisLimits) *Simulated {
	return &Simulated{
		stepsPerUnit: append([]float64(nil), stepsPerUnit...),
		limits:       append([]AxisLimits(nil), limits[:]...),
	}
}

func (s *Simulated) Now() float64 { return s.clock }

// Advance moves the simulated clock forward by dt seconds.
func (s *Simulated) Advance(dt float64) { s.clock += dt }

func (s *Simulated) StepsPerUnit(drive int) float64 {
	if drive < 0 || drive >= len(s.stepsPerUnit) {
		return 0
	}
	return s.stepsPerUnit[drive]
}

func (s *Simulated) AxisLimits(axis int) AxisLimits {
	if axis < 0 || axis >= len(s.limits) {
		return AxisLimits{}
	}
	return s.limits[axis]
}

func (s *Simulated) SetDriveIdle(drive int) { s.idled = append(s.idled, drive) }

func (s *Simulated) ArmFirstStep(now float64) bool {
	s.armed++
	return true
}

// IdledDrives reports which drives SetDriveIdle has been called on, for
// tests.
func (s *Simulated) IdledDrives() []int { return append([]int(nil), s.idled...) }

// ArmedCount reports how many times ArmFirstStep has been called.
func (s *Simulated) ArmedCount() int { return s.armed }

// Real is a Platform backed by the host's monotonic clock; step generation
// and motor enable lines belong to the dropped MCU/serial transport (out of
// scope for this motion core, see DESIGN.md), so those two hooks only log.
type Real struct {
	stepsPerUnit []float64
	limits       []AxisLimits
	log          *logging.Logger
}

// NewReal builds a Real platform for the given per-drive steps-per-unit
// and per-axis travel limits.
func NewReal(stepsPerUnit []float64, limits [3]AxisLimits) *Real {
	return &Real{
		stepsPerUnit: append([]float64(nil), stepsPerUnit...),
		limits:       append([]AxisLimits(nil), limits[:]...),
		log:          logging.For("platform"),
	}
}

func (r *Real) Now() float64 { return monotonicNow() }

func (r *Real) StepsPerUnit(drive int) float64 {
	if drive < 0 || drive >= len(r.stepsPerUnit) {
		return 0
	}
	return r.stepsPerUnit[drive]
}

func (r *Real) AxisLimits(axis int) AxisLimits {
	if axis < 0 || axis >= len(r.limits) {
		return AxisLimits{}
	}
	return r.limits[axis]
}

func (r *Real) SetDriveIdle(drive int) {
	r.log.Debug("drive idle-hold requested", "drive", drive)
}

func (r *Real) ArmFirstStep(now float64) bool {
	r.log.Debug("first step arm requested", "now", now)
	return true
}
