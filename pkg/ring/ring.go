// Package ring implements the fixed-capacity move ring (MoveRing): a
// pre-allocated array of dda.Descriptor cells with atomically-updated
// add/get indices, and the Spin() admission/preparation/start scheduling
// pass. Scheduling cadence is grounded on
// original_source/Move.cpp::Spin/PausePrint; the cooperative polling
// idiom is adapted from AndySze-klipper/pkg/reactor; per-cell reuse
// without reallocation follows AndySze-klipper/pkg/pool's no-alloc
// philosophy.
package ring

import (
	"sync/atomic"

	"klipper-go-migration/pkg/dda"
	"klipper-go-migration/pkg/metrics"
	"klipper-go-migration/pkg/motionerrors"
)

// DefaultLength is a typical DdaRingLength.
const DefaultLength = 48

const (
	maxUnfrozenDuration        = 2.0 // seconds
	maxUnfrozenExcludingOldest = 0.5 // seconds
	prepareAheadFraction       = 1.0 / 8.0
	idleSpinsBeforeStart       = 10
)

// Platform is the narrow set of hardware operations the ring needs to
// drive moves and idle-hold motors.
type Platform interface {
	Now() float64
	SetDriveIdle(drive int)
	ArmFirstStep(now float64) bool // returns true if a step is immediately due
}

// PendingMove is a move request waiting to be admitted into the ring.
type PendingMove struct {
	Target   []float64
	FeedRate float64
	Accel    float64
}

// PauseResult reports the state recovered by a pause for resume.
type PauseResult struct {
	SavedPosition []float64
	FeedRate      float64
	FileOffset    int64
	Empty         bool
}

// Ring is a fixed-capacity circular buffer of move descriptors.
type Ring struct {
	cells     []*dda.Descriptor
	numDrives int

	addIdx     int32 // atomic: next slot to fill, must be empty
	getIdx     int32 // atomic: next slot the executor will run
	currentIdx int32 // atomic: index of the executing descriptor, -1 if none

	idleCount   int
	idleTimeout float64
	idleSince   float64
	state       State

	maxAccelToDecel float64
	maxVelocity     float64
	stepClockRate   float64

	metrics *metrics.MotionSeries
}

// SetMetrics attaches a series the ring updates on every Spin pass.
// Optional; a nil series (the default) disables metrics entirely.
func (r *Ring) SetMetrics(m *metrics.MotionSeries) { r.metrics = m }

// State is the ring's overall run state.
type State int

const (
	StateRunning State = iota
	StateIdle
)

// New allocates a ring of the given length, sized for numDrives drives
// per descriptor.
func New(length, numDrives int, maxAccelToDecel, maxVelocity, stepClockRate, idleTimeout float64) *Ring {
	cells := make([]*dda.Descriptor, length)
	for i := range cells {
		cells[i] = dda.New(numDrives)
	}
	return &Ring{
		cells:           cells,
		numDrives:       numDrives,
		currentIdx:      -1,
		maxAccelToDecel: maxAccelToDecel,
		maxVelocity:     maxVelocity,
		stepClockRate:   stepClockRate,
		idleTimeout:     idleTimeout,
	}
}

func (r *Ring) wrap(i int32) int32 {
	n := int32(len(r.cells))
	return ((i % n) + n) % n
}

func (r *Ring) at(i int32) *dda.Descriptor {
	return r.cells[r.wrap(i)]
}

// canAdmit evaluates the admission policy: the sum of all un-frozen
// durations must be under 2.0s, or the sum excluding the single oldest
// un-frozen move must be under 0.5s. This keeps some provisional moves in
// the ring for look-ahead smoothing while bounding how far the planner
// can race ahead of real execution time.
func (r *Ring) canAdmit() bool {
	addIdx := atomic.LoadInt32(&r.addIdx)
	getIdx := atomic.LoadInt32(&r.getIdx)
	if r.at(addIdx).State() != dda.StateEmpty {
		return false
	}

	var total float64
	var oldest float64
	seenUnfrozen := false
	for i := getIdx; i != addIdx; i = r.wrap(i + 1) {
		d := r.at(i)
		if d.State() != dda.StateProvisional {
			continue
		}
		dur := d.EstimatedDuration()
		total += dur
		if !seenUnfrozen {
			oldest = dur
			seenUnfrozen = true
		}
	}
	if total < maxUnfrozenDuration {
		return true
	}
	return (total - oldest) < maxUnfrozenExcludingOldest
}

// TryAdmit attempts to enqueue a pending move, applying the admission
// policy. Returns false (no error) if the policy currently refuses
// admission; the caller should retry on a later Spin pass.
func (r *Ring) TryAdmit(m PendingMove) (bool, error) {
	if !r.canAdmit() {
		return false, nil
	}
	addIdx := atomic.LoadInt32(&r.addIdx)
	slot := r.at(addIdx)

	prevIdx := r.wrap(addIdx - 1)
	prev := r.at(prevIdx)
	var prevEnd []float64
	if prev.State() != dda.StateEmpty {
		prevEnd = prev.EndPos
	} else {
		prevEnd = make([]float64, r.numDrives)
	}

	if err := slot.Admit(prevEnd, m.Target, m.FeedRate, m.Accel, r.maxAccelToDecel, r.maxVelocity); err != nil {
		return false, err
	}
	if prev.State() != dda.StateEmpty {
		slot.CalcJunction(prev)
	}

	atomic.StoreInt32(&r.addIdx, r.wrap(addIdx+1))
	r.idleCount = 0
	r.state = StateRunning
	return true, nil
}

// prepareAhead walks forward from the current executor, preparing
// provisional descriptors while the cumulative prepared-ahead execution
// time stays under stepClockRate/8 (~125ms at a 1kHz-normalised rate),
// the amortised look-ahead horizon.
func (r *Ring) prepareAhead() {
	getIdx := atomic.LoadInt32(&r.getIdx)
	addIdx := atomic.LoadInt32(&r.addIdx)
	horizon := r.stepClockRate * prepareAheadFraction

	var preparedAhead float64
	for i := getIdx; i != addIdx; i = r.wrap(i + 1) {
		d := r.at(i)
		if preparedAhead >= horizon {
			break
		}
		if d.State() != dda.StateProvisional {
			preparedAhead += d.EstimatedDuration()
			continue
		}
		d.Prepare(d.MaxStartV2, d.MaxSmoothedV2)
		preparedAhead += d.TotalTime()
	}

	if r.metrics != nil {
		r.metrics.RingDepth.Set(nil, float64(r.wrap(addIdx-getIdx)))
		r.metrics.PreparedAheadSecs.Set(nil, preparedAhead)
	}
}

// Spin runs one main-loop pass: optionally admits a pending move,
// prepares look-ahead, and starts the head descriptor once the ring has
// been quiet for idleSpinsBeforeStart passes.
func (r *Ring) Spin(now float64, pending *PendingMove, platform Platform) (admitted bool, err error) {
	if pending != nil {
		admitted, err = r.TryAdmit(*pending)
		if err != nil {
			return false, err
		}
	}

	r.prepareAhead()

	getIdx := atomic.LoadInt32(&r.getIdx)
	head := r.at(getIdx)

	if !admitted {
		r.idleCount++
	}

	if r.idleCount > idleSpinsBeforeStart {
		switch head.State() {
		case dda.StateProvisional:
			head.Prepare(head.MaxStartV2, head.MaxSmoothedV2)
		case dda.StateFrozen:
			if err := head.Start(); err != nil {
				return admitted, err
			}
			atomic.StoreInt32(&r.currentIdx, getIdx)
			platform.ArmFirstStep(now)
		}
	}

	if head.State() == dda.StateEmpty {
		if r.state != StateIdle && now-r.idleSince > r.idleTimeout {
			for drive := 0; drive < r.numDrives; drive++ {
				platform.SetDriveIdle(drive)
			}
			r.state = StateIdle
		}
	} else {
		r.idleSince = now
		r.state = StateRunning
	}

	return admitted, nil
}

// CompleteCurrent is called by the (simulated) step ISR once the
// executing descriptor's final step has retired. It records live
// end-points, releases the descriptor, and advances the get pointer.
func (r *Ring) CompleteCurrent(liveEndPoints []int32) error {
	idx := atomic.LoadInt32(&r.currentIdx)
	if idx < 0 {
		return motionerrors.GeometryError("no move is currently executing")
	}
	d := r.at(idx)
	if err := d.StepComplete(liveEndPoints); err != nil {
		return err
	}
	d.Release()
	atomic.StoreInt32(&r.currentIdx, -1)
	atomic.StoreInt32(&r.getIdx, r.wrap(idx+1))
	return nil
}

// Pause finds the earliest can-pause descriptor at or after the
// currently executing one, keeps it, releases every descriptor after it up
// to add_ptr (leaving add_ptr just after it), and reports its end
// position/feed rate for resume. If
// nothing is executing, it simply collapses add_ptr onto get_ptr.
func (r *Ring) Pause() PauseResult {
	getIdx := atomic.LoadInt32(&r.getIdx)
	addIdx := atomic.LoadInt32(&r.addIdx)
	currentIdx := atomic.LoadInt32(&r.currentIdx)

	if currentIdx < 0 {
		atomic.StoreInt32(&r.addIdx, getIdx)
		return PauseResult{Empty: true}
	}

	pauseIdx := int32(-1)
	for i := currentIdx; i != addIdx; i = r.wrap(i + 1) {
		d := r.at(i)
		if d.State() == dda.StateEmpty {
			break
		}
		if d.CanPause {
			pauseIdx = i
			break
		}
	}
	if pauseIdx < 0 {
		return PauseResult{Empty: true}
	}

	paused := r.at(pauseIdx)
	result := PauseResult{
		SavedPosition: append([]float64(nil), paused.EndPos...),
		FeedRate:      paused.StartV,
		FileOffset:    paused.FileOffset,
	}

	for i := r.wrap(pauseIdx + 1); i != addIdx; i = r.wrap(i + 1) {
		d := r.at(i)
		if d.State() == dda.StateEmpty {
			break
		}
		d.Release()
	}
	atomic.StoreInt32(&r.addIdx, r.wrap(pauseIdx+1))

	return result
}

// AddIndex and GetIndex expose the ring's current pointer positions for
// diagnostics and tests.
func (r *Ring) AddIndex() int32 { return atomic.LoadInt32(&r.addIdx) }
func (r *Ring) GetIndex() int32 { return atomic.LoadInt32(&r.getIdx) }
func (r *Ring) Len() int        { return len(r.cells) }

// At returns the descriptor at a raw (unwrapped) ring index, for tests
// and diagnostics.
func (r *Ring) At(i int32) *dda.Descriptor { return r.at(i) }
