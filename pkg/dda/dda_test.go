package dda

import (
	"math"
	"testing"

	"klipper-go-migration/pkg/metrics"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestAdmitComputesMoveDistanceAndState(t *testing.T) {
	d := New(4)
	prev := []float64{0, 0, 0, 0}
	target := []float64{30, 40, 0, 5}

	if err := d.Admit(prev, target, 50, 1500, 3000, 300); err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if d.State() != StateProvisional {
		t.Fatalf("state = %v, want provisional", d.State())
	}
	if !almostEqual(d.MoveD, 50, 1e-9) {
		t.Errorf("MoveD = %v, want 50", d.MoveD)
	}
	if !d.IsKinematicMove {
		t.Errorf("expected kinematic move")
	}
	if !d.CanPause {
		t.Errorf("expected CanPause on a kinematic move")
	}
}

func TestAdmitRejectsNonEmptyState(t *testing.T) {
	d := New(4)
	prev := []float64{0, 0, 0, 0}
	target := []float64{10, 0, 0, 0}
	if err := d.Admit(prev, target, 50, 1500, 3000, 300); err != nil {
		t.Fatalf("first Admit failed: %v", err)
	}
	if err := d.Admit(prev, target, 50, 1500, 3000, 300); err == nil {
		t.Fatalf("expected error admitting into a non-empty descriptor")
	}
}

func TestExtrudeOnlyMoveCannotPause(t *testing.T) {
	d := New(4)
	prev := []float64{0, 0, 0, 0}
	target := []float64{0, 0, 0, 2}
	if err := d.Admit(prev, target, 5, 1500, 3000, 300); err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if d.IsKinematicMove {
		t.Errorf("expected a non-kinematic (extrude-only) move")
	}
	if d.CanPause {
		t.Errorf("extrude-only moves must not be pausable")
	}
	if !almostEqual(d.MoveD, 2, 1e-9) {
		t.Errorf("MoveD = %v, want 2", d.MoveD)
	}
}

func TestCalcJunctionStraightLineAllowsFullCruise(t *testing.T) {
	prev := New(4)
	if err := prev.Admit([]float64{0, 0, 0, 0}, []float64{10, 0, 0, 0}, 50, 1500, 3000, 300); err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	prev.JunctionDeviation = 0.05
	cur := New(4)
	if err := cur.Admit([]float64{10, 0, 0, 0}, []float64{20, 0, 0, 0}, 50, 1500, 3000, 300); err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	cur.JunctionDeviation = 0.05

	cur.CalcJunction(prev)
	// Collinear moves (cos_theta = -1, clamped to -0.999999) get a very
	// large junction limit, so no speed reduction applies and MaxStartV2
	// ends at the move's full cruise limit.
	if cur.MaxStartV2 != cur.MaxCruiseV2 {
		t.Errorf("expected MaxStartV2 = MaxCruiseV2 (%v) on a collinear pair, got %v", cur.MaxCruiseV2, cur.MaxStartV2)
	}
}

func TestCalcJunctionRightAngleLimitsSpeed(t *testing.T) {
	prev := New(4)
	if err := prev.Admit([]float64{0, 0, 0, 0}, []float64{10, 0, 0, 0}, 50, 1500, 3000, 300); err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	prev.JunctionDeviation = 0.05
	cur := New(4)
	if err := cur.Admit([]float64{10, 0, 0, 0}, []float64{10, 10, 0, 0}, 50, 1500, 3000, 300); err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	cur.JunctionDeviation = 0.05

	cur.CalcJunction(prev)
	if cur.MaxStartV2 <= 0 {
		t.Errorf("expected a positive but bounded junction speed, got %v", cur.MaxStartV2)
	}
	if cur.MaxStartV2 >= cur.MaxCruiseV2 {
		t.Errorf("a 90-degree corner should not allow full cruise speed through the junction")
	}
}

func TestPrepareFreezesAndStartRequiresFrozen(t *testing.T) {
	d := New(4)
	if err := d.Admit([]float64{0, 0, 0, 0}, []float64{10, 0, 0, 0}, 50, 1500, 3000, 300); err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if err := d.Start(); err == nil {
		t.Fatalf("expected Start() to fail before Prepare()")
	}

	d.Prepare(0, 0)
	if d.State() != StateFrozen {
		t.Fatalf("state = %v, want frozen", d.State())
	}

	// Idempotent: calling SetJunction again once frozen must not change it.
	before := d.AccelT
	d.SetJunction(100, 200, 300)
	if d.AccelT != before {
		t.Errorf("SetJunction should be a no-op once frozen")
	}

	if err := d.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if d.State() != StateExecuting {
		t.Fatalf("state = %v, want executing", d.State())
	}
}

func TestStepCompleteAndRelease(t *testing.T) {
	d := New(4)
	if err := d.Admit([]float64{0, 0, 0, 0}, []float64{10, 0, 0, 0}, 50, 1500, 3000, 300); err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	d.Prepare(0, 0)
	if err := d.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if more := d.Step(true); !more {
		t.Errorf("expected Step to report more steps due")
	}
	if more := d.Step(false); more {
		t.Errorf("expected Step to report re-arm when no more steps due")
	}

	live := []int32{800, 0, 0, 0}
	if err := d.StepComplete(live); err != nil {
		t.Fatalf("StepComplete failed: %v", err)
	}
	if d.State() != StateCompleted {
		t.Fatalf("state = %v, want completed", d.State())
	}
	if d.LiveEndPoints[0] != 800 {
		t.Errorf("LiveEndPoints[0] = %d, want 800", d.LiveEndPoints[0])
	}

	d.Release()
	if d.State() != StateEmpty {
		t.Fatalf("state = %v, want empty after release", d.State())
	}
}

func TestStepEnforcesMaxRepsBackPressure(t *testing.T) {
	d := New(4)
	if err := d.Admit([]float64{0, 0, 0, 0}, []float64{10, 0, 0, 0}, 50, 1500, 3000, 300); err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	d.Prepare(0, 0)
	if err := d.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	rearmed := false
	for i := 0; i < MaxRepsDiagnostic+2; i++ {
		if !d.Step(true) {
			rearmed = true
			break
		}
	}
	if !rearmed {
		t.Errorf("expected Step to force a re-arm within %d reps", MaxRepsDiagnostic+2)
	}
	if d.StepReps() > MaxRepsDiagnostic {
		t.Errorf("StepReps = %d exceeded MaxRepsDiagnostic = %d", d.StepReps(), MaxRepsDiagnostic)
	}
}

func TestStepReportsMaxRepsHitMetric(t *testing.T) {
	d := New(4)
	if err := d.Admit([]float64{0, 0, 0, 0}, []float64{10, 0, 0, 0}, 50, 1500, 3000, 300); err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	d.Prepare(0, 0)
	if err := d.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	reg := metrics.NewRegistry()
	series := metrics.NewMotionSeries(reg)
	d.SetMetrics(series)

	for i := 0; i < MaxRepsDiagnostic+2; i++ {
		if !d.Step(true) {
			break
		}
	}
	if got := series.MaxRepsHits.Get(nil); got != 1 {
		t.Errorf("MaxRepsHits = %v, want 1", got)
	}
}

func TestEndstopHitClampsLiveEndPoint(t *testing.T) {
	d := New(4)
	if err := d.Admit([]float64{0, 0, 0, 0}, []float64{10, 0, 0, 0}, 50, 1500, 3000, 300); err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	d.EndstopHit(AxisX, 400)
	if d.LiveEndPoints[AxisX] != 400 {
		t.Errorf("LiveEndPoints[X] = %d, want 400", d.LiveEndPoints[AxisX])
	}
}
