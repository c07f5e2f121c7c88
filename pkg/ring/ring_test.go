package ring

import (
	"testing"

	"klipper-go-migration/pkg/metrics"
)

type fakePlatform struct {
	idled []int
	armed int
}

func (f *fakePlatform) Now() float64 { return 0 }
func (f *fakePlatform) SetDriveIdle(drive int) { f.idled = append(f.idled, drive) }
func (f *fakePlatform) ArmFirstStep(now float64) bool {
	f.armed++
	return true
}

func admitN(t *testing.T, r *Ring, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		target := make([]float64, r.numDrives)
		target[0] = float64(i + 1)
		ok, err := r.TryAdmit(PendingMove{Target: target, FeedRate: 50, Accel: 1500})
		if err != nil {
			t.Fatalf("TryAdmit %d failed: %v", i, err)
		}
		if !ok {
			t.Fatalf("TryAdmit %d refused by admission policy", i)
		}
	}
}

func TestTryAdmitAdvancesAddIndex(t *testing.T) {
	r := New(8, 4, 3000, 300, 0.000015, 30)
	admitN(t, r, 3)
	if r.AddIndex() != 3 {
		t.Errorf("AddIndex = %d, want 3", r.AddIndex())
	}
	if r.GetIndex() != 0 {
		t.Errorf("GetIndex = %d, want 0", r.GetIndex())
	}
}

func TestTryAdmitRefusesNonEmptySlot(t *testing.T) {
	r := New(1, 4, 3000, 300, 0.000015, 30)
	ok, err := r.TryAdmit(PendingMove{Target: []float64{10, 0, 0, 0}, FeedRate: 50, Accel: 1500})
	if err != nil || !ok {
		t.Fatalf("first admit failed: ok=%v err=%v", ok, err)
	}
	ok, err = r.TryAdmit(PendingMove{Target: []float64{20, 0, 0, 0}, FeedRate: 50, Accel: 1500})
	if err != nil {
		t.Fatalf("second admit errored: %v", err)
	}
	if ok {
		t.Fatalf("expected second admit to be refused: ring length 1 means add_ptr wraps onto the still-occupied slot")
	}
}

// S5: three moves queued, middle one executing with can_pause=true;
// PausePrint returns the end coordinates of the middle move and releases
// the third; the middle move keeps executing and add_ptr ends just after
// it.
func TestPauseReleasesFromPauseableMoveForward(t *testing.T) {
	r := New(8, 4, 3000, 300, 0.000015, 30)
	admitN(t, r, 3)

	// Middle move (index 1) is the one executing; index 0 stays queued
	// ahead of get_ptr, untouched by the pause.
	middle := r.At(1)
	wantEndPos := append([]float64(nil), middle.EndPos...)
	middle.Prepare(0, 0)
	if err := middle.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	r.currentIdx = 1

	result := r.Pause()
	if result.Empty {
		t.Fatalf("expected a non-empty pause result")
	}
	for i := range wantEndPos {
		if result.SavedPosition[i] != wantEndPos[i] {
			t.Errorf("SavedPosition[%d] = %v, want %v (the middle move's end position)", i, result.SavedPosition[i], wantEndPos[i])
		}
	}

	if r.AddIndex() != 2 {
		t.Errorf("AddIndex = %d, want 2 (just after the paused move)", r.AddIndex())
	}
	if r.GetIndex() != 0 {
		t.Errorf("GetIndex = %d, want unchanged at 0", r.GetIndex())
	}
	if r.At(1).State().String() != "executing" {
		t.Errorf("slot 1 (the paused move) should still be executing, state = %v", r.At(1).State())
	}
	if r.At(2).State().String() != "empty" {
		t.Errorf("slot 2 should have been released, state = %v", r.At(2).State())
	}
}

func TestPauseWithNothingExecutingCollapsesAddOntoGet(t *testing.T) {
	r := New(8, 4, 3000, 300, 0.000015, 30)
	admitN(t, r, 2)

	result := r.Pause()
	if !result.Empty {
		t.Fatalf("expected an empty pause result when nothing is executing")
	}
	if r.AddIndex() != r.GetIndex() {
		t.Errorf("AddIndex (%d) should equal GetIndex (%d)", r.AddIndex(), r.GetIndex())
	}
}

func TestSpinIdlesAllDrivesAfterTimeout(t *testing.T) {
	r := New(8, 4, 3000, 300, 0.000015, 10)
	p := &fakePlatform{}

	if _, err := r.Spin(0, nil, p); err != nil {
		t.Fatalf("Spin failed: %v", err)
	}
	if _, err := r.Spin(25, nil, p); err != nil {
		t.Fatalf("Spin failed: %v", err)
	}
	if len(p.idled) != r.numDrives {
		t.Errorf("expected all %d drives idled, got %d", r.numDrives, len(p.idled))
	}
}

func TestSpinPublishesRingDepthMetric(t *testing.T) {
	r := New(8, 4, 3000, 300, 0.000015, 30)
	reg := metrics.NewRegistry()
	series := metrics.NewMotionSeries(reg)
	r.SetMetrics(series)

	p := &fakePlatform{}
	target := make([]float64, 4)
	target[0] = 10
	pending := &PendingMove{Target: target, FeedRate: 50, Accel: 1500}
	if _, err := r.Spin(0, pending, p); err != nil {
		t.Fatalf("Spin failed: %v", err)
	}
	if got := series.RingDepth.Get(nil); got != 1 {
		t.Errorf("RingDepth = %v, want 1", got)
	}
}

func TestCompleteCurrentAdvancesGetIndex(t *testing.T) {
	r := New(8, 4, 3000, 300, 0.000015, 30)
	admitN(t, r, 1)

	d := r.At(0)
	d.Prepare(0, 0)
	if err := d.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	r.currentIdx = 0

	live := make([]int32, 4)
	if err := r.CompleteCurrent(live); err != nil {
		t.Fatalf("CompleteCurrent failed: %v", err)
	}
	if r.GetIndex() != 1 {
		t.Errorf("GetIndex = %d, want 1", r.GetIndex())
	}
	if r.At(0).State().String() != "empty" {
		t.Errorf("completed descriptor should be released")
	}
}
