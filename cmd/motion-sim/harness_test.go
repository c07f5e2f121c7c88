package main

import (
	"os"
	"path/filepath"
	"testing"

	"klipper-go-migration/pkg/config"
	"klipper-go-migration/pkg/ring"
)

const cartesianCfg = `
[printer]
kinematics: cartesian
max_velocity: 300
max_accel: 3000
square_corner_velocity: 5.0

[stepper_x]
position_min: 0
position_max: 220

[stepper_y]
position_min: 0
position_max: 220

[stepper_z]
position_min: -2
position_max: 250
`

func loadTestGeometry(t *testing.T, src string) *config.GeometryConfig {
	t.Helper()
	path := filepath.Join(t.TempDir(), "printer.cfg")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("write test config: %v", err)
	}
	geom, err := config.LoadGeometryConfig(path)
	if err != nil {
		t.Fatalf("LoadGeometryConfig: %v", err)
	}
	return geom
}

func TestEnqueueAndTickAdvancesPosition(t *testing.T) {
	geom := loadTestGeometry(t, cartesianCfg)
	h := NewHarness(geom, 4)

	ok, err := h.Enqueue([]float64{50, 0, 0, 0}, 50, 1500)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if !ok {
		t.Fatalf("Enqueue refused by ring admission policy")
	}

	for i := 0; i < 200; i++ {
		if err := h.Tick(0.01); err != nil {
			t.Fatalf("Tick failed: %v", err)
		}
	}

	pos := h.Position()
	if pos[0] == 0 {
		t.Errorf("expected X position to have advanced from 0, got %v", pos)
	}
}

func TestFrameReportsRingOccupancy(t *testing.T) {
	geom := loadTestGeometry(t, cartesianCfg)
	h := NewHarness(geom, 4)

	if ok, err := h.Enqueue([]float64{10, 0, 0, 0}, 50, 1500); err != nil || !ok {
		t.Fatalf("Enqueue failed: ok=%v err=%v", ok, err)
	}
	if err := h.Tick(0.01); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	f := h.frame()
	if f.RingDepth == 0 {
		t.Errorf("expected non-zero ring depth after an admitted move, got %v", f.RingDepth)
	}
}

func TestNewHarnessUsesDefaultRingLength(t *testing.T) {
	geom := loadTestGeometry(t, cartesianCfg)
	h := NewHarness(geom, 4)
	if got := h.ring.Len(); got != ring.DefaultLength {
		t.Errorf("ring length = %d, want default %d", got, ring.DefaultLength)
	}
}
