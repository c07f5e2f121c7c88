// Geometry config: extraction of the printer.cfg sections the motion core
// actually consumes (kinematics type, stepper travel limits, endstop pins,
// delta tower geometry), a YAML snapshot for persisting calibration
// results across restarts, and an RRF-style printable summary of the
// active delta parameters.
//
// Grounded on this package's own printer.cfg section-extraction idiom
// (Config.GetSection / Section.GetFloat etc, see config.go and pin.go's
// GetPin helper); narrowed to the geometry-only keys a motion core needs —
// heater and TMC driver sections are out of scope, but endstop_pin is kept
// since homing belongs to motion. In-place calibration persistence reuses
// AutosaveConfig (autosave.go) the same way Klipper's own SAVE_CONFIG
// rewrites printer.cfg, rather than only ever writing a side file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
	"klipper-go-migration/pkg/endstop"
	"klipper-go-migration/pkg/kinematics"
)

// GeometryConfig is the subset of printer.cfg relevant to motion planning.
type GeometryConfig struct {
	Kind kinematics.GeometryKind

	Rails       [3]kinematics.Rail
	EndstopPins [3]Pin

	MaxVelocity     float64
	MaxAccel        float64
	MaxAccelToDecel float64
	MaxZVelocity    float64
	SquareCornerVelocity float64

	// Delta-only fields; zero-valued when Kind != GeometryDelta.
	DeltaDiagonal    float64
	DeltaRadius      float64
	DeltaHomedHeight float64
	DeltaPrintRadius float64
	DeltaEndstopAdjustments [3]float64
}

func parseKinematicsKind(name string) (kinematics.GeometryKind, error) {
	switch name {
	case "cartesian", "":
		return kinematics.GeometryCartesian, nil
	case "corexy":
		return kinematics.GeometryCoreXY, nil
	case "corexz":
		return kinematics.GeometryCoreXZ, nil
	case "coreyz":
		return kinematics.GeometryCoreYZ, nil
	case "delta":
		return kinematics.GeometryDelta, nil
	default:
		return 0, fmt.Errorf("unsupported kinematics %q", name)
	}
}

// LoadGeometryConfig reads a printer.cfg-style INI file and extracts the
// [printer] and [stepper_x/y/z] sections plus, for delta machines,
// [delta] tower geometry.
func LoadGeometryConfig(path string) (*GeometryConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return fromConfig(cfg)
}

func fromConfig(cfg *Config) (*GeometryConfig, error) {
	printer, err := cfg.GetSection("printer")
	if err != nil {
		return nil, err
	}
	kindName, err := printer.Get("kinematics")
	if err != nil {
		return nil, err
	}
	kind, err := parseKinematicsKind(kindName)
	if err != nil {
		return nil, err
	}

	g := &GeometryConfig{Kind: kind}
	g.MaxVelocity, _ = printer.GetFloat("max_velocity", 300)
	g.MaxAccel, _ = printer.GetFloat("max_accel", 3000)
	g.MaxAccelToDecel, _ = printer.GetFloat("max_accel_to_decel", g.MaxAccel/2)
	g.MaxZVelocity, _ = printer.GetFloat("max_z_velocity", g.MaxVelocity)
	g.SquareCornerVelocity, _ = printer.GetFloat("square_corner_velocity", 5.0)

	axisNames := [3]string{"stepper_x", "stepper_y", "stepper_z"}
	for i, name := range axisNames {
		sec := cfg.GetSectionOptional(name)
		if sec == nil {
			continue
		}
		rail := kinematics.Rail{Name: name}
		rail.PositionMin, _ = sec.GetFloat("position_min", 0)
		rail.PositionMax, _ = sec.GetFloat("position_max", 200)
		rail.PositionEndstop, _ = sec.GetFloat("position_endstop", rail.PositionMin)
		rail.HomingSpeed, _ = sec.GetFloat("homing_speed", 5.0)
		rail.HomingRetract, _ = sec.GetFloat("homing_retract_dist", 5.0)
		g.Rails[i] = rail

		if pin, err := sec.GetPinOptional("endstop_pin", PinOptions{CanInvert: true, CanPullup: true}); err == nil && pin != nil {
			g.EndstopPins[i] = *pin
		}
	}

	if kind == kinematics.GeometryDelta {
		delta, err := cfg.GetSection("delta")
		if err != nil {
			return nil, err
		}
		g.DeltaDiagonal, _ = delta.GetFloat("diagonal_rod", 215.0)
		g.DeltaRadius, _ = delta.GetFloat("delta_radius", 105.0)
		g.DeltaHomedHeight, _ = delta.GetFloat("homed_height", 240.0)
		g.DeltaPrintRadius, _ = delta.GetFloat("print_radius", 85.0)
		adj, _ := delta.GetFloatList("endstop_adjustments", ",", []float64{0, 0, 0})
		for i := 0; i < 3 && i < len(adj); i++ {
			g.DeltaEndstopAdjustments[i] = adj[i]
		}
	}

	return g, nil
}

// BuildDeltaParameters constructs and recalculates an equilateral
// DeltaParameters from the loaded geometry, ready for use by
// kinematics.New.
func (g *GeometryConfig) BuildDeltaParameters() *kinematics.DeltaParameters {
	d := kinematics.NewEquilateralDeltaParameters(
		g.DeltaDiagonal, g.DeltaRadius, g.DeltaHomedHeight, g.DeltaPrintRadius,
		g.DeltaEndstopAdjustments,
	)
	d.Recalc()
	return d
}

// BuildEndstops constructs an Endstop for each rail whose endstop_pin was
// configured, in X/Y/Z order, with a nil entry for any axis that has none.
func (g *GeometryConfig) BuildEndstops() [3]*endstop.Endstop {
	var out [3]*endstop.Endstop
	for i, rail := range g.Rails {
		pin := g.EndstopPins[i]
		if pin.Name == "" {
			continue
		}
		cfg := endstop.DefaultEndstopConfig()
		cfg.Name = rail.Name
		cfg.Pin = pin.FullName()
		cfg.Inverted = pin.Invert
		cfg.PullUp = pin.Pullup > 0
		out[i] = endstop.New(cfg)
	}
	return out
}

// PersistCalibrationToConfig writes the snapshot's delta_radius,
// homed_height and endstop_adjustments (each only when non-zero) directly
// into the [delta] section of the printer.cfg at path, backing up the
// original file first, the same way Klipper's own SAVE_CONFIG rewrites
// printer.cfg in place rather than only ever writing a side file. The
// snapshot's tower position corrections and skew tangents are not written.
func PersistCalibrationToConfig(path string, snap Snapshot) error {
	cfg, err := LoadAutosave(path)
	if err != nil {
		return err
	}

	if snap.DeltaRadius != 0 {
		if err := cfg.SetOption("delta", "delta_radius", formatFloat(snap.DeltaRadius)); err != nil {
			return err
		}
	}
	if snap.DeltaHomedHeight != 0 {
		if err := cfg.SetOption("delta", "homed_height", formatFloat(snap.DeltaHomedHeight)); err != nil {
			return err
		}
	}
	if snap.DeltaEndstopAdjustments != ([3]float64{}) {
		if err := cfg.SetOption("delta", "endstop_adjustments", formatFloatList(snap.DeltaEndstopAdjustments[:])); err != nil {
			return err
		}
	}

	if !cfg.HasChanges() {
		return nil
	}
	return cfg.SaveChanges("")
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%g", v)
}

func formatFloatList(vs []float64) string {
	s := ""
	for i, v := range vs {
		if i > 0 {
			s += ", "
		}
		s += formatFloat(v)
	}
	return s
}

// Snapshot is the persisted form of calibration results that must survive
// a restart: endstop adjustments and (for delta machines) tower geometry
// corrections, serialised as YAML rather than the INI printer.cfg itself
// so calibration can be saved without rewriting the user's config file.
type Snapshot struct {
	DeltaRadius             float64    `yaml:"delta_radius,omitempty"`
	DeltaHomedHeight        float64    `yaml:"delta_homed_height,omitempty"`
	DeltaEndstopAdjustments [3]float64 `yaml:"delta_endstop_adjustments,omitempty"`
	DeltaTowerXCorrections  [3]float64 `yaml:"delta_tower_x_corrections,omitempty"`
	DeltaTowerYCorrections  [3]float64 `yaml:"delta_tower_y_corrections,omitempty"`
	AxisSkewTangentXY       float64    `yaml:"axis_skew_tangent_xy,omitempty"`
	AxisSkewTangentXZ       float64    `yaml:"axis_skew_tangent_xz,omitempty"`
	AxisSkewTangentYZ       float64    `yaml:"axis_skew_tangent_yz,omitempty"`
}

// SaveSnapshot writes the calibration snapshot as YAML to path.
func SaveSnapshot(path string, snap Snapshot) error {
	data, err := yaml.Marshal(snap)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadSnapshot reads a previously saved calibration snapshot. Returns a
// zero-valued Snapshot, no error, if path does not exist.
func LoadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

