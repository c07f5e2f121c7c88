package kinematics

import (
	"fmt"
	"math"
)

// Delta tower indices, matching the original source's A/B/C naming.
const (
	TowerA = 0
	TowerB = 1
	TowerC = 2
)

// DeltaParameters holds the geometry of a linear-delta printer: rod length,
// printable radius, per-tower endstop adjustments and tower positions, and
// the derived/cached quantities recomputed whenever any input changes.
// Grounded on original_source/Move.cpp's DeltaParameters class.
type DeltaParameters struct {
	Diagonal    float64
	Radius      float64
	HomedHeight float64
	PrintRadius float64

	EndstopAdjustments [3]float64
	TowerX             [3]float64
	TowerY             [3]float64

	IsEquilateral bool

	// Derived, recomputed by Recalc(). HomedCarriageHeight is a single
	// base value; GetHomedCarriageHeight(axis) adds the per-tower endstop
	// adjustment, matching original_source/Move.cpp's
	// DeltaParameters::homedCarriageHeight + GetHomedCarriageHeight.
	HomedCarriageHeight    float64
	Xbc, Xca, Xab          float64
	Ybc, Yca, Yab          float64
	CoreFa, CoreFb, CoreFc float64
	Q, Q2, D2              float64
}

// GetHomedCarriageHeight returns the homed carriage height for the given
// tower: the common base height plus that tower's endstop adjustment.
func (d *DeltaParameters) GetHomedCarriageHeight(axis int) float64 {
	return d.HomedCarriageHeight + d.EndstopAdjustments[axis]
}

// NewEquilateralDeltaParameters builds a delta geometry with the standard
// equilateral tower placement: towerX[A]=-r*cos30, towerX[B]=+r*cos30,
// towerX[C]=0, towerY[A]=towerY[B]=-r*sin30, towerY[C]=+r.
func NewEquilateralDeltaParameters(diagonal, radius, homedHeight, printRadius float64, endstopAdjustments [3]float64) *DeltaParameters {
	d := &DeltaParameters{
		Diagonal:           diagonal,
		Radius:              radius,
		HomedHeight:         homedHeight,
		PrintRadius:         printRadius,
		EndstopAdjustments:  endstopAdjustments,
		IsEquilateral:       true,
	}
	d.setEquilateralTowers(radius)
	d.Recalc()
	return d
}

const (
	cos30 = 0.8660254037844386
	sin30 = 0.5
)

func (d *DeltaParameters) setEquilateralTowers(radius float64) {
	d.TowerX[TowerA] = -radius * cos30
	d.TowerX[TowerB] = radius * cos30
	d.TowerX[TowerC] = 0
	d.TowerY[TowerA] = -radius * sin30
	d.TowerY[TowerB] = -radius * sin30
	d.TowerY[TowerC] = radius
}

// SetRadius sets the delta radius and regenerates the equilateral tower
// positions before recalculating the cached quantities.
func (d *DeltaParameters) SetRadius(radius float64) {
	d.Radius = radius
	d.setEquilateralTowers(radius)
	d.Recalc()
}

// IsDeltaMode reports whether this geometry is usable: radius > 0 and the
// diagonal rod is longer than the radius.
func (d *DeltaParameters) IsDeltaMode() bool {
	return d.Radius > 0 && d.Diagonal > d.Radius
}

// Recalc recomputes the cached cross-tower quantities used by Transform and
// InverseTransform. Must be called after any change to TowerX/TowerY/Radius
// /Diagonal.
func (d *DeltaParameters) Recalc() {
	d.Xbc = d.TowerX[TowerC] - d.TowerX[TowerB]
	d.Xca = d.TowerX[TowerA] - d.TowerX[TowerC]
	d.Xab = d.TowerX[TowerB] - d.TowerX[TowerA]
	d.Ybc = d.TowerY[TowerC] - d.TowerY[TowerB]
	d.Yca = d.TowerY[TowerA] - d.TowerY[TowerC]
	d.Yab = d.TowerY[TowerB] - d.TowerY[TowerA]

	d.CoreFa = fsquare(d.TowerX[TowerA]) + fsquare(d.TowerY[TowerA])
	d.CoreFb = fsquare(d.TowerX[TowerB]) + fsquare(d.TowerY[TowerB])
	d.CoreFc = fsquare(d.TowerX[TowerC]) + fsquare(d.TowerY[TowerC])

	d.Q = 2 * (d.Xca*d.Yab - d.Xab*d.Yca)
	d.Q2 = fsquare(d.Q)
	d.D2 = fsquare(d.Diagonal)

	// Calculate the base carriage height when the printer is homed: any
	// sensible common height works here (the original uses the diagonal
	// rod length itself), offset per tower by its own endstop adjustment.
	tempHeight := d.Diagonal
	z, ok := d.inverseTransformTower(
		tempHeight+d.EndstopAdjustments[TowerA],
		tempHeight+d.EndstopAdjustments[TowerB],
		tempHeight+d.EndstopAdjustments[TowerC],
	)
	if ok {
		d.HomedCarriageHeight = d.HomedHeight + tempHeight - z
	}
}

func fsquare(x float64) float64 { return x * x }

// Transform computes the carriage height for axis given a machine-space
// (X, Y, Z) point: H = Z + sqrt(D^2 - (X-towerX)^2 - (Y-towerY)^2).
func (d *DeltaParameters) Transform(machinePos [3]float64, axis int) (float64, bool) {
	dx := machinePos[XAxis] - d.TowerX[axis]
	dy := machinePos[YAxis] - d.TowerY[axis]
	radicand := d.D2 - fsquare(dx) - fsquare(dy)
	if radicand <= 0 {
		return 0, false
	}
	return machinePos[ZAxis] + math.Sqrt(radicand), true
}

// InverseTransform recovers the machine-space (X, Y, Z) point from the
// three tower carriage heights ha, hb, hc, via the quadratic solve of
// original_source/Move.cpp's DeltaParameters::InverseTransform.
func (d *DeltaParameters) InverseTransform(ha, hb, hc float64) ([3]float64, bool) {
	z, ok := d.inverseTransformTower(ha, hb, hc)
	if !ok {
		return [3]float64{}, false
	}
	fa := d.CoreFa + fsquare(ha)
	fb := d.CoreFb + fsquare(hb)
	fc := d.CoreFc + fsquare(hc)

	p := d.Xbc*fa + d.Xca*fb + d.Xab*fc
	s := d.Ybc*fa + d.Yca*fb + d.Yab*fc
	r := 2 * (d.Xbc*ha + d.Xca*hb + d.Xab*hc)
	u := 2 * (d.Ybc*ha + d.Yca*hb + d.Yab*hc)

	x := (u*z - s) / d.Q
	y := (p - r*z) / d.Q
	return [3]float64{x, y, z}, true
}

// inverseTransformTower performs the quadratic solve for z (shared by
// InverseTransform and Recalc's homed-carriage-height derivation), always
// referencing tower A's geometry in the quadratic coefficients as the
// original source does.
func (d *DeltaParameters) inverseTransformTower(ha, hb, hc float64) (float64, bool) {
	fa := d.CoreFa + fsquare(ha)
	fb := d.CoreFb + fsquare(hb)
	fc := d.CoreFc + fsquare(hc)

	p := d.Xbc*fa + d.Xca*fb + d.Xab*fc
	s := d.Ybc*fa + d.Yca*fb + d.Yab*fc
	r := 2 * (d.Xbc*ha + d.Xca*hb + d.Xab*hc)
	u := 2 * (d.Ybc*ha + d.Yca*hb + d.Yab*hc)

	a := fsquare(u) + fsquare(r) + d.Q2
	minusHalfB := s*u + p*r + ha*d.Q2 + d.TowerX[TowerA]*u*d.Q - d.TowerY[TowerA]*r*d.Q
	c := fsquare(s+d.TowerX[TowerA]*d.Q) + fsquare(p-d.TowerY[TowerA]*d.Q) + (fsquare(ha)-d.D2)*d.Q2

	discriminant := fsquare(minusHalfB) - a*c
	if discriminant < 0 || a == 0 {
		return 0, false
	}
	z := (minusHalfB - math.Sqrt(discriminant)) / a
	return z, true
}

// NormaliseEndstopAdjustments subtracts the mean of the three endstop
// adjustments from each (so they sum to zero) and adds the mean to both
// HomedHeight and the base HomedCarriageHeight — no full Recalc is needed,
// this direct update is sufficient and preserves every tower's
// GetHomedCarriageHeight() exactly.
func (d *DeltaParameters) NormaliseEndstopAdjustments() {
	mean := (d.EndstopAdjustments[TowerA] + d.EndstopAdjustments[TowerB] + d.EndstopAdjustments[TowerC]) / 3.0
	d.EndstopAdjustments[TowerA] -= mean
	d.EndstopAdjustments[TowerB] -= mean
	d.EndstopAdjustments[TowerC] -= mean
	d.HomedHeight += mean
	d.HomedCarriageHeight += mean
}

// ComputeDerivative computes the central finite-difference derivative of
// the Z height that InverseTransform yields for carriage heights ha, hb,
// hc with respect to parameter index deriv, using perturbation 0.2mm.
// Parameter ordering: 0,1,2 = endstop A/B/C; 3,4 = towerX A/B; 5 = towerY C
// (shifting towerY A/B by -perturb/3 to keep the centroid fixed); 6 =
// diagonal rod length.
func (d *DeltaParameters) ComputeDerivative(deriv int, ha, hb, hc float64) float64 {
	const perturb = 0.2

	hi := *d
	lo := *d

	switch deriv {
	case 0, 1, 2:
		hiH, loH := [3]float64{ha, hb, hc}, [3]float64{ha, hb, hc}
		hiH[deriv] += perturb
		loH[deriv] -= perturb
		hi.Recalc()
		lo.Recalc()
		zHi, okHi := hi.InverseTransform(hiH[0], hiH[1], hiH[2])
		zLo, okLo := lo.InverseTransform(loH[0], loH[1], loH[2])
		if !okHi || !okLo {
			return 0
		}
		return (zHi[ZAxis] - zLo[ZAxis]) / (2 * perturb)

	case 3, 4:
		hi.TowerX[deriv-3] += perturb
		lo.TowerX[deriv-3] -= perturb
		hi.Recalc()
		lo.Recalc()
		return centralZDerivative(&hi, &lo, ha, hb, hc, perturb)

	case 5:
		yAdj := perturb / 3.0
		hi.TowerY[TowerA] -= yAdj
		hi.TowerY[TowerB] -= yAdj
		hi.TowerY[TowerC] += perturb - yAdj
		lo.TowerY[TowerA] += yAdj
		lo.TowerY[TowerB] += yAdj
		lo.TowerY[TowerC] -= perturb - yAdj
		hi.Recalc()
		lo.Recalc()
		return centralZDerivative(&hi, &lo, ha, hb, hc, perturb)

	case 6:
		hi.Diagonal += perturb
		lo.Diagonal -= perturb
		hi.Recalc()
		lo.Recalc()
		return centralZDerivative(&hi, &lo, ha, hb, hc, perturb)

	default:
		return 0
	}
}

func centralZDerivative(hi, lo *DeltaParameters, ha, hb, hc, perturb float64) float64 {
	zHi, okHi := hi.InverseTransform(ha, hb, hc)
	zLo, okLo := lo.InverseTransform(ha, hb, hc)
	if !okHi || !okLo {
		return 0
	}
	return (zHi[ZAxis] - zLo[ZAxis]) / (2 * perturb)
}

// AdjustFour applies a 4-factor adjustment: the three endstop corrections
// plus a change to the delta radius.
func (d *DeltaParameters) AdjustFour(v [4]float64) {
	d.EndstopAdjustments[TowerA] += v[0]
	d.EndstopAdjustments[TowerB] += v[1]
	d.EndstopAdjustments[TowerC] += v[2]
	d.NormaliseEndstopAdjustments()
	d.SetRadius(d.Radius + v[3])
}

// AdjustSeven applies a 7-factor adjustment: the three endstop corrections,
// the X positions of towers A and B, the Y position of tower C, and the
// diagonal rod length, then corrects the homed height so tower A's homed
// carriage height is unchanged apart from the intended endstop-A delta.
func (d *DeltaParameters) AdjustSeven(v [7]float64) {
	oldCarriageHeightA := d.GetHomedCarriageHeight(TowerA)

	d.EndstopAdjustments[TowerA] += v[0]
	d.EndstopAdjustments[TowerB] += v[1]
	d.EndstopAdjustments[TowerC] += v[2]
	d.NormaliseEndstopAdjustments()

	d.TowerX[TowerA] += v[3]
	d.TowerX[TowerB] += v[4]
	yAdj := v[5] / 3.0
	d.TowerY[TowerA] -= yAdj
	d.TowerY[TowerB] -= yAdj
	d.TowerY[TowerC] += v[5] - yAdj
	d.Diagonal += v[6]
	d.IsEquilateral = false
	d.Recalc()

	// Adjusting the diagonal and tower positions shifts the homed
	// carriage height; correct homedHeight so the requested endstop-A
	// delta is the only change visible in tower A's homed carriage
	// height.
	heightError := d.GetHomedCarriageHeight(TowerA) - oldCarriageHeightA - v[0]
	d.HomedHeight -= heightError
	d.HomedCarriageHeight -= heightError
}

// PrintParameters renders the RRF-compatible printable form of the current
// geometry, matching original_source/Move.cpp's PrintParameters.
func (d *DeltaParameters) PrintParameters(full bool) string {
	s := fmt.Sprintf("Endstops X%.2f Y%.2f Z%.2f, height %.2f, diagonal %.2f, ",
		d.EndstopAdjustments[TowerA], d.EndstopAdjustments[TowerB], d.EndstopAdjustments[TowerC],
		d.HomedHeight, d.Diagonal)
	if d.IsEquilateral && !full {
		return s + fmt.Sprintf("radius %.2f\n", d.Radius)
	}
	return s + fmt.Sprintf("towers (%.2f,%.2f) (%.2f,%.2f) (%.2f,%.2f)\n",
		d.TowerX[TowerA], d.TowerY[TowerA],
		d.TowerX[TowerB], d.TowerY[TowerB],
		d.TowerX[TowerC], d.TowerY[TowerC])
}

// deltaKinematics adapts DeltaParameters to the Kinematics interface.
type deltaKinematics struct {
	params *DeltaParameters
}

func (deltaKinematics) Kind() GeometryKind { return GeometryDelta }

func (dk deltaKinematics) Transform(machine [3]float64, spu [3]float64) [3]int32 {
	var motor [3]int32
	for axis := 0; axis < 3; axis++ {
		h, ok := dk.params.Transform(machine, axis)
		if !ok {
			h = 0
		}
		motor[axis] = int32(math.Round(h * spu[axis]))
	}
	return motor
}

func (dk deltaKinematics) Inverse(motor [3]int32, spu [3]float64) ([3]float64, bool) {
	ha := float64(motor[TowerA]) / spu[TowerA]
	hb := float64(motor[TowerB]) / spu[TowerB]
	hc := float64(motor[TowerC]) / spu[TowerC]
	return dk.params.InverseTransform(ha, hb, hc)
}

func (dk deltaKinematics) CheckMove(m *Move, limits [3][2]float64) error {
	xpos, ypos := m.EndPos[XAxis], m.EndPos[YAxis]
	if fsquare(xpos)+fsquare(ypos) > fsquare(dk.params.PrintRadius) {
		return errMoveOutOfRange
	}
	return nil
}
