package kinematics

import "math"

// coreAxis identifies which pair of linear axes a core-motion belt pair
// jointly drives; the third axis is driven directly.
type coreAxis int

const (
	coreAxisXY coreAxis = iota // motors jointly drive X and Y, Z direct
	coreAxisXZ                 // motors jointly drive X and Z, Y direct
	coreAxisYZ                 // motors jointly drive Y and Z, X direct
)

// coreKinematics implements CoreXY/XZ/YZ motor mapping: two motors jointly
// drive two linear axes through coupled belts, motor motion being a linear
// combination of Cartesian-axis motion. Grounded on
// original_source/Move.cpp's MotorTransform/MachineToEndPoint coreXYMode
// 1/2/3 switch.
type coreKinematics struct {
	axis         coreAxis
	maxZVelocity float64
}

func (ck coreKinematics) Kind() GeometryKind {
	switch ck.axis {
	case coreAxisXZ:
		return GeometryCoreXZ
	case coreAxisYZ:
		return GeometryCoreYZ
	default:
		return GeometryCoreXY
	}
}

// pair returns the indices (a, b) of the two jointly-driven axes and c, the
// directly-driven third axis.
func (ck coreKinematics) pair() (a, b, c int) {
	switch ck.axis {
	case coreAxisXZ:
		return XAxis, ZAxis, YAxis
	case coreAxisYZ:
		return YAxis, ZAxis, XAxis
	default:
		return XAxis, YAxis, ZAxis
	}
}

func (ck coreKinematics) Transform(machine [3]float64, spu [3]float64) [3]int32 {
	a, b, c := ck.pair()
	var motor [3]int32
	motor[a] = int32(math.Round((machine[a] + machine[b]) * spu[a]))
	motor[b] = int32(math.Round((machine[b] - machine[a]) * spu[b]))
	motor[c] = int32(math.Round(machine[c] * spu[c]))
	return motor
}

// Inverse reproduces the exact (and slightly counter-intuitive) reduced
// step-space formula of the original source: X = (motorX*spu_Y -
// motorY*spu_X) / (2*spu_X*spu_Y), i.e. X = (motorX/spu_X - motorY/spu_Y)/2,
// with each motor numerator scaled by the OTHER axis's steps-per-unit.
func (ck coreKinematics) Inverse(motor [3]int32, spu [3]float64) ([3]float64, bool) {
	a, b, c := ck.pair()
	motorA := float64(motor[a])
	motorB := float64(motor[b])
	denom := 2 * spu[a] * spu[b]
	var machine [3]float64
	machine[a] = (motorA*spu[b] - motorB*spu[a]) / denom
	machine[b] = (motorA*spu[b] + motorB*spu[a]) / denom
	machine[c] = float64(motor[c]) / spu[c]
	return machine, true
}

func (ck coreKinematics) CheckMove(m *Move, limits [3][2]float64) error {
	if err := checkEndstops(m.EndPos, m.AxesD, limits); err != nil {
		return err
	}
	checkZMove(m, ck.maxZVelocity)
	return nil
}
