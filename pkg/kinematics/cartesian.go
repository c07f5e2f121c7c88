package kinematics

import "math"

// cartesianKinematics implements direct per-axis step mapping.
type cartesianKinematics struct {
	maxZVelocity float64
}

func (cartesianKinematics) Kind() GeometryKind { return GeometryCartesian }

func (cartesianKinematics) Transform(machine [3]float64, spu [3]float64) [3]int32 {
	var motor [3]int32
	for i := 0; i < 3; i++ {
		motor[i] = int32(math.Round(machine[i] * spu[i]))
	}
	return motor
}

func (cartesianKinematics) Inverse(motor [3]int32, spu [3]float64) ([3]float64, bool) {
	var machine [3]float64
	for i := 0; i < 3; i++ {
		machine[i] = float64(motor[i]) / spu[i]
	}
	return machine, true
}

func (ck cartesianKinematics) CheckMove(m *Move, limits [3][2]float64) error {
	if err := checkEndstops(m.EndPos, m.AxesD, limits); err != nil {
		return err
	}
	checkZMove(m, ck.maxZVelocity)
	return nil
}
