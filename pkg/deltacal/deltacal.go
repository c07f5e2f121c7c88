// Package deltacal computes delta-printer geometry corrections from a set
// of probed bed points, following original_source/Move.cpp's
// DoDeltaCalibration/AdjustDeltaParameters pipeline: build a Jacobian of
// probed-Z residuals against 4 or 7 delta parameters by central finite
// difference, reduce to normal equations, solve by Gauss-Jordan
// elimination with partial pivoting, and apply the result to the
// geometry while preserving the A-tower's homed carriage height.
package deltacal

import (
	"math"

	"go.uber.org/multierr"

	"klipper-go-migration/pkg/kinematics"
	"klipper-go-migration/pkg/metrics"
	"klipper-go-migration/pkg/motionerrors"
	"klipper-go-migration/pkg/pool"
)

// maxFactors is the largest parameter-vector size (7-factor calibration).
const maxFactors = 7

// minFactors is the smallest (4-factor: 3 endstops + radius).
const minFactors = 4

// ProbePoint is one measured calibration sample: a probed XY location and
// the signed Z error measured there (actual minus expected, flat-bed
// assumption).
type ProbePoint struct {
	X, Y   float64
	ZError float64
}

// Result reports the outcome of a single calibration pass.
type Result struct {
	NumFactors  int
	Corrections [maxFactors]float64
	RMSResidual float64
}

// Calibrate runs one iteration of delta calibration against the given
// probe points, mutating params in place, and returns the solved
// correction vector.
//
// Returns a geometry error at once if fewer than 4 points are given. Probe
// points the tower geometry cannot reach are collected via multierr into
// one aggregate error, so a caller sees every unreachable point at once; a
// singular normal-equations matrix is reported on its own.
func Calibrate(params *kinematics.DeltaParameters, points []ProbePoint) (Result, error) {
	var errs error
	if len(points) < minFactors {
		errs = multierr.Append(errs, motionerrors.GeometryError("delta calibration needs at least 4 probe points"))
	}
	numFactors := minFactors
	if len(points) >= 7 {
		numFactors = maxFactors
	}
	if errs != nil {
		return Result{}, errs
	}

	jacobian := make([][maxFactors]float64, len(points))
	residuals := make([]float64, len(points))

	for i, p := range points {
		var ha, hb, hc float64
		for axis := 0; axis < 3; axis++ {
			h, ok := params.Transform([3]float64{p.X, p.Y, 0}, axis)
			if !ok {
				errs = multierr.Append(errs, motionerrors.GeometryError("probe point unreachable by tower geometry"))
				continue
			}
			switch axis {
			case kinematics.TowerA:
				ha = h
			case kinematics.TowerB:
				hb = h
			case kinematics.TowerC:
				hc = h
			}
		}
		for f := 0; f < numFactors; f++ {
			jacobian[i][f] = params.ComputeDerivative(f, ha, hb, hc)
		}
		residuals[i] = p.ZError
	}
	if errs != nil {
		return Result{}, errs
	}

	normal := buildNormalEquations(jacobian, residuals, numFactors)
	solution, ok := gaussJordan(normal, numFactors)
	for _, row := range normal {
		pool.PutFloat64Slice(row)
	}
	if !ok {
		return Result{}, motionerrors.GeometryError("delta calibration normal-equations matrix is singular")
	}

	var corrections [maxFactors]float64
	copy(corrections[:numFactors], solution)

	if numFactors == minFactors {
		params.AdjustFour([4]float64{corrections[0], corrections[1], corrections[2], corrections[3]})
	} else {
		params.AdjustSeven([7]float64{
			corrections[0], corrections[1], corrections[2],
			corrections[3], corrections[4], corrections[5], corrections[6],
		})
	}

	return Result{
		NumFactors:  numFactors,
		Corrections: corrections,
		RMSResidual: rms(residuals),
	}, nil
}

// CalibrateWithMetrics runs Calibrate and, on success, publishes the
// resulting RMS residual to m. m may be nil to disable reporting.
func CalibrateWithMetrics(params *kinematics.DeltaParameters, points []ProbePoint, m *metrics.MotionSeries) (Result, error) {
	res, err := Calibrate(params, points)
	if err == nil && m != nil {
		m.CalibrationResidual.Set(nil, res.RMSResidual)
	}
	return res, err
}

// buildNormalEquations forms the augmented matrix [JᵀJ | -Jᵀ·residuals]
// for a numFactors x numFactors system. Rows are drawn from pool's
// fixed-size float64 slice pool (a 4 or 7-factor system always fits in
// the size-8 bucket) since calibration re-solves this system on every
// probe-and-adjust iteration.
func buildNormalEquations(jacobian [][maxFactors]float64, residuals []float64, numFactors int) [][]float64 {
	m := make([][]float64, numFactors)
	for r := 0; r < numFactors; r++ {
		m[r] = pool.GetFloat64Slice(numFactors + 1)
		for c := 0; c < numFactors; c++ {
			var sum float64
			for i := range jacobian {
				sum += jacobian[i][r] * jacobian[i][c]
			}
			m[r][c] = sum
		}
		var rhs float64
		for i := range jacobian {
			rhs += jacobian[i][r] * residuals[i]
		}
		m[r][numFactors] = -rhs
	}
	return m
}

// gaussJordan solves an n x (n+1) augmented matrix in place with partial
// pivoting, returning the solution vector. ok is false if the matrix is
// singular to working precision.
func gaussJordan(m [][]float64, n int) ([]float64, bool) {
	const epsilon = 1e-12

	for col := 0; col < n; col++ {
		pivotRow := col
		maxAbs := math.Abs(m[col][col])
		for r := col + 1; r < n; r++ {
			if v := math.Abs(m[r][col]); v > maxAbs {
				maxAbs = v
				pivotRow = r
			}
		}
		if maxAbs < epsilon {
			return nil, false
		}
		m[col], m[pivotRow] = m[pivotRow], m[col]

		pivot := m[col][col]
		for c := col; c <= n; c++ {
			m[col][c] /= pivot
		}
		for r := 0; r < n; r++ {
			if r == col {
				continue
			}
			factor := m[r][col]
			if factor == 0 {
				continue
			}
			for c := col; c <= n; c++ {
				m[r][c] -= factor * m[col][c]
			}
		}
	}

	solution := make([]float64, n)
	for r := 0; r < n; r++ {
		solution[r] = m[r][n]
	}
	return solution, true
}

func rms(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(values)))
}
