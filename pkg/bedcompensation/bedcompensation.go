// Package bedcompensation applies additive Z correction derived from probed
// bed points (plane, bilinear, or barycentric-triangle interpolation) and
// axis skew compensation, mirroring original_source/Move.cpp's
// BedTransform/InverseBedTransform/AxisTransform family.
package bedcompensation

import "math"

const maxProbePoints = 5

// triangleZero is the small negative tolerance used by the barycentric
// lookup, matching the original source's TRIANGLE_0.
const triangleZero = -0.01

// ProbePoint is a single probed bed coordinate.
type ProbePoint struct {
	X, Y, Z float64
	Set     bool // true once all three coordinates have been recorded
}

// Compensator holds probe points and axis-skew tangents and implements the
// forward/inverse bed transform.
type Compensator struct {
	points [maxProbePoints]ProbePoint

	// Plane fit (3 points).
	aX, aY, aC float64

	// Bilinear fit (4 points).
	xRectangle, yRectangle float64

	// Barycentric fit (5 points): satellite points pre-expanded to twice
	// their displacement from the apex (point index 4).
	baryX, baryY, baryZ [maxProbePoints]float64

	// Axis skew.
	tanXY, tanYZ, tanXZ float64

	lastMiss bool // diagnostic: set if the last TriangleZ query missed all triangles
}

// New returns an identity compensator (no probe points, no skew).
func New() *Compensator {
	return &Compensator{}
}

// NumberOfProbePoints returns the index of the first unset probe record,
// i.e. how many leading points have been set.
func (c *Compensator) NumberOfProbePoints() int {
	for i := range c.points {
		if !c.points[i].Set {
			return i
		}
	}
	return maxProbePoints
}

// SetAxisSkew sets the three skew tangents.
func (c *Compensator) SetAxisSkew(tanXY, tanYZ, tanXZ float64) {
	c.tanXY, c.tanYZ, c.tanXZ = tanXY, tanYZ, tanXZ
}

// SetProbePoint records a probed point at index i. It does not touch the
// cached fit coefficients: until Recalculate() runs, transforms keep using
// the previous fit, dispatched on the current probe point count.
func (c *Compensator) SetProbePoint(i int, x, y, z float64) {
	c.points[i] = ProbePoint{X: x, Y: y, Z: z, Set: true}
}

// Recalculate rebuilds the cached fit coefficients for the current probe
// point count (3 → plane, 4 → bilinear, 5 → barycentric).
func (c *Compensator) Recalculate() {
	switch c.NumberOfProbePoints() {
	case 3:
		c.fitPlane()
	case 4:
		c.fitBilinear()
	case 5:
		c.fitBarycentric()
	}
}

func (c *Compensator) fitPlane() {
	p := c.points
	x10 := p[1].X - p[0].X
	y10 := p[1].Y - p[0].Y
	z10 := p[1].Z - p[0].Z
	x20 := p[2].X - p[0].X
	y20 := p[2].Y - p[0].Y
	z20 := p[2].Z - p[0].Z
	a := y10*z20 - z10*y20
	b := z10*x20 - x10*z20
	cc := x10*y20 - y10*x20
	d := -(p[1].X*a + p[1].Y*b + p[1].Z*cc)
	c.aX = -a / cc
	c.aY = -b / cc
	c.aC = -d / cc
}

func (c *Compensator) fitBilinear() {
	p := c.points
	c.xRectangle = 1.0 / (p[3].X - p[0].X)
	c.yRectangle = 1.0 / (p[1].Y - p[0].Y)
}

func (c *Compensator) fitBarycentric() {
	p := c.points
	for i := 0; i < 4; i++ {
		x10 := p[i].X - p[4].X
		y10 := p[i].Y - p[4].Y
		z10 := p[i].Z - p[4].Z
		c.baryX[i] = p[4].X + 2.0*x10
		c.baryY[i] = p[4].Y + 2.0*y10
		c.baryZ[i] = p[4].Z + 2.0*z10
	}
	c.baryX[4] = p[4].X
	c.baryY[4] = p[4].Y
	c.baryZ[4] = p[4].Z
}

// zCorrection returns the additive Z correction for (x, y), dispatching on
// NumberOfProbePoints: 0 → identity, 3 → plane, 4 → bilinear, 5 →
// barycentric.
func (c *Compensator) zCorrection(x, y float64) float64 {
	switch c.NumberOfProbePoints() {
	case 3:
		return c.aX*x + c.aY*y + c.aC
	case 4:
		return c.secondDegreeTransformZ(x, y)
	case 5:
		return c.triangleZ(x, y)
	default:
		return 0
	}
}

// secondDegreeTransformZ is the bilinear ruled-surface fit over the four
// corner points (indexed [0]=(xmin,ymin), [1]=(xmin,ymax), [2]=(xmax,ymax),
// [3]=(xmax,ymin)).
func (c *Compensator) secondDegreeTransformZ(x, y float64) float64 {
	p := c.points
	u := (x - p[0].X) * c.xRectangle
	v := (y - p[0].Y) * c.yRectangle
	return (1-u)*(1-v)*p[0].Z + u*(1-v)*p[3].Z + (1-u)*v*p[1].Z + u*v*p[2].Z
}

// barycentricCoordinates computes the barycentric coordinates of (x, y)
// against the triangle (x1,y1)-(x2,y2)-(x3,y3).
func barycentricCoordinates(x1, y1, x2, y2, x3, y3, x, y float64) (l1, l2, l3 float64) {
	y23 := y2 - y3
	x32 := x3 - x2
	y13 := y1 - y3
	x13 := x1 - x3
	iDet := 1.0 / (y23*x13 + x32*y13)
	l1 = (y23*(x-x3) + x32*(y-y3)) * iDet
	l2 = (-y13*(x-x3) + x13*(y-y3)) * iDet
	l3 = 1.0 - l1 - l2
	return
}

// triangleZ interpolates Z from the four satellite triangles sharing point
// index 4 as apex. Matches original_source/Move.cpp's TriangleZ exactly,
// including its "report and return 0" behaviour on a total miss — this is
// a preserved Open Question per spec.md §9, not an inferred redesign.
func (c *Compensator) triangleZ(x, y float64) float64 {
	for i := 0; i < 4; i++ {
		j := (i + 1) % 4
		l1, l2, l3 := barycentricCoordinates(
			c.baryX[i], c.baryY[i], c.baryX[j], c.baryY[j], c.baryX[4], c.baryY[4], x, y)
		if l1 > triangleZero && l2 > triangleZero && l3 > triangleZero {
			c.lastMiss = false
			return l1*c.baryZ[i] + l2*c.baryZ[j] + l3*c.baryZ[4]
		}
	}
	c.lastMiss = true
	return 0.0
}

// LastQueryMissed reports whether the most recent 5-point barycentric
// lookup fell outside all four triangles (diagnostic only).
func (c *Compensator) LastQueryMissed() bool {
	return c.lastMiss
}

// AxisTransform applies forward skew compensation: x' = x + tanXY*y +
// tanXZ*z; y' = y + tanYZ*z.
func (c *Compensator) AxisTransform(x, y, z float64) (float64, float64) {
	return x + c.tanXY*y + c.tanXZ*z, y + c.tanYZ*z
}

// InverseAxisTransform undoes skew in reverse order: y is unwound first,
// then x.
func (c *Compensator) InverseAxisTransform(x, y, z float64) (float64, float64) {
	y -= c.tanYZ * z
	x -= c.tanXY*y + c.tanXZ*z
	return x, y
}

// Transform applies axis skew then Z correction, matching
// original_source/Move.cpp's Move::Transform composition order.
func (c *Compensator) Transform(x, y, z float64) (float64, float64, float64) {
	x, y = c.AxisTransform(x, y, z)
	z += c.zCorrection(x, y)
	return x, y, z
}

// InverseTransform applies the exact reverse: undo Z correction (bed) then
// undo axis skew, matching Move::InverseTransform's bed-then-axis order.
func (c *Compensator) InverseTransform(x, y, z float64) (float64, float64, float64) {
	z -= c.zCorrection(x, y)
	x, y = c.InverseAxisTransform(x, y, z)
	return x, y, z
}

var _ = math.Abs // retained for future tolerance comparisons
