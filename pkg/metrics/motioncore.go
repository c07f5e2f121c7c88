package metrics

// MotionSeries is the narrow set of series the motion core exports: ring
// occupancy/look-ahead depth, how far preparation is running ahead of
// execution, the dda package's step-repetition back-pressure counter, and
// the RMS residual of the last delta calibration pass. The teacher's
// HTTP/exporter surface (server.go) is not wired here — see DESIGN.md.
type MotionSeries struct {
	RingDepth          *Gauge
	PreparedAheadSecs  *Gauge
	MaxRepsHits        *Counter
	CalibrationResidual *Gauge
}

// NewMotionSeries registers the motion-core series on reg and returns
// handles to each for the ring/dda/deltacal packages to update directly.
func NewMotionSeries(reg *Registry) *MotionSeries {
	s := &MotionSeries{
		RingDepth:           NewGauge("motion_ring_depth", "number of occupied slots in the move ring"),
		PreparedAheadSecs:   NewGauge("motion_prepared_ahead_seconds", "cumulative duration of moves prepared ahead of the executing one"),
		MaxRepsHits:         NewCounter("motion_max_reps_hits_total", "times a DDA's step back-pressure limit forced a re-arm"),
		CalibrationResidual: NewGauge("motion_calibration_rms_residual_mm", "RMS residual of the most recent delta calibration pass"),
	}
	reg.MustRegister(s.RingDepth)
	reg.MustRegister(s.PreparedAheadSecs)
	reg.MustRegister(s.MaxRepsHits)
	reg.MustRegister(s.CalibrationResidual)
	return s
}
