// cmd/motion-sim is a runnable harness for the motion core: it loads a
// geometry config, drives a simulated platform's ring through periodic
// Spin passes, and exposes the live ring/position state over a debug
// websocket so it can be watched from a browser while developing or
// demoing kinematics/calibration changes without real hardware.
package main

import (
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"klipper-go-migration/pkg/config"
	"klipper-go-migration/pkg/kinematics"
	"klipper-go-migration/pkg/logging"
	"klipper-go-migration/pkg/metrics"
	"klipper-go-migration/pkg/platform"
	"klipper-go-migration/pkg/ring"
)

// Harness wires a simulated platform, a move ring, and a kinematics
// transform together into one runnable unit, and tracks the toolhead's
// commanded position between Spin passes.
type Harness struct {
	log        *logging.Logger
	ring       *ring.Ring
	platform   *platform.Simulated
	kinematics kinematics.Kinematics
	registry   *metrics.Registry
	series     *metrics.MotionSeries

	limits [3][2]float64

	mu       sync.Mutex
	position [4]float64

	upgrader websocket.Upgrader
}

// defaultStepsPerUnit is used for every drive until a richer per-stepper
// config section (step_distance/microsteps) is wired in; motion planning
// only needs a platform that answers StepsPerUnit, not a specific value.
const defaultStepsPerUnit = 80.0

// NewHarness builds a Harness from a loaded geometry config. numDrives
// is the number of axes/extruders the ring must track (3 linear axes
// plus however many extruders the caller wants to simulate).
func NewHarness(geom *config.GeometryConfig, numDrives int) *Harness {
	stepsPerUnit := make([]float64, numDrives)
	for i := range stepsPerUnit {
		stepsPerUnit[i] = defaultStepsPerUnit
	}

	var limits [3]platform.AxisLimits
	var kinLimits [3][2]float64
	for i, rail := range geom.Rails {
		limits[i] = platform.AxisLimits{Min: rail.PositionMin, Max: rail.PositionMax}
		kinLimits[i] = [2]float64{rail.PositionMin, rail.PositionMax}
	}

	var kin kinematics.Kinematics
	if geom.Kind == kinematics.GeometryDelta {
		kin = kinematics.New(geom.Kind, geom.BuildDeltaParameters(), geom.MaxZVelocity)
	} else {
		kin = kinematics.New(geom.Kind, nil, geom.MaxZVelocity)
	}

	r := ring.New(ring.DefaultLength, numDrives, geom.MaxAccelToDecel, geom.MaxVelocity, stepClockRate, idleTimeoutSecs)
	reg := metrics.NewRegistry()
	series := metrics.NewMotionSeries(reg)
	r.SetMetrics(series)

	h := &Harness{
		log:        logging.For("motion-sim"),
		ring:       r,
		platform:   platform.NewSimulated(stepsPerUnit, limits),
		kinematics: kin,
		registry:   reg,
		series:     series,
		limits:     kinLimits,
		upgrader:   websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
	return h
}

const (
	// stepClockRate mirrors the simulated step-clock period used in the
	// ring's own tests: a look-ahead horizon derived from it bounds how
	// far prepareAhead() will run before a move is frozen.
	stepClockRate   = 0.000015
	idleTimeoutSecs = 30.0
)

// Enqueue validates target's three linear axes against the configured
// kinematics (travel limits, Z-speed derating) before admitting a
// pending move into the ring at the current simulated time. Returns
// false (not an error) if the ring itself has no free slot.
func (h *Harness) Enqueue(target []float64, feedRate, accel float64) (bool, error) {
	prev := h.Position()
	var mv kinematics.Move
	for i := 0; i < 3 && i < len(target); i++ {
		mv.EndPos[i] = target[i]
		mv.AxesD[i] = target[i] - prev[i]
	}
	mv.MoveLength = math.Sqrt(mv.AxesD[0]*mv.AxesD[0] + mv.AxesD[1]*mv.AxesD[1] + mv.AxesD[2]*mv.AxesD[2])
	mv.MaxCruiseV = feedRate

	if err := h.kinematics.CheckMove(&mv, h.limits); err != nil {
		return false, err
	}

	return h.ring.TryAdmit(ring.PendingMove{Target: target, FeedRate: mv.MaxCruiseV, Accel: accel})
}

// Tick advances the simulated clock by dt seconds and runs one Spin
// pass, updating the tracked commanded position from the ring's current
// descriptor when one is executing.
func (h *Harness) Tick(dt float64) error {
	h.platform.Advance(dt)
	_, err := h.ring.Spin(h.platform.Now(), nil, h.platform)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	idx := h.ring.GetIndex()
	d := h.ring.At(idx)
	if d != nil {
		for i, v := range d.EndPos {
			if i < len(h.position) {
				h.position[i] = v
			}
		}
	}
	return nil
}

// Position returns a copy of the last-known commanded position.
func (h *Harness) Position() [4]float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.position
}

// stateFrame is the JSON payload streamed to debug websocket clients.
type stateFrame struct {
	Time     float64   `json:"time"`
	AddIndex int32     `json:"add_index"`
	GetIndex int32     `json:"get_index"`
	Position [4]float64 `json:"position"`
	RingDepth float64  `json:"ring_depth"`
}

func (h *Harness) frame() stateFrame {
	return stateFrame{
		Time:      h.platform.Now(),
		AddIndex:  h.ring.AddIndex(),
		GetIndex:  h.ring.GetIndex(),
		Position:  h.Position(),
		RingDepth: h.series.RingDepth.Get(nil),
	}
}

// ServeDebugWS upgrades the request to a websocket and streams a
// stateFrame every interval until the client disconnects.
func (h *Harness) ServeDebugWS(interval time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			if err := conn.WriteJSON(h.frame()); err != nil {
				h.log.Debug("websocket client disconnected", "error", err)
				return
			}
		}
	}
}

// MetricsServer returns a metrics.MetricsServer serving /metrics, /health
// and /ready for the harness's registry; its Mux() can be mounted on a
// shared server.
func (h *Harness) MetricsServer() *metrics.MetricsServer {
	return metrics.NewMetricsServer(h.registry, "")
}
