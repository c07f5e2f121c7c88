package endstop

import "klipper-go-migration/pkg/dda"

// BindDDA wires an endstop's trigger callback directly to a move
// descriptor's per-axis hit handling: when the endstop fires during
// homing, the descriptor's live end-point for axis is clamped to
// homedPosition (dda.Descriptor.EndstopHit), exactly as the real
// stepper ISR would do on the clock tick the trigger arrived on.
func BindDDA(e *Endstop, axis int, homedPosition float64, d *dda.Descriptor) {
	e.SetTriggerCallback(func(clock uint64) {
		d.EndstopHit(axis, homedPosition)
	})
}
