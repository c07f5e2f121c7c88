//go:build linux

package platform

import "golang.org/x/sys/unix"

// monotonicNow reads CLOCK_MONOTONIC directly, matching the MCU host
// clock source pkg/clocksync assumes when estimating MCU frequency.
func monotonicNow() float64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return float64(ts.Sec) + float64(ts.Nsec)/1e9
}
