package control

import "math"

// DetermineTargetAmperage maps a predicted solar excess in watts onto the
// charger's discrete amperage ladder. Pure function, no side effects.
//
// The half-amp slack below the lowest step keeps float rounding just under
// the minimum from discarding a usable excess.
func DetermineTargetAmperage(predictedExcessW float64, allowedAmps []int, voltage float64) int {
	if predictedExcessW <= 0 || len(allowedAmps) == 0 {
		return 0
	}

	min, max := allowedAmps[0], allowedAmps[0]
	for _, amps := range allowedAmps[1:] {
		if amps < min {
			min = amps
		}
		if amps > max {
			max = amps
		}
	}

	ideal := math.Max(predictedExcessW/voltage, float64(min)-0.5)

	// Round up to the nearest allowed step; saturate at the top of the
	// ladder when the excess exceeds every step.
	best := 0
	for _, amps := range allowedAmps {
		if float64(amps) >= ideal && (best == 0 || amps < best) {
			best = amps
		}
	}
	if best == 0 {
		return max
	}
	return best
}
