// Package mathx provides small numeric helpers missing from package math
package mathx

import "math"

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
func Round(x, unit float64) float64 {
	return math.Round(x/unit) * unit
}

// IsClose reports whether a is within atol + rtol*|b| of b.
// It is not symmetric in a and b; b is the reference value.
func IsClose(a, b, atol, rtol float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return false
	}
	if a == b {
		return true
	}
	return math.Abs(a-b) <= atol+rtol*math.Abs(b)
}

// StepToward moves from toward to by at most step, never overshooting
func StepToward(from, to, step float64) float64 {
	step = math.Abs(step)
	if math.Abs(to-from) <= step {
		return to
	}
	if to > from {
		return from + step
	}
	return from - step
}
