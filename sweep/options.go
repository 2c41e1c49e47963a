package sweep

import (
	"time"

	"github.com/nasa-jpl/cryosweep/cryostat"
	"github.com/nasa-jpl/cryosweep/recorder"
)

// Common holds the parameters shared by every sweep
type Common struct {
	// Title heads each file; the sweep description when empty
	Title string

	// Labels are appended to file names after the sweep labels
	Labels recorder.Labels
}

// TemperatureOptions parameterize a temperature sweep.  Rates are in K/min.
type TemperatureOptions struct {
	Common

	// Initial is moved to first when non-nil and not already close
	Initial *float64
	End     float64

	RateToEnd  float64
	RateToInit float64
	Approach   cryostat.TemperatureApproach

	Atol, Rtol float64

	// WaitBefore and WaitAfter are the settle delays once the cryostat
	// reports stable at the initial and final values
	WaitBefore time.Duration
	WaitAfter  time.Duration
}

// DefaultTemperatureOptions returns options for a sweep to end
func DefaultTemperatureOptions(end float64) TemperatureOptions {
	return TemperatureOptions{
		End:        end,
		RateToEnd:  3,
		RateToInit: 5,
		Approach:   cryostat.FastSettle,
		Atol:       0.05,
		Rtol:       1e-16,
		WaitBefore: time.Minute,
		WaitAfter:  time.Minute,
	}
}

// FieldOptions parameterize a field sweep.  Rates are in Oe/s.
type FieldOptions struct {
	Common

	Initial *float64
	End     float64

	RateToEnd  float64
	RateToInit float64
	Approach   cryostat.FieldApproach
	Mode       cryostat.FieldMode

	Atol, Rtol float64

	WaitBefore time.Duration
	WaitAfter  time.Duration
}

// DefaultFieldOptions returns options for a sweep to end
func DefaultFieldOptions(end float64) FieldOptions {
	return FieldOptions{
		End:        end,
		RateToEnd:  80,
		RateToInit: 80,
		Approach:   cryostat.Linear,
		Mode:       cryostat.Driven,
		Atol:       0.05,
		Rtol:       1e-16,
		WaitBefore: time.Minute,
		WaitAfter:  time.Minute,
	}
}

// PositionOptions parameterize a rotator sweep.  Speeds are in deg/s.
type PositionOptions struct {
	Common

	Initial *float64
	End     float64

	SpeedToEnd  float64
	SpeedToInit float64

	Atol, Rtol float64

	WaitBefore time.Duration
	WaitAfter  time.Duration
}

// DefaultPositionOptions returns options for a sweep to end
func DefaultPositionOptions(end float64) PositionOptions {
	return PositionOptions{
		End:         end,
		SpeedToEnd:  1,
		SpeedToInit: 1,
		Atol:        0.05,
		Rtol:        1e-16,
		WaitBefore:  time.Minute,
		WaitAfter:   time.Minute,
	}
}

// CurrentOptions parameterize a drive current sweep.  Rate is in A/s.
//
// A source that reports its limits (source.Resistive over an SR830) only
// produces currents on a grid, 2 mV over the series resistance for the
// SR830.  Atol is raised to that resolution, since a readback can not come
// closer, and End must lie within the limits.
type CurrentOptions struct {
	Common

	// Initial is set directly, without a ramp, when non-nil
	Initial *float64
	End     float64
	Rate    float64

	Atol, Rtol float64
}

// DefaultCurrentOptions returns options for a sweep to end
func DefaultCurrentOptions(end, rate float64) CurrentOptions {
	return CurrentOptions{
		End:  end,
		Rate: rate,
		Atol: 1e-12,
		Rtol: 1e-16,
	}
}

// TimeOptions parameterize a sweep over time
type TimeOptions struct {
	Common

	// Duration ends the sweep when positive; otherwise it runs until
	// cancelled
	Duration time.Duration
}

// Float returns a pointer to f, for the Initial fields
func Float(f float64) *float64 {
	return &f
}
