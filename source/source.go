// Package source provides the drive current for four-terminal measurements.
//
// The usual rig has no current source: the lock-in sine output drives the
// sample through a large series resistor, so the current is the output
// voltage divided by that resistance.
package source

import (
	"math"

	"github.com/pkg/errors"
)

var (
	// ErrBadResistance is returned when a source resistance is not positive
	ErrBadResistance = errors.New("source resistance must be positive")

	// ErrNotSettable is returned when setting the current of a read-only source
	ErrNotSettable = errors.New("current source can not be set")

	// ErrOutOfRange is returned for a current the source can not produce
	ErrOutOfRange = errors.New("current out of range")
)

// VoltageSource is an instrument with a settable output voltage
type VoltageSource interface {
	SineVoltage() (float64, error)
	SetSineVoltage(float64) error
}

// Ranger is a voltage source with a limited and quantized output
type Ranger interface {
	SineVoltageRange() (lo, hi, step float64)
}

// CurrentSource provides the drive current
type CurrentSource interface {
	// Current returns the drive current in A
	Current() (float64, error)

	// SetCurrent changes the drive current
	SetCurrent(amps float64) error

	// Resistance returns the series resistance, if there is one
	Resistance() (float64, bool)
}

// Resistive is a voltage source in series with a fixed resistance
type Resistive struct {
	src VoltageSource
	r   float64
}

// NewResistive returns a Resistive source.  r must be positive and finite.
func NewResistive(src VoltageSource, r float64) (*Resistive, error) {
	if !(r > 0) || math.IsInf(r, 0) {
		return nil, errors.Wrapf(ErrBadResistance, "got %g Ohm", r)
	}
	return &Resistive{src: src, r: r}, nil
}

// Current is the source voltage divided by the resistance
func (s *Resistive) Current() (float64, error) {
	v, err := s.src.SineVoltage()
	if err != nil {
		return 0, errors.Wrap(err, "reading source voltage")
	}
	return v / s.r, nil
}

// SetCurrent sets the source voltage to amps times the resistance
func (s *Resistive) SetCurrent(amps float64) error {
	return errors.Wrap(s.src.SetSineVoltage(amps*s.r), "setting source voltage")
}

// Resistance returns the series resistance
func (s *Resistive) Resistance() (float64, bool) {
	return s.r, true
}

// Limits returns the settable current range and its resolution in A.  ok is
// false when the voltage source does not report its range.
func (s *Resistive) Limits() (lo, hi, step float64, ok bool) {
	rg, ok := s.src.(Ranger)
	if !ok {
		return 0, 0, 0, false
	}
	lo, hi, step = rg.SineVoltageRange()
	return lo / s.r, hi / s.r, step / s.r, true
}

// Direct reads the current from a function, such as a meter or a fixed value
type Direct func() (float64, error)

// Fixed returns a Direct source which always reports amps
func Fixed(amps float64) Direct {
	return func() (float64, error) { return amps, nil }
}

// Current calls d
func (d Direct) Current() (float64, error) {
	return d()
}

// SetCurrent always fails
func (d Direct) SetCurrent(float64) error {
	return ErrNotSettable
}

// Resistance is unknown for a Direct source
func (d Direct) Resistance() (float64, bool) {
	return 0, false
}
