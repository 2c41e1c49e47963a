// Package channel holds the measurement channels of a rig: one lock-in
// reading the voltage across one pair of sample contacts
package channel

import (
	"fmt"
	"math"
	"time"

	"github.com/nasa-jpl/cryosweep/lockin"
	"github.com/pkg/errors"
)

// Instrument measures the in-phase and quadrature voltage of a channel
type Instrument interface {
	Snap() (x, y float64, err error)
	Config() ([]lockin.Setting, error)
}

// Output receives the values of one row and appends it
type Output interface {
	SetValue(column string, v float64) error
	WriteData(ts time.Time) error
}

// Channel is one named measurement.  Its identity is fixed when it is
// registered; only its output changes, once per set of files.
type Channel struct {
	Instrument Instrument
	Label      string
	Contacts   string

	out Output
}

// Reading is one measurement of a channel
type Reading struct {
	X, Y float64 // V
	R    float64 // Ohm, NaN if the current is zero
}

// FullName is the label followed by the contacts, such as "xx23"
func (c *Channel) FullName() string {
	return c.Label + c.Contacts
}

// XColumn is the name of the in-phase voltage column
func (c *Channel) XColumn() string { return fmt.Sprintf("X_%s (V)", c.FullName()) }

// YColumn is the name of the quadrature voltage column
func (c *Channel) YColumn() string { return fmt.Sprintf("Y_%s (V)", c.FullName()) }

// RColumn is the name of the resistance column
func (c *Channel) RColumn() string { return fmt.Sprintf("Resistance_%s (Ohms)", c.FullName()) }

// Columns returns the X, Y and resistance column names
func (c *Channel) Columns() []string {
	return []string{c.XColumn(), c.YColumn(), c.RColumn()}
}

// Attach sets the output the channel's rows are written to
func (c *Channel) Attach(out Output) {
	c.out = out
}

// Output returns the attached output, nil if none
func (c *Channel) Output() Output {
	return c.out
}

// Read snaps the instrument and derives the resistance from the drive
// current in A
func (c *Channel) Read(current float64) (Reading, error) {
	x, y, err := c.Instrument.Snap()
	if err != nil {
		return Reading{}, errors.Wrapf(err, "channel %s", c.FullName())
	}
	return Reading{X: x, Y: y, R: Resistance(x, current)}, nil
}

// Resistance is signal over current, NaN when current is zero
func Resistance(signal, current float64) float64 {
	if current == 0 {
		return math.NaN()
	}
	return signal / current
}

// Set stores the reading in the channel's columns of its output
func (c *Channel) Set(r Reading) error {
	if c.out == nil {
		return errors.Errorf("channel %s has no output", c.FullName())
	}
	if err := c.out.SetValue(c.XColumn(), r.X); err != nil {
		return err
	}
	if err := c.out.SetValue(c.YColumn(), r.Y); err != nil {
		return err
	}
	return c.out.SetValue(c.RColumn(), r.R)
}

// Registry is the ordered list of channels of a rig
type Registry struct {
	channels []*Channel
}

// Add registers a channel.  The instrument is snapped once to check it
// answers with a pair of numbers.
func (r *Registry) Add(inst Instrument, label, contacts string) (*Channel, error) {
	if inst == nil {
		return nil, errors.Errorf("channel %s%s: nil instrument", label, contacts)
	}
	if _, _, err := inst.Snap(); err != nil {
		return nil, errors.Wrapf(err, "channel %s%s: instrument did not snap", label, contacts)
	}
	for _, c := range r.channels {
		if c.Label == label && c.Contacts == contacts {
			return nil, errors.Errorf("channel %s%s registered twice", label, contacts)
		}
	}
	ch := &Channel{Instrument: inst, Label: label, Contacts: contacts}
	r.channels = append(r.channels, ch)
	return ch, nil
}

// AddMany registers instruments[i] as labels[i], contacts[i].  The slices
// must be the same length.
func (r *Registry) AddMany(instruments []Instrument, labels, contacts []string) error {
	if len(instruments) != len(labels) || len(labels) != len(contacts) {
		return errors.Errorf("got %d instruments, %d labels and %d contact pairs", len(instruments), len(labels), len(contacts))
	}
	for i := range instruments {
		if _, err := r.Add(instruments[i], labels[i], contacts[i]); err != nil {
			return err
		}
	}
	return nil
}

// Channels returns the registered channels in order
func (r *Registry) Channels() []*Channel {
	return r.channels
}

// Len is the number of channels
func (r *Registry) Len() int {
	return len(r.channels)
}
