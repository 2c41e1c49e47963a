/*Package cryostat controls the sample environment of a Quantum Design
DynaCool/PPMS class cryostat: temperature, magnetic field and the horizontal
rotator.

Two Controllers are provided.  Client speaks a line protocol to a MultiVu
bridge server over TCP or RS-232.  Sim ramps linearly at the commanded rates
against an injectable clock, and is used for dry runs and tests.  Serve
exposes any Controller with the same protocol, so a Sim can stand in for the
bridge.

The protocol is one command per line, terminated by '\n'.  Every command is
answered with exactly one line:

	TEMP?                         -> <kelvin>,<status code>
	FIELD?                        -> <oersted>,<status code>
	POS?                          -> <degrees>,<status code>
	CHAMBER?                      -> <status code>
	TEMP <K>,<K/min>,<approach>   -> OK
	FIELD <Oe>,<Oe/s>,<approach>,<mode> -> OK
	POS <deg>,<deg/s>             -> OK

Approach and mode are the integer codes of TemperatureApproach, FieldApproach
and FieldMode.  A command that fails is answered with "ERR <message>".
*/
package cryostat

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/nasa-jpl/cryosweep/util"
	"github.com/pkg/errors"
)

// Limits enforced before any setpoint is sent
const (
	MinTemperature     = 1.8    // K
	MaxTemperature     = 400.   // K
	MaxTemperatureRate = 20.    // K/min
	MaxField           = 140000 // Oe
	MaxFieldRate       = 150.   // Oe/s

	// DefaultPoll is how often WaitFor checks status
	DefaultPoll = time.Second
)

var (
	// ErrOutOfRange is returned when a setpoint or rate is outside the
	// cryostat's limits
	ErrOutOfRange = errors.New("setpoint out of range")

	// ErrWaitTimeout is returned by WaitFor when the subsystems do not become
	// stable within the timeout
	ErrWaitTimeout = errors.New("timed out waiting for stability")
)

// Controller is a cryostat
type Controller interface {
	// Temperature returns the sample temperature in K
	Temperature() (float64, TemperatureStatus, error)

	// Field returns the magnetic field in Oe
	Field() (float64, FieldStatus, error)

	// Position returns the rotator position in degrees
	Position() (float64, PositionStatus, error)

	Chamber() (ChamberStatus, error)

	// SetTemperature ramps to t (K) at rate (K/min)
	SetTemperature(t, rate float64, approach TemperatureApproach) error

	// SetField ramps to h (Oe) at rate (Oe/s)
	SetField(h, rate float64, approach FieldApproach, mode FieldMode) error

	// SetPosition moves the rotator to deg at speed (deg/s)
	SetPosition(deg, speed float64) error

	// WaitFor blocks until every subsystem in which reports stable, then
	// sleeps for delay.  A timeout of zero waits forever.
	WaitFor(ctx context.Context, which Subsystem, delay, timeout time.Duration) error

	Close() error
}

// CheckTemperature validates a temperature setpoint and ramp rate
func CheckTemperature(t, rate float64) error {
	if t < MinTemperature || t > MaxTemperature || math.IsNaN(t) {
		return errors.Wrapf(ErrOutOfRange, "temperature %g K not in [%g, %g]", t, MinTemperature, MaxTemperature)
	}
	if !(rate > 0 && rate <= MaxTemperatureRate) {
		return errors.Wrapf(ErrOutOfRange, "temperature rate %g K/min not in (0, %g]", rate, MaxTemperatureRate)
	}
	return nil
}

// CheckField validates a field setpoint and ramp rate
func CheckField(h, rate float64) error {
	if math.Abs(h) > MaxField || math.IsNaN(h) {
		return errors.Wrapf(ErrOutOfRange, "field %g Oe exceeds %d", h, MaxField)
	}
	if !(rate > 0 && rate <= MaxFieldRate) {
		return errors.Wrapf(ErrOutOfRange, "field rate %g Oe/s not in (0, %g]", rate, MaxFieldRate)
	}
	return nil
}

// CheckPosition validates a rotator speed
func CheckPosition(deg, speed float64) error {
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return errors.Wrapf(ErrOutOfRange, "position %g", deg)
	}
	if !(speed > 0) {
		return errors.Wrapf(ErrOutOfRange, "rotator speed %g deg/s must be positive", speed)
	}
	return nil
}

// stable reports whether every subsystem in which is stable
func stable(c Controller, which Subsystem) (bool, error) {
	ok := true
	if which&Temperature != 0 {
		_, s, err := c.Temperature()
		if err != nil {
			return false, err
		}
		ok = ok && s.Stable()
	}
	if which&Field != 0 {
		_, s, err := c.Field()
		if err != nil {
			return false, err
		}
		ok = ok && s.Stable()
	}
	if which&Position != 0 {
		_, s, err := c.Position()
		if err != nil {
			return false, err
		}
		ok = ok && s.Stable()
	}
	return ok, nil
}

type clock struct {
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

var realClock = clock{now: time.Now, sleep: util.Sleep}

// waitStable polls c every poll until which is stable
func waitStable(ctx context.Context, c Controller, clk clock, which Subsystem, delay, timeout, poll time.Duration) error {
	if which == 0 || which&^All != 0 {
		return errors.Wrapf(ErrUnknownSubsystem, "bitmask %#x", uint8(which))
	}
	start := clk.now()
	for {
		ok, err := stable(c, which)
		if err != nil {
			return errors.Wrapf(err, "waiting for %s", which)
		}
		if ok {
			break
		}
		if timeout > 0 && clk.now().Sub(start) >= timeout {
			return errors.Wrapf(ErrWaitTimeout, "%s after %s", which, timeout)
		}
		if err = clk.sleep(ctx, poll); err != nil {
			return err
		}
	}
	if delay > 0 {
		return clk.sleep(ctx, delay)
	}
	return ctx.Err()
}

// Status renders the state of every subsystem as a small table.
// Subsystems that can not be read are shown as unavailable.
func Status(c Controller) string {
	var b strings.Builder
	b.WriteString("Cryostat status:\n")
	b.WriteString(strings.Repeat("-", 44) + "\n")
	if t, s, err := c.Temperature(); err == nil {
		fmt.Fprintf(&b, "%-12s %12.2f %-3s  %s\n", "Temperature", t, "K", s)
	} else {
		fmt.Fprintf(&b, "%-12s unavailable: %v\n", "Temperature", err)
	}
	if h, s, err := c.Field(); err == nil {
		fmt.Fprintf(&b, "%-12s %12.2f %-3s  %s\n", "Field", h, "Oe", s)
	} else {
		fmt.Fprintf(&b, "%-12s unavailable: %v\n", "Field", err)
	}
	if p, s, err := c.Position(); err == nil {
		fmt.Fprintf(&b, "%-12s %12.2f %-3s  %s\n", "Position", p, "deg", s)
	} else {
		fmt.Fprintf(&b, "%-12s unavailable: %v\n", "Position", err)
	}
	if ch, err := c.Chamber(); err == nil {
		fmt.Fprintf(&b, "%-12s %s\n", "Chamber", ch)
	} else {
		fmt.Fprintf(&b, "%-12s unavailable: %v\n", "Chamber", err)
	}
	return b.String()
}
