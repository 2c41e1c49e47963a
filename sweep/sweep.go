/*Package sweep drives one quantity of the rig (temperature, field, rotator
position or drive current) toward a target while recording a row per channel
on every tick.

Each sweep issues a single setpoint to the device, then polls until the
measured value is close to the target:

	|value - target| <= atol + rtol*|target|

There is no bound on the number of ticks; the loop ends on closeness, on the
first error, or when its context is cancelled.  Temperature, field and
position sweeps then wait for the cryostat to report stable.
*/
package sweep

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/nasa-jpl/cryosweep/cryostat"
	"github.com/nasa-jpl/cryosweep/mathx"
	"github.com/nasa-jpl/cryosweep/recorder"
	"github.com/nasa-jpl/cryosweep/source"
	"github.com/nasa-jpl/cryosweep/util"
	"github.com/pkg/errors"
)

// Defaults for a Sweeper's timing
const (
	DefaultInterval    = 270 * time.Millisecond
	DefaultSettlePause = 500 * time.Millisecond
)

var (
	// ErrNoRotator is returned by Position when the rig has no rotator
	ErrNoRotator = errors.New("no rotator configured")

	// ErrBadRate is returned for a non-positive ramp rate
	ErrBadRate = errors.New("rate must be positive")
)

// Progress is told when the sweeper starts and stops waiting on the cryostat
type Progress interface {
	Start(msg string)
	Stop(msg string)
}

// Sweeper runs sweeps against a cryostat, recording through a Recorder.
// Its zero timing fields take the defaults.
type Sweeper struct {
	Cryostat cryostat.Controller
	Recorder *recorder.Recorder

	// Interval is the sleep between ticks
	Interval time.Duration

	// SettlePause separates device commands from the following readback
	SettlePause time.Duration

	// WaitTimeout bounds each stabilization wait; zero waits forever
	WaitTimeout time.Duration

	// Rotator enables position readback and Position sweeps
	Rotator bool

	// Lock, when set, is held for the duration of each sweep
	Lock sync.Locker

	Progress Progress

	// Sleep defaults to util.Sleep
	Sleep func(context.Context, time.Duration) error
}

// New returns a Sweeper with the default timing
func New(c cryostat.Controller, rec *recorder.Recorder) *Sweeper {
	return &Sweeper{
		Cryostat:    c,
		Recorder:    rec,
		Interval:    DefaultInterval,
		SettlePause: DefaultSettlePause,
	}
}

func (s *Sweeper) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	if s.Sleep != nil {
		return s.Sleep(ctx, d)
	}
	return util.Sleep(ctx, d)
}

func (s *Sweeper) interval() time.Duration {
	if s.Interval <= 0 {
		return DefaultInterval
	}
	return s.Interval
}

func (s *Sweeper) pause(ctx context.Context) error {
	return s.sleep(ctx, s.SettlePause)
}

func (s *Sweeper) begin() func() {
	if s.Lock == nil {
		return func() {}
	}
	s.Lock.Lock()
	return s.Lock.Unlock
}

// Conditions polls the cryostat.  Position is NaN without a rotator.
func (s *Sweeper) Conditions() (recorder.Conditions, error) {
	c := recorder.Conditions{Time: s.Recorder.Now(), Position: math.NaN()}
	var err error
	if c.Temperature, _, err = s.Cryostat.Temperature(); err != nil {
		return c, errors.Wrap(err, "reading temperature")
	}
	if c.Field, _, err = s.Cryostat.Field(); err != nil {
		return c, errors.Wrap(err, "reading field")
	}
	if s.Rotator {
		if c.Position, _, err = s.Cryostat.Position(); err != nil {
			return c, errors.Wrap(err, "reading position")
		}
	}
	return c, nil
}

// record polls the cryostat and writes one row
func (s *Sweeper) record(ctx context.Context) (recorder.Point, error) {
	if err := ctx.Err(); err != nil {
		return recorder.Point{}, err
	}
	c, err := s.Conditions()
	if err != nil {
		return recorder.Point{}, err
	}
	p, err := s.Recorder.Record(c)
	return p, errors.Wrap(err, "recording point")
}

func (s *Sweeper) wait(ctx context.Context, which cryostat.Subsystem, delay time.Duration) error {
	if s.Progress != nil {
		s.Progress.Start(fmt.Sprintf("waiting for %s to stabilize", which))
	}
	err := s.Cryostat.WaitFor(ctx, which, delay, s.WaitTimeout)
	if s.Progress != nil {
		msg := fmt.Sprintf("%s has stabilized", which)
		if err != nil {
			msg = fmt.Sprintf("%s did not stabilize: %v", which, err)
		}
		s.Progress.Stop(msg)
	}
	return errors.Wrapf(err, "waiting for %s", which)
}

// sweepLabels reads the non-swept conditions into file name labels
func (s *Sweeper) sweepLabels(ctx context.Context, kind string, extra recorder.Labels) (recorder.Labels, error) {
	if kind == "" {
		return extra, nil
	}
	l := recorder.Labels{{Name: "sweep", Value: kind}}
	withField := kind == "Temp" || kind == "Pos" || kind == "Current"
	withTemp := kind == "Field" || kind == "Pos" || kind == "Current"
	if withField {
		h, _, err := s.Cryostat.Field()
		if err != nil {
			return nil, errors.Wrap(err, "reading field")
		}
		l = append(l, recorder.Label{Name: "H=", Value: fmt.Sprintf("%.2fT", h/1e4)})
		if err = s.pause(ctx); err != nil {
			return nil, err
		}
	}
	if withTemp {
		t, _, err := s.Cryostat.Temperature()
		if err != nil {
			return nil, errors.Wrap(err, "reading temperature")
		}
		l = append(l, recorder.Label{Name: "T=", Value: fmt.Sprintf("%.1fK", t)})
		if err = s.pause(ctx); err != nil {
			return nil, err
		}
	}
	return append(l, extra...), nil
}

func (s *Sweeper) createFiles(ctx context.Context, kind, description string, c Common) error {
	title := c.Title
	if title == "" {
		title = description
	}
	labels, err := s.sweepLabels(ctx, kind, c.Labels)
	if err != nil {
		return err
	}
	paths, err := s.Recorder.CreateFiles(title, labels)
	if err != nil {
		return errors.Wrap(err, "creating output files")
	}
	for _, p := range paths {
		log.Printf("writing %s", p)
	}
	return nil
}

// axis is one cryostat quantity a sweep can drive
type axis struct {
	name   string // lower case, for messages
	kind   string // file name label
	format string
	which  cryostat.Subsystem
	read   func() (float64, error)
	pick   func(recorder.Conditions) float64
	set    func(target float64, toInit bool) error
}

func (a axis) show(v float64) string { return fmt.Sprintf(a.format, v) }

type ramp struct {
	initial    *float64
	end        float64
	atol, rtol float64
	waitBefore time.Duration
	waitAfter  time.Duration
	common     Common
}

// run moves ax to the initial value if needed, then sweeps to the end
func (s *Sweeper) run(ctx context.Context, ax axis, r ramp) error {
	defer s.begin()()
	if err := s.pause(ctx); err != nil {
		return err
	}
	now, err := ax.read()
	if err != nil {
		return errors.Wrapf(err, "reading %s", ax.name)
	}
	if err = s.pause(ctx); err != nil {
		return err
	}

	initial := now
	if r.initial != nil {
		initial = *r.initial
		if !mathx.IsClose(now, initial, r.atol, r.rtol) {
			log.Printf("Start changing the %s to the initial value %s (current: %s)", ax.name, ax.show(initial), ax.show(now))
			if err = ax.set(initial, true); err != nil {
				return errors.Wrapf(err, "setting initial %s", ax.name)
			}
			if err = s.pause(ctx); err != nil {
				return err
			}
			if err = s.wait(ctx, ax.which, r.waitBefore); err != nil {
				return err
			}
			if err = s.pause(ctx); err != nil {
				return err
			}
			log.Printf("Initial %s has been reached", ax.name)
		}
	}

	description := fmt.Sprintf("%s sweep from %s to %s", ax.name, ax.show(initial), ax.show(r.end))
	log.Printf("Start %s", description)
	if err = s.createFiles(ctx, ax.kind, description, r.common); err != nil {
		return err
	}
	if err = ax.set(r.end, false); err != nil {
		return errors.Wrapf(err, "setting %s", ax.name)
	}
	if err = s.pause(ctx); err != nil {
		return err
	}
	if now, err = ax.read(); err != nil {
		return errors.Wrapf(err, "reading %s", ax.name)
	}
	for !mathx.IsClose(now, r.end, r.atol, r.rtol) {
		p, err := s.record(ctx)
		if err != nil {
			return errors.Wrap(err, description)
		}
		now = ax.pick(p.Conditions)
		if err = s.sleep(ctx, s.interval()); err != nil {
			return err
		}
	}
	log.Printf("Finish %s, waiting for %s to stabilize", description, ax.name)
	if err = s.pause(ctx); err != nil {
		return err
	}
	if err = s.wait(ctx, ax.which, r.waitAfter); err != nil {
		return err
	}
	log.Printf("%s has stabilized", ax.name)
	return s.pause(ctx)
}

// Temperature sweeps the sample temperature
func (s *Sweeper) Temperature(ctx context.Context, o TemperatureOptions) error {
	if err := cryostat.CheckTemperature(o.End, o.RateToEnd); err != nil {
		return err
	}
	ax := axis{
		name:   "temperature",
		kind:   "Temp",
		format: "%.1f K",
		which:  cryostat.Temperature,
		read: func() (float64, error) {
			t, _, err := s.Cryostat.Temperature()
			return t, err
		},
		pick: func(c recorder.Conditions) float64 { return c.Temperature },
		set: func(t float64, toInit bool) error {
			rate := o.RateToEnd
			if toInit {
				rate = o.RateToInit
			}
			return s.Cryostat.SetTemperature(t, rate, o.Approach)
		},
	}
	return s.run(ctx, ax, ramp{o.Initial, o.End, o.Atol, o.Rtol, o.WaitBefore, o.WaitAfter, o.Common})
}

// Field sweeps the magnetic field
func (s *Sweeper) Field(ctx context.Context, o FieldOptions) error {
	if err := cryostat.CheckField(o.End, o.RateToEnd); err != nil {
		return err
	}
	ax := axis{
		name:   "field",
		kind:   "Field",
		format: "%.0f Oe",
		which:  cryostat.Field,
		read: func() (float64, error) {
			h, _, err := s.Cryostat.Field()
			return h, err
		},
		pick: func(c recorder.Conditions) float64 { return c.Field },
		set: func(h float64, toInit bool) error {
			rate := o.RateToEnd
			if toInit {
				rate = o.RateToInit
			}
			return s.Cryostat.SetField(h, rate, o.Approach, o.Mode)
		},
	}
	return s.run(ctx, ax, ramp{o.Initial, o.End, o.Atol, o.Rtol, o.WaitBefore, o.WaitAfter, o.Common})
}

// Position sweeps the rotator
func (s *Sweeper) Position(ctx context.Context, o PositionOptions) error {
	if !s.Rotator {
		return ErrNoRotator
	}
	if err := cryostat.CheckPosition(o.End, o.SpeedToEnd); err != nil {
		return err
	}
	ax := axis{
		name:   "position",
		kind:   "Pos",
		format: "%.1f deg",
		which:  cryostat.Position,
		read: func() (float64, error) {
			p, _, err := s.Cryostat.Position()
			return p, err
		},
		pick: func(c recorder.Conditions) float64 { return c.Position },
		set: func(deg float64, toInit bool) error {
			speed := o.SpeedToEnd
			if toInit {
				speed = o.SpeedToInit
			}
			return s.Cryostat.SetPosition(deg, speed)
		},
	}
	return s.run(ctx, ax, ramp{o.Initial, o.End, o.Atol, o.Rtol, o.WaitBefore, o.WaitAfter, o.Common})
}

// limiter is a current source with a settable range
type limiter interface {
	Limits() (lo, hi, step float64, ok bool)
}

// Current sweeps the drive current.  The source has no ramp of its own, so
// each tick moves the setpoint toward End by at most Rate times the time
// since the previous tick.
func (s *Sweeper) Current(ctx context.Context, o CurrentOptions) error {
	if !(o.Rate > 0) {
		return errors.Wrapf(ErrBadRate, "current rate %g A/s", o.Rate)
	}
	defer s.begin()()
	src := s.Recorder.Source()
	if o.Initial != nil {
		if err := src.SetCurrent(*o.Initial); err != nil {
			return errors.Wrap(err, "setting initial current")
		}
		if err := s.pause(ctx); err != nil {
			return err
		}
	}
	atol, lo, hi := o.Atol, math.Inf(-1), math.Inf(1)
	if l, ok := src.(limiter); ok {
		var step float64
		if lo, hi, step, ok = l.Limits(); ok {
			if o.End < lo || o.End > hi {
				return errors.Wrapf(source.ErrOutOfRange, "%g A not in [%g, %g]", o.End, lo, hi)
			}
			if step > atol {
				atol = step
			}
		} else {
			lo, hi = math.Inf(-1), math.Inf(1)
		}
	}
	cur, err := src.Current()
	if err != nil {
		return errors.Wrap(err, "reading current")
	}
	description := fmt.Sprintf("current sweep from %g A to %g A", cur, o.End)
	log.Printf("Start %s", description)
	if err = s.createFiles(ctx, "Current", description, o.Common); err != nil {
		return err
	}

	last := s.Recorder.Now()
	for !mathx.IsClose(cur, o.End, atol, o.Rtol) {
		now := s.Recorder.Now()
		next := util.Clamp(mathx.StepToward(cur, o.End, o.Rate*now.Sub(last).Seconds()), lo, hi)
		if err = src.SetCurrent(next); err != nil {
			return errors.Wrapf(err, "%s: setting %g A", description, next)
		}
		p, err := s.record(ctx)
		if err != nil {
			return errors.Wrap(err, description)
		}
		// steps finer than the source resolution accumulate until it moves
		if p.Current != cur {
			last = now
		}
		cur = p.Current
		if err = s.sleep(ctx, s.interval()); err != nil {
			return err
		}
	}
	log.Printf("Finish %s", description)
	return nil
}

// Time records until the context is cancelled or o.Duration elapses.
// Cancellation is a normal end and returns nil.
func (s *Sweeper) Time(ctx context.Context, o TimeOptions) error {
	defer s.begin()()
	const description = "sweep over time"
	log.Printf("Start %s", description)
	defer log.Printf("Finish %s", description)
	if err := s.createFiles(ctx, "Time", description, o.Common); err != nil {
		return err
	}
	start := s.Recorder.Now()
	for o.Duration <= 0 || s.Recorder.Now().Sub(start) < o.Duration {
		_, err := s.record(ctx)
		if err == nil {
			err = s.sleep(ctx, s.interval())
		}
		if err != nil {
			if ctx.Err() != nil {
				log.Println("Terminated by user")
				return nil
			}
			return errors.Wrap(err, description)
		}
	}
	return nil
}

// Points records n rows into a fresh set of files
func (s *Sweeper) Points(ctx context.Context, n int, c Common) error {
	defer s.begin()()
	description := fmt.Sprintf("%d point measurement", n)
	if err := s.createFiles(ctx, "", description, c); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if _, err := s.record(ctx); err != nil {
			return errors.Wrap(err, description)
		}
		if err := s.sleep(ctx, s.interval()); err != nil {
			return err
		}
	}
	return nil
}

// Point records one row into the files of the previous sweep
func (s *Sweeper) Point(ctx context.Context) (recorder.Point, error) {
	defer s.begin()()
	p, err := s.record(ctx)
	if err != nil {
		return p, err
	}
	return p, s.sleep(ctx, s.interval())
}
