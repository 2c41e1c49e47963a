package cryostat

import (
	"context"
	"math"
	"sync"
	"time"
)

// ramp is a linear move from start toward target at rate per second
type ramp struct {
	start, target float64
	rate          float64 // units per second, positive
	t0            time.Time
}

func (r ramp) at(t time.Time) float64 {
	dt := t.Sub(r.t0).Seconds()
	span := r.target - r.start
	step := r.rate * dt
	if step >= math.Abs(span) || r.rate == 0 {
		return r.target
	}
	return r.start + math.Copysign(step, span)
}

func (r ramp) done(t time.Time) bool {
	return r.at(t) == r.target
}

// SimClock is a manual clock.  Sleep advances it instantly.
type SimClock struct {
	mu sync.Mutex
	t  time.Time
}

// NewSimClock returns a clock reading t
func NewSimClock(t time.Time) *SimClock {
	return &SimClock{t: t}
}

// Now returns the current simulated time
func (c *SimClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Sleep advances the clock by d, unless ctx is already done
func (c *SimClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return nil
}

// Sim is a simulated cryostat.  Setpoints are approached linearly at the
// commanded rate: temperature in K/min, field in Oe/s and position in deg/s.
// It is safe for concurrent use.
type Sim struct {
	mu sync.Mutex

	now   func() time.Time
	sleep func(context.Context, time.Duration) error

	temp, field, pos ramp
	fieldMode        FieldMode
	closed           bool

	// Poll is the status poll period used by WaitFor
	Poll time.Duration
}

// NewSim returns a Sim at 300 K and zero field, running on the wall clock
func NewSim() *Sim {
	return NewSimWithClock(realClock.now, realClock.sleep)
}

// NewSimWithClock returns a Sim at 300 K and zero field, using now and sleep
// in place of the wall clock
func NewSimWithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) *Sim {
	t := now()
	return &Sim{
		now:       now,
		sleep:     sleep,
		temp:      ramp{start: 300, target: 300, t0: t},
		field:     ramp{t0: t},
		pos:       ramp{t0: t},
		fieldMode: Driven,
		Poll:      DefaultPoll,
	}
}

func (s *Sim) check() error {
	if s.closed {
		return errClosed
	}
	return nil
}

// Temperature returns the simulated temperature
func (s *Sim) Temperature() (float64, TemperatureStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, TempUnknown, err
	}
	t := s.now()
	if s.temp.done(t) {
		return s.temp.target, TempStable, nil
	}
	return s.temp.at(t), TempTracking, nil
}

// Field returns the simulated field
func (s *Sim) Field() (float64, FieldStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, FieldUnknown, err
	}
	t := s.now()
	if s.field.done(t) {
		if s.fieldMode == Persistent {
			return s.field.target, FieldStablePersistent, nil
		}
		return s.field.target, FieldStableDriven, nil
	}
	h := s.field.at(t)
	if math.Abs(s.field.target) > math.Abs(h) {
		return h, FieldCharging, nil
	}
	return h, FieldDischarging, nil
}

// Position returns the simulated rotator position
func (s *Sim) Position() (float64, PositionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, PosUnknown, err
	}
	t := s.now()
	if s.pos.done(t) {
		return s.pos.target, PosStopped, nil
	}
	return s.pos.at(t), PosMoving, nil
}

// Chamber always reports purged and sealed
func (s *Sim) Chamber() (ChamberStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return ChamberUnknown, err
	}
	return ChamberPurgedSealed, nil
}

// SetTemperature starts a ramp from the present temperature
func (s *Sim) SetTemperature(t, rate float64, approach TemperatureApproach) error {
	if err := CheckTemperature(t, rate); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	now := s.now()
	s.temp = ramp{start: s.temp.at(now), target: t, rate: rate / 60, t0: now}
	return nil
}

// SetField starts a ramp from the present field
func (s *Sim) SetField(h, rate float64, approach FieldApproach, mode FieldMode) error {
	if err := CheckField(h, rate); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	now := s.now()
	s.field = ramp{start: s.field.at(now), target: h, rate: rate, t0: now}
	s.fieldMode = mode
	return nil
}

// SetPosition starts a rotator move from the present position
func (s *Sim) SetPosition(deg, speed float64) error {
	if err := CheckPosition(deg, speed); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	now := s.now()
	s.pos = ramp{start: s.pos.at(now), target: deg, rate: speed, t0: now}
	return nil
}

// WaitFor polls until which is stable, then sleeps delay
func (s *Sim) WaitFor(ctx context.Context, which Subsystem, delay, timeout time.Duration) error {
	return waitStable(ctx, s, clock{now: s.now, sleep: s.sleep}, which, delay, timeout, s.Poll)
}

// Close marks the Sim closed; further calls fail
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
