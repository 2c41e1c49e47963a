// Package rig assembles the instruments, recorder, sinks and sweeper
// described by a configuration, and runs plans on them
package rig

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/nasa-jpl/cryosweep/channel"
	"github.com/nasa-jpl/cryosweep/config"
	"github.com/nasa-jpl/cryosweep/cryostat"
	"github.com/nasa-jpl/cryosweep/envsrv"
	"github.com/nasa-jpl/cryosweep/lockin"
	"github.com/nasa-jpl/cryosweep/recorder"
	"github.com/nasa-jpl/cryosweep/server/middleware/locker"
	"github.com/nasa-jpl/cryosweep/sink"
	"github.com/nasa-jpl/cryosweep/source"
	"github.com/nasa-jpl/cryosweep/sweep"
	"github.com/nasa-jpl/cryosweep/util"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
)

// Rig is an assembled measurement setup
type Rig struct {
	Config   config.Config
	Cryostat cryostat.Controller
	Lockins  []lockin.Instrument
	Channels *channel.Registry
	Source   source.CurrentSource
	Recorder *recorder.Recorder
	Sweeper  *sweep.Sweeper
	History  *envsrv.Envmon
	Lock     *locker.Locker

	// Metrics holds the Prometheus sink's collectors when enabled
	Metrics *prometheus.Registry
}

// OpenCryostat connects to the configured cryostat
func OpenCryostat(c config.Cryostat) (cryostat.Controller, error) {
	switch strings.ToLower(c.Kind) {
	case "sim", "":
		return cryostat.NewSim(), nil
	case "bridge":
		cl := cryostat.NewClient(c.Addr, c.Serial)
		if _, _, err := cl.Temperature(); err != nil {
			cl.Close()
			return nil, errors.Wrapf(err, "contacting cryostat bridge at %s", c.Addr)
		}
		return cl, nil
	default:
		return nil, errors.Errorf("unknown cryostat kind %q", c.Kind)
	}
}

// OpenLockins opens every configured lock-in, closing those already open on
// failure
func OpenLockins(cfgs []config.Lockin) ([]lockin.Instrument, error) {
	var out []lockin.Instrument
	for i, lc := range cfgs {
		inst, err := lockin.Open(lc.Kind, lc.Addr, lc.GPIBAddr)
		if err != nil {
			for _, o := range out {
				o.Close()
			}
			return nil, errors.Wrapf(err, "lock-in %d (%s%s)", i+1, lc.Label, lc.Contacts)
		}
		out = append(out, inst)
	}
	return out, nil
}

func buildSource(c config.Source, lockins []lockin.Instrument) (source.CurrentSource, error) {
	switch strings.ToLower(c.Kind) {
	case "lockin", "":
		if c.Lockin < 0 || c.Lockin >= len(lockins) {
			return nil, errors.Errorf("source lock-in index %d out of range", c.Lockin)
		}
		src, err := source.NewResistive(lockins[c.Lockin], c.Resistance)
		if err != nil {
			return nil, err
		}
		return src, nil
	case "fixed":
		return source.Fixed(c.Current), nil
	default:
		return nil, errors.Errorf("unknown source kind %q", c.Kind)
	}
}

func (r *Rig) addSinks(c config.Sinks) error {
	r.Recorder.AddSink(r.History)
	if c.Prometheus {
		r.Metrics = prometheus.NewRegistry()
		p, err := sink.NewPrometheus(r.Metrics)
		if err != nil {
			return err
		}
		r.Recorder.AddSink(p)
	}
	if c.MQTT.Broker != "" {
		m, err := sink.DialMQTT(c.MQTT.Broker, c.MQTT.ClientID, c.MQTT.Topic, byte(c.MQTT.QoS))
		if err != nil {
			return err
		}
		r.Recorder.AddSink(m)
	}
	if c.SQL.DSN != "" {
		s, err := sink.OpenSQL(c.SQL.DSN, c.SQL.Table, c.SQL.Batch)
		if err != nil {
			return err
		}
		r.Recorder.AddSink(s)
	}
	return nil
}

// Build opens the devices and assembles a Rig.  Devices opened before a
// failure are closed.
func Build(c config.Config) (*Rig, error) {
	cryo, err := OpenCryostat(c.Cryostat)
	if err != nil {
		return nil, err
	}
	lockins, err := OpenLockins(c.Lockins)
	if err != nil {
		cryo.Close()
		return nil, err
	}
	r, err := Assemble(c, cryo, lockins)
	if err != nil {
		err = multierr.Append(err, closeAll(cryo, lockins))
		return nil, err
	}
	return r, nil
}

// Assemble builds a Rig around devices that are already open
func Assemble(c config.Config, cryo cryostat.Controller, lockins []lockin.Instrument) (*Rig, error) {
	if len(lockins) != len(c.Lockins) {
		return nil, errors.Errorf("%d lock-ins for %d configured", len(lockins), len(c.Lockins))
	}
	reg := &channel.Registry{}
	for i, lc := range c.Lockins {
		if _, err := reg.Add(lockins[i], lc.Label, lc.Contacts); err != nil {
			return nil, err
		}
	}
	src, err := buildSource(c.Source, lockins)
	if err != nil {
		return nil, err
	}
	rec, err := recorder.New(reg, src, recorder.Options{
		Dir:          c.Output.Dir,
		Experiment:   c.Output.Experiment,
		Ext:          c.Output.Ext,
		Delimiter:    c.Output.Delimiter,
		Shared:       c.Output.Shared,
		AddConfig:    c.Output.AddConfig,
		AddTimestamp: c.Output.AddTimestamp,
	})
	if err != nil {
		return nil, err
	}
	r := &Rig{
		Config:   c,
		Cryostat: cryo,
		Lockins:  lockins,
		Channels: reg,
		Source:   src,
		Recorder: rec,
		History:  envsrv.New(c.HTTP.History),
		Lock:     locker.New(),
	}
	if err = r.addSinks(c.Sinks); err != nil {
		rec.Close()
		return nil, errors.Wrap(err, "setting up sinks")
	}
	sw := sweep.New(cryo, rec)
	if c.Timing.Interval > 0 {
		sw.Interval = util.SecsToDuration(c.Timing.Interval)
	}
	sw.SettlePause = util.SecsToDuration(c.Timing.SettlePause)
	sw.WaitTimeout = util.SecsToDuration(c.Cryostat.WaitTimeout)
	sw.Rotator = c.Cryostat.Rotator
	sw.Lock = r.Lock.Busy()
	r.Sweeper = sw
	return r, nil
}

func closeAll(cryo cryostat.Controller, lockins []lockin.Instrument) error {
	err := errors.Wrap(cryo.Close(), "closing cryostat")
	for i, l := range lockins {
		err = multierr.Append(err, errors.Wrapf(l.Close(), "closing lock-in %d", i+1))
	}
	return err
}

// Close closes the recorder, its sinks and every device
func (r *Rig) Close() error {
	err := r.Recorder.Close()
	return multierr.Append(err, closeAll(r.Cryostat, r.Lockins))
}

// Identify queries *IDN? on every lock-in
func (r *Rig) Identify() []string {
	out := make([]string, len(r.Lockins))
	for i, l := range r.Lockins {
		lc := r.Config.Lockins[i]
		id, err := l.Identify()
		if err != nil {
			id = "error: " + err.Error()
		}
		out[i] = fmt.Sprintf("%s%s (%s %s): %s", lc.Label, lc.Contacts, lc.Kind, lc.Addr, id)
	}
	return out
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func waitOr(secs *float64, def float64) float64 {
	if secs == nil {
		return def
	}
	return *secs
}

// RunStep runs one plan step
func (r *Rig) RunStep(ctx context.Context, s config.Step) error {
	if err := s.Validate(); err != nil {
		return err
	}
	labels, err := recorder.ParseLabels(s.Labels)
	if err != nil {
		return err
	}
	common := sweep.Common{Title: s.Title, Labels: labels}
	switch strings.ToLower(s.Kind) {
	case config.StepTemperature:
		o := sweep.DefaultTemperatureOptions(s.End)
		o.Common, o.Initial = common, s.Initial
		o.RateToEnd = orDefault(s.Rate, o.RateToEnd)
		o.RateToInit = orDefault(s.RateToInit, o.RateToInit)
		o.Atol, o.Rtol = orDefault(s.Atol, o.Atol), orDefault(s.Rtol, o.Rtol)
		o.WaitBefore = util.SecsToDuration(waitOr(s.WaitBefore, o.WaitBefore.Seconds()))
		o.WaitAfter = util.SecsToDuration(waitOr(s.WaitAfter, o.WaitAfter.Seconds()))
		if s.Approach != "" {
			if o.Approach, err = cryostat.ParseTemperatureApproach(s.Approach); err != nil {
				return err
			}
		}
		return r.Sweeper.Temperature(ctx, o)
	case config.StepField:
		o := sweep.DefaultFieldOptions(s.End)
		o.Common, o.Initial = common, s.Initial
		o.RateToEnd = orDefault(s.Rate, o.RateToEnd)
		o.RateToInit = orDefault(s.RateToInit, o.RateToInit)
		o.Atol, o.Rtol = orDefault(s.Atol, o.Atol), orDefault(s.Rtol, o.Rtol)
		o.WaitBefore = util.SecsToDuration(waitOr(s.WaitBefore, o.WaitBefore.Seconds()))
		o.WaitAfter = util.SecsToDuration(waitOr(s.WaitAfter, o.WaitAfter.Seconds()))
		if s.Approach != "" {
			if o.Approach, err = cryostat.ParseFieldApproach(s.Approach); err != nil {
				return err
			}
		}
		if s.Mode != "" {
			if o.Mode, err = cryostat.ParseFieldMode(s.Mode); err != nil {
				return err
			}
		}
		return r.Sweeper.Field(ctx, o)
	case config.StepPosition:
		o := sweep.DefaultPositionOptions(s.End)
		o.Common, o.Initial = common, s.Initial
		o.SpeedToEnd = orDefault(s.Rate, o.SpeedToEnd)
		o.SpeedToInit = orDefault(s.RateToInit, o.SpeedToInit)
		o.Atol, o.Rtol = orDefault(s.Atol, o.Atol), orDefault(s.Rtol, o.Rtol)
		o.WaitBefore = util.SecsToDuration(waitOr(s.WaitBefore, o.WaitBefore.Seconds()))
		o.WaitAfter = util.SecsToDuration(waitOr(s.WaitAfter, o.WaitAfter.Seconds()))
		return r.Sweeper.Position(ctx, o)
	case config.StepCurrent:
		o := sweep.DefaultCurrentOptions(s.End, s.Rate)
		o.Common, o.Initial = common, s.Initial
		o.Atol, o.Rtol = orDefault(s.Atol, o.Atol), orDefault(s.Rtol, o.Rtol)
		return r.Sweeper.Current(ctx, o)
	case config.StepTime:
		return r.Sweeper.Time(ctx, sweep.TimeOptions{Common: common, Duration: util.SecsToDuration(s.Duration)})
	default: // points, Validate has ruled out anything else
		return r.Sweeper.Points(ctx, s.N, common)
	}
}

// RunPlan runs the steps in order, stopping at the first error
func (r *Rig) RunPlan(ctx context.Context, p config.Plan) error {
	for i, s := range p.Steps {
		log.Printf("step %d/%d: %s", i+1, len(p.Steps), s.Kind)
		if err := r.RunStep(ctx, s); err != nil {
			return errors.Wrapf(err, "step %d (%s)", i+1, s.Kind)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}
