package sink

import (
	"math"

	"github.com/nasa-jpl/cryosweep/recorder"
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus exposes the latest point as gauges
type Prometheus struct {
	temperature prometheus.Gauge
	field       prometheus.Gauge
	position    prometheus.Gauge
	current     prometheus.Gauge
	x, y, r     *prometheus.GaugeVec
	points      prometheus.Counter
}

// NewPrometheus creates the collectors and registers them with reg
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "cryosweep", Name: name, Help: help})
	}
	vec := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: "cryosweep", Name: name, Help: help}, []string{"channel"})
	}
	p := &Prometheus{
		temperature: gauge("temperature_kelvin", "Sample temperature."),
		field:       gauge("field_oersted", "Applied magnetic field."),
		position:    gauge("position_degrees", "Rotator position."),
		current:     gauge("current_amperes", "Drive current."),
		x:           vec("x_volts", "In-phase lock-in voltage."),
		y:           vec("y_volts", "Quadrature lock-in voltage."),
		r:           vec("resistance_ohms", "Sample resistance."),
		points: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cryosweep",
			Name:      "points_total",
			Help:      "Total points recorded.",
		}),
	}
	for _, c := range []prometheus.Collector{p.temperature, p.field, p.position, p.current, p.x, p.y, p.r, p.points} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Name returns "prometheus"
func (p *Prometheus) Name() string { return "prometheus" }

func setIfNumber(g prometheus.Gauge, v float64) {
	if !math.IsNaN(v) {
		g.Set(v)
	}
}

// Write updates the gauges from pt
func (p *Prometheus) Write(pt recorder.Point) error {
	setIfNumber(p.temperature, pt.Temperature)
	setIfNumber(p.field, pt.Field)
	setIfNumber(p.position, pt.Position)
	setIfNumber(p.current, pt.Current)
	for _, c := range pt.Channels {
		setIfNumber(p.x.WithLabelValues(c.Name), c.X)
		setIfNumber(p.y.WithLabelValues(c.Name), c.Y)
		setIfNumber(p.r.WithLabelValues(c.Name), c.R)
	}
	p.points.Inc()
	return nil
}

// Close is a no-op; the collectors stay registered
func (p *Prometheus) Close() error { return nil }
