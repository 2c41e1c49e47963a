package lockin

import (
	"strconv"
	"sync"

	"github.com/nasa-jpl/cryosweep/mathx"
	"github.com/pkg/errors"
)

// Instrument is the behavior shared by every lock-in in this package
type Instrument interface {
	Identify() (string, error)
	Snap() (x, y float64, err error)
	SineVoltage() (float64, error)
	SetSineVoltage(float64) error
	Config() ([]Setting, error)
	Close() error
}

// Mock is a lock-in with fixed outputs
type Mock struct {
	mu sync.Mutex

	Volt      float64
	Freq      float64
	PhaseDeg  float64
	X, Y      float64
	Sens      float64
	TC        float64
	Slope     int
	Sync      bool
	Input     string
	Grounding string
	Coupling  string
	Notch     string
	Res       string
	RefSource string
	Trigger   string

	// Resolution quantizes the sine output as the SR830 does; zero is exact
	Resolution float64
}

// NewMock returns a Mock with the outputs of a 50 uV in-phase signal driven by
// a 0.1 V, 777.7 Hz sine
func NewMock() *Mock {
	return &Mock{
		Volt:      0.1,
		Freq:      777.7,
		X:         50e-6,
		Y:         1e-6,
		Sens:      1e-3,
		TC:        0.3,
		Slope:     24,
		Sync:      true,
		Input:     "A - B",
		Grounding: "Float",
		Coupling:  "AC",
		Notch:     "Out",
		Res:       "Normal",
		RefSource: "Internal",
		Trigger:   "Sine",
	}
}

// Identify returns a fixed identification string
func (m *Mock) Identify() (string, error) {
	return "Stanford_Research_Systems,SR830,s/n00000,ver1.07 (mock)", nil
}

// Snap returns X and Y
func (m *Mock) Snap() (float64, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.X, m.Y, nil
}

// SetXY changes the values returned by Snap
func (m *Mock) SetXY(x, y float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.X, m.Y = x, y
}

// SineVoltage returns the sine output amplitude
func (m *Mock) SineVoltage() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Volt, nil
}

// SetSineVoltage sets the sine output amplitude
func (m *Mock) SetSineVoltage(v float64) error {
	if v < minSineVoltage || v > maxSineVoltage {
		return errors.Wrapf(ErrOutOfRange, "sine output %g V not in [%g, %g]", v, minSineVoltage, maxSineVoltage)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Resolution > 0 {
		v = mathx.Round(v, m.Resolution)
	}
	m.Volt = v
	return nil
}

// SineVoltageRange returns the limits of the sine output and Resolution
func (m *Mock) SineVoltageRange() (lo, hi, step float64) {
	return minSineVoltage, maxSineVoltage, m.Resolution
}

// Config returns the settings in header order
func (m *Mock) Config() ([]Setting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return []Setting{
		{"Sine Out (V)", formatFloat(m.Volt)},
		{"Frequency (Hz)", formatFloat(m.Freq)},
		{"Phase (Deg)", formatFloat(m.PhaseDeg)},
		{"Sensitivity (V)", formatFloat(m.Sens)},
		{"Time Constant (s)", formatFloat(m.TC)},
		{"Filter Slope (dB/oct)", strconv.Itoa(m.Slope)},
		{"Filter Synchronous", strconv.FormatBool(m.Sync)},
		{"Input Config", m.Input},
		{"Input Grounding", m.Grounding},
		{"Input Coupling", m.Coupling},
		{"Input Notch", m.Notch},
		{"Input Reserve", m.Res},
		{"Reference Source", m.RefSource},
		{"Reference Source Trigger", m.Trigger},
	}, nil
}

// Close is a no-op
func (m *Mock) Close() error { return nil }
