/*Package lockin provides drivers for lock-in amplifiers of the SRS SR830 class.

The SR830 speaks a terse ASCII command set over GPIB.  It is reached either
through a Prologix GPIB controller (USB virtual COM port or Ethernet) or a
transparent GPIB-Ethernet bridge addressed through package scpi.  A Mock
lock-in with fixed outputs stands in for hardware in tests and dry runs.
*/
package lockin

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/nasa-jpl/cryosweep/mathx"
	"github.com/pkg/errors"
)

// Transport sends commands to and queries an instrument.  *prologix.Controller
// and *scpi.SCPI both satisfy it.
type Transport interface {
	Command(format string, a ...interface{}) error
	Query(cmd string) (string, error)
}

// Setting is one named configuration value, rendered for a file header
type Setting struct {
	Name  string
	Value string
}

var (
	// ErrBadResponse is returned when the instrument answers with something
	// that can not be parsed
	ErrBadResponse = errors.New("malformed response from lock-in")

	// ErrOutOfRange is returned when a setting is outside the instrument's range
	ErrOutOfRange = errors.New("value out of range")
)

// sensitivities in volts, indexed by the SENS code
var sensitivities = []float64{
	2e-9, 5e-9, 10e-9, 20e-9, 50e-9, 100e-9, 200e-9, 500e-9,
	1e-6, 2e-6, 5e-6, 10e-6, 20e-6, 50e-6, 100e-6, 200e-6, 500e-6,
	1e-3, 2e-3, 5e-3, 10e-3, 20e-3, 50e-3, 100e-3, 200e-3, 500e-3,
	1,
}

// time constants in seconds, indexed by the OFLT code
var timeConstants = []float64{
	10e-6, 30e-6, 100e-6, 300e-6,
	1e-3, 3e-3, 10e-3, 30e-3, 100e-3, 300e-3,
	1, 3, 10, 30, 100, 300,
	1e3, 3e3, 10e3, 30e3,
}

var (
	filterSlopes     = []int{6, 12, 18, 24}
	inputConfigs     = []string{"A", "A - B", "I (1 MOhm)", "I (100 MOhm)"}
	inputGroundings  = []string{"Float", "Ground"}
	inputCouplings   = []string{"AC", "DC"}
	inputNotches     = []string{"Out", "Line", "2 x Line", "Both"}
	reserves         = []string{"High Reserve", "Normal", "Low Noise"}
	referenceSources = []string{"External", "Internal"}
	triggers         = []string{"Sine", "Positive Edge", "Negative Edge"}
)

const (
	minSineVoltage  = 0.004
	maxSineVoltage  = 5.
	sineVoltageStep = 0.002
)

// SR830 is a driver for an SRS SR830 lock-in amplifier.
// It is safe for concurrent use.
type SR830 struct {
	mu     sync.Mutex
	t      Transport
	closer io.Closer
}

// NewSR830 returns an SR830 communicating over t.  closer may be nil; if not,
// it is closed by Close.
func NewSR830(t Transport, closer io.Closer) *SR830 {
	return &SR830{t: t, closer: closer}
}

// Close releases the underlying port, if any
func (s *SR830) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func (s *SR830) query(cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, err := s.t.Query(cmd)
	if err != nil {
		return "", errors.Wrapf(err, "query %s", cmd)
	}
	return strings.TrimSpace(resp), nil
}

func (s *SR830) command(format string, a ...interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Wrap(s.t.Command(format, a...), "lock-in command")
}

func (s *SR830) queryFloat(cmd string) (float64, error) {
	resp, err := s.query(cmd)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrBadResponse, "%s returned %q", cmd, resp)
	}
	return f, nil
}

func (s *SR830) queryIndex(cmd string, n int) (int, error) {
	resp, err := s.query(cmd)
	if err != nil {
		return 0, err
	}
	i, err := strconv.Atoi(resp)
	if err != nil || i < 0 || i >= n {
		return 0, errors.Wrapf(ErrBadResponse, "%s returned %q", cmd, resp)
	}
	return i, nil
}

func (s *SR830) queryString(cmd string, table []string) (string, error) {
	i, err := s.queryIndex(cmd, len(table))
	if err != nil {
		return "", err
	}
	return table[i], nil
}

// Identify returns the *IDN? string
func (s *SR830) Identify() (string, error) {
	return s.query("*IDN?")
}

// Snap reads X and Y simultaneously, in volts
func (s *SR830) Snap() (x, y float64, err error) {
	resp, err := s.query("SNAP?1,2")
	if err != nil {
		return 0, 0, err
	}
	return parseSnap(resp)
}

func parseSnap(resp string) (x, y float64, err error) {
	pieces := strings.Split(resp, ",")
	if len(pieces) != 2 {
		return 0, 0, errors.Wrapf(ErrBadResponse, "SNAP? returned %q, expected two values", resp)
	}
	x, err = strconv.ParseFloat(strings.TrimSpace(pieces[0]), 64)
	if err != nil {
		return 0, 0, errors.Wrapf(ErrBadResponse, "SNAP? X value %q", pieces[0])
	}
	y, err = strconv.ParseFloat(strings.TrimSpace(pieces[1]), 64)
	if err != nil {
		return 0, 0, errors.Wrapf(ErrBadResponse, "SNAP? Y value %q", pieces[1])
	}
	return x, y, nil
}

// SineVoltage returns the amplitude of the sine output, in volts
func (s *SR830) SineVoltage() (float64, error) {
	return s.queryFloat("SLVL?")
}

// SetSineVoltage sets the amplitude of the sine output, in volts.  The
// output is rounded to the nearest 2 mV.
func (s *SR830) SetSineVoltage(v float64) error {
	if v < minSineVoltage || v > maxSineVoltage {
		return errors.Wrapf(ErrOutOfRange, "sine output %g V not in [%g, %g]", v, minSineVoltage, maxSineVoltage)
	}
	return s.command("SLVL %.3f", mathx.Round(v, sineVoltageStep))
}

// SineVoltageRange returns the limits and resolution of the sine output in V
func (s *SR830) SineVoltageRange() (lo, hi, step float64) {
	return minSineVoltage, maxSineVoltage, sineVoltageStep
}

// Frequency returns the reference frequency in Hz
func (s *SR830) Frequency() (float64, error) {
	return s.queryFloat("FREQ?")
}

// Phase returns the reference phase in degrees
func (s *SR830) Phase() (float64, error) {
	return s.queryFloat("PHAS?")
}

// Sensitivity returns the full scale sensitivity in volts
func (s *SR830) Sensitivity() (float64, error) {
	i, err := s.queryIndex("SENS?", len(sensitivities))
	if err != nil {
		return 0, err
	}
	return sensitivities[i], nil
}

// TimeConstant returns the time constant in seconds
func (s *SR830) TimeConstant() (float64, error) {
	i, err := s.queryIndex("OFLT?", len(timeConstants))
	if err != nil {
		return 0, err
	}
	return timeConstants[i], nil
}

// FilterSlope returns the low pass filter slope in dB/oct
func (s *SR830) FilterSlope() (int, error) {
	i, err := s.queryIndex("OFSL?", len(filterSlopes))
	if err != nil {
		return 0, err
	}
	return filterSlopes[i], nil
}

// FilterSynchronous returns true if the synchronous filter is enabled
func (s *SR830) FilterSynchronous() (bool, error) {
	i, err := s.queryIndex("SYNC?", 2)
	return i == 1, err
}

// InputConfig returns the signal input configuration
func (s *SR830) InputConfig() (string, error) { return s.queryString("ISRC?", inputConfigs) }

// InputGrounding returns the shield grounding
func (s *SR830) InputGrounding() (string, error) { return s.queryString("IGND?", inputGroundings) }

// InputCoupling returns the input coupling
func (s *SR830) InputCoupling() (string, error) { return s.queryString("ICPL?", inputCouplings) }

// InputNotch returns the line notch filter configuration
func (s *SR830) InputNotch() (string, error) { return s.queryString("ILIN?", inputNotches) }

// Reserve returns the dynamic reserve mode
func (s *SR830) Reserve() (string, error) { return s.queryString("RMOD?", reserves) }

// ReferenceSource returns the reference source
func (s *SR830) ReferenceSource() (string, error) {
	return s.queryString("FMOD?", referenceSources)
}

// ReferenceTrigger returns the external reference trigger
func (s *SR830) ReferenceTrigger() (string, error) { return s.queryString("RSLP?", triggers) }

// Config reads the instrument configuration in header order
func (s *SR830) Config() ([]Setting, error) {
	type getter struct {
		name string
		get  func() (string, error)
	}
	f := func(fn func() (float64, error)) func() (string, error) {
		return func() (string, error) {
			v, err := fn()
			return formatFloat(v), err
		}
	}
	getters := []getter{
		{"Sine Out (V)", f(s.SineVoltage)},
		{"Frequency (Hz)", f(s.Frequency)},
		{"Phase (Deg)", f(s.Phase)},
		{"Sensitivity (V)", f(s.Sensitivity)},
		{"Time Constant (s)", f(s.TimeConstant)},
		{"Filter Slope (dB/oct)", func() (string, error) {
			v, err := s.FilterSlope()
			return strconv.Itoa(v), err
		}},
		{"Filter Synchronous", func() (string, error) {
			v, err := s.FilterSynchronous()
			return strconv.FormatBool(v), err
		}},
		{"Input Config", s.InputConfig},
		{"Input Grounding", s.InputGrounding},
		{"Input Coupling", s.InputCoupling},
		{"Input Notch", s.InputNotch},
		{"Input Reserve", s.Reserve},
		{"Reference Source", s.ReferenceSource},
		{"Reference Source Trigger", s.ReferenceTrigger},
	}
	out := make([]Setting, 0, len(getters))
	for _, g := range getters {
		v, err := g.get()
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", g.name)
		}
		out = append(out, Setting{Name: g.name, Value: v})
	}
	return out, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// String renders settings one per line as "name: value"
func String(settings []Setting) string {
	var b strings.Builder
	for _, s := range settings {
		fmt.Fprintf(&b, "%s: %s\n", s.Name, s.Value)
	}
	return b.String()
}
