package lockin

import (
	"errors"
	"fmt"
	"math"
	"testing"
)

type fakeTransport struct {
	responses map[string]string
	commands  []string
}

func (f *fakeTransport) Command(format string, a ...interface{}) error {
	f.commands = append(f.commands, fmt.Sprintf(format, a...))
	return nil
}

func (f *fakeTransport) Query(cmd string) (string, error) {
	resp, ok := f.responses[cmd]
	if !ok {
		return "", fmt.Errorf("no response for %s", cmd)
	}
	return resp + "\n", nil
}

func configured() *fakeTransport {
	return &fakeTransport{responses: map[string]string{
		"*IDN?":    "Stanford_Research_Systems,SR830,s/n12345,ver1.07",
		"SNAP?1,2": "5.0123e-05,-1.2e-07",
		"SLVL?":    "0.100",
		"FREQ?":    "777.7",
		"PHAS?":    "0",
		"SENS?":    "17",
		"OFLT?":    "9",
		"OFSL?":    "3",
		"SYNC?":    "1",
		"ISRC?":    "1",
		"IGND?":    "0",
		"ICPL?":    "0",
		"ILIN?":    "3",
		"RMOD?":    "1",
		"FMOD?":    "1",
		"RSLP?":    "0",
	}}
}

func TestSnapParses(t *testing.T) {
	s := NewSR830(configured(), nil)
	x, y, err := s.Snap()
	if err != nil {
		t.Fatal(err)
	}
	if x != 5.0123e-05 || y != -1.2e-07 {
		t.Errorf("expected (5.0123e-05, -1.2e-07), got (%g, %g)", x, y)
	}
}

func TestSnapMalformed(t *testing.T) {
	ft := configured()
	ft.responses["SNAP?1,2"] = "garbage"
	s := NewSR830(ft, nil)
	_, _, err := s.Snap()
	if !errors.Is(err, ErrBadResponse) {
		t.Errorf("expected ErrBadResponse, got %v", err)
	}
}

func TestSensitivityIndexOutOfTable(t *testing.T) {
	ft := configured()
	ft.responses["SENS?"] = "27"
	s := NewSR830(ft, nil)
	if _, err := s.Sensitivity(); !errors.Is(err, ErrBadResponse) {
		t.Errorf("expected ErrBadResponse, got %v", err)
	}
}

func TestConfigOrderAndValues(t *testing.T) {
	s := NewSR830(configured(), nil)
	cfg, err := s.Config()
	if err != nil {
		t.Fatal(err)
	}
	expected := []Setting{
		{"Sine Out (V)", "0.1"},
		{"Frequency (Hz)", "777.7"},
		{"Phase (Deg)", "0"},
		{"Sensitivity (V)", "0.001"},
		{"Time Constant (s)", "0.3"},
		{"Filter Slope (dB/oct)", "24"},
		{"Filter Synchronous", "true"},
		{"Input Config", "A - B"},
		{"Input Grounding", "Float"},
		{"Input Coupling", "AC"},
		{"Input Notch", "Both"},
		{"Input Reserve", "Normal"},
		{"Reference Source", "Internal"},
		{"Reference Source Trigger", "Sine"},
	}
	if len(cfg) != len(expected) {
		t.Fatalf("expected %d settings, got %d", len(expected), len(cfg))
	}
	for i := range expected {
		if cfg[i] != expected[i] {
			t.Errorf("setting %d: expected %v, got %v", i, expected[i], cfg[i])
		}
	}
}

func TestSetSineVoltage(t *testing.T) {
	ft := configured()
	s := NewSR830(ft, nil)
	if err := s.SetSineVoltage(0.5); err != nil {
		t.Fatal(err)
	}
	if len(ft.commands) != 1 || ft.commands[0] != "SLVL 0.500" {
		t.Errorf("expected SLVL 0.500, got %v", ft.commands)
	}
	if err := s.SetSineVoltage(6); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
	if err := s.SetSineVoltage(0.1234); err != nil {
		t.Fatal(err)
	}
	if last := ft.commands[len(ft.commands)-1]; last != "SLVL 0.124" {
		t.Errorf("expected the output rounded to 2 mV, got %s", last)
	}
}

func TestMockResolution(t *testing.T) {
	m := NewMock()
	m.Resolution = sineVoltageStep
	if err := m.SetSineVoltage(0.3331); err != nil {
		t.Fatal(err)
	}
	if v, _ := m.SineVoltage(); math.Abs(v-0.334) > 1e-12 {
		t.Errorf("expected 0.334 V, got %g", v)
	}
	if _, _, step := m.SineVoltageRange(); step != sineVoltageStep {
		t.Errorf("expected the range to report the resolution, got %g", step)
	}
}

func TestMockMatchesSR830Keys(t *testing.T) {
	m := NewMock()
	mc, _ := m.Config()
	sc, err := NewSR830(configured(), nil).Config()
	if err != nil {
		t.Fatal(err)
	}
	for i := range mc {
		if mc[i].Name != sc[i].Name {
			t.Errorf("setting %d: mock has %s, SR830 has %s", i, mc[i].Name, sc[i].Name)
		}
	}
	x, y, _ := m.Snap()
	if x != 50e-6 || y != 1e-6 {
		t.Errorf("expected mock to snap (50e-6, 1e-6), got (%g, %g)", x, y)
	}
}

func TestOpenUnknownKind(t *testing.T) {
	if _, err := Open("ouija", "", 0); err == nil {
		t.Error("expected error for unknown kind")
	}
	inst, err := Open("mock", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := inst.(*Mock); !ok {
		t.Errorf("expected *Mock, got %T", inst)
	}
}

func TestOpenSerialMissingPort(t *testing.T) {
	if _, err := Open("serial", "/dev/cryosweep-no-such-tty", 0); err == nil {
		t.Error("expected opening a missing RS232 port to fail")
	}
}
