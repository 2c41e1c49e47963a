package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	if err != nil {
		t.Fatal(err)
	}
	d := Default()
	if c.Output.Delimiter != "," || c.Timing.Interval != 0.27 || c.Cryostat.Kind != "sim" {
		t.Errorf("unexpected defaults %+v", c)
	}
	if len(c.Lockins) != len(d.Lockins) || c.Lockins[1].Label != "xy" {
		t.Errorf("expected default lock-ins, got %+v", c.Lockins)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	body := `output:
  experiment: film7
  shared: true
cryostat:
  kind: bridge
  addr: 10.0.0.5:5000
lockins:
  - kind: gpib
    addr: /dev/ttyUSB0
    gpib_addr: 8
    label: xx
    contacts: "14"
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CRYOSWEEP_OUTPUT__DIR", "/tmp/run1")
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Output.Experiment != "film7" || !c.Output.Shared || c.Output.Dir != "/tmp/run1" {
		t.Errorf("unexpected output config %+v", c.Output)
	}
	if c.Output.Ext != "dat" {
		t.Errorf("expected the default ext to survive, got %q", c.Output.Ext)
	}
	if c.Cryostat.Kind != "bridge" || c.Cryostat.Addr != "10.0.0.5:5000" {
		t.Errorf("unexpected cryostat config %+v", c.Cryostat)
	}
	if len(c.Lockins) != 1 || c.Lockins[0].GPIBAddr != 8 || c.Lockins[0].Contacts != "14" {
		t.Errorf("unexpected lock-ins %+v", c.Lockins)
	}
}

func TestWriteRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, Default()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "add_timestamp: true") {
		t.Errorf("unexpected yaml\n%s", buf.String())
	}
	path := filepath.Join(t.TempDir(), FileName)
	os.WriteFile(path, buf.Bytes(), 0644)
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Source.Resistance != 1e6 {
		t.Errorf("expected resistance to survive, got %v", c.Source.Resistance)
	}
}

func TestLoadPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yml")
	body := `steps:
  - kind: temperature
    initial: 300
    end: 290
    rate: 20
    wait_after: 0
    labels: ["Deg=:30.0"]
  - kind: points
    n: 5
`
	os.WriteFile(path, []byte(body), 0644)
	p, err := LoadPlan(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Steps) != 2 || *p.Steps[0].Initial != 300 || *p.Steps[0].WaitAfter != 0 || p.Steps[0].WaitBefore != nil {
		t.Errorf("unexpected plan %+v", p)
	}

	os.WriteFile(path, []byte("steps:\n  - kind: sideways\n"), 0644)
	if _, err = LoadPlan(path); !errors.Is(err, ErrBadStep) {
		t.Errorf("expected ErrBadStep, got %v", err)
	}
}
