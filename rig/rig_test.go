package rig

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nasa-jpl/cryosweep/config"
	"github.com/nasa-jpl/cryosweep/cryostat"
	"github.com/nasa-jpl/cryosweep/datafile"
	"github.com/nasa-jpl/cryosweep/source"
)

func testConfig(t *testing.T) config.Config {
	c := config.Default()
	c.Output.Dir = t.TempDir()
	c.Output.AddTimestamp = false
	c.Timing.Interval = 0.01
	c.Timing.SettlePause = 0
	c.Sinks.Prometheus = true
	c.HTTP.History = 100
	return c
}

func TestBuildAndRunPlan(t *testing.T) {
	c := testConfig(t)
	r, err := Build(c)
	if err != nil {
		t.Fatal(err)
	}
	if r.Metrics == nil {
		t.Error("expected a metrics registry with the prometheus sink enabled")
	}
	if _, ok := r.Source.(*source.Resistive); !ok {
		t.Errorf("expected a resistive source, got %T", r.Source)
	}
	zero := 0.
	plan := config.Plan{Steps: []config.Step{
		{Kind: "temperature", End: 299.9, Rate: 20, WaitAfter: &zero, Labels: []string{"Deg=:30.0"}},
		{Kind: "points", N: 2},
	}}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err = r.RunPlan(ctx, plan); err != nil {
		t.Fatal(err)
	}
	if r.Lock.Locked() {
		t.Error("expected the rig lock to be released after the plan")
	}
	if err = r.Close(); err != nil {
		t.Fatal(err)
	}

	matches, _ := filepath.Glob(filepath.Join(c.Output.Dir, "sample_Rxx_cont23_sweepTemp_H=0.00T_Deg=30.0.dat"))
	if len(matches) != 1 {
		t.Fatalf("expected the temperature sweep file, found %v", matches)
	}
	tbl, err := datafile.ReadFile(filepath.Join(c.Output.Dir, "sample_Rxy_cont26.dat"))
	if err != nil {
		t.Fatal(err)
	}
	if len(tbl.Rows) != 2 {
		t.Errorf("expected 2 rows from the points step, got %d", len(tbl.Rows))
	}
	if !strings.Contains(strings.Join(tbl.Comments, "\n"), "Source Resistance (Ohms): 1e+06") {
		t.Errorf("expected the source resistance in the header, got %v", tbl.Comments)
	}
}

func TestIdentify(t *testing.T) {
	r, err := Build(testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	ids := r.Identify()
	if len(ids) != 2 || !strings.HasPrefix(ids[0], "xx23 (mock ") {
		t.Errorf("unexpected ids %v", ids)
	}
}

func TestBuildErrors(t *testing.T) {
	c := testConfig(t)
	c.Source.Lockin = 5
	if _, err := Build(c); err == nil {
		t.Error("expected an out of range source lock-in to fail")
	}
	c = testConfig(t)
	c.Source.Resistance = 0
	if _, err := Build(c); !errors.Is(err, source.ErrBadResistance) {
		t.Errorf("expected ErrBadResistance, got %v", err)
	}
	c = testConfig(t)
	c.Cryostat.Kind = "teleporter"
	if _, err := Build(c); err == nil {
		t.Error("expected an unknown cryostat kind to fail")
	}
}

func TestRunStepRejectsBadInput(t *testing.T) {
	r, err := Build(testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	ctx := context.Background()
	if err = r.RunStep(ctx, config.Step{Kind: "points", N: 1, Labels: []string{"bad"}}); err == nil {
		t.Error("expected a malformed label to fail")
	}
	if err = r.RunStep(ctx, config.Step{Kind: "field", End: 10, Approach: "sideways"}); !errors.Is(err, cryostat.ErrBadMode) {
		t.Errorf("expected ErrBadMode, got %v", err)
	}
}
