package recorder

import (
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nasa-jpl/cryosweep/channel"
	"github.com/nasa-jpl/cryosweep/datafile"
	"github.com/nasa-jpl/cryosweep/lockin"
	"github.com/nasa-jpl/cryosweep/source"
)

var t0 = time.Date(2024, 3, 5, 9, 7, 3, 4005000, time.UTC)

type memSink struct {
	points []Point
	fail   bool
	closed bool
}

func (m *memSink) Name() string { return "mem" }
func (m *memSink) Write(p Point) error {
	m.points = append(m.points, p)
	if m.fail {
		return errors.New("sink down")
	}
	return nil
}
func (m *memSink) Close() error { m.closed = true; return nil }

func rig(t *testing.T, shared bool) (*Recorder, *lockin.Mock, string) {
	t.Helper()
	dir := t.TempDir()
	var reg channel.Registry
	xx := lockin.NewMock()
	xy := lockin.NewMock()
	xy.SetXY(2e-6, 0)
	reg.Add(xx, "xx", "23")
	reg.Add(xy, "xy", "26")
	src, err := source.NewResistive(xx, 100e3)
	if err != nil {
		t.Fatal(err)
	}
	rec, err := New(&reg, src, Options{
		Dir:          dir,
		Experiment:   "sample",
		Shared:       shared,
		AddConfig:    true,
		AddTimestamp: true,
		Now:          func() time.Time { return t0 },
	})
	if err != nil {
		t.Fatal(err)
	}
	return rec, xx, dir
}

func TestFilename(t *testing.T) {
	l := Labels{{"R", "xx"}, {"cont", "23"}, {"sweep", "Temp"}, {"H=", "1.00T"}}
	if got := Filename("sample", l); got != "sample_Rxx_cont23_sweepTemp_H=1.00T" {
		t.Errorf("unexpected filename %s", got)
	}
	if got := Filename("sample", nil); got != "sample" {
		t.Errorf("expected bare experiment name, got %s", got)
	}
}

func TestTimestampNoPadding(t *testing.T) {
	if got := Timestamp(t0); got != "2024-3-5_9-7-3.4005" {
		t.Errorf("unexpected timestamp %s", got)
	}
}

func TestParseLabels(t *testing.T) {
	l, err := ParseLabels([]string{"T=:1.8K", "Deg=:30.0"})
	if err != nil {
		t.Fatal(err)
	}
	if len(l) != 2 || l[0] != (Label{"T=", "1.8K"}) || l[1] != (Label{"Deg=", "30.0"}) {
		t.Errorf("unexpected labels %v", l)
	}
	if _, err = ParseLabels([]string{"nocolon"}); err == nil {
		t.Error("expected error for a label without a colon")
	}
}

func TestPerChannelFiles(t *testing.T) {
	rec, _, dir := rig(t, false)
	paths, err := rec.CreateFiles("a title", Labels{{"sweep", "Time"}})
	if err != nil {
		t.Fatal(err)
	}
	expected := []string{
		filepath.Join(dir, "sample_Rxx_cont23_sweepTime_t2024-3-5_9-7-3.4005.dat"),
		filepath.Join(dir, "sample_Rxy_cont26_sweepTime_t2024-3-5_9-7-3.4005.dat"),
	}
	if len(paths) != 2 || paths[0] != expected[0] || paths[1] != expected[1] {
		t.Fatalf("unexpected paths %v", paths)
	}
	sink := &memSink{fail: true}
	rec.AddSink(sink)
	p, err := rec.Record(Conditions{Temperature: 300, Field: 10, Position: math.NaN()})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(p.Current-1e-6) > 1e-18 {
		t.Errorf("expected 1 uA, got %g", p.Current)
	}
	if math.Abs(p.Channels[1].R-2) > 1e-9 {
		t.Errorf("expected 2 Ohm on xy26, got %g", p.Channels[1].R)
	}
	if len(sink.points) != 1 {
		t.Error("expected the point to reach the sink despite its error")
	}
	if last, ok := rec.Last(); !ok || last.Temperature != 300 {
		t.Errorf("expected Last to return the recorded point, got %v %v", last, ok)
	}
	if err = rec.Close(); err != nil {
		t.Fatal(err)
	}
	if !sink.closed {
		t.Error("expected Close to close sinks")
	}

	tbl, err := datafile.ReadFile(paths[0])
	if err != nil {
		t.Fatal(err)
	}
	wantCols := []string{datafile.TimeColumn, TemperatureColumn, FieldColumn, PositionColumn, CurrentColumn,
		"X_xx23 (V)", "Y_xx23 (V)", "Resistance_xx23 (Ohms)"}
	if strings.Join(tbl.Columns, "|") != strings.Join(wantCols, "|") {
		t.Errorf("unexpected columns %v", tbl.Columns)
	}
	r, _ := tbl.Column("Resistance_xx23 (Ohms)")
	if len(r) != 1 || math.Abs(r[0]-50) > 1e-9 {
		t.Errorf("expected one row with 50 Ohm, got %v", r)
	}
	pos, _ := tbl.Column(PositionColumn)
	if !math.IsNaN(pos[0]) {
		t.Errorf("expected empty position, got %v", pos[0])
	}
	header := strings.Join(tbl.Comments, "\n")
	for _, want := range []string{"a title", "Lock-in configuration:", "Sine Out (V): 0.1", "Source Resistance (Ohms): 100000", "Source Current (A): 1e-06"} {
		if !strings.Contains(header, want) {
			t.Errorf("expected header to contain %q, got\n%s", want, header)
		}
	}
}

func TestSharedFile(t *testing.T) {
	rec, _, dir := rig(t, true)
	paths, err := rec.CreateFiles("shared", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 || paths[0] != filepath.Join(dir, "sample_t2024-3-5_9-7-3.4005.dat") {
		t.Fatalf("unexpected paths %v", paths)
	}
	for i := 0; i < 3; i++ {
		if _, err = rec.Record(Conditions{Temperature: 300 - float64(i)}); err != nil {
			t.Fatal(err)
		}
	}
	rec.Close()
	tbl, err := datafile.ReadFile(paths[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(tbl.Rows) != 3 {
		t.Errorf("expected one row per tick, got %d", len(tbl.Rows))
	}
	if _, err = tbl.Column("X_xy26 (V)"); err != nil {
		t.Error("expected every channel's columns in the shared file")
	}
}

// configFails is a lock-in whose configuration query can be made to fail
type configFails struct {
	*lockin.Mock
	fail bool
}

func (c *configFails) Config() ([]lockin.Setting, error) {
	if c.fail {
		return nil, errors.New("gpib timeout")
	}
	return c.Mock.Config()
}

func TestCreateFilesFailureLeavesNoFiles(t *testing.T) {
	dir := t.TempDir()
	var reg channel.Registry
	xx := lockin.NewMock()
	xy := &configFails{Mock: lockin.NewMock()}
	reg.Add(xx, "xx", "23")
	reg.Add(xy, "xy", "26")
	src, err := source.NewResistive(xx, 100e3)
	if err != nil {
		t.Fatal(err)
	}
	rec, err := New(&reg, src, Options{Dir: dir, AddConfig: true})
	if err != nil {
		t.Fatal(err)
	}
	defer rec.Close()
	if _, err = rec.CreateFiles("first", nil); err != nil {
		t.Fatal(err)
	}
	xy.fail = true
	if _, err = rec.CreateFiles("second", nil); err == nil || !strings.Contains(err.Error(), "xy26") {
		t.Fatalf("expected a configuration error naming xy26, got %v", err)
	}
	if _, err = rec.Record(Conditions{Temperature: 300}); !errors.Is(err, datafile.ErrNotCreated) {
		t.Errorf("expected ErrNotCreated after a failed CreateFiles, got %v", err)
	}

	xy.fail = false
	paths, err := rec.CreateFiles("third", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = rec.Record(Conditions{Temperature: 300}); err != nil {
		t.Fatal(err)
	}
	rec.Close()
	for _, path := range paths {
		tbl, err := datafile.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if len(tbl.Rows) != 1 {
			t.Errorf("expected one row in %s, got %d", path, len(tbl.Rows))
		}
	}
}

func TestRecordBeforeCreate(t *testing.T) {
	rec, _, _ := rig(t, false)
	if _, err := rec.Record(Conditions{}); !errors.Is(err, datafile.ErrNotCreated) {
		t.Errorf("expected ErrNotCreated, got %v", err)
	}
}

func TestPointJSONNaNIsNull(t *testing.T) {
	p := Point{Conditions: Conditions{Time: t0, Temperature: 2, Position: math.NaN()}}
	p.Channels = []ChannelReading{{Name: "xx23", Reading: channel.Reading{X: 1, R: math.NaN()}}}
	b, err := p.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	for _, want := range []string{`"position":null`, `"temperature":2`, `"resistance":null`, `"name":"xx23"`} {
		if !strings.Contains(s, want) {
			t.Errorf("expected %s in %s", want, s)
		}
	}
}
