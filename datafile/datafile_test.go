package datafile

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var opened = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestHeaderLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.dat")
	f := New("")
	f.AddColumns("Temperature (K)", "Field (Oe)")
	if err := f.CreateAt(path, "temperature sweep\nLock-in configuration:", opened, "Sine Out (V): 0.1"); err != nil {
		t.Fatal(err)
	}
	f.Close()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	expected := strings.Join([]string{
		"[Header]",
		"; temperature sweep",
		"; Lock-in configuration:",
		"; Sine Out (V): 0.1",
		"TITLE,temperature sweep",
		"BYAPP,cryosweep,dev",
		"FILEOPENTIME,1709294400,03/01/2024,12:00:00 pm",
		"[Data]",
		"Comment,Time Stamp (sec),Temperature (K),Field (Oe)",
		"",
	}, "\n")
	if string(b) != expected {
		t.Errorf("header mismatch\nexpected:\n%s\ngot:\n%s", expected, b)
	}
}

func TestRowsAppendAndClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "b.dat")
	f := New("\t")
	f.AddColumns("Temperature (K)", "Field (Oe)", "Temperature (K)")
	if len(f.Columns()) != 2 {
		t.Fatalf("expected duplicate columns to be ignored, got %v", f.Columns())
	}
	if err := f.CreateAt(path, "t", opened); err != nil {
		t.Fatal(err)
	}
	if err := f.AddColumns("late"); !errors.Is(err, ErrCreated) {
		t.Errorf("expected ErrCreated, got %v", err)
	}
	f.SetValue("Temperature (K)", 300)
	f.SetValue("Field (Oe)", 10)
	f.SetComment("start")
	if err := f.WriteData(opened.Add(270 * time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	f.SetValue("Field (Oe)", math.NaN())
	if err := f.WriteData(opened.Add(540 * time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	if err := f.SetValue("Pressure (Torr)", 1); !errors.Is(err, ErrUnknownColumn) {
		t.Errorf("expected ErrUnknownColumn, got %v", err)
	}
	f.Close()

	b, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	last2 := lines[len(lines)-2:]
	if last2[0] != "start\t1709294400.270\t300\t10" {
		t.Errorf("unexpected first row %q", last2[0])
	}
	if last2[1] != "\t1709294400.540\t\t" {
		t.Errorf("expected unset and NaN values written empty, got %q", last2[1])
	}

	tbl, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Title != "t" {
		t.Errorf("expected title t, got %q", tbl.Title)
	}
	temps, err := tbl.Column("Temperature (K)")
	if err != nil {
		t.Fatal(err)
	}
	if len(temps) != 2 || temps[0] != 300 || !math.IsNaN(temps[1]) {
		t.Errorf("unexpected temperature column %v", temps)
	}
	ts, _ := tbl.Column(TimeColumn)
	if math.Abs(ts[1]-1709294400.54) > 1e-6 {
		t.Errorf("unexpected time stamp %f", ts[1])
	}
	if tbl.RowComments[0] != "start" {
		t.Errorf("expected row comment start, got %q", tbl.RowComments[0])
	}
}

func TestWriteBeforeCreate(t *testing.T) {
	f := New(",")
	if err := f.WriteData(time.Now()); !errors.Is(err, ErrNotCreated) {
		t.Errorf("expected ErrNotCreated, got %v", err)
	}
	if err := f.Close(); err != nil {
		t.Errorf("expected closing an uncreated file to be a no-op, got %v", err)
	}
}

func TestReadRejectsGarbage(t *testing.T) {
	if _, err := Read(strings.NewReader("hello\nworld\n")); err == nil {
		t.Error("expected error for a file without [Data]")
	}
	in := "[Header]\n[Data]\nComment,Time Stamp (sec),A\n,1,2,3\n"
	if _, err := Read(strings.NewReader(in)); err == nil {
		t.Error("expected error for a row with too many fields")
	}
}
