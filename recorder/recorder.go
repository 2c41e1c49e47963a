// Package recorder turns polled rig conditions into rows in data files, one
// file per channel or one shared file, and forwards each point to secondary
// sinks
package recorder

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nasa-jpl/cryosweep/channel"
	"github.com/nasa-jpl/cryosweep/datafile"
	"github.com/nasa-jpl/cryosweep/source"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Common column names, written to every file before the channel columns
const (
	TemperatureColumn = "Temperature (K)"
	FieldColumn       = "Field (Oe)"
	PositionColumn    = "Position (deg)"
	CurrentColumn     = "I (A)"
)

// CommonColumns are the columns shared by every channel
var CommonColumns = []string{TemperatureColumn, FieldColumn, PositionColumn, CurrentColumn}

// Conditions is the state of the sample environment at one instant.
// Position is NaN when there is no rotator.
type Conditions struct {
	Time        time.Time
	Temperature float64 // K
	Field       float64 // Oe
	Position    float64 // deg
}

// ChannelReading is the reading of one channel at a point
type ChannelReading struct {
	Name string
	channel.Reading
}

// Point is one polled sample of the whole rig
type Point struct {
	Conditions
	Current  float64 // A
	Channels []ChannelReading
}

// Sink receives every recorded point
type Sink interface {
	Name() string
	Write(Point) error
	Close() error
}

// Options controls file naming and layout
type Options struct {
	// Dir is created if it does not exist
	Dir        string
	Experiment string

	// Ext is the file extension without the dot, default "dat"
	Ext       string
	Delimiter string

	// Shared writes every channel into one file
	Shared bool

	// AddConfig writes each lock-in's configuration into the header
	AddConfig bool

	// AddTimestamp appends the creation time to file names
	AddTimestamp bool

	// Now defaults to time.Now
	Now func() time.Time
}

// Recorder writes points for a set of channels
type Recorder struct {
	opts Options
	reg  *channel.Registry
	src  source.CurrentSource

	files []*datafile.File
	sinks []Sink

	mu      sync.RWMutex
	last    Point
	hasLast bool
}

// New returns a Recorder for the channels in reg driven by src
func New(reg *channel.Registry, src source.CurrentSource, opts Options) (*Recorder, error) {
	if reg == nil || reg.Len() == 0 {
		return nil, errors.New("recorder needs at least one channel")
	}
	if src == nil {
		return nil, errors.New("recorder needs a current source")
	}
	if opts.Ext == "" {
		opts.Ext = "dat"
	}
	if opts.Experiment == "" {
		opts.Experiment = "sample"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, errors.Wrap(err, "creating output directory")
		}
	}
	return &Recorder{opts: opts, reg: reg, src: src}, nil
}

// AddSink adds a secondary sink
func (r *Recorder) AddSink(s Sink) {
	r.sinks = append(r.sinks, s)
}

// Now returns the recorder's notion of the current time
func (r *Recorder) Now() time.Time {
	return r.opts.Now()
}

// Source returns the current source
func (r *Recorder) Source() source.CurrentSource {
	return r.src
}

func (r *Recorder) closeFiles() error {
	var err error
	for _, f := range r.files {
		err = multierr.Append(err, f.Close())
	}
	r.files = nil
	return err
}

// configComments renders the lock-in configuration of ch and the source
func (r *Recorder) configComments(ch *channel.Channel, heading string) ([]string, error) {
	settings, err := ch.Instrument.Config()
	if err != nil {
		return nil, errors.Wrapf(err, "reading configuration of %s", ch.FullName())
	}
	out := []string{heading}
	for _, s := range settings {
		out = append(out, fmt.Sprintf("%s: %s", s.Name, s.Value))
	}
	if res, ok := r.src.Resistance(); ok {
		out = append(out, fmt.Sprintf("Source Resistance (Ohms): %g", res))
	}
	cur, err := r.src.Current()
	if err != nil {
		return nil, err
	}
	return append(out, fmt.Sprintf("Source Current (A): %g", cur)), nil
}

// CreateFiles closes any open files and creates a new set, returning their
// paths.  labels follow the channel labels in each file name.  On error no
// files are left open and Record fails until the next successful call.
func (r *Recorder) CreateFiles(title string, labels Labels) ([]string, error) {
	if err := r.closeFiles(); err != nil {
		log.Printf("recorder: closing previous files: %v", err)
	}
	stamp := ""
	if r.opts.AddTimestamp {
		stamp = "_t" + Timestamp(r.opts.Now())
	}
	name := func(l Labels) string {
		return filepath.Join(r.opts.Dir, Filename(r.opts.Experiment, l)+stamp+"."+r.opts.Ext)
	}

	var (
		files    []*datafile.File
		paths    []string
		attached = make([]*datafile.File, r.reg.Len())
	)
	abandon := func(err error) ([]string, error) {
		for _, f := range files {
			f.Close()
		}
		return nil, err
	}
	if r.opts.Shared {
		f := datafile.New(r.opts.Delimiter)
		if err := f.AddColumns(CommonColumns...); err != nil {
			return nil, err
		}
		var comments []string
		for i, ch := range r.reg.Channels() {
			if err := f.AddColumns(ch.Columns()...); err != nil {
				return nil, err
			}
			if r.opts.AddConfig {
				c, err := r.configComments(ch, fmt.Sprintf("Lock-in configuration (%s):", ch.FullName()))
				if err != nil {
					return nil, err
				}
				comments = append(comments, c...)
			}
			attached[i] = f
		}
		path := name(labels)
		if err := f.Create(path, title, comments...); err != nil {
			return nil, err
		}
		files, paths = append(files, f), append(paths, path)
	} else {
		for i, ch := range r.reg.Channels() {
			f := datafile.New(r.opts.Delimiter)
			if err := f.AddColumns(CommonColumns...); err != nil {
				return abandon(err)
			}
			if err := f.AddColumns(ch.Columns()...); err != nil {
				return abandon(err)
			}
			var comments []string
			if r.opts.AddConfig {
				c, err := r.configComments(ch, "Lock-in configuration:")
				if err != nil {
					return abandon(err)
				}
				comments = c
			}
			l := append(Labels{{"R", ch.Label}, {"cont", ch.Contacts}}, labels...)
			path := name(l)
			if err := f.Create(path, title, comments...); err != nil {
				return abandon(err)
			}
			attached[i] = f
			files, paths = append(files, f), append(paths, path)
		}
	}
	for i, ch := range r.reg.Channels() {
		ch.Attach(attached[i])
	}
	r.files = files
	return paths, nil
}

// Record reads the drive current and every channel, writes one row to each
// file and forwards the point to the sinks.  Sink errors are logged.
func (r *Recorder) Record(c Conditions) (Point, error) {
	if len(r.files) == 0 {
		return Point{}, datafile.ErrNotCreated
	}
	if c.Time.IsZero() {
		c.Time = r.opts.Now()
	}
	p := Point{Conditions: c}
	cur, err := r.src.Current()
	if err != nil {
		return p, errors.Wrap(err, "reading drive current")
	}
	p.Current = cur
	for _, ch := range r.reg.Channels() {
		rd, err := ch.Read(cur)
		if err != nil {
			return p, err
		}
		if err = ch.Set(rd); err != nil {
			return p, err
		}
		p.Channels = append(p.Channels, ChannelReading{Name: ch.FullName(), Reading: rd})
	}
	for _, f := range r.files {
		common := []struct {
			col string
			v   float64
		}{
			{TemperatureColumn, c.Temperature},
			{FieldColumn, c.Field},
			{PositionColumn, c.Position},
			{CurrentColumn, cur},
		}
		for _, cv := range common {
			if err = f.SetValue(cv.col, cv.v); err != nil {
				return p, err
			}
		}
		if err = f.WriteData(c.Time); err != nil {
			return p, err
		}
	}

	r.mu.Lock()
	r.last, r.hasLast = p, true
	r.mu.Unlock()

	for _, s := range r.sinks {
		if err := s.Write(p); err != nil {
			log.Printf("recorder: sink %s: %v", s.Name(), err)
		}
	}
	return p, nil
}

// Last returns the most recently recorded point
func (r *Recorder) Last() (Point, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last, r.hasLast
}

// Close closes the files and every sink
func (r *Recorder) Close() error {
	err := r.closeFiles()
	for _, s := range r.sinks {
		err = multierr.Append(err, errors.Wrapf(s.Close(), "closing sink %s", s.Name()))
	}
	return err
}
