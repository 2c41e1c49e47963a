/*Package datafile writes and reads delimited data files in the MultiVu layout.

A file has a header block and a data block:

	[Header]
	; temperature sweep from 300.0 K to 290.0 K
	; Lock-in configuration:
	; Sine Out (V): 0.1
	TITLE,temperature sweep from 300.0 K to 290.0 K
	BYAPP,cryosweep,1.0.0
	FILEOPENTIME,1709294400,03/01/2024,12:00:00 pm
	[Data]
	Comment,Time Stamp (sec),Temperature (K),Field (Oe)
	,1709294400.270,300,0

The first two columns are always Comment and Time Stamp (sec).  Values are
set one column at a time and the whole row is appended by WriteData.
Columns with no value are written empty.  Header keywords always use commas;
the data block uses the file's delimiter.
*/
package datafile

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	// CommentColumn is the first column of every file
	CommentColumn = "Comment"

	// TimeColumn is the second column of every file, in unix seconds
	TimeColumn = "Time Stamp (sec)"

	// DefaultDelimiter is the delimiter MultiVu reads
	DefaultDelimiter = ","
)

var (
	// App is written in the BYAPP header line
	App = "cryosweep"

	// AppVersion is written in the BYAPP header line
	AppVersion = "dev"

	// ErrUnknownColumn is returned by SetValue for a column the file does not have
	ErrUnknownColumn = errors.New("unknown column")

	// ErrNotCreated is returned when writing before Create
	ErrNotCreated = errors.New("file not created")

	// ErrCreated is returned when adding columns after Create
	ErrCreated = errors.New("file already created")
)

// File is a data file being written
type File struct {
	delim   string
	columns []string
	index   map[string]int

	values  []float64
	set     []bool
	comment string

	path string
	f    *os.File
	w    *bufio.Writer
}

// New returns a File using delim between data values.  An empty delim is
// DefaultDelimiter.
func New(delim string) *File {
	if delim == "" {
		delim = DefaultDelimiter
	}
	return &File{delim: delim, index: map[string]int{}}
}

// AddColumns appends columns after the time stamp.  Columns already present
// are ignored, so several channels can share common columns.
func (f *File) AddColumns(cols ...string) error {
	if f.f != nil {
		return ErrCreated
	}
	for _, c := range cols {
		if c == CommentColumn || c == TimeColumn {
			continue
		}
		if _, ok := f.index[c]; ok {
			continue
		}
		f.index[c] = len(f.columns)
		f.columns = append(f.columns, c)
	}
	return nil
}

// Columns returns the data columns, excluding Comment and Time Stamp
func (f *File) Columns() []string {
	return append([]string{}, f.columns...)
}

// Path returns the path the file was created at
func (f *File) Path() string {
	return f.path
}

// Create creates the file at path, truncating it if it exists, and writes
// the header.  Every line of title is written as a comment; the first line is
// also the TITLE.  comments are written as further comment lines.
func (f *File) Create(path, title string, comments ...string) error {
	return f.CreateAt(path, title, time.Now(), comments...)
}

// CreateAt is Create with an explicit file open time
func (f *File) CreateAt(path, title string, opened time.Time, comments ...string) error {
	if f.f != nil {
		return ErrCreated
	}
	fid, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating data file")
	}
	f.f = fid
	f.w = bufio.NewWriter(fid)
	f.path = path
	f.values = make([]float64, len(f.columns))
	f.set = make([]bool, len(f.columns))

	lines := []string{"[Header]"}
	titleLines := strings.Split(strings.TrimRight(title, "\n"), "\n")
	for _, l := range append(titleLines, comments...) {
		lines = append(lines, "; "+strings.TrimPrefix(strings.TrimSpace(l), "; "))
	}
	lines = append(lines,
		"TITLE,"+strings.TrimSpace(titleLines[0]),
		fmt.Sprintf("BYAPP,%s,%s", App, AppVersion),
		fmt.Sprintf("FILEOPENTIME,%d,%s,%s", opened.Unix(), opened.Format("01/02/2006"), strings.ToLower(opened.Format("03:04:05 PM"))),
		"[Data]",
		strings.Join(append([]string{CommentColumn, TimeColumn}, f.columns...), f.delim),
	)
	for _, l := range lines {
		if _, err = f.w.WriteString(l + "\n"); err != nil {
			return err
		}
	}
	return f.w.Flush()
}

// SetValue stores v in column for the next row
func (f *File) SetValue(column string, v float64) error {
	i, ok := f.index[column]
	if !ok {
		return errors.Wrapf(ErrUnknownColumn, "%q", column)
	}
	if f.values == nil {
		return ErrNotCreated
	}
	f.values[i] = v
	f.set[i] = true
	return nil
}

// SetComment stores a comment for the next row
func (f *File) SetComment(c string) {
	c = strings.ReplaceAll(c, f.delim, " ")
	f.comment = strings.ReplaceAll(c, "\n", " ")
}

// WriteData appends the current row with time stamp ts, flushes it to disk
// and clears the row.  NaN values are written empty.
func (f *File) WriteData(ts time.Time) error {
	if f.w == nil {
		return ErrNotCreated
	}
	fields := make([]string, 0, len(f.columns)+2)
	secs := float64(ts.UnixNano()) / 1e9
	fields = append(fields, f.comment, strconv.FormatFloat(secs, 'f', 3, 64))
	for i := range f.columns {
		if f.set[i] && !math.IsNaN(f.values[i]) {
			fields = append(fields, strconv.FormatFloat(f.values[i], 'g', -1, 64))
		} else {
			fields = append(fields, "")
		}
		f.set[i] = false
	}
	f.comment = ""
	if _, err := f.w.WriteString(strings.Join(fields, f.delim) + "\n"); err != nil {
		return errors.Wrapf(err, "writing %s", f.path)
	}
	return errors.Wrapf(f.w.Flush(), "flushing %s", f.path)
}

// Close flushes and closes the file.  Closing a File never created is a no-op.
func (f *File) Close() error {
	if f.f == nil {
		return nil
	}
	err := f.w.Flush()
	if cerr := f.f.Close(); err == nil {
		err = cerr
	}
	f.f = nil
	f.w = nil
	return err
}
