package datafile

import (
	"bufio"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Table is the content of a data file.  Missing values are NaN.
type Table struct {
	Title    string
	Comments []string

	// Columns includes the time stamp but not the comment column
	Columns []string
	Rows    [][]float64

	// RowComments holds the comment of each row
	RowComments []string
}

// Column returns the values of the named column
func (t *Table) Column(name string) ([]float64, error) {
	idx := -1
	for i, c := range t.Columns {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, errors.Wrapf(ErrUnknownColumn, "%q", name)
	}
	out := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r[idx]
	}
	return out, nil
}

// ReadFile reads the data file at path
func ReadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Read parses a data file.  The delimiter is taken from the column line.
func Read(r io.Reader) (*Table, error) {
	t := &Table{}
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 64*1024), 1024*1024)
	inData := false
	delim := ""
	lineNo := 0
	for scan.Scan() {
		lineNo++
		line := strings.TrimRight(scan.Text(), "\r")
		if !inData {
			switch {
			case line == "[Data]":
				inData = true
			case strings.HasPrefix(line, ";"):
				t.Comments = append(t.Comments, strings.TrimSpace(strings.TrimPrefix(line, ";")))
			case strings.HasPrefix(line, "TITLE,"):
				t.Title = strings.TrimPrefix(line, "TITLE,")
			}
			continue
		}
		if delim == "" {
			if !strings.HasPrefix(line, CommentColumn) {
				return nil, errors.Errorf("line %d: expected column line, got %q", lineNo, line)
			}
			rest := strings.TrimPrefix(line, CommentColumn)
			i := strings.Index(rest, TimeColumn)
			if i <= 0 {
				return nil, errors.Errorf("line %d: no %s column", lineNo, TimeColumn)
			}
			delim = rest[:i]
			t.Columns = strings.Split(strings.TrimPrefix(rest, delim), delim)
			continue
		}
		if line == "" {
			continue
		}
		fields := strings.Split(line, delim)
		if len(fields) != len(t.Columns)+1 {
			return nil, errors.Errorf("line %d: %d fields, expected %d", lineNo, len(fields), len(t.Columns)+1)
		}
		row := make([]float64, len(t.Columns))
		for i, s := range fields[1:] {
			s = strings.TrimSpace(s)
			if s == "" {
				row[i] = math.NaN()
				continue
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d column %q", lineNo, t.Columns[i])
			}
			row[i] = v
		}
		t.RowComments = append(t.RowComments, fields[0])
		t.Rows = append(t.Rows, row)
	}
	if err := scan.Err(); err != nil {
		return nil, err
	}
	if !inData {
		return nil, errors.New("no [Data] section")
	}
	return t, nil
}
