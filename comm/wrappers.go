package comm

import (
	"errors"
	"io"
	"time"
)

// ErrNoDeadline is returned by NewTimeout when the wrapped connection can not
// have a deadline set on it
var ErrNoDeadline = errors.New("connection does not support deadlines")

type deadliner interface {
	SetDeadline(time.Time) error
}

// Terminator wraps a ReadWriter, appending Tx to every Write and reading
// until Rx on every Read
type Terminator struct {
	rw io.ReadWriter
	tx byte
	rx byte
}

// NewTerminator returns a Terminator around rw
func NewTerminator(rw io.ReadWriter, tx, rx byte) *Terminator {
	return &Terminator{rw: rw, tx: tx, rx: rx}
}

// Write writes p followed by the Tx terminator.  The returned count excludes
// the terminator.
func (t *Terminator) Write(p []byte) (int, error) {
	buf := make([]byte, 0, len(p)+1)
	buf = append(buf, p...)
	buf = append(buf, t.tx)
	n, err := t.rw.Write(buf)
	if n > len(p) {
		n = len(p)
	}
	return n, err
}

// Read reads one byte at a time until the Rx terminator is seen or p is full.
// The terminator is included in p.  Reading byte-wise never consumes part of
// the next message.
func (t *Terminator) Read(p []byte) (int, error) {
	var one [1]byte
	n := 0
	for n < len(p) {
		_, err := io.ReadFull(t.rw, one[:])
		if err != nil {
			return n, err
		}
		p[n] = one[0]
		n++
		if one[0] == t.rx {
			return n, nil
		}
	}
	return n, ErrTerminatorNotFound
}

// SetDeadline forwards to the wrapped connection when it supports deadlines
func (t *Terminator) SetDeadline(tm time.Time) error {
	if d, ok := t.rw.(deadliner); ok {
		return d.SetDeadline(tm)
	}
	return ErrNoDeadline
}

// NewTimeout sets a deadline of now+timeout on rw and returns it.  Serial
// ports and other connections without deadlines are returned unchanged.
func NewTimeout(rw io.ReadWriter, timeout time.Duration) (io.ReadWriter, error) {
	d, ok := rw.(deadliner)
	if !ok {
		return rw, nil
	}
	err := d.SetDeadline(time.Now().Add(timeout))
	if errors.Is(err, ErrNoDeadline) {
		return rw, nil
	}
	return rw, err
}
