/*Package envsrv contains the machinery for a sample environment history.

It keeps the last N temperature and field readings of the rig, fed by the
recorder on every point, and returns them over HTTP.

*/
package envsrv

import (
	"encoding/json"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/nasa-jpl/cryosweep/recorder"
)

// circle is a fixed size ring buffer
type circle[T any] struct {
	buf    []T
	cursor int
	filled bool
}

func newCircle[T any](size int) circle[T] {
	return circle[T]{buf: make([]T, size)}
}

func (c *circle[T]) add(v T) {
	if c.cursor == len(c.buf) {
		c.cursor = 0
		c.filled = true
	}
	c.buf[c.cursor] = v
	c.cursor++
}

// contiguous copies the values from least to most recent
func (c *circle[T]) contiguous() []T {
	if !c.filled {
		return append([]T(nil), c.buf[:c.cursor]...)
	}
	out := make([]T, 0, len(c.buf))
	out = append(out, c.buf[c.cursor:]...)
	return append(out, c.buf[:c.cursor]...)
}

// Envmon is an environmental monitor that stores ring buffers of temperature
// and field and can serve the slices over HTTP.  It is a recorder.Sink.
type Envmon struct {
	mu    sync.Mutex
	t     circle[float64]
	h     circle[float64]
	times circle[time.Time]
}

type envdata struct {
	T    []*float64  `json:"temp"`
	H    []*float64  `json:"field"`
	Time []time.Time `json:"timestamp"`
}

// New creates a new Envmon holding up to capacity points
func New(capacity int) *Envmon {
	if capacity < 1 {
		capacity = 1
	}
	return &Envmon{
		t:     newCircle[float64](capacity),
		h:     newCircle[float64](capacity),
		times: newCircle[time.Time](capacity),
	}
}

// Name returns "history"
func (em *Envmon) Name() string { return "history" }

// Write appends the conditions of p
func (em *Envmon) Write(p recorder.Point) error {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.times.add(p.Time)
	em.t.add(p.Temperature)
	em.h.add(p.Field)
	return nil
}

// Close does nothing
func (em *Envmon) Close() error { return nil }

// nullable maps NaN to nil so it encodes as null
func nullable(in []float64) []*float64 {
	out := make([]*float64, len(in))
	for i := range in {
		if !math.IsNaN(in[i]) && !math.IsInf(in[i], 0) {
			out[i] = &in[i]
		}
	}
	return out
}

// HTTPYield returns an object over HTTP which contains arrays of temperature, field, and timestamps
func (em *Envmon) HTTPYield(w http.ResponseWriter, r *http.Request) {
	em.mu.Lock()
	s := envdata{
		T:    nullable(em.t.contiguous()),
		H:    nullable(em.h.contiguous()),
		Time: em.times.contiguous(),
	}
	em.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(s)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
