package envsrv

import (
	"encoding/json"
	"math"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nasa-jpl/cryosweep/recorder"
)

func TestRingWraps(t *testing.T) {
	c := newCircle[float64](3)
	for i := 1; i <= 5; i++ {
		c.add(float64(i))
	}
	got := c.contiguous()
	if len(got) != 3 || got[0] != 3 || got[2] != 5 {
		t.Errorf("expected [3 4 5], got %v", got)
	}
}

func TestHTTPYield(t *testing.T) {
	em := New(2)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		em.Write(recorder.Point{Conditions: recorder.Conditions{
			Time:        t0.Add(time.Duration(i) * time.Second),
			Temperature: 300 - float64(i),
			Field:       math.NaN(),
		}})
	}
	w := httptest.NewRecorder()
	em.HTTPYield(w, httptest.NewRequest("GET", "/history", nil))
	var out struct {
		T    []*float64  `json:"temp"`
		H    []*float64  `json:"field"`
		Time []time.Time `json:"timestamp"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.T) != 2 || *out.T[0] != 299 || *out.T[1] != 298 {
		t.Errorf("unexpected temperatures %v", out.T)
	}
	if out.H[0] != nil {
		t.Error("expected NaN field to encode as null")
	}
	if !out.Time[1].Equal(t0.Add(2 * time.Second)) {
		t.Errorf("unexpected timestamps %v", out.Time)
	}
}
