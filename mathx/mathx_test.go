package mathx

import (
	"math"
	"testing"
)

func TestRound(t *testing.T) {
	if got := Round(1.26, 0.1); math.Abs(got-1.3) > 1e-12 {
		t.Errorf("expected 1.3, got %f", got)
	}
	if got := Round(-1.26, 0.1); math.Abs(got+1.3) > 1e-12 {
		t.Errorf("expected -1.3, got %f", got)
	}
}

func TestIsClose(t *testing.T) {
	cases := []struct {
		a, b, atol, rtol float64
		want             bool
	}{
		{300, 300, 0, 0, true},
		{300.04, 300, 0.05, 1e-16, true},
		{300.06, 300, 0.05, 1e-16, false},
		{101, 100, 0, 0.01, true},
		{102, 100, 0, 0.01, false},
		{math.NaN(), 1, 1, 1, false},
		{math.Inf(1), math.Inf(1), 0, 0, true},
	}
	for _, c := range cases {
		if got := IsClose(c.a, c.b, c.atol, c.rtol); got != c.want {
			t.Errorf("IsClose(%v, %v, %v, %v) = %v, expected %v", c.a, c.b, c.atol, c.rtol, got, c.want)
		}
	}
}

func TestStepToward(t *testing.T) {
	if got := StepToward(0, 1, 0.25); got != 0.25 {
		t.Errorf("expected 0.25, got %f", got)
	}
	if got := StepToward(0, -1, 0.25); got != -0.25 {
		t.Errorf("expected -0.25, got %f", got)
	}
	if got := StepToward(0.9, 1, 0.25); got != 1 {
		t.Errorf("expected to land on target, got %f", got)
	}
}
