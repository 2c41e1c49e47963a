package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	yml "gopkg.in/yaml.v2"
)

// Step kinds
const (
	StepTemperature = "temperature"
	StepField       = "field"
	StepPosition    = "position"
	StepCurrent     = "current"
	StepTime        = "time"
	StepPoints      = "points"
)

// ErrBadStep is returned for a plan step that can not run
var ErrBadStep = errors.New("invalid plan step")

// Step is one sweep of a plan.  Zero rates, tolerances and waits take the
// defaults of the sweep kind.  Times are in seconds.
type Step struct {
	Kind string `yaml:"kind"`

	Initial *float64 `yaml:"initial,omitempty"`
	End     float64  `yaml:"end"`

	// Rate is K/min, Oe/s, deg/s or A/s by kind
	Rate       float64 `yaml:"rate,omitempty"`
	RateToInit float64 `yaml:"rate_to_init,omitempty"`

	Approach string `yaml:"approach,omitempty"`
	Mode     string `yaml:"mode,omitempty"`

	Atol float64 `yaml:"atol,omitempty"`
	Rtol float64 `yaml:"rtol,omitempty"`

	WaitBefore *float64 `yaml:"wait_before,omitempty"`
	WaitAfter  *float64 `yaml:"wait_after,omitempty"`

	// Duration bounds a time step; zero runs until interrupted
	Duration float64 `yaml:"duration,omitempty"`

	// N is the row count of a points step
	N int `yaml:"n,omitempty"`

	Title string `yaml:"title,omitempty"`

	// Labels are "name:value" pairs for file names
	Labels []string `yaml:"labels,omitempty"`
}

// Validate checks the kind and the fields it needs
func (s Step) Validate() error {
	switch strings.ToLower(s.Kind) {
	case StepTemperature, StepField, StepPosition, StepTime:
	case StepCurrent:
		if !(s.Rate > 0) {
			return errors.Wrap(ErrBadStep, "current step needs a positive rate")
		}
	case StepPoints:
		if s.N < 1 {
			return errors.Wrap(ErrBadStep, "points step needs n >= 1")
		}
	default:
		return errors.Wrapf(ErrBadStep, "unknown kind %q", s.Kind)
	}
	return nil
}

// Plan is a sequence of steps run one after another
type Plan struct {
	Steps []Step `yaml:"steps"`
}

// LoadPlan converts a (path to a) yaml file into a Plan
func LoadPlan(path string) (Plan, error) {
	p := Plan{}
	f, err := os.Open(path)
	if err != nil {
		return p, err
	}
	defer f.Close()
	if err = yml.NewDecoder(f).Decode(&p); err != nil {
		return p, errors.Wrapf(err, "decoding plan %s", path)
	}
	for i, s := range p.Steps {
		if err = s.Validate(); err != nil {
			return p, errors.Wrapf(err, "step %d", i+1)
		}
	}
	return p, nil
}
