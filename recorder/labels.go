package recorder

import (
	"fmt"
	"strings"
	"time"
)

// Label is one name/value pair inserted into a file name, such as T= 1.8K
type Label struct {
	Name  string
	Value string
}

// Labels is an ordered list of labels
type Labels []Label

// ParseLabels converts "name:value" pairs to Labels, in order
func ParseLabels(pairs []string) (Labels, error) {
	out := make(Labels, 0, len(pairs))
	for _, p := range pairs {
		i := strings.IndexByte(p, ':')
		if i < 0 {
			return nil, fmt.Errorf("label %q is not name:value", p)
		}
		out = append(out, Label{Name: p[:i], Value: p[i+1:]})
	}
	return out, nil
}

// Filename joins experiment and labels as experiment_<name><value>...
// without directory or extension
func Filename(experiment string, labels Labels) string {
	var b strings.Builder
	b.WriteString(experiment)
	for _, l := range labels {
		b.WriteString("_")
		b.WriteString(l.Name)
		b.WriteString(l.Value)
	}
	return b.String()
}

// Timestamp renders t as Y-M-D_h-m-s.micro without zero padding
func Timestamp(t time.Time) string {
	return fmt.Sprintf("%d-%d-%d_%d-%d-%d.%d",
		t.Year(), int(t.Month()), t.Day(),
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond()/1000)
}
