package recorder

import (
	"encoding/json"
	"math"
	"time"
)

// jsonFloat encodes NaN and infinities as null
type jsonFloat float64

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

type channelJSON struct {
	Name string    `json:"name"`
	X    jsonFloat `json:"x"`
	Y    jsonFloat `json:"y"`
	R    jsonFloat `json:"resistance"`
}

type pointJSON struct {
	Time        time.Time     `json:"time"`
	Temperature jsonFloat     `json:"temperature"`
	Field       jsonFloat     `json:"field"`
	Position    jsonFloat     `json:"position"`
	Current     jsonFloat     `json:"current"`
	Channels    []channelJSON `json:"channels"`
}

// MarshalJSON encodes the point with values that are not numbers as null
func (p Point) MarshalJSON() ([]byte, error) {
	out := pointJSON{
		Time:        p.Time,
		Temperature: jsonFloat(p.Temperature),
		Field:       jsonFloat(p.Field),
		Position:    jsonFloat(p.Position),
		Current:     jsonFloat(p.Current),
		Channels:    make([]channelJSON, len(p.Channels)),
	}
	for i, c := range p.Channels {
		out.Channels[i] = channelJSON{Name: c.Name, X: jsonFloat(c.X), Y: jsonFloat(c.Y), R: jsonFloat(c.R)}
	}
	return json.Marshal(out)
}
