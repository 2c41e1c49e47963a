// Package config loads the rig configuration and run plans.
//
// Configuration is layered: built-in defaults, then the YAML file, then
// environment variables prefixed CRYOSWEEP_, where a double underscore
// separates levels (CRYOSWEEP_OUTPUT__DIR sets output.dir).
package config

import (
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/pkg/errors"
	yml "gopkg.in/yaml.v2"
)

// FileName is the default configuration file
const FileName = "cryosweep.yml"

// EnvPrefix prefixes environment overrides
const EnvPrefix = "CRYOSWEEP_"

// Output controls where and how data files are written
type Output struct {
	Dir          string `koanf:"dir" yaml:"dir"`
	Experiment   string `koanf:"experiment" yaml:"experiment"`
	Ext          string `koanf:"ext" yaml:"ext"`
	Delimiter    string `koanf:"delimiter" yaml:"delimiter"`
	Shared       bool   `koanf:"shared" yaml:"shared"`
	AddConfig    bool   `koanf:"add_config" yaml:"add_config"`
	AddTimestamp bool   `koanf:"add_timestamp" yaml:"add_timestamp"`
}

// Cryostat selects the cryostat controller
type Cryostat struct {
	// Kind is "bridge" for a MultiVu bridge server or "sim"
	Kind string `koanf:"kind" yaml:"kind"`

	// Addr is host:port of the bridge, or a serial port when Serial is set
	Addr   string `koanf:"addr" yaml:"addr"`
	Serial bool   `koanf:"serial" yaml:"serial"`

	Rotator bool `koanf:"rotator" yaml:"rotator"`

	// WaitTimeout bounds stabilization waits, in seconds; 0 waits forever
	WaitTimeout float64 `koanf:"wait_timeout" yaml:"wait_timeout"`
}

// Lockin is one measurement channel
type Lockin struct {
	// Kind is one of gpib, prologix-eth, tcp or mock
	Kind string `koanf:"kind" yaml:"kind"`

	// Addr is the serial port of a Prologix USB controller, the host of a
	// Prologix Ethernet controller, or host:port for tcp
	Addr     string `koanf:"addr" yaml:"addr"`
	GPIBAddr int    `koanf:"gpib_addr" yaml:"gpib_addr"`

	Label    string `koanf:"label" yaml:"label"`
	Contacts string `koanf:"contacts" yaml:"contacts"`
}

// Source is the drive current source
type Source struct {
	// Kind is "lockin", using the sine output of a lock-in through a series
	// resistor, or "fixed"
	Kind string `koanf:"kind" yaml:"kind"`

	// Lockin indexes Lockins for the lockin kind
	Lockin     int     `koanf:"lockin" yaml:"lockin"`
	Resistance float64 `koanf:"resistance" yaml:"resistance"`

	// Current is the fixed current in A
	Current float64 `koanf:"current" yaml:"current"`
}

// Timing of the sweep loop, in seconds
type Timing struct {
	Interval    float64 `koanf:"interval" yaml:"interval"`
	SettlePause float64 `koanf:"settle_pause" yaml:"settle_pause"`
}

// MQTT sink settings; disabled when Broker is empty
type MQTT struct {
	Broker   string `koanf:"broker" yaml:"broker"`
	Topic    string `koanf:"topic" yaml:"topic"`
	ClientID string `koanf:"client_id" yaml:"client_id"`
	QoS      int    `koanf:"qos" yaml:"qos"`
}

// SQL sink settings; disabled when DSN is empty
type SQL struct {
	DSN   string `koanf:"dsn" yaml:"dsn"`
	Table string `koanf:"table" yaml:"table"`
	Batch int    `koanf:"batch" yaml:"batch"`
}

// Sinks are the secondary destinations of points
type Sinks struct {
	MQTT       MQTT `koanf:"mqtt" yaml:"mqtt"`
	SQL        SQL  `koanf:"sql" yaml:"sql"`
	Prometheus bool `koanf:"prometheus" yaml:"prometheus"`
}

// HTTP server settings
type HTTP struct {
	Addr string `koanf:"addr" yaml:"addr"`

	// History is the number of points kept for /history
	History int `koanf:"history" yaml:"history"`

	// TemperatureRate (K/min) and FieldRate (Oe/s) apply to setpoints
	// sent over HTTP
	TemperatureRate float64 `koanf:"temperature_rate" yaml:"temperature_rate"`
	FieldRate       float64 `koanf:"field_rate" yaml:"field_rate"`
}

// Config is the whole rig configuration
type Config struct {
	Output   Output   `koanf:"output" yaml:"output"`
	Cryostat Cryostat `koanf:"cryostat" yaml:"cryostat"`
	Lockins  []Lockin `koanf:"lockins" yaml:"lockins"`
	Source   Source   `koanf:"source" yaml:"source"`
	Timing   Timing   `koanf:"timing" yaml:"timing"`
	Sinks    Sinks    `koanf:"sinks" yaml:"sinks"`
	HTTP     HTTP     `koanf:"http" yaml:"http"`
}

// Default returns a configuration that runs against a simulated cryostat and
// two mock lock-ins
func Default() Config {
	return Config{
		Output: Output{
			Dir:          "data",
			Experiment:   "sample",
			Ext:          "dat",
			Delimiter:    ",",
			AddConfig:    true,
			AddTimestamp: true,
		},
		Cryostat: Cryostat{Kind: "sim", Addr: "127.0.0.1:5000"},
		Lockins: []Lockin{
			{Kind: "mock", Label: "xx", Contacts: "23"},
			{Kind: "mock", Label: "xy", Contacts: "26"},
		},
		Source: Source{Kind: "lockin", Resistance: 1e6},
		Timing: Timing{Interval: 0.27, SettlePause: 0.5},
		Sinks: Sinks{
			MQTT: MQTT{Topic: "cryosweep/points", ClientID: "cryosweep"},
			SQL:  SQL{Table: "cryosweep_points", Batch: 20},
		},
		HTTP: HTTP{Addr: ":8000", History: 3600, TemperatureRate: 3, FieldRate: 80},
	}
}

// Load layers the defaults, the file at path (which may be missing) and the
// environment
func Load(path string) (Config, error) {
	c := Config{}
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return c, errors.Wrap(err, "loading defaults")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !os.IsNotExist(errors.Cause(err)) && !strings.Contains(err.Error(), "no such") {
			return c, errors.Wrapf(err, "loading %s", path)
		}
	}
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.Replace(s, "__", ".", -1)
	}), nil)
	if err != nil {
		return c, errors.Wrap(err, "loading environment")
	}
	err = k.Unmarshal("", &c)
	return c, errors.Wrap(err, "decoding configuration")
}

// Write encodes c as YAML
func Write(w io.Writer, c Config) error {
	return yml.NewEncoder(w).Encode(c)
}
