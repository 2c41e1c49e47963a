package cryostat

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Subsystem is a bitmask of the cryostat subsystems that can be waited on
type Subsystem uint8

const (
	// Temperature is the sample temperature control loop
	Temperature Subsystem = 1 << iota
	// Field is the superconducting magnet
	Field
	// Position is the horizontal rotator
	Position

	// All is every subsystem
	All = Temperature | Field | Position
)

// ErrUnknownSubsystem is returned when waiting on a subsystem that does not exist
var ErrUnknownSubsystem = errors.New("unknown subsystem")

// ParseSubsystems converts names such as "temperature" or "field" to a bitmask.
// "both" is temperature and field.
func ParseSubsystems(names ...string) (Subsystem, error) {
	var s Subsystem
	for _, n := range names {
		switch strings.ToLower(strings.TrimSpace(n)) {
		case "temperature", "temp":
			s |= Temperature
		case "field":
			s |= Field
		case "position", "pos":
			s |= Position
		case "both":
			s |= Temperature | Field
		case "all":
			s |= All
		default:
			return 0, errors.Wrapf(ErrUnknownSubsystem, "%q", n)
		}
	}
	return s, nil
}

func (s Subsystem) String() string {
	var parts []string
	if s&Temperature != 0 {
		parts = append(parts, "temperature")
	}
	if s&Field != 0 {
		parts = append(parts, "field")
	}
	if s&Position != 0 {
		parts = append(parts, "position")
	}
	return strings.Join(parts, "+")
}

// TemperatureStatus is the state of the temperature control loop
type TemperatureStatus int

// Temperature status codes reported by the controller
const (
	TempUnknown   TemperatureStatus = 0
	TempStable    TemperatureStatus = 1
	TempTracking  TemperatureStatus = 2
	TempNear      TemperatureStatus = 5
	TempChasing   TemperatureStatus = 6
	TempFilling   TemperatureStatus = 7
	TempStandby   TemperatureStatus = 10
	TempDisabled  TemperatureStatus = 13
	TempImpedance TemperatureStatus = 14
	TempFailure   TemperatureStatus = 15
)

var tempStatusNames = map[TemperatureStatus]string{
	TempUnknown:   "Unknown",
	TempStable:    "Stable",
	TempTracking:  "Tracking",
	TempNear:      "Near",
	TempChasing:   "Chasing",
	TempFilling:   "Filling",
	TempStandby:   "Standby",
	TempDisabled:  "Disabled",
	TempImpedance: "Impedance Not Functioning",
	TempFailure:   "Failure",
}

func (s TemperatureStatus) String() string { return codeName(tempStatusNames[s], int(s)) }

// Stable is true when the temperature has settled at its setpoint
func (s TemperatureStatus) Stable() bool { return s == TempStable }

// FieldStatus is the state of the magnet
type FieldStatus int

// Field status codes reported by the controller
const (
	FieldUnknown          FieldStatus = 0
	FieldStablePersistent FieldStatus = 1
	FieldSwitchWarming    FieldStatus = 2
	FieldSwitchCooling    FieldStatus = 3
	FieldStableDriven     FieldStatus = 4
	FieldIterating        FieldStatus = 5
	FieldCharging         FieldStatus = 6
	FieldDischarging      FieldStatus = 7
	FieldCurrentError     FieldStatus = 8
	FieldFailure          FieldStatus = 15
)

var fieldStatusNames = map[FieldStatus]string{
	FieldUnknown:          "Unknown",
	FieldStablePersistent: "Persistent Stable",
	FieldSwitchWarming:    "Persist Switch Warming",
	FieldSwitchCooling:    "Persist Switch Cooling",
	FieldStableDriven:     "Driven Stable",
	FieldIterating:        "Iterating",
	FieldCharging:         "Charging",
	FieldDischarging:      "Discharging",
	FieldCurrentError:     "Current Error",
	FieldFailure:          "Failure",
}

func (s FieldStatus) String() string { return codeName(fieldStatusNames[s], int(s)) }

// Stable is true when the magnet holds its setpoint, driven or persistent
func (s FieldStatus) Stable() bool {
	return s == FieldStablePersistent || s == FieldStableDriven
}

// PositionStatus is the state of the rotator
type PositionStatus int

// Position status codes reported by the controller
const (
	PosUnknown PositionStatus = 0
	PosStopped PositionStatus = 1
	PosMoving  PositionStatus = 5
	PosLimit   PositionStatus = 8
	PosIndex   PositionStatus = 9
	PosFailure PositionStatus = 15
)

var posStatusNames = map[PositionStatus]string{
	PosUnknown: "Unknown",
	PosStopped: "Stopped",
	PosMoving:  "Moving",
	PosLimit:   "At Limit",
	PosIndex:   "At Index",
	PosFailure: "Failure",
}

func (s PositionStatus) String() string { return codeName(posStatusNames[s], int(s)) }

// Stable is true when the rotator is not moving
func (s PositionStatus) Stable() bool {
	return s == PosStopped || s == PosLimit || s == PosIndex
}

// ChamberStatus is the state of the sample chamber
type ChamberStatus int

// Chamber status codes reported by the controller
const (
	ChamberUnknown         ChamberStatus = 0
	ChamberPurgedSealed    ChamberStatus = 1
	ChamberVentedSealed    ChamberStatus = 2
	ChamberSealed          ChamberStatus = 3
	ChamberPurging         ChamberStatus = 4
	ChamberVenting         ChamberStatus = 5
	ChamberPreHighVacuum   ChamberStatus = 6
	ChamberHighVacuum      ChamberStatus = 7
	ChamberPumpContinuous  ChamberStatus = 8
	ChamberFloodContinuous ChamberStatus = 9
	ChamberFailure         ChamberStatus = 15
)

var chamberStatusNames = map[ChamberStatus]string{
	ChamberUnknown:         "Unknown",
	ChamberPurgedSealed:    "Purged and Sealed",
	ChamberVentedSealed:    "Vented and Sealed",
	ChamberSealed:          "Sealed (condition unknown)",
	ChamberPurging:         "Performing Purge/Seal",
	ChamberVenting:         "Performing Vent/Seal",
	ChamberPreHighVacuum:   "Pre-HiVac",
	ChamberHighVacuum:      "HiVac",
	ChamberPumpContinuous:  "Pumping Continuously",
	ChamberFloodContinuous: "Flooding Continuously",
	ChamberFailure:         "Failure",
}

func (s ChamberStatus) String() string { return codeName(chamberStatusNames[s], int(s)) }

func codeName(name string, code int) string {
	if name == "" {
		return "code " + strconv.Itoa(code)
	}
	return name
}

// TemperatureApproach is how the controller approaches a temperature setpoint
type TemperatureApproach int

const (
	// FastSettle allows overshoot to settle quickly
	FastSettle TemperatureApproach = iota
	// NoOvershoot approaches from one side
	NoOvershoot
)

// ErrBadMode is returned when parsing an unknown approach or magnet mode
var ErrBadMode = errors.New("unknown mode")

// ParseTemperatureApproach accepts "fast settle" or "no overshoot"
func ParseTemperatureApproach(s string) (TemperatureApproach, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fast settle", "":
		return FastSettle, nil
	case "no overshoot":
		return NoOvershoot, nil
	}
	return 0, errors.Wrapf(ErrBadMode, "temperature approach %q", s)
}

func (a TemperatureApproach) String() string {
	if a == NoOvershoot {
		return "no overshoot"
	}
	return "fast settle"
}

// FieldApproach is how the magnet approaches a field setpoint
type FieldApproach int

const (
	// Linear ramps straight to the setpoint
	Linear FieldApproach = iota
	// FieldNoOvershoot approaches from one side
	FieldNoOvershoot
	// Oscillate rings down around the setpoint to reduce remanence
	Oscillate
)

// ParseFieldApproach accepts "linear", "no overshoot" or "oscillate"
func ParseFieldApproach(s string) (FieldApproach, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "linear", "":
		return Linear, nil
	case "no overshoot":
		return FieldNoOvershoot, nil
	case "oscillate":
		return Oscillate, nil
	}
	return 0, errors.Wrapf(ErrBadMode, "field approach %q", s)
}

func (a FieldApproach) String() string {
	switch a {
	case FieldNoOvershoot:
		return "no overshoot"
	case Oscillate:
		return "oscillate"
	}
	return "linear"
}

// FieldMode is the state the magnet is left in at the setpoint
type FieldMode int

const (
	// Persistent closes the persistent switch and ramps the supply down
	Persistent FieldMode = iota
	// Driven keeps the supply driving the magnet
	Driven
)

// ParseFieldMode accepts "driven" or "persistent"
func ParseFieldMode(s string) (FieldMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "driven", "":
		return Driven, nil
	case "persistent":
		return Persistent, nil
	}
	return 0, errors.Wrapf(ErrBadMode, "magnet mode %q", s)
}

func (m FieldMode) String() string {
	if m == Persistent {
		return "persistent"
	}
	return "driven"
}
