package protocol

import (
	"fmt"
	"strings"
)

// Attribute names one piece of controller state.
type Attribute string

const (
	AttrPower                   Attribute = "power"
	AttrMode                    Attribute = "mode"
	AttrCoolingSetpoint         Attribute = "cooling_setpoint"
	AttrHeatingSetpoint         Attribute = "heating_setpoint"
	AttrSetpointRangeEnabled    Attribute = "setpoint_range_enabled"
	AttrSetpointMode            Attribute = "setpoint_mode"
	AttrSetpointMinDifferential Attribute = "setpoint_min_differential"
	AttrCoolingLowerLimit       Attribute = "cooling_lower_limit"
	AttrHeatingLowerLimit       Attribute = "heating_lower_limit"
	AttrCoolingUpperLimit       Attribute = "cooling_upper_limit"
	AttrHeatingUpperLimit       Attribute = "heating_upper_limit"
	AttrFanSpeedCooling         Attribute = "fan_speed_cooling"
	AttrFanSpeedHeating         Attribute = "fan_speed_heating"
	AttrIndoorTemperature       Attribute = "indoor_temperature"
	AttrOutdoorTemperature      Attribute = "outdoor_temperature"
	AttrCleanFilter             Attribute = "clean_filter"
)

// Attributes lists every attribute in display order.
var Attributes = []Attribute{
	AttrPower,
	AttrMode,
	AttrCoolingSetpoint,
	AttrHeatingSetpoint,
	AttrFanSpeedCooling,
	AttrFanSpeedHeating,
	AttrIndoorTemperature,
	AttrOutdoorTemperature,
	AttrCleanFilter,
	AttrSetpointRangeEnabled,
	AttrSetpointMode,
	AttrSetpointMinDifferential,
	AttrCoolingLowerLimit,
	AttrCoolingUpperLimit,
	AttrHeatingLowerLimit,
	AttrHeatingUpperLimit,
}

// ParseAttribute resolves an attribute by name. Dashes are accepted in place
// of underscores.
func ParseAttribute(name string) (Attribute, error) {
	name = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	for _, a := range Attributes {
		if string(a) == name {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown attribute %q", name)
}

// OperationMode is the controller's operating mode.
type OperationMode uint8

const (
	ModeFan OperationMode = iota
	ModeDry
	ModeAuto
	ModeCool
	ModeHeat
	ModeVentilation
)

var modeNames = []string{"fan", "dry", "auto", "cool", "heat", "ventilation"}

func (m OperationMode) Valid() bool {
	return int(m) < len(modeNames)
}

func (m OperationMode) String() string {
	if !m.Valid() {
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
	return modeNames[m]
}

func (m OperationMode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid operation mode %d", uint8(m))
	}
	return []byte(m.String()), nil
}

func (m *OperationMode) UnmarshalText(text []byte) error {
	v, err := ParseOperationMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseOperationMode accepts a mode name in any case.
func ParseOperationMode(s string) (OperationMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range modeNames {
		if s == name {
			return OperationMode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown operation mode %q (expected one of %s)", s, strings.Join(modeNames, ", "))
}

// FanSpeed is a fan speed setting.
type FanSpeed uint8

const (
	FanAuto FanSpeed = iota
	FanLow
	FanMidLow
	FanMid
	FanMidHigh
	FanHigh
)

var fanNames = []string{"auto", "low", "mid-low", "mid", "mid-high", "high"}

func (f FanSpeed) Valid() bool {
	return int(f) < len(fanNames)
}

func (f FanSpeed) String() string {
	if !f.Valid() {
		return fmt.Sprintf("fan(%d)", uint8(f))
	}
	return fanNames[f]
}

func (f FanSpeed) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("invalid fan speed %d", uint8(f))
	}
	return []byte(f.String()), nil
}

func (f *FanSpeed) UnmarshalText(text []byte) error {
	v, err := ParseFanSpeed(string(text))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// ParseFanSpeed accepts a speed name in any case; underscores work as well
// as dashes.
func ParseFanSpeed(s string) (FanSpeed, error) {
	s = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	for i, name := range fanNames {
		if s == name {
			return FanSpeed(i), nil
		}
	}
	return 0, fmt.Errorf("unknown fan speed %q (expected one of %s)", s, strings.Join(fanNames, ", "))
}
