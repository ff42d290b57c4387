package protocol

import (
	"fmt"
	"math"
)

const tempScale = 128.0

// QuantizeTemperature rounds celsius to the 1/128 °C steps the controller
// stores, which is the value a later query reports back.
func QuantizeTemperature(celsius float64) float64 {
	return math.Round(celsius*tempScale) / tempScale
}

// Feature opcodes.
const (
	OpQueryPowerState      Opcode = 0x0020
	OpUpdatePowerState     Opcode = 0x4020
	OpQueryOperationMode   Opcode = 0x0030
	OpUpdateOperationMode  Opcode = 0x4030
	OpQuerySetPoint        Opcode = 0x0040
	OpUpdateSetPoint       Opcode = 0x4040
	OpQueryFanSpeed        Opcode = 0x0050
	OpUpdateFanSpeed       Opcode = 0x4050
	OpQueryCleanFilter     Opcode = 0x0100
	OpQuerySensors         Opcode = 0x0110
	OpResetCleanFilterTime Opcode = 0x4220
)

// paramSpec describes one parameter of a feature's fixed layout.
type paramSpec struct {
	id       byte
	attr     Attribute
	fallback uint64
	decode   func(uint64) any
	encode   func(any) (uint64, error)
}

// feature groups the query and update opcodes sharing one parameter layout.
type feature struct {
	name   string
	query  Opcode
	update Opcode
	params []paramSpec
}

func boolParam(id byte, attr Attribute) paramSpec {
	return paramSpec{
		id:   id,
		attr: attr,
		decode: func(v uint64) any {
			return v != 0
		},
		encode: func(v any) (uint64, error) {
			b, ok := v.(bool)
			if !ok {
				return 0, fmt.Errorf("expected bool, got %T", v)
			}
			if b {
				return 1, nil
			}
			return 0, nil
		},
	}
}

func tempParam(id byte, attr Attribute) paramSpec {
	return paramSpec{
		id:   id,
		attr: attr,
		decode: func(v uint64) any {
			return float64(v) / tempScale
		},
		encode: func(v any) (uint64, error) {
			f, ok := v.(float64)
			if !ok {
				return 0, fmt.Errorf("expected float64, got %T", v)
			}
			if f < 0 || math.IsNaN(f) {
				return 0, fmt.Errorf("temperature %v not representable", f)
			}
			return uint64(math.Round(f * tempScale)), nil
		},
	}
}

func intParam(id byte, attr Attribute) paramSpec {
	return paramSpec{
		id:   id,
		attr: attr,
		decode: func(v uint64) any {
			return int(v)
		},
		encode: func(v any) (uint64, error) {
			i, ok := v.(int)
			if !ok || i < 0 {
				return 0, fmt.Errorf("expected non-negative int, got %v", v)
			}
			return uint64(i), nil
		},
	}
}

// sensorParam reports 0xFF as a missing sensor, decoded as nil.
func sensorParam(id byte, attr Attribute) paramSpec {
	return paramSpec{
		id:       id,
		attr:     attr,
		fallback: 0xFF,
		decode: func(v uint64) any {
			if v == 0xFF {
				return nil
			}
			return int(v)
		},
		encode: func(v any) (uint64, error) {
			if v == nil {
				return 0xFF, nil
			}
			i, ok := v.(int)
			if !ok || i < 0 || i >= 0xFF {
				return 0, fmt.Errorf("expected sensor reading 0..254, got %v", v)
			}
			return uint64(i), nil
		},
	}
}

func modeParam(id byte, attr Attribute) paramSpec {
	return paramSpec{
		id:       id,
		attr:     attr,
		fallback: uint64(ModeAuto),
		decode: func(v uint64) any {
			return OperationMode(v)
		},
		encode: func(v any) (uint64, error) {
			m, ok := v.(OperationMode)
			if !ok || !m.Valid() {
				return 0, fmt.Errorf("expected operation mode, got %v", v)
			}
			return uint64(m), nil
		},
	}
}

func fanParam(id byte, attr Attribute) paramSpec {
	return paramSpec{
		id:   id,
		attr: attr,
		decode: func(v uint64) any {
			return FanSpeed(v)
		},
		encode: func(v any) (uint64, error) {
			f, ok := v.(FanSpeed)
			if !ok || !f.Valid() {
				return 0, fmt.Errorf("expected fan speed, got %v", v)
			}
			return uint64(f), nil
		},
	}
}

// rawParam is queried and passed through in the frame but not mapped to an
// attribute.
func rawParam(id byte) paramSpec {
	return paramSpec{id: id}
}

var features = []*feature{
	{
		name:   "power",
		query:  OpQueryPowerState,
		update: OpUpdatePowerState,
		params: []paramSpec{boolParam(0x20, AttrPower)},
	},
	{
		name:   "mode",
		query:  OpQueryOperationMode,
		update: OpUpdateOperationMode,
		params: []paramSpec{modeParam(0x20, AttrMode)},
	},
	{
		name:   "setpoint",
		query:  OpQuerySetPoint,
		update: OpUpdateSetPoint,
		params: []paramSpec{
			tempParam(0x20, AttrCoolingSetpoint),
			tempParam(0x21, AttrHeatingSetpoint),
			boolParam(0x30, AttrSetpointRangeEnabled),
			intParam(0x31, AttrSetpointMode),
			intParam(0x32, AttrSetpointMinDifferential),
			rawParam(0xA0),
			rawParam(0xA1),
			tempParam(0xA2, AttrCoolingLowerLimit),
			tempParam(0xA3, AttrHeatingLowerLimit),
			rawParam(0xA4),
			rawParam(0xA5),
			rawParam(0xB0),
			rawParam(0xB1),
			tempParam(0xB2, AttrCoolingUpperLimit),
			tempParam(0xB3, AttrHeatingUpperLimit),
			rawParam(0xB4),
			rawParam(0xB5),
		},
	},
	{
		name:   "fan",
		query:  OpQueryFanSpeed,
		update: OpUpdateFanSpeed,
		params: []paramSpec{
			fanParam(0x20, AttrFanSpeedCooling),
			fanParam(0x21, AttrFanSpeedHeating),
		},
	},
	{
		name:   "clean_filter",
		query:  OpQueryCleanFilter,
		params: []paramSpec{boolParam(0x62, AttrCleanFilter)},
	},
	{
		name:  "sensors",
		query: OpQuerySensors,
		params: []paramSpec{
			sensorParam(0x40, AttrIndoorTemperature),
			sensorParam(0x41, AttrOutdoorTemperature),
		},
	},
	{
		name:   "reset_filter_timer",
		update: OpResetCleanFilterTime,
		params: []paramSpec{{id: 0xFE, fallback: 1}},
	},
}

var byOpcode = func() map[Opcode]*feature {
	m := make(map[Opcode]*feature)
	for _, f := range features {
		if f.query != 0 {
			m[f.query] = f
		}
		if f.update != 0 {
			m[f.update] = f
		}
	}
	return m
}()

// FeatureName returns the registry name of the feature behind op.
func FeatureName(op Opcode) (string, bool) {
	f, ok := byOpcode[op]
	if !ok {
		return "", false
	}
	return f.name, true
}

// ReadableFeatures returns the query opcodes of every feature that can be read.
func ReadableFeatures() []Opcode {
	var ops []Opcode
	for _, f := range features {
		if f.query != 0 {
			ops = append(ops, f.query)
		}
	}
	return ops
}

// FeatureAttributes returns the attributes carried by the feature behind op,
// in layout order.
func FeatureAttributes(op Opcode) []Attribute {
	f, ok := byOpcode[op]
	if !ok {
		return nil
	}
	var attrs []Attribute
	for _, p := range f.params {
		if p.attr != "" {
			attrs = append(attrs, p.attr)
		}
	}
	return attrs
}

// QueryFor returns the query opcode of the feature that reports attr.
func QueryFor(attr Attribute) (Opcode, bool) {
	for _, f := range features {
		if f.query != 0 && f.carries(attr) {
			return f.query, true
		}
	}
	return 0, false
}

func (f *feature) spec(id byte) (paramSpec, bool) {
	for _, p := range f.params {
		if p.id == id {
			return p, true
		}
	}
	return paramSpec{}, false
}

// queryParams returns the parameters a query sends: every parameter of the
// layout with its fallback value.
func (f *feature) queryParams() []Param {
	params := make([]Param, 0, len(f.params))
	for _, p := range f.params {
		params = append(params, minimalParam(p.id, p.fallback))
	}
	return params
}

// minimalParam encodes v in the fewest bytes that hold it, never fewer than one.
func minimalParam(id byte, v uint64) Param {
	width := 1
	for x := v >> 8; x > 0; x >>= 8 {
		width++
	}
	return UintParam(id, v, width)
}
