package protocol

import (
	"fmt"
	"math"
)

const (
	// MinSetpoint and MaxSetpoint bound the set points accepted by the controller, in °C.
	MinSetpoint = 10.0
	MaxSetpoint = 32.0
)

// Command is one request to the controller. The set of commands is closed:
// only types in this package implement it.
type Command interface {
	// Opcode is the opcode sent on the wire. The response echoes it.
	Opcode() Opcode
	// Idempotent reports whether resending after an ambiguous timeout is safe.
	Idempotent() bool

	params() ([]Param, error)
	// requested holds the attribute values an accepted update establishes.
	requested() map[Attribute]any
}

type query struct{ op Opcode }

func (q query) Opcode() Opcode   { return q.op }
func (q query) Idempotent() bool { return true }

func (q query) params() ([]Param, error) {
	f, ok := byOpcode[q.op]
	if !ok {
		return nil, &EncodingError{Opcode: q.op, Msg: "not a registered query"}
	}
	return f.queryParams(), nil
}

func (q query) requested() map[Attribute]any { return nil }

// Query returns the query command for a readable feature opcode.
func Query(op Opcode) (Command, error) {
	f, ok := byOpcode[op]
	if !ok || f.query != op {
		return nil, fmt.Errorf("%s is not a query opcode", op)
	}
	return query{op: op}, nil
}

var (
	QueryPowerState    Command = query{op: OpQueryPowerState}
	QueryOperationMode Command = query{op: OpQueryOperationMode}
	QuerySetPoint      Command = query{op: OpQuerySetPoint}
	QueryFanSpeed      Command = query{op: OpQueryFanSpeed}
	QueryCleanFilter   Command = query{op: OpQueryCleanFilter}
	QuerySensors       Command = query{op: OpQuerySensors}
)

// SetPowerState switches the unit on or off.
type SetPowerState struct {
	On bool
}

func (SetPowerState) Opcode() Opcode   { return OpUpdatePowerState }
func (SetPowerState) Idempotent() bool { return false }

func (c SetPowerState) params() ([]Param, error) {
	return encodeValues(c.Opcode(), c.requested())
}

func (c SetPowerState) requested() map[Attribute]any {
	return map[Attribute]any{AttrPower: c.On}
}

// SetOperationMode changes the operating mode.
type SetOperationMode struct {
	Mode OperationMode
}

func (SetOperationMode) Opcode() Opcode   { return OpUpdateOperationMode }
func (SetOperationMode) Idempotent() bool { return false }

func (c SetOperationMode) params() ([]Param, error) {
	if !c.Mode.Valid() {
		return nil, &EncodingError{Opcode: c.Opcode(), Field: string(AttrMode), Msg: fmt.Sprintf("unknown mode %d", uint8(c.Mode))}
	}
	return encodeValues(c.Opcode(), c.requested())
}

func (c SetOperationMode) requested() map[Attribute]any {
	return map[Attribute]any{AttrMode: c.Mode}
}

// SetSetPoint changes both set points, in °C. The controller resolves them to
// 1/128 °C.
type SetSetPoint struct {
	Cooling float64
	Heating float64
}

func (SetSetPoint) Opcode() Opcode   { return OpUpdateSetPoint }
func (SetSetPoint) Idempotent() bool { return false }

func (c SetSetPoint) params() ([]Param, error) {
	for _, sp := range []struct {
		attr Attribute
		v    float64
	}{{AttrCoolingSetpoint, c.Cooling}, {AttrHeatingSetpoint, c.Heating}} {
		if v, attr := sp.v, sp.attr; v < MinSetpoint || v > MaxSetpoint || math.IsNaN(v) {
			return nil, &EncodingError{
				Opcode: c.Opcode(),
				Field:  string(attr),
				Msg:    fmt.Sprintf("%.1f°C outside %.0f..%.0f°C", v, MinSetpoint, MaxSetpoint),
			}
		}
	}
	return encodeValues(c.Opcode(), c.requested())
}

func (c SetSetPoint) requested() map[Attribute]any {
	return map[Attribute]any{
		AttrCoolingSetpoint: QuantizeTemperature(c.Cooling),
		AttrHeatingSetpoint: QuantizeTemperature(c.Heating),
	}
}

// SetFanSpeed changes the fan speed used while cooling and while heating.
type SetFanSpeed struct {
	Cooling FanSpeed
	Heating FanSpeed
}

func (SetFanSpeed) Opcode() Opcode   { return OpUpdateFanSpeed }
func (SetFanSpeed) Idempotent() bool { return false }

func (c SetFanSpeed) params() ([]Param, error) {
	if !c.Cooling.Valid() {
		return nil, &EncodingError{Opcode: c.Opcode(), Field: string(AttrFanSpeedCooling), Msg: fmt.Sprintf("unknown fan speed %d", uint8(c.Cooling))}
	}
	if !c.Heating.Valid() {
		return nil, &EncodingError{Opcode: c.Opcode(), Field: string(AttrFanSpeedHeating), Msg: fmt.Sprintf("unknown fan speed %d", uint8(c.Heating))}
	}
	return encodeValues(c.Opcode(), c.requested())
}

func (c SetFanSpeed) requested() map[Attribute]any {
	return map[Attribute]any{AttrFanSpeedCooling: c.Cooling, AttrFanSpeedHeating: c.Heating}
}

// ResetCleanFilterTimer clears the clean filter indicator.
type ResetCleanFilterTimer struct{}

func (ResetCleanFilterTimer) Opcode() Opcode   { return OpResetCleanFilterTime }
func (ResetCleanFilterTimer) Idempotent() bool { return false }

func (c ResetCleanFilterTimer) params() ([]Param, error) {
	return byOpcode[OpResetCleanFilterTime].queryParams(), nil
}

func (ResetCleanFilterTimer) requested() map[Attribute]any {
	return map[Attribute]any{AttrCleanFilter: false}
}

// Raw sends an arbitrary frame. Its effect is unknown, so it is never
// retried after a timeout.
type Raw struct {
	Op     Opcode
	Params []Param
}

func (c Raw) Opcode() Opcode { return c.Op }
func (Raw) Idempotent() bool { return false }

func (c Raw) params() ([]Param, error) {
	for _, p := range c.Params {
		if len(p.Value) > MaxFrameSize {
			return nil, &EncodingError{Opcode: c.Op, Field: fmt.Sprintf("0x%02x", p.ID), Msg: "value too long"}
		}
	}
	return c.Params, nil
}

func (Raw) requested() map[Attribute]any { return nil }

// Encode serializes a command into a single frame.
func Encode(cmd Command) ([]byte, error) {
	if cmd == nil {
		return nil, &EncodingError{Msg: "nil command"}
	}
	params, err := cmd.params()
	if err != nil {
		return nil, err
	}
	return Frame{Opcode: cmd.Opcode(), Params: params}.Bytes()
}

// Requested returns the attribute values a successful cmd establishes on
// the controller. Queries return nil.
func Requested(cmd Command) map[Attribute]any {
	return cmd.requested()
}

// encodeValues serializes values following the parameter layout of op's
// feature. Parameters are emitted in layout order.
func encodeValues(op Opcode, values map[Attribute]any) ([]Param, error) {
	f, ok := byOpcode[op]
	if !ok {
		return nil, &EncodingError{Opcode: op, Msg: "unknown opcode"}
	}
	var params []Param
	for _, spec := range f.params {
		v, ok := values[spec.attr]
		if spec.attr == "" || !ok {
			continue
		}
		raw, err := spec.encode(v)
		if err != nil {
			return nil, &EncodingError{Opcode: op, Field: string(spec.attr), Msg: err.Error()}
		}
		params = append(params, minimalParam(spec.id, raw))
	}
	return params, nil
}
