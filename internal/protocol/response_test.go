package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeResponse_Queries(t *testing.T) {
	tests := []struct {
		name     string
		frame    string
		expected map[Attribute]any
	}{
		{
			name:     "power on",
			frame:    "07:00:00:20:20:01:01",
			expected: map[Attribute]any{AttrPower: true},
		},
		{
			name:     "mode heat",
			frame:    "07:00:00:30:20:01:04",
			expected: map[Attribute]any{AttrMode: ModeHeat},
		},
		{
			name:     "fan speeds",
			frame:    "0a:00:00:50:20:01:01:21:01:01",
			expected: map[Attribute]any{AttrFanSpeedCooling: FanLow, AttrFanSpeedHeating: FanLow},
		},
		{
			name:     "set points",
			frame:    "0c:00:00:40:20:02:0c:80:21:02:0b:00",
			expected: map[Attribute]any{AttrCoolingSetpoint: 25.0, AttrHeatingSetpoint: 22.0},
		},
		{
			name:     "sensors with missing outdoor unit",
			frame:    "0a:00:01:10:40:01:15:41:01:ff",
			expected: map[Attribute]any{AttrIndoorTemperature: 21, AttrOutdoorTemperature: nil},
		},
		{
			name:     "clean filter",
			frame:    "07:00:01:00:62:01:01",
			expected: map[Attribute]any{AttrCleanFilter: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseHex(tt.frame)
			require.NoError(t, err)

			resp, err := DecodeResponse(f)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, resp.Values)
			assert.Equal(t, f.Opcode, resp.Opcode())
		})
	}
}

func TestDecodeResponse_UpdateAckCarriesNoValues(t *testing.T) {
	resp, err := DecodeResponse(Ack(OpUpdatePowerState, 0))
	require.NoError(t, err)
	assert.Nil(t, resp.Values, "acknowledgements MUST NOT be read as state")

	// an echo of the request is an ack too
	f, err := ParseHex("07:00:40:20:20:01:01")
	require.NoError(t, err)
	resp, err = DecodeResponse(f)
	require.NoError(t, err)
	assert.Nil(t, resp.Values)
}

func TestDecodeResponse_Rejected(t *testing.T) {
	_, err := DecodeResponse(Ack(OpUpdateSetPoint, 0x03))

	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, byte(0x03), rejected.Code)
	assert.Equal(t, OpUpdateSetPoint, rejected.Opcode)
	assert.True(t, IsRejected(err))
}

func TestDecodeResponse_UnknownOpcode(t *testing.T) {
	f := Frame{Opcode: 0x0777, Params: []Param{{ID: 0x10, Value: []byte{1}}}}

	resp, err := DecodeResponse(f)
	assert.ErrorIs(t, err, ErrUnknownOpcode)
	assert.Equal(t, f, resp.Frame, "unknown frames MUST still be returned undecoded")
}

func TestQueryResponse_RoundTrip(t *testing.T) {
	tests := []struct {
		op     Opcode
		values map[Attribute]any
	}{
		{OpQueryPowerState, map[Attribute]any{AttrPower: false}},
		{OpQueryOperationMode, map[Attribute]any{AttrMode: ModeVentilation}},
		{OpQuerySetPoint, map[Attribute]any{
			AttrCoolingSetpoint:         24.5,
			AttrHeatingSetpoint:         19.0,
			AttrSetpointRangeEnabled:    true,
			AttrSetpointMode:            1,
			AttrSetpointMinDifferential: 2,
			AttrCoolingLowerLimit:       18.0,
			AttrCoolingUpperLimit:       32.0,
			AttrHeatingLowerLimit:       12.0,
			AttrHeatingUpperLimit:       30.0,
		}},
		{OpQueryFanSpeed, map[Attribute]any{AttrFanSpeedCooling: FanMidHigh, AttrFanSpeedHeating: FanAuto}},
		{OpQuerySensors, map[Attribute]any{AttrIndoorTemperature: 23, AttrOutdoorTemperature: 8}},
		{OpQueryCleanFilter, map[Attribute]any{AttrCleanFilter: false}},
	}

	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			f, err := QueryResponse(tt.op, tt.values)
			require.NoError(t, err)

			raw, err := f.Bytes()
			require.NoError(t, err)

			decoded, n, err := Decode(raw)
			require.NoError(t, err)
			assert.Equal(t, len(raw), n)

			resp, err := DecodeResponse(decoded)
			require.NoError(t, err)
			assert.Equal(t, tt.values, resp.Values, "decode(encode(response)) MUST reproduce the response")
		})
	}
}

func TestQueryResponse_Errors(t *testing.T) {
	_, err := QueryResponse(OpUpdatePowerState, map[Attribute]any{AttrPower: true})
	assert.ErrorIs(t, err, ErrEncoding)

	_, err = QueryResponse(OpQueryPowerState, map[Attribute]any{AttrMode: ModeCool})
	assert.ErrorIs(t, err, ErrEncoding)

	_, err = QueryResponse(OpQueryPowerState, map[Attribute]any{AttrPower: "yes"})
	assert.ErrorIs(t, err, ErrEncoding)
}

func TestCommands_Requested(t *testing.T) {
	assert.Nil(t, Requested(QueryPowerState))
	assert.Equal(t, map[Attribute]any{AttrPower: true}, Requested(SetPowerState{On: true}))
	assert.Equal(t, map[Attribute]any{AttrCleanFilter: false}, Requested(ResetCleanFilterTimer{}))
	assert.True(t, QueryFanSpeed.Idempotent())
	assert.False(t, SetFanSpeed{}.Idempotent())
	assert.False(t, Raw{Op: OpQueryPowerState}.Idempotent())
}

func TestSetSetPoint_RequestedMatchesWire(t *testing.T) {
	cmd := SetSetPoint{Cooling: 23.3, Heating: 21}

	frame, err := Encode(cmd)
	require.NoError(t, err)
	f, _, err := Decode(frame)
	require.NoError(t, err)
	onWire, err := DecodeRequest(f)
	require.NoError(t, err)

	assert.Equal(t, onWire, Requested(cmd), "the optimistic values MUST be what the controller will report back")
	assert.Equal(t, 23.296875, Requested(cmd)[AttrCoolingSetpoint])
	assert.Equal(t, 21.0, QuantizeTemperature(21))
}

func TestDecodeRequest(t *testing.T) {
	frame, err := Encode(SetSetPoint{Cooling: 24.5, Heating: 20})
	require.NoError(t, err)
	f, _, err := Decode(frame)
	require.NoError(t, err)

	values, err := DecodeRequest(f)
	require.NoError(t, err)
	assert.Equal(t, map[Attribute]any{AttrCoolingSetpoint: 24.5, AttrHeatingSetpoint: 20.0}, values,
		"the controller MUST read back exactly the requested set points")

	_, err = DecodeRequest(Frame{Opcode: OpQueryPowerState})
	assert.ErrorIs(t, err, ErrUnknownOpcode, "queries are not update requests")

	assert.Equal(t, []Attribute{AttrIndoorTemperature, AttrOutdoorTemperature}, FeatureAttributes(OpQuerySensors))
	assert.Nil(t, FeatureAttributes(0x0999))
}

func TestQuery_Lookup(t *testing.T) {
	cmd, err := Query(OpQuerySensors)
	require.NoError(t, err)
	assert.Equal(t, QuerySensors, cmd)

	_, err = Query(OpUpdateFanSpeed)
	assert.Error(t, err)

	assert.Len(t, ReadableFeatures(), 6)
}

func TestParseEnums(t *testing.T) {
	mode, err := ParseOperationMode("COOL")
	require.NoError(t, err)
	assert.Equal(t, ModeCool, mode)

	fan, err := ParseFanSpeed("mid_high")
	require.NoError(t, err)
	assert.Equal(t, FanMidHigh, fan)

	_, err = ParseFanSpeed("turbo")
	assert.Error(t, err)

	attr, err := ParseAttribute("fan-speed-cooling")
	require.NoError(t, err)
	assert.Equal(t, AttrFanSpeedCooling, attr)

	text, err := ModeDry.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "dry", string(text))
}

func TestQueryFor(t *testing.T) {
	for _, attr := range Attributes {
		op, ok := QueryFor(attr)
		require.True(t, ok, "%s MUST be readable", attr)
		assert.Contains(t, FeatureAttributes(op), attr)
	}

	op, _ := QueryFor(AttrHeatingUpperLimit)
	assert.Equal(t, OpQuerySetPoint, op)

	_, ok := QueryFor("turbo")
	assert.False(t, ok)
}
