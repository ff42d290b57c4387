package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/srg/brc1h/internal/protocol"
	"github.com/srg/brc1h/internal/state"
)

var (
	// ErrInvalidPayload means a command payload could not be parsed.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrReadOnly means the attribute cannot be written.
	ErrReadOnly = errors.New("attribute is read-only")
	// ErrUnknownState means the command needs a paired value that has not
	// been read from the controller yet.
	ErrUnknownState = errors.New("paired value not known yet")
)

// Translate maps a write to an attribute's command topic to a controller
// command.
//
// Set points and fan speeds travel in pairs on the wire; the half the
// payload does not carry is taken from current.
func Translate(attr protocol.Attribute, payload []byte, current state.DeviceState) (protocol.Command, error) {
	text := payloadText(payload)

	switch attr {
	case protocol.AttrPower:
		on, err := parseBool(text)
		if err != nil {
			return nil, err
		}
		return protocol.SetPowerState{On: on}, nil

	case protocol.AttrMode:
		mode, err := protocol.ParseOperationMode(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		return protocol.SetOperationMode{Mode: mode}, nil

	case protocol.AttrCoolingSetpoint, protocol.AttrHeatingSetpoint:
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: set point %q is not a number", ErrInvalidPayload, text)
		}
		cmd := protocol.SetSetPoint{}
		if attr == protocol.AttrCoolingSetpoint {
			cmd.Cooling = v
			cmd.Heating, err = known[float64](current, protocol.AttrHeatingSetpoint)
		} else {
			cmd.Heating = v
			cmd.Cooling, err = known[float64](current, protocol.AttrCoolingSetpoint)
		}
		if err != nil {
			return nil, err
		}
		return cmd, nil

	case protocol.AttrFanSpeedCooling, protocol.AttrFanSpeedHeating:
		speed, err := protocol.ParseFanSpeed(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		cmd := protocol.SetFanSpeed{}
		if attr == protocol.AttrFanSpeedCooling {
			cmd.Cooling = speed
			cmd.Heating, err = known[protocol.FanSpeed](current, protocol.AttrFanSpeedHeating)
		} else {
			cmd.Heating = speed
			cmd.Cooling, err = known[protocol.FanSpeed](current, protocol.AttrFanSpeedCooling)
		}
		if err != nil {
			return nil, err
		}
		return cmd, nil

	case protocol.AttrCleanFilter:
		// Only clearing the indicator is possible.
		if strings.EqualFold(text, "reset") {
			return protocol.ResetCleanFilterTimer{}, nil
		}
		if on, err := parseBool(text); err == nil && !on {
			return protocol.ResetCleanFilterTimer{}, nil
		}
		return nil, fmt.Errorf("%w: clean_filter accepts \"reset\" or false, got %q", ErrInvalidPayload, text)
	}

	return nil, fmt.Errorf("%w: %s", ErrReadOnly, attr)
}

// payloadText accepts both bare values and JSON strings.
func payloadText(payload []byte) string {
	text := strings.TrimSpace(string(payload))
	var s string
	if strings.HasPrefix(text, `"`) && json.Unmarshal([]byte(text), &s) == nil {
		return strings.TrimSpace(s)
	}
	return text
}

func parseBool(text string) (bool, error) {
	switch strings.ToLower(text) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("%w: expected on/off or true/false, got %q", ErrInvalidPayload, text)
}

func known[T any](current state.DeviceState, attr protocol.Attribute) (T, error) {
	var zero T
	v, ok := current.Get(attr)
	if !ok || v == nil {
		return zero, fmt.Errorf("%w: %s", ErrUnknownState, attr)
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s has unexpected type %T", ErrUnknownState, attr, v)
	}
	return typed, nil
}

// errorKind extends session.ErrorKind with the bridge's own failures.
func errorKind(err error, fallback func(error) string) string {
	switch {
	case errors.Is(err, ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, ErrReadOnly):
		return "read_only"
	case errors.Is(err, ErrUnknownState):
		return "unknown_state"
	default:
		return fallback(err)
	}
}
