package protocol

import (
	"fmt"
)

// Response is a frame received from the controller, decoded through the
// command registry.
type Response struct {
	Frame Frame
	// Values holds the attributes reported by a query response. Update
	// acknowledgements carry none.
	Values map[Attribute]any
}

// Opcode returns the opcode the response answers.
func (r Response) Opcode() Opcode {
	return r.Frame.Opcode
}

// DecodeResponse interprets f using the registry.
//
// A status parameter (id 0x00, one byte) with a non-zero value is a
// rejection and yields *RejectedError. Frames with an unregistered opcode
// return the undecoded Response together with ErrUnknownOpcode.
func DecodeResponse(f Frame) (Response, error) {
	resp := Response{Frame: f}

	if p, ok := f.Param(statusParamID); ok && len(p.Value) == 1 && p.Value[0] != 0 {
		return resp, &RejectedError{Opcode: f.Opcode, Code: p.Value[0]}
	}

	feat, ok := byOpcode[f.Opcode]
	if !ok {
		return resp, fmt.Errorf("%w %s", ErrUnknownOpcode, f.Opcode)
	}
	if f.Opcode.IsUpdate() {
		return resp, nil
	}

	for _, p := range f.Params {
		spec, ok := feat.spec(p.ID)
		if !ok || spec.attr == "" {
			continue
		}
		if resp.Values == nil {
			resp.Values = make(map[Attribute]any)
		}
		resp.Values[spec.attr] = spec.decode(p.Uint())
	}
	return resp, nil
}

// DecodeRequest returns the attribute values an update request carries.
// It is the controller's view of a frame produced by Encode.
func DecodeRequest(f Frame) (map[Attribute]any, error) {
	feat, ok := byOpcode[f.Opcode]
	if !ok || feat.update != f.Opcode {
		return nil, fmt.Errorf("%w %s", ErrUnknownOpcode, f.Opcode)
	}
	values := make(map[Attribute]any)
	for _, p := range f.Params {
		if spec, ok := feat.spec(p.ID); ok && spec.attr != "" {
			values[spec.attr] = spec.decode(p.Uint())
		}
	}
	return values, nil
}

// QueryResponse builds the frame a controller sends in answer to the query
// op, reporting values. Attributes the feature does not carry are rejected.
func QueryResponse(op Opcode, values map[Attribute]any) (Frame, error) {
	feat, ok := byOpcode[op]
	if !ok || feat.query != op {
		return Frame{}, &EncodingError{Opcode: op, Msg: "not a query opcode"}
	}
	for attr := range values {
		if !feat.carries(attr) {
			return Frame{}, &EncodingError{Opcode: op, Field: string(attr), Msg: "attribute not reported by this feature"}
		}
	}
	params, err := encodeValues(op, values)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Opcode: op, Params: params}, nil
}

// Ack builds the acknowledgement of an update. A zero status accepts it.
func Ack(op Opcode, status byte) Frame {
	return Frame{Opcode: op, Params: []Param{{ID: statusParamID, Value: []byte{status}}}}
}

func (f *feature) carries(attr Attribute) bool {
	for _, p := range f.params {
		if p.attr == attr {
			return true
		}
	}
	return false
}
