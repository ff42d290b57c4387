package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrIncomplete means the buffer holds a prefix of a frame and more bytes are needed.
	ErrIncomplete = errors.New("incomplete frame")

	// ErrInvalid means the bytes can never form a valid frame.
	ErrInvalid = errors.New("invalid frame")

	// ErrEncoding is the sentinel behind every EncodingError.
	ErrEncoding = errors.New("encoding error")

	// ErrUnknownOpcode is returned by DecodeResponse for frames whose opcode
	// is not in the command registry. The frame itself is still valid.
	ErrUnknownOpcode = errors.New("unknown opcode")
)

// EncodingError reports a command that cannot be represented on the wire.
// Nothing is transmitted when it is returned.
type EncodingError struct {
	Opcode Opcode
	Field  string
	Msg    string
}

func (e *EncodingError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("cannot encode %s (%s): %s", e.Opcode, e.Field, e.Msg)
	}
	return fmt.Sprintf("cannot encode %s: %s", e.Opcode, e.Msg)
}

func (e *EncodingError) Unwrap() error {
	return ErrEncoding
}

// RejectedError is the controller's explicit refusal of a command.
type RejectedError struct {
	Opcode Opcode
	Code   byte
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("controller rejected %s with status 0x%02x", e.Opcode, e.Code)
}

// IsRejected reports whether err carries a controller rejection.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}
