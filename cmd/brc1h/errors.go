package main

import (
	"errors"
	"fmt"

	"github.com/srg/brc1h/bridge"
	"github.com/srg/brc1h/internal/device"
	"github.com/srg/brc1h/internal/protocol"
	"github.com/srg/brc1h/pkg/session"
)

// FormatUserError turns err into a message for the terminal. Errors without
// a friendlier wording are printed as they are.
func FormatUserError(err error) string {
	var rejected *protocol.RejectedError

	switch {
	case err == nil:
		return ""
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off or unavailable"
	case errors.Is(err, session.ErrFailed):
		return fmt.Sprintf("controller unreachable, check that it is powered and in range (%v)", err)
	case errors.As(err, &rejected):
		return fmt.Sprintf("the controller rejected the command (status 0x%02x)", rejected.Code)
	case errors.Is(err, session.ErrMaybeApplied):
		return "the controller did not confirm the command; it may or may not have been applied"
	case errors.Is(err, session.ErrTimeout):
		return "the controller did not answer in time"
	case errors.Is(err, session.ErrDisconnected), device.IsConnectionState(err, device.NotConnected):
		return "the connection to the controller was lost"
	case errors.Is(err, bridge.ErrUnknownState):
		return fmt.Sprintf("%v; read the controller state first", err)
	default:
		return err.Error()
	}
}
