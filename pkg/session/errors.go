package session

import (
	"context"
	"errors"

	"github.com/srg/brc1h/internal/device"
	"github.com/srg/brc1h/internal/dispatch"
	"github.com/srg/brc1h/internal/protocol"
)

// Errors returned by Send. They are the dispatcher's sentinels re-exported
// so callers only import this package.
var (
	ErrNotReady     = dispatch.ErrNotReady
	ErrTimeout      = dispatch.ErrTimeout
	ErrDisconnected = dispatch.ErrDisconnected
	ErrMaybeApplied = dispatch.ErrMaybeApplied
)

var (
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session closed")
	// ErrFailed means every reconnect attempt failed.
	ErrFailed = errors.New("controller unreachable")
)

// ErrorKind classifies err into a short stable name, for logs and the
// bridge error topic.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case protocol.IsRejected(err):
		return "rejected"
	case errors.Is(err, protocol.ErrEncoding):
		return "encoding"
	case errors.Is(err, ErrNotReady), errors.Is(err, ErrClosed):
		return "not_ready"
	case errors.Is(err, ErrMaybeApplied):
		return "maybe_applied"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrDisconnected):
		return "disconnected"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrFailed):
		return "unreachable"
	case errors.Is(err, device.ErrTransport), errors.Is(err, device.ErrBluetoothOff):
		return "transport"
	default:
		return "internal"
	}
}
