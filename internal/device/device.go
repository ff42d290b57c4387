package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// NotFoundError represents an error when a GATT resource is missing from the peer
type NotFoundError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // [serviceUUID] or [serviceUUID, charUUID]
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
)

// ConnectionError represents any link-level connection problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
)

var (
	// ErrTransport marks a link-level failure reported by the BLE stack.
	ErrTransport = errors.New("transport error")
	// ErrBluetoothOff means the host adapter is unavailable.
	ErrBluetoothOff = errors.New("bluetooth is turned off")
	// ErrUnsupported means the platform has no BLE central implementation.
	ErrUnsupported = errors.New("unsupported")
)

// NormalizeError maps known BLE stack error strings to structured errors.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "device not connected"), containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// Property is a bit set of GATT characteristic properties.
type Property uint8

const (
	PropRead Property = 1 << iota
	PropWrite
	PropWriteNoResponse
	PropNotify
	PropIndicate
)

func (p Property) Has(flag Property) bool {
	return p&flag != 0
}

func (p Property) String() string {
	var parts []string
	for _, f := range []struct {
		flag Property
		name string
	}{
		{PropRead, "read"},
		{PropWrite, "write"},
		{PropWriteNoResponse, "write-without-response"},
		{PropNotify, "notify"},
		{PropIndicate, "indicate"},
	} {
		if p.Has(f.flag) {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, ",")
}

// CharacteristicRef identifies a discovered characteristic. UUIDs are normalized.
type CharacteristicRef struct {
	Service    string
	UUID       string
	Properties Property
}

func (r CharacteristicRef) String() string {
	return fmt.Sprintf("%s/%s", ShortenUUID(r.Service), ShortenUUID(r.UUID))
}

// FindCharacteristic returns the ref with the given service and characteristic UUID.
func FindCharacteristic(refs []CharacteristicRef, service, char string) (CharacteristicRef, error) {
	service, char = NormalizeUUID(service), NormalizeUUID(char)
	serviceSeen := false
	for _, r := range refs {
		if r.Service != service {
			continue
		}
		serviceSeen = true
		if r.UUID == char {
			return r, nil
		}
	}
	if !serviceSeen {
		return CharacteristicRef{}, &NotFoundError{Resource: "service", UUIDs: []string{service}}
	}
	return CharacteristicRef{}, &NotFoundError{Resource: "characteristic", UUIDs: []string{service, char}}
}

// Transport opens links to BLE peripherals.
type Transport interface {
	// Connect dials address and returns an established link. The timeout
	// bounds the connection attempt only.
	Connect(ctx context.Context, address string, timeout time.Duration) (Link, error)
}

// Link is one established GATT connection. A Link is owned by a single
// session; Write and Read may be called from any goroutine.
type Link interface {
	Discover(ctx context.Context) ([]CharacteristicRef, error)
	Write(ref CharacteristicRef, data []byte) error
	// Read returns the characteristic value. ctx bounds the ATT round trip.
	Read(ctx context.Context, ref CharacteristicRef) ([]byte, error)
	// Subscribe enables notifications. The handler runs on the stack's
	// callback goroutine and must not block.
	Subscribe(ref CharacteristicRef, handler func([]byte)) error
	Unsubscribe(ref CharacteristicRef) error
	// Disconnected is closed when the link drops or is disconnected.
	Disconnected() <-chan struct{}
	// MTU returns the negotiated ATT MTU.
	MTU() int
	Disconnect() error
}
