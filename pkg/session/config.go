package session

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/brc1h/internal/device"
	"github.com/srg/brc1h/internal/dispatch"
)

// Config controls connection handling and command delivery.
type Config struct {
	// ConnectTimeout bounds one connection attempt, discovery included.
	ConnectTimeout time.Duration
	// CommandTimeout is used by Send when the caller passes no timeout.
	CommandTimeout time.Duration
	// MaxReconnectAttempts bounds the attempts after a link loss before the
	// session gives up and enters Failed. Zero disables reconnection.
	MaxReconnectAttempts int
	Backoff              BackoffConfig
	// WriteSize is the size of one BLE write including the chunk index.
	// Zero derives it from the negotiated MTU.
	WriteSize int
	// InboxSize is the capacity of the notification buffer between the BLE
	// callback and the frame reader.
	InboxSize uint32
	Retry     dispatch.Policy
}

// DefaultConfig returns the settings used by the CLI and the bridge.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:       15 * time.Second,
		CommandTimeout:       5 * time.Second,
		MaxReconnectAttempts: 5,
		Backoff: BackoffConfig{
			Initial:    time.Second,
			Max:        30 * time.Second,
			Multiplier: 2,
			Jitter:     0.2,
		},
		WriteSize: 20,
		InboxSize: 256,
		Retry:     dispatch.DefaultPolicy(),
	}
}

// Validate reports settings the session cannot work with.
func (c Config) Validate() error {
	switch {
	case c.ConnectTimeout <= 0:
		return fmt.Errorf("connect timeout must be positive, got %s", c.ConnectTimeout)
	case c.CommandTimeout <= 0:
		return fmt.Errorf("command timeout must be positive, got %s", c.CommandTimeout)
	case c.MaxReconnectAttempts < 0:
		return fmt.Errorf("max reconnect attempts must not be negative, got %d", c.MaxReconnectAttempts)
	case c.WriteSize != 0 && c.WriteSize < 2:
		return fmt.Errorf("write size must hold a chunk index and data, got %d", c.WriteSize)
	case c.InboxSize == 0:
		return fmt.Errorf("inbox size must be > 0")
	}
	return nil
}

// Option customizes a session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTransport replaces the BLE transport, typically with a fake peripheral in tests.
func WithTransport(t device.Transport) Option {
	return func(s *Session) {
		if t != nil {
			s.transport = t
		}
	}
}

// WithStateListener registers l before the first connection attempt, so it
// observes every transition including the ones made by Open.
func WithStateListener(l StateListener) Option {
	return func(s *Session) {
		s.listeners[s.nextID] = l
		s.nextID++
	}
}
