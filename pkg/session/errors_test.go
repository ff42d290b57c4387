package session

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/srg/brc1h/internal/device"
	"github.com/srg/brc1h/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKind(t *testing.T) {
	_, encodingErr := protocol.Encode(protocol.SetSetPoint{Cooling: 99, Heating: 20})
	require.Error(t, encodingErr)

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"rejected", fmt.Errorf("set: %w", &protocol.RejectedError{Opcode: protocol.OpUpdateSetPoint, Code: 2}), "rejected"},
		{"encoding", encodingErr, "encoding"},
		{"not ready", ErrNotReady, "not_ready"},
		{"closed", ErrClosed, "not_ready"},
		{"maybe applied", fmt.Errorf("%w after 2 attempts: %w", ErrTimeout, ErrMaybeApplied), "maybe_applied"},
		{"timeout", fmt.Errorf("%w after 3 attempts", ErrTimeout), "timeout"},
		{"deadline", context.DeadlineExceeded, "timeout"},
		{"disconnected", fmt.Errorf("%w: link dropped", ErrDisconnected), "disconnected"},
		{"canceled", context.Canceled, "canceled"},
		{"unreachable", fmt.Errorf("%w after 5 reconnect attempts: %w", ErrFailed, device.ErrTransport), "unreachable"},
		{"transport", fmt.Errorf("%w: adapter gone", device.ErrTransport), "transport"},
		{"bluetooth off", device.ErrBluetoothOff, "transport"},
		{"other", errors.New("boom"), "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorKind(tt.err))
		})
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate(), "the default config MUST be valid")

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"connect timeout", func(c *Config) { c.ConnectTimeout = 0 }, "connect timeout"},
		{"command timeout", func(c *Config) { c.CommandTimeout = -1 }, "command timeout"},
		{"reconnect attempts", func(c *Config) { c.MaxReconnectAttempts = -1 }, "reconnect attempts"},
		{"write size", func(c *Config) { c.WriteSize = 1 }, "write size"},
		{"inbox", func(c *Config) { c.InboxSize = 0 }, "inbox size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}
}

func TestConnectionStateString(t *testing.T) {
	assert.Equal(t, "ready", Ready.String())
	assert.Equal(t, "reconnecting", Reconnecting.String())
	assert.Equal(t, "unknown", ConnectionState(42).String())
}
