package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/brc1h/internal/testutils"
	"github.com/srg/brc1h/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envFrom(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 15*time.Second, cfg.Device.ConnectTimeout)
	assert.Equal(t, 5*time.Second, cfg.Device.CommandTimeout)
	assert.Equal(t, 20, cfg.Device.WriteSize)
	assert.Equal(t, uint32(256), cfg.Device.InboxSize)
	assert.Equal(t, 5, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Reconnect.Initial)
	assert.Equal(t, 30*time.Second, cfg.Reconnect.Max)
	assert.InDelta(t, 2.0, cfg.Reconnect.Multiplier, 0.0001)
	assert.InDelta(t, 0.2, cfg.Reconnect.Jitter, 0.0001)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, 1, cfg.MQTT.QoS)
	assert.Equal(t, "brc1h", cfg.MQTT.TopicPrefix)
	assert.Equal(t, time.Minute, cfg.MQTT.PollInterval)

	require.NoError(t, cfg.Validate(), "defaults MUST validate")
}

func TestDefaultsMatchSessionDefaults(t *testing.T) {
	// GOAL: Verify the file defaults and the library defaults never drift apart
	//
	// TEST SCENARIO: SessionConfig() of the defaults equals session.DefaultConfig()

	got := DefaultConfig().SessionConfig()
	want := session.DefaultConfig()

	assert.Equal(t, want, got)
}

func TestParseExampleFile(t *testing.T) {
	data, err := testutils.LoadFixture("configs/brc1h.example.yaml")
	require.NoError(t, err)

	cfg := DefaultConfig()
	require.NoError(t, Parse(data, cfg))

	assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.Device.Address)
	assert.Equal(t, "brc1h-living-room", cfg.MQTT.ClientID)
	assert.Equal(t, "living-room", cfg.DeviceID())
	assert.Equal(t, 30*time.Second, cfg.Reconnect.Max)
	assert.Equal(t, 3, cfg.Device.QueryAttempts, "omitted keys MUST keep their default")
	assert.NoError(t, cfg.Validate())
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	cfg := DefaultConfig()
	err := Parse([]byte("device:\n  adress: AA:BB\n"), cfg)
	assert.ErrorContains(t, err, "adress")
}

func TestParseEmptyDocument(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, Parse(nil, cfg))
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()

	err := cfg.ApplyEnv(envFrom(map[string]string{
		"BRC1H_ADDRESS":                "11:22:33:44:55:66",
		"BRC1H_MQTT_BROKER":            "tcp://broker:1883",
		"BRC1H_COMMAND_TIMEOUT":        "2s",
		"BRC1H_RECONNECT_MAX_ATTEMPTS": "0",
		"BRC1H_MQTT_USERNAME":          "",
	}))
	require.NoError(t, err)

	assert.Equal(t, "11:22:33:44:55:66", cfg.Device.Address)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, 2*time.Second, cfg.Device.CommandTimeout)
	assert.Equal(t, 0, cfg.Reconnect.MaxAttempts)
	assert.Empty(t, cfg.MQTT.Username)
	assert.Equal(t, "112233445566", cfg.DeviceID(), "device id MUST default to the bare address")
}

func TestApplyEnvInvalidValues(t *testing.T) {
	cfg := DefaultConfig()

	err := cfg.ApplyEnv(envFrom(map[string]string{"BRC1H_COMMAND_TIMEOUT": "soon"}))
	assert.ErrorContains(t, err, "BRC1H_COMMAND_TIMEOUT")

	err = cfg.ApplyEnv(envFrom(map[string]string{"BRC1H_RECONNECT_MAX_ATTEMPTS": "many"}))
	assert.ErrorContains(t, err, "BRC1H_RECONNECT_MAX_ATTEMPTS")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"log level", func(c *Config) { c.LogLevel = "chatty" }, "log_level"},
		{"command timeout", func(c *Config) { c.Device.CommandTimeout = 0 }, "command timeout"},
		{"write size", func(c *Config) { c.Device.WriteSize = 1 }, "write size"},
		{"multiplier", func(c *Config) { c.Reconnect.Multiplier = 0.5 }, "reconnect.multiplier"},
		{"jitter", func(c *Config) { c.Reconnect.Jitter = 2 }, "reconnect.jitter"},
		{"qos", func(c *Config) { c.MQTT.QoS = 3 }, "mqtt.qos"},
		{"prefix wildcard", func(c *Config) { c.MQTT.TopicPrefix = "home/#" }, "wildcards"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("file and environment", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "brc1h.yaml")
		require.NoError(t, os.WriteFile(path, []byte("log_level: debug\nmqtt:\n  qos: 0\n"), 0o600))
		t.Setenv("BRC1H_ADDRESS", "AA:AA:AA:AA:AA:AA")

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, 0, cfg.MQTT.QoS)
		assert.Equal(t, "AA:AA:AA:AA:AA:AA", cfg.Device.Address, "environment MUST override the file")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorContains(t, err, "reading config file")
	})

	t.Run("invalid values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "brc1h.yaml")
		require.NoError(t, os.WriteFile(path, []byte("mqtt:\n  qos: 5\n"), 0o600))

		_, err := Load(path)
		assert.ErrorContains(t, err, "validating config")
	})
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		want     logrus.Level
	}{
		{name: "debug", logLevel: "debug", want: logrus.DebugLevel},
		{name: "warn", logLevel: "warn", want: logrus.WarnLevel},
		{name: "unparseable falls back to info", logLevel: "loud", want: logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}

			logger := cfg.NewLogger()

			assert.Equal(t, tt.want, logger.GetLevel())
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			require.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestMQTTClientConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MQTT.Username = "bridge"

	mc := cfg.MQTTClientConfig()

	assert.Equal(t, "tcp://localhost:1883", mc.Broker)
	assert.Equal(t, "bridge", mc.Username)
	assert.Equal(t, byte(1), mc.QoS)
	assert.Equal(t, 10*time.Second, mc.ConnectTimeout)
}
