// Package config loads brc1h settings from defaults, an optional YAML file
// and the environment, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/brc1h/internal/dispatch"
	"github.com/srg/brc1h/internal/mqtt"
	"github.com/srg/brc1h/pkg/session"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BRC1H_"

// Config holds application configuration
type Config struct {
	LogLevel  string          `yaml:"log_level" default:"info"`
	Device    DeviceConfig    `yaml:"device"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
}

// DeviceConfig describes the controller and how commands reach it.
type DeviceConfig struct {
	Address        string        `yaml:"address"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"15s"`
	CommandTimeout time.Duration `yaml:"command_timeout" default:"5s"`
	// WriteSize is the BLE write size including the chunk index. Zero
	// derives it from the MTU.
	WriteSize      int    `yaml:"write_size" default:"20"`
	InboxSize      uint32 `yaml:"inbox_size" default:"256"`
	QueryAttempts  int    `yaml:"query_attempts" default:"3"`
	UpdateAttempts int    `yaml:"update_attempts" default:"2"`
}

// ReconnectConfig bounds reconnection after a link loss.
type ReconnectConfig struct {
	MaxAttempts           int `yaml:"max_attempts" default:"5"`
	session.BackoffConfig `yaml:",inline"`
}

// MQTTConfig configures the bridge's broker connection and topic layout.
type MQTTConfig struct {
	Broker         string        `yaml:"broker" default:"tcp://localhost:1883"`
	ClientID       string        `yaml:"client_id" default:"brc1h"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	QoS            int           `yaml:"qos" default:"1"`
	TopicPrefix    string        `yaml:"topic_prefix" default:"brc1h"`
	DeviceID       string        `yaml:"device_id"`
	PollInterval   time.Duration `yaml:"poll_interval" default:"60s"`
	KeepAlive      time.Duration `yaml:"keep_alive" default:"60s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"10s"`
	MaxReconnect   time.Duration `yaml:"max_reconnect_interval" default:"1m"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load builds the configuration from defaults, the YAML file at path and the
// environment. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML over cfg. Keys the document omits keep their value.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// ApplyEnv applies BRC1H_* overrides. lookup is os.LookupEnv outside tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = d
		return nil
	}

	str("LOG_LEVEL", &c.LogLevel)
	str("ADDRESS", &c.Device.Address)
	str("MQTT_BROKER", &c.MQTT.Broker)
	str("MQTT_CLIENT_ID", &c.MQTT.ClientID)
	str("MQTT_USERNAME", &c.MQTT.Username)
	str("MQTT_PASSWORD", &c.MQTT.Password)
	str("MQTT_TOPIC_PREFIX", &c.MQTT.TopicPrefix)
	str("MQTT_DEVICE_ID", &c.MQTT.DeviceID)

	if v, ok := lookup(EnvPrefix + "RECONNECT_MAX_ATTEMPTS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sRECONNECT_MAX_ATTEMPTS: %w", EnvPrefix, err)
		}
		c.Reconnect.MaxAttempts = n
	}

	return errors.Join(
		dur("CONNECT_TIMEOUT", &c.Device.ConnectTimeout),
		dur("COMMAND_TIMEOUT", &c.Device.CommandTimeout),
		dur("MQTT_POLL_INTERVAL", &c.MQTT.PollInterval),
	)
}

// Validate checks the settings that do not depend on the command being run.
// The device address is checked by the commands that need it.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if err := c.SessionConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Reconnect.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("reconnect.multiplier must be >= 1, got %g", c.Reconnect.Multiplier))
	}
	if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter > 1 {
		errs = append(errs, fmt.Errorf("reconnect.jitter must be within 0..1, got %g", c.Reconnect.Jitter))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	if strings.ContainsAny(c.MQTT.TopicPrefix, "+#") {
		errs = append(errs, fmt.Errorf("mqtt.topic_prefix must not contain wildcards: %q", c.MQTT.TopicPrefix))
	}
	if c.MQTT.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("mqtt.poll_interval must not be negative"))
	}
	return errors.Join(errs...)
}

// SessionConfig returns the session settings.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		ConnectTimeout:       c.Device.ConnectTimeout,
		CommandTimeout:       c.Device.CommandTimeout,
		MaxReconnectAttempts: c.Reconnect.MaxAttempts,
		Backoff:              c.Reconnect.BackoffConfig,
		WriteSize:            c.Device.WriteSize,
		InboxSize:            c.Device.InboxSize,
		Retry: dispatch.Policy{
			QueryAttempts:  c.Device.QueryAttempts,
			UpdateAttempts: c.Device.UpdateAttempts,
		},
	}
}

// DeviceID returns the id used in bridge topics: the configured one, or the
// address with the separators removed.
func (c *Config) DeviceID() string {
	if c.MQTT.DeviceID != "" {
		return c.MQTT.DeviceID
	}
	return strings.ToLower(strings.NewReplacer(":", "", "-", "").Replace(c.Device.Address))
}

// MQTTClientConfig returns the broker settings for the bus client.
func (c *Config) MQTTClientConfig() mqtt.Config {
	return mqtt.Config{
		Broker:               c.MQTT.Broker,
		ClientID:             c.MQTT.ClientID,
		Username:             c.MQTT.Username,
		Password:             c.MQTT.Password,
		QoS:                  byte(c.MQTT.QoS),
		KeepAlive:            c.MQTT.KeepAlive,
		ConnectTimeout:       c.MQTT.ConnectTimeout,
		MaxReconnectInterval: c.MQTT.MaxReconnect,
	}
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
