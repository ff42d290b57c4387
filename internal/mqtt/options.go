package mqtt

import (
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	defaultKeepAlive      = 60 * time.Second
	defaultMaxReconnect   = time.Minute

	// disconnectQuiesce is the time, in milliseconds, pending work gets on Close.
	disconnectQuiesce = 1000

	maxQoS = 2
)

// Config holds the broker connection settings.
type Config struct {
	// Broker is the broker URL, e.g. tcp://localhost:1883 or ssl://host:8883.
	Broker   string
	ClientID string
	Username string
	Password string
	// QoS is used for every publish and subscription.
	QoS                  byte
	KeepAlive            time.Duration
	ConnectTimeout       time.Duration
	MaxReconnectInterval time.Duration
	// Will is published by the broker if the client vanishes.
	Will *Will
}

// Will is a last will and testament message.
type Will struct {
	Topic    string
	Payload  []byte
	Retained bool
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = defaultKeepAlive
	}
	if c.MaxReconnectInterval <= 0 {
		c.MaxReconnectInterval = defaultMaxReconnect
	}
	return c
}

// buildClientOptions creates paho options from cfg.
//
// The session is clean and reconnection is left to paho. Message handlers
// run concurrently (OrderMatters off) because command handlers block on the
// controller.
func buildClientOptions(cfg Config) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetOrderMatters(false)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Second)
	opts.SetMaxReconnectInterval(cfg.MaxReconnectInterval)

	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetKeepAlive(cfg.KeepAlive)

	if cfg.Will != nil {
		opts.SetBinaryWill(cfg.Will.Topic, cfg.Will.Payload, cfg.QoS, cfg.Will.Retained)
	}
	return opts
}
