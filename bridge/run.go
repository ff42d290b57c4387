package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/brc1h/internal/mqtt"
	"github.com/srg/brc1h/pkg/session"
)

// BridgeOptions contains all the configuration for running a bridge
type BridgeOptions struct {
	Address        string           // BLE address of the controller
	Session        session.Config   // BLE session settings
	SessionOptions []session.Option // Extra session options (transport override in tests)
	MQTT           mqtt.Config      // Broker connection; the will is set by RunDeviceBridge
	Topics         Topics           // Topic layout
	PollInterval   time.Duration    // Period of full state refreshes (0 = startup and reconnects only)
	Logger         *logrus.Logger   // Logger instance
}

// ProgressCallback is called when the bridge phase changes
type ProgressCallback func(phase string)

// busClient is a connected broker client.
type busClient interface {
	Bus
	OnConnect(func())
	Close() error
}

// connectBus dials the broker (can be overridden in tests)
var connectBus = func(ctx context.Context, cfg mqtt.Config, logger *logrus.Logger) (busClient, error) {
	return mqtt.Connect(ctx, cfg, logger)
}

// RunDeviceBridge opens a session to the controller, connects to the broker
// and bridges the two until ctx is canceled.
func RunDeviceBridge(ctx context.Context, opts *BridgeOptions, progressCallback ProgressCallback) error {
	if opts == nil {
		return fmt.Errorf("failed to execute bridge: options are required")
	}
	if opts.Address == "" {
		return fmt.Errorf("failed to execute bridge: device address is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	if progressCallback == nil {
		progressCallback = func(string) {}
	}

	progressCallback("Connecting")

	sessionOpts := append([]session.Option{session.WithLogger(logger)}, opts.SessionOptions...)
	sess, err := session.Open(ctx, opts.Address, opts.Session, sessionOpts...)
	if err != nil {
		progressCallback("Failed")
		return fmt.Errorf("failed to connect to controller %s: %w", opts.Address, err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close session")
		}
	}()

	progressCallback("Connected")
	progressCallback("Connecting to broker")

	mqttCfg := opts.MQTT
	mqttCfg.Will = &mqtt.Will{
		Topic:    opts.Topics.Availability(),
		Payload:  []byte(Offline),
		Retained: true,
	}
	client, err := connectBus(ctx, mqttCfg, logger)
	if err != nil {
		progressCallback("Failed")
		return fmt.Errorf("failed to connect to broker %s: %w", mqttCfg.Broker, err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close MQTT client")
		}
	}()

	b, err := New(sess, client, Options{
		Topics:         opts.Topics,
		PollInterval:   opts.PollInterval,
		CommandTimeout: opts.Session.CommandTimeout,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("failed to execute bridge: %w", err)
	}
	client.OnConnect(b.Resync)

	progressCallback("Running")
	return b.Run(ctx)
}
