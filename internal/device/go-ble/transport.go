package goble

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/brc1h/internal/device"
)

const (
	// DefaultWriteGap is the minimum pause between two ATT writes on one link.
	DefaultWriteGap = 10 * time.Millisecond

	// preferredMTU is requested on stacks that support an MTU exchange.
	preferredMTU = 185
)

// gattClient is the subset of ble.Client a link uses.
type gattClient interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
}

// dial connects to a peripheral (can be overridden in tests)
var dial = func(ctx context.Context, address string) (gattClient, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)
	return ble.Dial(ctx, ble.NewAddr(address))
}

// Transport dials BRC1H controllers through go-ble.
type Transport struct {
	logger   *logrus.Logger
	writeGap time.Duration
}

// NewTransport creates a go-ble transport. A nil logger falls back to logrus.New().
func NewTransport(logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	return &Transport{logger: logger, writeGap: DefaultWriteGap}
}

// Connect dials address within timeout and returns the established link.
func (t *Transport) Connect(ctx context.Context, address string, timeout time.Duration) (device.Link, error) {
	if strings.TrimSpace(address) == "" {
		t.logger.Error("Connection attempt with empty address")
		return nil, fmt.Errorf("device address is empty")
	}

	t.logger.WithFields(logrus.Fields{
		"address": address,
		"timeout": timeout,
	}).Info("Connecting to BLE device...")

	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := dial(connCtx, address)
	if err != nil {
		t.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		return nil, fmt.Errorf("%w: failed to connect to device with address %q: %w", device.ErrTransport, address, device.NormalizeError(err))
	}

	l := newLink(client, address, t.logger, t.writeGap)
	l.exchangeMTU()
	l.monitor()

	t.logger.WithFields(logrus.Fields{
		"address": address,
		"mtu":     l.MTU(),
	}).Info("BLE device connected")
	return l, nil
}
