package mqtt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// MessageHandler receives one message. Handlers run concurrently; a returned
// error is logged.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	topic   string
	handler MessageHandler
}

// newPahoClient creates the underlying client (can be overridden in tests)
var newPahoClient = pahomqtt.NewClient

// Client is a connection to one MQTT broker. All methods are safe for
// concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    Config
	logger *logrus.Logger

	subMu         sync.RWMutex
	subscriptions map[string]subscription

	connMu    sync.RWMutex
	connected bool

	callbackMu   sync.RWMutex
	onConnect    func()
	onDisconnect func(error)
}

// Connect dials the broker and waits until the first connection is up, ctx
// is done or cfg.ConnectTimeout passes. Later connection losses are repaired
// by paho in the background.
func Connect(ctx context.Context, cfg Config, logger *logrus.Logger) (*Client, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, fmt.Errorf("%w: broker URL is empty", ErrConnectionFailed)
	}
	if cfg.QoS > maxQoS {
		return nil, ErrInvalidQoS
	}
	cfg = cfg.withDefaults()

	c := &Client{
		cfg:           cfg,
		logger:        logger,
		subscriptions: make(map[string]subscription),
	}

	opts := buildClientOptions(cfg)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		logger.WithField("broker", cfg.Broker).Debug("Reconnecting to MQTT broker")
	})

	log := logger.WithFields(logrus.Fields{
		"broker":    cfg.Broker,
		"client_id": cfg.ClientID,
	})
	log.Info("Connecting to MQTT broker...")

	c.client = newPahoClient(opts)
	token := c.client.Connect()

	timer := time.NewTimer(cfg.ConnectTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-timer.C:
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, cfg.ConnectTimeout)
	case <-ctx.Done():
		c.client.Disconnect(0)
		return nil, ctx.Err()
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler runs asynchronously and may not have fired yet.
	c.setConnected(true)
	log.Info("MQTT broker connected")
	return c, nil
}

// OnConnect sets a callback run after every (re)connection, once the
// subscriptions are restored.
func (c *Client) OnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// OnDisconnect sets a callback run when the broker connection is lost.
func (c *Client) OnDisconnect(callback func(error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

func (c *Client) handleConnect() {
	c.setConnected(true)
	c.restoreSubscriptions()

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.setConnected(false)
	c.logger.WithFields(logrus.Fields{
		"broker": c.cfg.Broker,
		"error":  err,
	}).Warn("MQTT connection lost")

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscriptions {
		token := c.client.Subscribe(sub.topic, c.cfg.QoS, c.wrapHandler(sub.handler))
		if token.WaitTimeout(defaultPublishTimeout) && token.Error() != nil {
			c.logger.WithFields(logrus.Fields{
				"topic": sub.topic,
				"error": token.Error(),
			}).Warn("Failed to restore MQTT subscription")
		}
	}
}

func (c *Client) setConnected(v bool) {
	c.connMu.Lock()
	c.connected = v
	c.connMu.Unlock()
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// Publish sends payload to topic with the configured QoS.
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, c.cfg.QoS, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Subscribe registers handler for topic. The subscription survives
// reconnects.
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{topic: topic, handler: handler}
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, c.cfg.QoS, c.wrapHandler(handler))
	var err error
	switch {
	case !token.WaitTimeout(defaultPublishTimeout):
		err = fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	case token.Error() != nil:
		err = fmt.Errorf("%w: %w", ErrSubscribeFailed, token.Error())
	}
	if err != nil {
		c.subMu.Lock()
		delete(c.subscriptions, topic)
		c.subMu.Unlock()
		return err
	}

	c.logger.WithField("topic", topic).Debug("Subscribed")
	return nil
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// Close disconnects from the broker, giving pending publishes a moment to
// complete. The will is not published on a clean disconnect.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	c.client.Disconnect(disconnectQuiesce)
	c.setConnected(false)
	c.logger.WithField("broker", c.cfg.Broker).Debug("MQTT client closed")
	return nil
}

// wrapHandler adds panic recovery and error logging to handler.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.WithFields(logrus.Fields{
					"topic": msg.Topic(),
					"panic": r,
				}).Error("MQTT handler panic recovered")
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger.WithFields(logrus.Fields{
				"topic": msg.Topic(),
				"error": err,
			}).Warn("MQTT handler returned error")
		}
	}
}
