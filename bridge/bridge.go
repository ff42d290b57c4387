// Package bridge exposes a BRC1H controller on an MQTT broker.
//
// State attributes are published retained under <prefix>/<device>/state/<attr>
// and as one JSON document under <prefix>/<device>/state. Writes to
// <prefix>/<device>/set/<attr> are translated into controller commands;
// failures are reported on <prefix>/<device>/error. The availability topic
// reads "online" only while the BLE session is ready.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/brc1h/internal/groutine"
	"github.com/srg/brc1h/internal/mqtt"
	"github.com/srg/brc1h/internal/protocol"
	"github.com/srg/brc1h/internal/state"
	"github.com/srg/brc1h/pkg/session"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ErrRunning is returned by Run when the bridge is already running.
var ErrRunning = errors.New("bridge is already running")

// Controller is the part of a session the bridge drives. *session.Session
// implements it.
type Controller interface {
	State() session.ConnectionState
	Send(ctx context.Context, cmd protocol.Command, timeout time.Duration) (protocol.Response, error)
	Refresh(ctx context.Context) error
	Snapshot() state.DeviceState
	OnChange(l state.Listener) func()
	OnStateChange(l session.StateListener) func()
}

// Bus carries MQTT messages. *mqtt.Client implements it.
type Bus interface {
	Publish(topic string, payload []byte, retained bool) error
	Subscribe(topic string, handler mqtt.MessageHandler) error
}

// Options configures a Bridge.
type Options struct {
	Topics Topics
	// PollInterval is the period of full state refreshes. Zero only
	// refreshes on startup and after reconnects.
	PollInterval time.Duration
	// CommandTimeout is passed to Send. Zero uses the session default.
	CommandTimeout time.Duration
	Logger         *logrus.Logger
}

// Stats counts bridge traffic.
type Stats struct {
	Published     uint64
	PublishErrors uint64
	Commands      uint64
	CommandErrors uint64
}

// Bridge moves state from a Controller to a Bus and commands the other way.
type Bridge struct {
	ctrl   Controller
	bus    Bus
	topics Topics
	opts   Options
	logger *logrus.Logger

	mu           sync.Mutex
	running      bool
	ctx          context.Context
	dirty        map[protocol.Attribute]struct{}
	dirtyDoc     bool
	availability []string
	resetOnline  bool
	lastOnline   string
	wake         chan struct{}
	refreshQueue chan struct{}

	published     atomic.Uint64
	publishErrors atomic.Uint64
	commands      atomic.Uint64
	commandErrors atomic.Uint64
}

// New creates a bridge between ctrl and bus.
func New(ctrl Controller, bus Bus, opts Options) (*Bridge, error) {
	if ctrl == nil || bus == nil {
		return nil, errors.New("bridge needs a controller and a bus")
	}
	if err := validateSegment("topic prefix", opts.Topics.Prefix); err != nil {
		return nil, err
	}
	if err := validateSegment("device id", opts.Topics.Device); err != nil {
		return nil, err
	}
	if opts.PollInterval < 0 {
		return nil, fmt.Errorf("poll interval must not be negative, got %s", opts.PollInterval)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	return &Bridge{
		ctrl:         ctrl,
		bus:          bus,
		topics:       opts.Topics,
		opts:         opts,
		logger:       logger,
		dirty:        make(map[protocol.Attribute]struct{}),
		wake:         make(chan struct{}, 1),
		refreshQueue: make(chan struct{}, 1),
	}, nil
}

func validateSegment(name, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%s is empty", name)
	}
	if strings.ContainsAny(v, "+#") {
		return fmt.Errorf("%s %q contains MQTT wildcards", name, v)
	}
	return nil
}

// Topics returns the topic layout in use.
func (b *Bridge) Topics() Topics {
	return b.topics
}

// Run subscribes to the command topics and publishes state until ctx is
// done. On return the availability topic is set to offline.
func (b *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return ErrRunning
	}
	b.running = true
	b.ctx = ctx
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	stopChanges := b.ctrl.OnChange(b.onChange)
	defer stopChanges()
	stopStates := b.ctrl.OnStateChange(b.onStateChange)
	defer stopStates()

	if err := b.bus.Subscribe(b.topics.SetWildcard(), b.handleCommand); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.topics.SetWildcard(), err)
	}

	log := b.logger.WithFields(logrus.Fields{
		"prefix": b.topics.Prefix,
		"device": b.topics.Device,
	})
	log.Info("Bridge running")

	workers := groutine.Group{Logger: b.logger}
	workers.Go(ctx, "bridge-publisher", b.publishLoop)
	workers.Go(ctx, "bridge-poller", b.pollLoop)

	b.Resync()
	b.requestRefresh()

	<-ctx.Done()
	workers.Wait()

	b.publish(b.topics.Availability(), []byte(Offline), true)
	log.Info("Bridge stopped")
	return nil
}

// Resync republishes availability and every known attribute. Call it after
// the broker connection comes back, since the broker may have published the
// will in between.
func (b *Bridge) Resync() {
	online := availabilityOf(b.ctrl.State())

	b.mu.Lock()
	for _, attr := range protocol.Attributes {
		b.dirty[attr] = struct{}{}
	}
	b.dirtyDoc = true
	b.availability = append(b.availability, online)
	b.resetOnline = true
	b.mu.Unlock()
	b.signal()
}

// Stats returns traffic counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Published:     b.published.Load(),
		PublishErrors: b.publishErrors.Load(),
		Commands:      b.commands.Load(),
		CommandErrors: b.commandErrors.Load(),
	}
}

// onChange runs on the session's reader goroutine and must not block.
func (b *Bridge) onChange(c state.Change) {
	b.mu.Lock()
	for _, attr := range c.Changed {
		b.dirty[attr] = struct{}{}
	}
	b.dirtyDoc = true
	b.mu.Unlock()
	b.signal()
}

// onStateChange queues every readiness flip so a quick reconnect still
// shows up as offline followed by online.
func (b *Bridge) onStateChange(old, current session.ConnectionState) {
	if (old == session.Ready) != (current == session.Ready) {
		b.mu.Lock()
		b.availability = append(b.availability, availabilityOf(current))
		b.mu.Unlock()
		b.signal()
	}
	// The controller may have been operated locally while the link was down.
	if current == session.Ready && old != session.Ready {
		b.requestRefresh()
	}
}

func (b *Bridge) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bridge) requestRefresh() {
	select {
	case b.refreshQueue <- struct{}{}:
	default:
	}
}

func (b *Bridge) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.wake:
			b.flush()
		}
	}
}

// flush publishes whatever became dirty since the last flush. Values are read
// from the latest snapshot, so bursts of changes coalesce.
func (b *Bridge) flush() {
	b.mu.Lock()
	attrs := b.dirty
	b.dirty = make(map[protocol.Attribute]struct{})
	doc := b.dirtyDoc
	b.dirtyDoc = false
	availability := b.availability
	b.availability = nil
	if b.resetOnline {
		b.lastOnline, b.resetOnline = "", false
	}
	b.mu.Unlock()

	for _, payload := range availability {
		b.publishAvailability(payload)
	}

	current := b.ctrl.Snapshot()
	for _, attr := range protocol.Attributes {
		if _, ok := attrs[attr]; !ok {
			continue
		}
		v, ok := current.Get(attr)
		if !ok {
			continue
		}
		payload, err := json.Marshal(v)
		if err != nil {
			b.logger.WithError(err).WithField("attribute", attr).Error("Failed to encode attribute")
			continue
		}
		b.publish(b.topics.State(attr), payload, true)
	}

	if doc && current.Len() > 0 {
		payload, err := snapshotDocument(current)
		if err != nil {
			b.logger.WithError(err).Error("Failed to encode state document")
			return
		}
		b.publish(b.topics.Snapshot(), payload, true)
	}
}

func availabilityOf(s session.ConnectionState) string {
	if s == session.Ready {
		return Online
	}
	return Offline
}

// publishAvailability skips repeats. lastOnline is only touched by the
// publisher goroutine.
func (b *Bridge) publishAvailability(payload string) {
	if payload == b.lastOnline {
		return
	}
	b.lastOnline = payload
	b.publish(b.topics.Availability(), []byte(payload), true)
}

// snapshotDocument renders the whole state with a stable key order.
func snapshotDocument(s state.DeviceState) ([]byte, error) {
	doc := orderedmap.New[string, any]()
	doc.Set("revision", s.Revision)
	doc.Set("updated_at", s.UpdatedAt.UTC().Format(time.RFC3339))
	doc.Set("state", s.Ordered())
	return json.Marshal(doc)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	if err := b.bus.Publish(topic, payload, retained); err != nil {
		b.publishErrors.Add(1)
		b.logger.WithFields(logrus.Fields{
			"topic": topic,
			"error": err,
		}).Warn("Failed to publish")
		return
	}
	b.published.Add(1)
	b.logger.WithFields(logrus.Fields{
		"topic":   topic,
		"payload": string(payload),
	}).Debug("Published")
}

func (b *Bridge) pollLoop(ctx context.Context) {
	var tick <-chan time.Time
	if b.opts.PollInterval > 0 {
		ticker := time.NewTicker(b.opts.PollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
		case <-b.refreshQueue:
		}
		b.refresh(ctx)
	}
}

func (b *Bridge) refresh(ctx context.Context) {
	if b.ctrl.State() != session.Ready {
		return
	}
	if err := b.ctrl.Refresh(ctx); err != nil && ctx.Err() == nil {
		b.logger.WithFields(logrus.Fields{
			"kind":  session.ErrorKind(err),
			"error": err,
		}).Warn("State refresh failed")
	}
}

// commandError is the payload of the error topic.
type commandError struct {
	Attribute string `json:"attribute"`
	Payload   string `json:"payload"`
	Kind      string `json:"kind"`
	Error     string `json:"error"`
}

func (b *Bridge) handleCommand(topic string, payload []byte) error {
	name, ok := b.topics.ParseSet(topic)
	if !ok {
		return fmt.Errorf("unexpected command topic %q", topic)
	}

	b.mu.Lock()
	ctx := b.ctx
	b.mu.Unlock()

	b.commands.Add(1)
	log := b.logger.WithFields(logrus.Fields{
		"attribute": name,
		"payload":   string(payload),
	})

	attr, err := protocol.ParseAttribute(name)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrReadOnly, err)
	} else {
		var cmd protocol.Command
		cmd, err = Translate(attr, payload, b.ctrl.Snapshot())
		if err == nil {
			log.Debug("Sending command")
			_, err = b.ctrl.Send(ctx, cmd, b.opts.CommandTimeout)
		}
	}
	if err == nil {
		log.Info("Command applied")
		return nil
	}

	b.commandErrors.Add(1)
	b.reportError(name, payload, err)
	if attr != "" {
		// Put the real value back for clients that updated optimistically.
		b.mu.Lock()
		b.dirty[attr] = struct{}{}
		b.mu.Unlock()
		b.signal()
	}
	return fmt.Errorf("command %s=%q failed: %w", name, payload, err)
}

func (b *Bridge) reportError(attr string, payload []byte, err error) {
	body, mErr := json.Marshal(commandError{
		Attribute: attr,
		Payload:   string(payload),
		Kind:      errorKind(err, session.ErrorKind),
		Error:     err.Error(),
	})
	if mErr != nil {
		b.logger.WithError(mErr).Error("Failed to encode command error")
		return
	}
	b.publish(b.topics.Error(), body, false)
}
