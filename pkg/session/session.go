// Package session manages the connection to one BRC1H controller.
//
// A Session owns the BLE link. It walks the connection state machine
// (connect, discover, subscribe), reconnects with exponential backoff when
// the link drops and feeds every notification through frame reassembly into
// the state model and the command dispatcher.
//
//	s, err := session.Open(ctx, "AA:BB:CC:DD:EE:FF", session.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	_, err = s.Send(ctx, protocol.SetPowerState{On: true}, 0)
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/brc1h/internal/device"
	goble "github.com/srg/brc1h/internal/device/go-ble"
	"github.com/srg/brc1h/internal/dispatch"
	"github.com/srg/brc1h/internal/groutine"
	"github.com/srg/brc1h/internal/protocol"
	"github.com/srg/brc1h/internal/state"
)

// Session is a connection to one controller. All methods are safe for
// concurrent use.
type Session struct {
	address   string
	cfg       Config
	transport device.Transport
	logger    *logrus.Logger

	model      *state.Model
	dispatcher *dispatch.Dispatcher
	inbox      *inbox
	reader     *reader
	backoff    *backoff

	ctx     context.Context
	cancel  context.CancelFunc
	workers groutine.Group

	mu        sync.Mutex
	state     ConnectionState
	closed    bool
	link      device.Link
	refs      []device.CharacteristicRef
	writeRef  device.CharacteristicRef
	notifyRef device.CharacteristicRef
	// gen identifies the current link. Notifications and failures reported
	// for an older link are ignored.
	gen atomic.Uint64

	resetMu sync.Mutex

	listenersMu sync.RWMutex
	listeners   map[uint64]StateListener
	nextID      uint64

	unknownFrames atomic.Uint64
	reconnects    atomic.Uint64

	closeOnce sync.Once
}

// Open connects to the controller at address and returns a Ready session.
//
// If the first connection attempt fails, Open keeps trying with the
// configured backoff and returns an error once the reconnect attempts are
// exhausted or ctx is done.
func Open(ctx context.Context, address string, cfg Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("device address is empty")
	}

	s := &Session{
		address:   address,
		cfg:       cfg,
		listeners: make(map[uint64]StateListener),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logrus.New()
	}
	if s.transport == nil {
		s.transport = goble.NewTransport(s.logger)
	}

	s.model = state.NewModel(s.logger)
	s.dispatcher = dispatch.New(dispatch.WriterFunc(s.writeFrame), s.ready, cfg.Retry, s.logger)
	s.inbox = newInbox(cfg.InboxSize)
	s.reader = &reader{in: s.inbox, logger: s.logger, onFrame: s.handleFrame}
	s.backoff = newBackoff(cfg.Backoff)

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.workers.Logger = s.logger
	s.workers.Go(s.ctx, "session-reader", s.reader.run)

	if err := s.establish(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Address returns the controller address.
func (s *Session) Address() string {
	return s.address
}

// State returns the current connection state.
func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) ready() bool {
	return s.State() == Ready
}

// Send transmits cmd and waits for the controller's response. A timeout of
// zero uses Config.CommandTimeout.
//
// Send fails immediately with ErrNotReady unless the session is Ready. When
// an update is acknowledged, the requested values are applied to the state
// model, since the acknowledgement does not echo them.
func (s *Session) Send(ctx context.Context, cmd protocol.Command, timeout time.Duration) (protocol.Response, error) {
	if timeout <= 0 {
		timeout = s.cfg.CommandTimeout
	}
	resp, err := s.dispatcher.Send(ctx, cmd, timeout)
	if err != nil {
		return resp, err
	}
	if requested := protocol.Requested(cmd); len(requested) > 0 {
		s.model.Apply(requested)
	}
	return resp, nil
}

// Refresh queries every readable feature. It stops at the first ErrNotReady
// and otherwise returns the joined errors of the failed queries.
func (s *Session) Refresh(ctx context.Context) error {
	var errs []error
	for _, op := range protocol.ReadableFeatures() {
		cmd, err := protocol.Query(op)
		if err != nil {
			return err
		}
		if _, err := s.Send(ctx, cmd, 0); err != nil {
			if errors.Is(err, ErrNotReady) || errors.Is(err, context.Canceled) {
				return err
			}
			name, _ := protocol.FeatureName(op)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Snapshot returns the last known controller state.
func (s *Session) Snapshot() state.DeviceState {
	return s.model.Snapshot()
}

// OnChange registers a listener for state model updates and returns its
// unsubscribe function.
//
// Listeners run synchronously on the session-reader goroutine, the same
// goroutine that delivers command responses. A listener must return quickly
// and must not call Send: the response it would wait for cannot be read
// until the listener returns, so the command would only time out. Hand such
// work to another goroutine instead.
func (s *Session) OnChange(l state.Listener) func() {
	return s.model.OnChange(l)
}

// OnStateChange registers a listener for connection state transitions and
// returns its unsubscribe function. Listeners run synchronously on the
// goroutine performing the transition.
func (s *Session) OnStateChange(l StateListener) func() {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			delete(s.listeners, id)
			s.listenersMu.Unlock()
		})
	}
}

// Reset leaves Failed (or Disconnected) by running the connection sequence
// again, with the same reconnect bound as Open.
func (s *Session) Reset(ctx context.Context) error {
	if !s.resetMu.TryLock() {
		return fmt.Errorf("reset already in progress")
	}
	defer s.resetMu.Unlock()

	s.mu.Lock()
	closed, current := s.closed, s.state
	s.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if current != Failed && current != Disconnected {
		return fmt.Errorf("cannot reset a session in state %s", current)
	}

	s.logger.WithField("address", s.address).Info("Resetting session")
	return s.establish(ctx)
}

// Close disconnects from the controller and stops every session goroutine.
// Pending commands fail with ErrDisconnected. Close is idempotent.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		link, notifyRef := s.link, s.notifyRef
		s.link = nil
		s.gen.Add(1)
		s.mu.Unlock()

		s.cancel()
		if link != nil {
			if uerr := link.Unsubscribe(notifyRef); uerr != nil {
				s.logger.WithField("error", uerr).Debug("Failed to unsubscribe on close")
			}
			err = link.Disconnect()
		}
		s.setState(Disconnected, ErrClosed)
		s.workers.Wait()

		s.logger.WithField("address", s.address).Debug("Session closed")
	})
	return err
}

// Stats reports session counters.
type Stats struct {
	State    ConnectionState
	Revision uint64
	Dispatch dispatch.Stats
	// Reassembly counts frames rebuilt from notifications and the ones
	// discarded as invalid.
	Reassembly    protocol.ReassemblerStats
	Notifications uint64
	// Overwritten counts notifications lost because the reader fell behind.
	Overwritten   uint64
	UnknownFrames uint64
	Reconnects    uint64
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		State:         s.State(),
		Revision:      s.model.Snapshot().Revision,
		Dispatch:      s.dispatcher.Stats(),
		Reassembly:    s.reader.reassemblyStats(),
		Notifications: s.inbox.received.Load(),
		Overwritten:   s.inbox.overwritten.Load(),
		UnknownFrames: s.unknownFrames.Load(),
		Reconnects:    s.reconnects.Load(),
	}
}

// establish connects, falling back to the reconnect loop on failure.
func (s *Session) establish(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	err := s.connect(ctx)
	if err == nil || errors.Is(err, ErrClosed) {
		return err
	}
	return s.reconnect(ctx, err)
}

// reconnect retries the connection sequence with backoff until it
// succeeds, the attempts are exhausted or ctx is done.
func (s *Session) reconnect(ctx context.Context, cause error) error {
	log := s.logger.WithField("address", s.address)
	s.backoff.Reset()

	for attempt := 1; attempt <= s.cfg.MaxReconnectAttempts; attempt++ {
		if !s.setState(Reconnecting, cause) {
			return ErrClosed
		}

		delay := s.backoff.Next()
		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
			"cause":   cause,
		}).Info("Reconnecting")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.setState(Disconnected, ctx.Err())
			return ctx.Err()
		case <-timer.C:
		}

		s.reconnects.Add(1)
		if cause = s.connect(ctx); cause == nil {
			return nil
		}
		if errors.Is(cause, ErrClosed) {
			return cause
		}
		if ctx.Err() != nil {
			s.setState(Disconnected, ctx.Err())
			return ctx.Err()
		}
	}

	s.setState(Failed, cause)
	log.WithFields(logrus.Fields{
		"attempts": s.cfg.MaxReconnectAttempts,
		"error":    cause,
	}).Error("Controller unreachable, giving up")
	return fmt.Errorf("%w after %d reconnect attempts: %w", ErrFailed, s.cfg.MaxReconnectAttempts, cause)
}

// connect runs one pass of Connecting, Discovering and Subscribing and
// ends in Ready on success.
func (s *Session) connect(ctx context.Context) error {
	log := s.logger.WithField("address", s.address)
	if !s.setState(Connecting, nil) {
		return ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	link, err := s.transport.Connect(ctx, s.address, s.cfg.ConnectTimeout)
	if err != nil {
		log.WithField("error", err).Warn("Failed to connect")
		return fmt.Errorf("failed to connect to %s: %w", s.address, err)
	}

	if err := s.setup(ctx, link); err != nil {
		if derr := link.Disconnect(); derr != nil {
			log.WithField("error", derr).Debug("Failed to disconnect after setup failure")
		}
		if !errors.Is(err, ErrClosed) {
			log.WithField("error", err).Warn("Failed to set up controller link")
		}
		return err
	}

	log.WithField("mtu", link.MTU()).Info("Controller connected")
	return nil
}

func (s *Session) setup(ctx context.Context, link device.Link) error {
	if !s.setState(Discovering, nil) {
		return ErrClosed
	}
	refs, err := link.Discover(ctx)
	if err != nil {
		return fmt.Errorf("service discovery failed: %w", err)
	}

	notifyRef, err := device.FindCharacteristic(refs, device.MadokaServiceUUID, device.MadokaNotifyCharUUID)
	if err != nil {
		return err
	}
	if !notifyRef.Properties.Has(device.PropNotify) && !notifyRef.Properties.Has(device.PropIndicate) {
		return fmt.Errorf("characteristic %s does not support notifications", notifyRef)
	}
	writeRef, err := device.FindCharacteristic(refs, device.MadokaServiceUUID, device.MadokaWriteCharUUID)
	if err != nil {
		return err
	}

	if !s.setState(Subscribing, nil) {
		return ErrClosed
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	gen := s.gen.Add(1)
	s.mu.Unlock()

	if err := link.Subscribe(notifyRef, func(data []byte) { s.enqueue(gen, data) }); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", notifyRef, err)
	}

	s.mu.Lock()
	if s.closed || s.gen.Load() != gen {
		s.mu.Unlock()
		return ErrClosed
	}
	s.link = link
	s.refs = refs
	s.notifyRef = notifyRef
	s.writeRef = writeRef
	s.workers.Go(s.ctx, "session-monitor", func(ctx context.Context) {
		s.monitor(ctx, link, gen)
	})
	s.mu.Unlock()

	s.backoff.Reset()
	s.transition(Ready, nil, func() bool { return s.link == link && s.gen.Load() == gen })
	return nil
}

// monitor waits for the link with generation gen to drop.
func (s *Session) monitor(ctx context.Context, link device.Link, gen uint64) {
	select {
	case <-ctx.Done():
	case <-link.Disconnected():
		s.linkLost(gen, fmt.Errorf("link dropped: %w", device.ErrNotConnected))
	}
}

// linkLost tears down the link with generation gen and starts reconnecting.
// Reports for a link that is already gone are ignored.
func (s *Session) linkLost(gen uint64, cause error) {
	s.mu.Lock()
	if s.closed || s.link == nil || s.gen.Load() != gen {
		s.mu.Unlock()
		return
	}
	link := s.link
	s.link = nil
	s.gen.Add(1)
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"address": s.address,
		"cause":   cause,
	}).Warn("Controller link lost")

	if err := link.Disconnect(); err != nil {
		s.logger.WithField("error", err).Debug("Failed to release lost link")
	}

	if s.cfg.MaxReconnectAttempts == 0 {
		s.setState(Failed, cause)
		return
	}
	s.setState(Reconnecting, cause)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.workers.Go(s.ctx, "session-reconnect", func(ctx context.Context) {
		if err := s.reconnect(ctx, cause); err != nil && !errors.Is(err, ErrClosed) {
			s.logger.WithField("error", err).Debug("Reconnect loop ended")
		}
	})
}

// setState moves the session to next. Leaving Ready fails every pending
// command. It returns false once the session is closed.
func (s *Session) setState(next ConnectionState, cause error) bool {
	return s.transition(next, cause, nil)
}

// transition is setState with a guard evaluated under the session lock.
func (s *Session) transition(next ConnectionState, cause error, guard func() bool) bool {
	s.mu.Lock()
	if s.closed && next != Disconnected {
		s.mu.Unlock()
		return false
	}
	if guard != nil && !guard() {
		s.mu.Unlock()
		return false
	}
	old := s.state
	if old == next {
		s.mu.Unlock()
		return true
	}
	s.state = next
	s.mu.Unlock()

	if old == Ready {
		s.dispatcher.FailAll(cause)
	}

	fields := logrus.Fields{"address": s.address, "from": old.String(), "to": next.String()}
	if cause != nil {
		fields["cause"] = cause
	}
	s.logger.WithFields(fields).Debug("Connection state changed")

	s.notifyState(old, next)
	return true
}

func (s *Session) notifyState(old, next ConnectionState) {
	s.listenersMu.RLock()
	listeners := make([]StateListener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.listenersMu.RUnlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.WithFields(logrus.Fields{
						"state": next.String(),
						"panic": r,
					}).Error("State listener panicked")
				}
			}()
			l(old, next)
		}()
	}
}

// enqueue runs on the BLE stack's callback goroutine.
func (s *Session) enqueue(gen uint64, data []byte) {
	if gen != s.gen.Load() {
		return
	}
	if err := s.inbox.push(notification{gen: gen, data: data}); err != nil {
		s.logger.WithField("error", err).Warn("Failed to queue notification")
	}
}

// writeFrame chunks frame and writes it to the controller. A write failure
// is treated as a link loss.
func (s *Session) writeFrame(frame []byte) error {
	s.mu.Lock()
	link, ref := s.link, s.writeRef
	gen := s.gen.Load()
	s.mu.Unlock()

	if link == nil {
		return device.ErrNotConnected
	}

	size := s.cfg.WriteSize
	if size == 0 {
		size = protocol.ChunkPayload(link.MTU()) + 1
	}
	chunks, err := protocol.Chunk(frame, size-1)
	if err != nil {
		return err
	}

	for _, chunk := range chunks {
		if err := link.Write(ref, chunk); err != nil {
			s.linkLost(gen, err)
			return err
		}
	}
	return nil
}

// handleFrame applies a reassembled frame to the state model before
// offering it to the dispatcher, so a caller whose query completes already
// observes the reported values.
func (s *Session) handleFrame(f protocol.Frame) {
	resp, err := protocol.DecodeResponse(f)
	switch {
	case err == nil:
		s.model.ApplyResponse(resp)
	case errors.Is(err, protocol.ErrUnknownOpcode):
		s.unknownFrames.Add(1)
		s.logger.WithFields(logrus.Fields{
			"opcode": f.Opcode.String(),
			"frame":  f.String(),
		}).Debug("Frame with unknown opcode")
	}

	if !s.dispatcher.Deliver(f) {
		s.logger.WithField("opcode", f.Opcode.String()).Debug("Unsolicited frame")
	}
}
