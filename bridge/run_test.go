package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/brc1h/internal/mqtt"
	"github.com/srg/brc1h/internal/protocol"
	"github.com/srg/brc1h/pkg/session"
)

// useBus makes RunDeviceBridge connect to bus, or fail with err.
func (s *BridgeTestSuite) useBus(bus *fakeBus, err error) {
	original := connectBus
	connectBus = func(_ context.Context, cfg mqtt.Config, _ *logrus.Logger) (busClient, error) {
		if err != nil {
			return nil, err
		}
		bus.mu.Lock()
		bus.cfg = cfg
		bus.mu.Unlock()
		return bus, nil
	}
	s.T().Cleanup(func() { connectBus = original })
}

func (s *BridgeTestSuite) bridgeOptions() *BridgeOptions {
	return &BridgeOptions{
		Address:        testAddress,
		Session:        s.sessionConfig(),
		SessionOptions: []session.Option{session.WithTransport(s.Peripheral)},
		MQTT:           mqtt.Config{Broker: "tcp://broker:1883", ClientID: "brc1h-test", QoS: 1},
		Topics:         s.topics,
		Logger:         s.Logger,
	}
}

type phases struct {
	mu   sync.Mutex
	seen []string
}

func (p *phases) record(phase string) {
	p.mu.Lock()
	p.seen = append(p.seen, phase)
	p.mu.Unlock()
}

func (p *phases) list() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen...)
}

func (s *BridgeTestSuite) TestRunDeviceBridge() {
	// GOAL: Verify the full bridge lifecycle from BLE connect to shutdown
	//
	// TEST SCENARIO: Run bridge → phases reported, will set on availability, commands applied → cancel → offline, bus closed

	s.useBus(s.bus, nil)
	var p phases
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunDeviceBridge(ctx, s.bridgeOptions(), p.record) }()

	s.waitFor(s.topics.Availability(), Online)
	s.Equal([]string{"Connecting", "Connected", "Connecting to broker", "Running"}, p.list())

	s.bus.mu.Lock()
	will := s.bus.cfg.Will
	onConnect := s.bus.onConnect
	s.bus.mu.Unlock()
	s.Require().NotNil(will, "the broker MUST be told to mark the device offline")
	s.Equal(s.topics.Availability(), will.Topic)
	s.Equal([]byte(Offline), will.Payload)
	s.True(will.Retained)
	s.NotNil(onConnect, "broker reconnects MUST trigger a resync")

	s.WaitUntil(func() bool { return s.bus.deliver(s.topics.Set(protocol.AttrMode), "heat") == nil })
	s.Equal(protocol.ModeHeat, s.Peripheral.Value(protocol.AttrMode))

	cancel()
	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(2 * time.Second):
		s.Fail("RunDeviceBridge MUST return after cancel")
	}
	last, _ := s.bus.last(s.topics.Availability())
	s.Equal(Offline, last)
	s.bus.mu.Lock()
	s.True(s.bus.closed)
	s.bus.mu.Unlock()
	s.WaitUntil(func() bool { return !s.Peripheral.Connected() }, "the BLE link MUST be closed")
}

func (s *BridgeTestSuite) TestRunDeviceBridgeUnreachable() {
	s.useBus(s.bus, nil)
	s.Peripheral.SetReachable(false)
	var p phases

	err := RunDeviceBridge(context.Background(), s.bridgeOptions(), p.record)

	s.ErrorIs(err, session.ErrFailed)
	s.Equal([]string{"Connecting", "Failed"}, p.list())
}

func (s *BridgeTestSuite) TestRunDeviceBridgeBrokerDown() {
	s.useBus(nil, mqtt.ErrConnectionFailed)
	var p phases

	err := RunDeviceBridge(context.Background(), s.bridgeOptions(), p.record)

	s.ErrorIs(err, mqtt.ErrConnectionFailed)
	s.Equal([]string{"Connecting", "Connected", "Connecting to broker", "Failed"}, p.list())
	s.WaitUntil(func() bool { return !s.Peripheral.Connected() }, "the session MUST be closed when the broker is down")
}

func (s *BridgeTestSuite) TestRunDeviceBridgeValidation() {
	s.Error(RunDeviceBridge(context.Background(), nil, nil))

	opts := s.bridgeOptions()
	opts.Address = ""
	s.Error(RunDeviceBridge(context.Background(), opts, nil))
}

func (s *BridgeTestSuite) TestNewValidation() {
	tests := []struct {
		name   string
		topics Topics
		poll   time.Duration
	}{
		{"empty prefix", Topics{Device: "hall"}, 0},
		{"empty device", Topics{Prefix: "brc1h"}, 0},
		{"wildcard device", Topics{Prefix: "brc1h", Device: "#"}, 0},
		{"wildcard prefix", Topics{Prefix: "a/+", Device: "hall"}, 0},
		{"negative poll", Topics{Prefix: "brc1h", Device: "hall"}, -time.Second},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := New(&session.Session{}, s.bus, Options{Topics: tt.topics, PollInterval: tt.poll})
			s.Error(err)
		})
	}

	_, err := New(nil, s.bus, Options{Topics: s.topics})
	s.Error(err)
	_, err = New(&session.Session{}, nil, Options{Topics: s.topics})
	s.Error(err)
}

func (s *BridgeTestSuite) TestSubscribeFailureStopsRun() {
	s.bus.subErr = errors.New("not authorized")
	b, err := New(s.openSession(), s.bus, Options{Topics: s.topics, Logger: s.Logger})
	s.Require().NoError(err)

	err = b.Run(context.Background())

	s.ErrorContains(err, "not authorized")
	s.Empty(s.bus.history(s.topics.Availability()), "nothing MUST be published without the command subscription")
}
