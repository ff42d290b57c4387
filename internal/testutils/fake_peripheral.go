package testutils

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/brc1h/internal/device"
	"github.com/srg/brc1h/internal/protocol"
)

// ErrUnreachable is returned by Connect while the fake controller is unreachable.
var ErrUnreachable = errors.New("peripheral unreachable")

// FrameHook intercepts a request before the fake controller answers it.
// Returning handled=true suppresses the default answer; replies are sent
// instead, in order.
type FrameHook func(request protocol.Frame) (replies []protocol.Frame, handled bool)

// FakePeripheral is an in-memory BRC1H controller. It implements
// device.Transport: requests written to its link are reassembled, applied to
// its own state and answered with chunked notifications, like the real unit.
type FakePeripheral struct {
	logger *logrus.Logger

	mu         sync.Mutex
	values     map[protocol.Attribute]any
	info       map[string]string
	reachable  bool
	delay      time.Duration
	chunkSize  int
	drop       map[protocol.Opcode]int
	reject     map[protocol.Opcode]byte
	corrupt    int
	writeErr   error
	hooks      []FrameHook
	link       *fakeLink
	connects   int
	requests   []protocol.Frame
	subscribed chan struct{}
}

// NewFakePeripheral creates a reachable controller: powered off, cooling at
// 25 °C, heating at 21 °C.
func NewFakePeripheral(logger *logrus.Logger) *FakePeripheral {
	if logger == nil {
		logger = logrus.New()
	}
	return &FakePeripheral{
		logger: logger,
		values: map[protocol.Attribute]any{
			protocol.AttrPower:                   false,
			protocol.AttrMode:                    protocol.ModeCool,
			protocol.AttrCoolingSetpoint:         25.0,
			protocol.AttrHeatingSetpoint:         21.0,
			protocol.AttrSetpointRangeEnabled:    false,
			protocol.AttrSetpointMode:            0,
			protocol.AttrSetpointMinDifferential: 2,
			protocol.AttrCoolingLowerLimit:       18.0,
			protocol.AttrCoolingUpperLimit:       32.0,
			protocol.AttrHeatingLowerLimit:       10.0,
			protocol.AttrHeatingUpperLimit:       30.0,
			protocol.AttrFanSpeedCooling:         protocol.FanAuto,
			protocol.AttrFanSpeedHeating:         protocol.FanAuto,
			protocol.AttrIndoorTemperature:       22,
			protocol.AttrOutdoorTemperature:      nil,
			protocol.AttrCleanFilter:             false,
		},
		info: map[string]string{
			device.ManufacturerNameUUID: "Daikin",
			device.ModelNumberUUID:      "BRC1H519W7",
			device.SerialNumberUUID:     "0123456789",
			device.FirmwareRevisionUUID: "1.4.0",
		},
		reachable:  true,
		chunkSize:  protocol.ChunkPayload(protocol.DefaultMTU),
		drop:       make(map[protocol.Opcode]int),
		reject:     make(map[protocol.Opcode]byte),
		subscribed: make(chan struct{}, 16),
	}
}

// SetValue sets one attribute of the controller state.
func (p *FakePeripheral) SetValue(attr protocol.Attribute, v any) *FakePeripheral {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[attr] = v
	return p
}

// Value returns one attribute of the controller state.
func (p *FakePeripheral) Value(attr protocol.Attribute) any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values[attr]
}

// SetInfo sets a Device Information Service string. An empty value removes it.
func (p *FakePeripheral) SetInfo(uuid, value string) *FakePeripheral {
	p.mu.Lock()
	defer p.mu.Unlock()
	if value == "" {
		delete(p.info, uuid)
	} else {
		p.info[uuid] = value
	}
	return p
}

// SetReachable controls whether Connect succeeds.
func (p *FakePeripheral) SetReachable(reachable bool) *FakePeripheral {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reachable = reachable
	return p
}

// SetResponseDelay delays every answer by d.
func (p *FakePeripheral) SetResponseDelay(d time.Duration) *FakePeripheral {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
	return p
}

// SetChunkSize sets the frame bytes per notification.
func (p *FakePeripheral) SetChunkSize(n int) *FakePeripheral {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunkSize = n
	return p
}

// DropNext ignores the next n requests with opcode op.
func (p *FakePeripheral) DropNext(op protocol.Opcode, n int) *FakePeripheral {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drop[op] += n
	return p
}

// Reject answers every request with opcode op with a non-zero status.
func (p *FakePeripheral) Reject(op protocol.Opcode, code byte) *FakePeripheral {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reject[op] = code
	return p
}

// CorruptNext damages the next n answers so they fail frame validation.
func (p *FakePeripheral) CorruptNext(n int) *FakePeripheral {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.corrupt += n
	return p
}

// FailWrites makes every write to the link fail with err. Nil restores writes.
func (p *FakePeripheral) FailWrites(err error) *FakePeripheral {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = err
	return p
}

// OnRequest installs a hook consulted before the default answer.
func (p *FakePeripheral) OnRequest(h FrameHook) *FakePeripheral {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks = append(p.hooks, h)
	return p
}

// Connects returns the number of successful connections.
func (p *FakePeripheral) Connects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connects
}

// Requests returns every frame the controller received.
func (p *FakePeripheral) Requests() []protocol.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.Frame(nil), p.requests...)
}

// Subscribed receives a value each time notifications are enabled.
func (p *FakePeripheral) Subscribed() <-chan struct{} {
	return p.subscribed
}

// Connected reports whether a link is up.
func (p *FakePeripheral) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.link != nil && !p.link.isClosed()
}

// Drop terminates the current link as if the controller went out of range.
func (p *FakePeripheral) Drop() {
	p.mu.Lock()
	l := p.link
	p.link = nil
	p.mu.Unlock()

	if l != nil {
		l.close()
	}
}

// Push sends an unsolicited frame reporting values, as the controller does
// when it is operated from its own panel. The values are applied first.
func (p *FakePeripheral) Push(op protocol.Opcode, values map[protocol.Attribute]any) error {
	f, err := protocol.QueryResponse(op, values)
	if err != nil {
		return err
	}
	p.mu.Lock()
	maps.Copy(p.values, values)
	p.mu.Unlock()
	return p.send(f)
}

// PushRaw delivers notifications exactly as given.
func (p *FakePeripheral) PushRaw(chunks ...[]byte) error {
	p.mu.Lock()
	l := p.link
	p.mu.Unlock()
	if l == nil {
		return device.ErrNotConnected
	}
	l.deliver(chunks, 0)
	return nil
}

// Connect implements device.Transport.
func (p *FakePeripheral) Connect(ctx context.Context, address string, timeout time.Duration) (device.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.reachable {
		p.logger.WithField("address", address).Debug("Fake peripheral unreachable")
		return nil, fmt.Errorf("%w: %w", device.ErrTransport, ErrUnreachable)
	}
	if p.link != nil && !p.link.isClosed() {
		return nil, fmt.Errorf("%w: %w", device.ErrTransport, device.ErrAlreadyConnected)
	}

	p.connects++
	p.link = newFakeLink(p)
	p.logger.WithFields(logrus.Fields{
		"address":  address,
		"connects": p.connects,
	}).Debug("Fake peripheral connected")
	return p.link, nil
}

// handle answers one reassembled request.
func (p *FakePeripheral) handle(req protocol.Frame) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	hooks := append([]FrameHook(nil), p.hooks...)
	p.mu.Unlock()

	for _, h := range hooks {
		if replies, handled := h(req); handled {
			for _, r := range replies {
				_ = p.send(r)
			}
			return
		}
	}

	reply, ok := p.answer(req)
	if !ok {
		return
	}
	if err := p.send(reply); err != nil {
		p.logger.WithField("error", err).Debug("Fake peripheral failed to answer")
	}
}

func (p *FakePeripheral) answer(req protocol.Frame) (protocol.Frame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	op := req.Opcode
	if p.drop[op] > 0 {
		p.drop[op]--
		return protocol.Frame{}, false
	}
	if code, ok := p.reject[op]; ok {
		return protocol.Ack(op, code), true
	}

	if op.IsUpdate() {
		if op == protocol.OpResetCleanFilterTime {
			p.values[protocol.AttrCleanFilter] = false
			return protocol.Ack(op, 0), true
		}
		values, err := protocol.DecodeRequest(req)
		if err != nil {
			return protocol.Ack(op, 0xFF), true
		}
		maps.Copy(p.values, values)
		return protocol.Ack(op, 0), true
	}

	attrs := protocol.FeatureAttributes(op)
	if attrs == nil {
		// Unknown opcodes are echoed back without parameters.
		return protocol.Frame{Opcode: op}, true
	}
	values := make(map[protocol.Attribute]any, len(attrs))
	for _, a := range attrs {
		if v, ok := p.values[a]; ok {
			values[a] = v
		}
	}
	f, err := protocol.QueryResponse(op, values)
	if err != nil {
		p.logger.WithField("error", err).Error("Fake peripheral state cannot be encoded")
		return protocol.Frame{}, false
	}
	return f, true
}

// send encodes f and delivers it as notifications on the current link.
func (p *FakePeripheral) send(f protocol.Frame) error {
	data, err := f.Bytes()
	if err != nil {
		return err
	}

	p.mu.Lock()
	l, size, delay := p.link, p.chunkSize, p.delay
	if p.corrupt > 0 {
		p.corrupt--
		// A non-zero reserved header byte fails frame validation.
		data[1] = 0xEE
	}
	p.mu.Unlock()

	if l == nil {
		return device.ErrNotConnected
	}
	chunks, err := protocol.Chunk(data, size)
	if err != nil {
		return err
	}
	l.deliver(chunks, delay)
	return nil
}

// fakeLink is one connection to a FakePeripheral.
type fakeLink struct {
	p *FakePeripheral

	mu          sync.Mutex
	handler     func([]byte)
	reassembler protocol.Reassembler
	closed      bool
	done        chan struct{}
	outbox      chan delivery
}

type delivery struct {
	chunks [][]byte
	delay  time.Duration
}

func newFakeLink(p *FakePeripheral) *fakeLink {
	l := &fakeLink{
		p:      p,
		done:   make(chan struct{}),
		outbox: make(chan delivery, 64),
	}
	go l.notifyLoop()
	return l
}

// notifyLoop delivers notifications one frame at a time so chunks of
// different frames never interleave.
func (l *fakeLink) notifyLoop() {
	for {
		select {
		case <-l.done:
			return
		case d := <-l.outbox:
			if d.delay > 0 {
				select {
				case <-time.After(d.delay):
				case <-l.done:
					return
				}
			}
			for _, c := range d.chunks {
				l.mu.Lock()
				h, closed := l.handler, l.closed
				l.mu.Unlock()
				if closed {
					return
				}
				if h != nil {
					h(c)
				}
			}
		}
	}
}

func (l *fakeLink) deliver(chunks [][]byte, delay time.Duration) {
	select {
	case l.outbox <- delivery{chunks: chunks, delay: delay}:
	case <-l.done:
	}
}

func (l *fakeLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *fakeLink) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.done)
	}
}

func (l *fakeLink) Discover(ctx context.Context) ([]device.CharacteristicRef, error) {
	if l.isClosed() {
		return nil, device.ErrNotConnected
	}
	refs := []device.CharacteristicRef{
		{
			Service:    device.NormalizeUUID(device.MadokaServiceUUID),
			UUID:       device.NormalizeUUID(device.MadokaNotifyCharUUID),
			Properties: device.PropNotify,
		},
		{
			Service:    device.NormalizeUUID(device.MadokaServiceUUID),
			UUID:       device.NormalizeUUID(device.MadokaWriteCharUUID),
			Properties: device.PropWrite | device.PropWriteNoResponse,
		},
	}

	l.p.mu.Lock()
	for uuid := range l.p.info {
		refs = append(refs, device.CharacteristicRef{
			Service:    device.NormalizeUUID(device.DeviceInfoServiceUUID),
			UUID:       device.NormalizeUUID(uuid),
			Properties: device.PropRead,
		})
	}
	l.p.mu.Unlock()
	return refs, nil
}

func (l *fakeLink) Write(ref device.CharacteristicRef, data []byte) error {
	if l.isClosed() {
		return device.ErrNotConnected
	}
	if ref.UUID != device.NormalizeUUID(device.MadokaWriteCharUUID) {
		return &device.NotFoundError{Resource: "characteristic", UUIDs: []string{ref.Service, ref.UUID}}
	}

	l.p.mu.Lock()
	werr := l.p.writeErr
	l.p.mu.Unlock()
	if werr != nil {
		return fmt.Errorf("%w: %w", device.ErrTransport, werr)
	}

	l.mu.Lock()
	f, status, err := l.reassembler.Feed(append([]byte(nil), data...))
	l.mu.Unlock()

	switch status {
	case protocol.StatusComplete:
		l.p.handle(f)
	case protocol.StatusInvalid:
		l.p.logger.WithField("error", err).Debug("Fake peripheral discarded invalid write")
	}
	return nil
}

func (l *fakeLink) Read(ctx context.Context, ref device.CharacteristicRef) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.isClosed() {
		return nil, device.ErrNotConnected
	}
	l.p.mu.Lock()
	defer l.p.mu.Unlock()
	for uuid, v := range l.p.info {
		if device.NormalizeUUID(uuid) == ref.UUID {
			return []byte(v), nil
		}
	}
	return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{ref.Service, ref.UUID}}
}

func (l *fakeLink) Subscribe(ref device.CharacteristicRef, handler func([]byte)) error {
	if ref.UUID != device.NormalizeUUID(device.MadokaNotifyCharUUID) {
		return &device.NotFoundError{Resource: "characteristic", UUIDs: []string{ref.Service, ref.UUID}}
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return device.ErrNotConnected
	}
	l.handler = handler
	l.mu.Unlock()

	select {
	case l.p.subscribed <- struct{}{}:
	default:
	}
	return nil
}

func (l *fakeLink) Unsubscribe(device.CharacteristicRef) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = nil
	return nil
}

func (l *fakeLink) Disconnected() <-chan struct{} {
	return l.done
}

func (l *fakeLink) MTU() int {
	return protocol.DefaultMTU
}

func (l *fakeLink) Disconnect() error {
	l.close()
	l.p.mu.Lock()
	if l.p.link == l {
		l.p.link = nil
	}
	l.p.mu.Unlock()
	return nil
}
